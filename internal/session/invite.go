package session

import (
	"context"
	"time"

	"peerwave/internal/core/domain"
	"peerwave/internal/core/ports"
	"peerwave/internal/signaling"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NewCallID returns a random call identifier. Random tokens rather than
// participant-plus-timestamp keys, so two rapid attempts between the same
// pair can never collide.
func NewCallID() domain.CallID {
	return domain.CallID(uuid.NewString())
}

// Invites watches this participant's personal presence channel and invokes
// handler for every incoming-call invitation. Close the returned listener
// to stop ringing.
func Invites(
	ctx context.Context,
	bus ports.SignalBus,
	self domain.PeerID,
	handler func(domain.CallInvite),
	logger *zap.SugaredLogger,
) (*signaling.Listener, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return signaling.Listen(ctx, bus, signaling.PresenceChannel(self), self, func(msg signaling.Message) {
		m, ok := msg.(signaling.IncomingCall)
		if !ok {
			return
		}
		handler(domain.CallInvite{
			CallID:       m.CallID,
			SenderID:     m.SenderID,
			SenderName:   m.SenderName,
			SenderAvatar: m.SenderAvatar,
			IsVideo:      m.IsVideo,
			ReceivedAt:   time.Now(),
		})
	}, logger)
}
