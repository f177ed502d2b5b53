package session

import (
	"context"
	"sync"

	"peerwave/internal/core/domain"
	"peerwave/internal/core/ports"
	"peerwave/internal/signaling"

	"go.uber.org/zap"
)

// ViewerConfig configures one viewer watching a host's broadcast.
type ViewerConfig struct {
	Self domain.PeerID

	Bus    ports.SignalBus
	Engine ports.ConnectionFactory

	Timings Timings
	Metrics Recorder
	Logger  *zap.SugaredLogger

	OnState func(state domain.NegotiationState)
	// OnRemoteTrack fires when the host's media arrives.
	OnRemoteTrack func(track ports.RemoteTrack)
}

func (c ViewerConfig) withDefaults() ViewerConfig {
	if c.Metrics == nil {
		c.Metrics = NopRecorder()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
	c.Timings = c.Timings.withDefaults()
	return c
}

// ViewerSession is one viewer's connection to a broadcaster. The viewer
// announces itself on the host's channel and then follows the answerer
// path when the offer addressed to it arrives. Offers and candidates
// addressed to other viewers are discarded before they reach the state
// machine.
type ViewerSession struct {
	cfg      ViewerConfig
	hostID   domain.PeerID
	neg      *Negotiator
	listener *signaling.Listener
	cancel   context.CancelFunc

	mu     sync.Mutex
	muted  bool
	closed bool
}

// JoinBroadcast binds to the host's channel and announces this viewer.
func JoinBroadcast(ctx context.Context, cfg ViewerConfig, hostID domain.PeerID) (*ViewerSession, error) {
	cfg = cfg.withDefaults()

	pc, err := cfg.Engine.NewPeerConnection()
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &ViewerSession{
		cfg:    cfg,
		hostID: hostID,
		cancel: cancel,
	}

	s.neg = NewNegotiator(sctx, NegotiatorParams{
		Self:          cfg.Self,
		Remote:        hostID,
		Targeted:      true,
		PC:            pc,
		Bus:           cfg.Bus,
		Channel:       signaling.LiveChannel(hostID),
		Timings:       cfg.Timings,
		Metrics:       cfg.Metrics,
		Logger:        cfg.Logger,
		OnState:       cfg.OnState,
		OnRemoteTrack: cfg.OnRemoteTrack,
	})

	listener, err := signaling.Listen(sctx, cfg.Bus, signaling.LiveChannel(hostID), cfg.Self, s.handleSignal, cfg.Logger)
	if err != nil {
		s.neg.Close(false)
		cancel()
		return nil, err
	}
	s.listener = listener

	join := signaling.ViewerJoin{ViewerID: cfg.Self}
	if err := signaling.Send(ctx, cfg.Bus, signaling.LiveChannel(hostID), join); err != nil {
		s.Leave()
		return nil, err
	}

	cfg.Metrics.SessionStarted("viewer")
	return s, nil
}

func (s *ViewerSession) handleSignal(msg signaling.Message) {
	switch m := msg.(type) {
	case signaling.Offer:
		if m.Target != s.cfg.Self {
			return
		}
		s.neg.HandleOffer(context.Background(), m)
	case signaling.Candidate:
		if m.Target != s.cfg.Self {
			return
		}
		s.neg.HandleCandidate(m)
	}
}

// SetMuted toggles local playback mute. Purely viewer-side; never
// renegotiates.
func (s *ViewerSession) SetMuted(muted bool) {
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()
}

// Muted reports the local playback mute flag.
func (s *ViewerSession) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// HostID returns the broadcaster being watched.
func (s *ViewerSession) HostID() domain.PeerID { return s.hostID }

// State returns the current negotiation state.
func (s *ViewerSession) State() domain.NegotiationState { return s.neg.State() }

// Leave releases the connection and unsubscribes, in teardown order.
func (s *ViewerSession) Leave() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.neg.Close(true)
	if err := s.listener.Close(); err != nil {
		s.cfg.Logger.Debugw("error unsubscribing", "host", s.hostID, "error", err)
	}
	s.cancel()
	s.cfg.Metrics.SessionEnded("viewer")
}
