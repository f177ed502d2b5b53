package session

import (
	"context"
	"sync"

	"peerwave/internal/core/domain"
	"peerwave/internal/core/ports"
	"peerwave/internal/signaling"

	"go.uber.org/zap"
)

// CallConfig carries the collaborators and identity shared by every call
// and broadcast this participant runs.
type CallConfig struct {
	Self       domain.PeerID
	SelfName   string
	SelfAvatar string

	Bus    ports.SignalBus
	Engine ports.ConnectionFactory
	Media  ports.MediaDevices

	Timings Timings
	Metrics Recorder
	Logger  *zap.SugaredLogger

	// OnState observes the call's negotiation state, e.g. to render
	// "Reconnecting..." when it reaches failed.
	OnState func(state domain.NegotiationState)
	// OnRemoteTrack fires when the remote participant's media arrives.
	OnRemoteTrack func(track ports.RemoteTrack)
	// OnHangup fires when the remote side ends the call. The session has
	// already released its own resources when this runs; hangup is
	// fire-and-forget, each side cleans up independently.
	OnHangup func()
}

func (c CallConfig) withDefaults() CallConfig {
	if c.Metrics == nil {
		c.Metrics = NopRecorder()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
	c.Timings = c.Timings.withDefaults()
	return c
}

// CallSession is one bidirectional call with exactly one remote
// participant. A session is single-use: a new call is always a new session.
// It exclusively owns its media handle and peer connection.
type CallSession struct {
	cfg      CallConfig
	id       domain.CallID
	isCaller bool
	isVideo  bool
	target   domain.CallTarget

	media    ports.MediaSource
	neg      *Negotiator
	listener *signaling.Listener
	cancel   context.CancelFunc

	mu           sync.Mutex
	closed       bool
	lowBandwidth bool
}

// StartAsCaller acquires local media, rings the target on their personal
// channel, and starts offering on the call channel. The offer is resent on
// a fixed interval until answered, because the callee's subscription may
// not be active when the first offer goes out.
func StartAsCaller(ctx context.Context, cfg CallConfig, target domain.CallTarget, isVideo bool) (*CallSession, error) {
	cfg = cfg.withDefaults()
	id := NewCallID()

	s, err := newCallSession(ctx, cfg, id, target, isVideo, true)
	if err != nil {
		return nil, err
	}

	invite := signaling.IncomingCall{
		SenderID:     cfg.Self,
		SenderName:   cfg.SelfName,
		SenderAvatar: cfg.SelfAvatar,
		CallID:       id,
		IsVideo:      isVideo,
	}
	if err := signaling.Send(ctx, cfg.Bus, signaling.PresenceChannel(target.ID), invite); err != nil {
		s.teardown(false)
		return nil, err
	}

	if err := s.neg.StartOffer(ctx); err != nil {
		s.teardown(false)
		return nil, err
	}

	cfg.Metrics.SessionStarted("call")
	return s, nil
}

// AcceptAsCallee acquires local media and binds to the call channel named
// in the invitation. Answering happens when the caller's (re)sent offer
// arrives; the caller keeps resending until then.
func AcceptAsCallee(ctx context.Context, cfg CallConfig, invite domain.CallInvite) (*CallSession, error) {
	cfg = cfg.withDefaults()
	target := domain.CallTarget{ID: invite.SenderID, Name: invite.SenderName, Avatar: invite.SenderAvatar}

	s, err := newCallSession(ctx, cfg, invite.CallID, target, invite.IsVideo, false)
	if err != nil {
		return nil, err
	}

	cfg.Metrics.SessionStarted("call")
	return s, nil
}

func newCallSession(
	ctx context.Context,
	cfg CallConfig,
	id domain.CallID,
	target domain.CallTarget,
	isVideo bool,
	isCaller bool,
) (*CallSession, error) {
	media, err := cfg.Media.GetUserMedia(ctx, domain.DefaultConstraints(isVideo))
	if err != nil {
		return nil, err
	}

	pc, err := cfg.Engine.NewPeerConnection()
	if err != nil {
		media.Close()
		return nil, err
	}
	for _, track := range media.Tracks() {
		if err := pc.AddTrack(track); err != nil {
			pc.Detach()
			pc.Close()
			media.Close()
			return nil, err
		}
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &CallSession{
		cfg:      cfg,
		id:       id,
		isCaller: isCaller,
		isVideo:  isVideo,
		target:   target,
		media:    media,
		cancel:   cancel,
	}

	s.neg = NewNegotiator(sctx, NegotiatorParams{
		Self:          cfg.Self,
		Remote:        target.ID,
		PC:            pc,
		Bus:           cfg.Bus,
		Channel:       signaling.CallChannel(id),
		Timings:       cfg.Timings,
		Metrics:       cfg.Metrics,
		Logger:        cfg.Logger,
		OnState:       cfg.OnState,
		OnRemoteTrack: cfg.OnRemoteTrack,
	})

	listener, err := signaling.Listen(sctx, cfg.Bus, signaling.CallChannel(id), cfg.Self, s.handleSignal, cfg.Logger)
	if err != nil {
		s.neg.Close(false)
		media.Close()
		cancel()
		return nil, err
	}
	s.listener = listener
	return s, nil
}

func (s *CallSession) handleSignal(msg signaling.Message) {
	switch m := msg.(type) {
	case signaling.Offer:
		s.neg.HandleOffer(context.Background(), m)
	case signaling.Answer:
		s.neg.HandleAnswer(m)
	case signaling.Candidate:
		s.neg.HandleCandidate(m)
	case signaling.Hangup:
		s.teardown(true)
		if s.cfg.OnHangup != nil {
			s.cfg.OnHangup()
		}
	}
}

// ToggleMicrophone flips the local audio track in place, without
// renegotiation. Returns the new enabled state.
func (s *CallSession) ToggleMicrophone() bool {
	track := s.media.AudioTrack()
	if track == nil {
		return false
	}
	track.SetEnabled(!track.Enabled())
	return track.Enabled()
}

// ToggleCamera flips the local video track. When low-bandwidth mode is on,
// enabling the camera clears that mode first: the two toggles are mutually
// exclusive from the user's point of view.
func (s *CallSession) ToggleCamera() bool {
	track := s.media.VideoTrack()
	if track == nil {
		return false
	}

	s.mu.Lock()
	if s.lowBandwidth {
		s.lowBandwidth = false
		s.mu.Unlock()
		track.SetEnabled(true)
		return true
	}
	s.mu.Unlock()

	track.SetEnabled(!track.Enabled())
	return track.Enabled()
}

// ToggleLowBandwidthMode disables the outgoing video track without removing
// it, trading video for bandwidth. No renegotiation. Returns whether the
// mode is now on.
func (s *CallSession) ToggleLowBandwidthMode() bool {
	track := s.media.VideoTrack()
	if track == nil {
		return false
	}

	s.mu.Lock()
	s.lowBandwidth = !s.lowBandwidth
	on := s.lowBandwidth
	s.mu.Unlock()

	track.SetEnabled(!on)
	return on
}

// HangUp broadcasts the hangup and releases local resources. The remote
// side tears down on its own when it sees the hangup; there is no ack.
func (s *CallSession) HangUp(ctx context.Context) error {
	err := signaling.Send(ctx, s.cfg.Bus, signaling.CallChannel(s.id), signaling.Hangup{Sender: s.cfg.Self})
	s.teardown(true)
	return err
}

// Close releases the session without broadcasting, for component teardown.
func (s *CallSession) Close() error {
	s.teardown(true)
	return nil
}

// teardown releases everything exactly once, in the required order: detach
// engine callbacks, close the connection, release local media, unsubscribe.
func (s *CallSession) teardown(intentional bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.neg.Close(intentional)
	if err := s.media.Close(); err != nil {
		s.cfg.Logger.Debugw("error releasing media", "call_id", s.id, "error", err)
	}
	if err := s.listener.Close(); err != nil {
		s.cfg.Logger.Debugw("error unsubscribing", "call_id", s.id, "error", err)
	}
	s.cancel()
	s.cfg.Metrics.SessionEnded("call")
}

// ID returns the call identifier.
func (s *CallSession) ID() domain.CallID { return s.id }

// IsCaller reports whether this side initiated the call.
func (s *CallSession) IsCaller() bool { return s.isCaller }

// Target returns the remote participant.
func (s *CallSession) Target() domain.CallTarget { return s.target }

// State returns the current negotiation state.
func (s *CallSession) State() domain.NegotiationState { return s.neg.State() }

// LowBandwidth reports whether low-bandwidth mode is active.
func (s *CallSession) LowBandwidth() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lowBandwidth
}
