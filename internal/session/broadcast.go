package session

import (
	"context"
	"sync"

	"peerwave/internal/core/domain"
	"peerwave/internal/core/ports"
	"peerwave/internal/signaling"

	"go.uber.org/zap"
)

// BroadcastConfig configures a live broadcast hosted by Self.
type BroadcastConfig struct {
	Self domain.PeerID

	Bus      ports.SignalBus
	Engine   ports.ConnectionFactory
	Media    ports.MediaDevices
	Presence ports.PresenceStore

	Timings Timings
	Metrics Recorder
	Logger  *zap.SugaredLogger

	// OnViewerState observes per-viewer negotiation transitions.
	OnViewerState func(viewer domain.PeerID, state domain.NegotiationState)
}

func (c BroadcastConfig) withDefaults() BroadcastConfig {
	if c.Metrics == nil {
		c.Metrics = NopRecorder()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
	c.Timings = c.Timings.withDefaults()
	return c
}

// BroadcastSession fans one local capture out to any number of viewers.
// Every viewer gets its own peer connection, state machine and candidate
// queue, keyed by viewer identity and owned exclusively by this session;
// connections are never shared across viewers. The local media handle is
// captured once, attached read-only to each viewer connection, and released
// exactly once when the broadcast stops.
type BroadcastSession struct {
	cfg      BroadcastConfig
	media    ports.MediaSource
	listener *signaling.Listener
	cancel   context.CancelFunc
	ctx      context.Context

	mu      sync.Mutex
	viewers map[domain.PeerID]*Negotiator
	closed  bool
}

// StartBroadcast acquires media, binds to the host's live channel, marks
// the host live in the presence store and starts accepting viewer-join
// announcements.
func StartBroadcast(ctx context.Context, cfg BroadcastConfig, video, audio bool) (*BroadcastSession, error) {
	cfg = cfg.withDefaults()

	constraints := domain.DefaultConstraints(video)
	if !audio {
		constraints.Audio = nil
	}
	media, err := cfg.Media.GetUserMedia(ctx, constraints)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &BroadcastSession{
		cfg:     cfg,
		media:   media,
		cancel:  cancel,
		ctx:     sctx,
		viewers: make(map[domain.PeerID]*Negotiator),
	}

	listener, err := signaling.Listen(sctx, cfg.Bus, signaling.LiveChannel(cfg.Self), cfg.Self, s.handleSignal, cfg.Logger)
	if err != nil {
		media.Close()
		cancel()
		return nil, err
	}
	s.listener = listener

	if cfg.Presence != nil {
		if err := cfg.Presence.SetLive(ctx, cfg.Self, true); err != nil {
			// Discovery suffers but the protocol does not; keep going.
			cfg.Logger.Warnw("failed to mark host live", "host", cfg.Self, "error", err)
		}
	}

	cfg.Metrics.SessionStarted("broadcast")
	return s, nil
}

func (s *BroadcastSession) handleSignal(msg signaling.Message) {
	switch m := msg.(type) {
	case signaling.ViewerJoin:
		s.addViewer(m.ViewerID)
	case signaling.Answer:
		if neg := s.viewer(m.Sender); neg != nil {
			neg.HandleAnswer(m)
		} else {
			s.cfg.Logger.Debugw("answer from unknown viewer", "viewer", m.Sender)
		}
	case signaling.Candidate:
		// Viewer candidates route by sender to that viewer's own queue.
		if neg := s.viewer(m.Sender); neg != nil {
			neg.HandleCandidate(m)
		} else {
			s.cfg.Logger.Debugw("candidate from unknown viewer", "viewer", m.Sender)
		}
	}
}

// addViewer builds a new, independent connection for the joining viewer,
// attaches the shared local tracks and starts offering. The per-viewer
// offer is retried on the same fixed interval as a one-to-one call: a
// joining viewer's subscription has the same readiness problem a callee's
// does.
func (s *BroadcastSession) addViewer(viewerID domain.PeerID) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, exists := s.viewers[viewerID]; exists {
		s.mu.Unlock()
		s.cfg.Logger.Debugw("viewer already joined", "viewer", viewerID)
		return
	}
	s.mu.Unlock()

	pc, err := s.cfg.Engine.NewPeerConnection()
	if err != nil {
		s.cfg.Logger.Warnw("failed to create viewer connection", "viewer", viewerID, "error", err)
		return
	}
	for _, track := range s.media.Tracks() {
		if err := pc.AddTrack(track); err != nil {
			s.cfg.Logger.Warnw("failed to attach track", "viewer", viewerID, "error", err)
			pc.Detach()
			pc.Close()
			return
		}
	}

	neg := NewNegotiator(s.ctx, NegotiatorParams{
		Self:     s.cfg.Self,
		Remote:   viewerID,
		Targeted: true,
		PC:       pc,
		Bus:      s.cfg.Bus,
		Channel:  signaling.LiveChannel(s.cfg.Self),
		Timings:  s.cfg.Timings,
		Metrics:  s.cfg.Metrics,
		Logger:   s.cfg.Logger,
		OnState: func(state domain.NegotiationState) {
			if s.cfg.OnViewerState != nil {
				s.cfg.OnViewerState(viewerID, state)
			}
			if state.Terminal() {
				s.removeViewer(viewerID)
			}
		},
	})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		neg.Close(true)
		return
	}
	s.viewers[viewerID] = neg
	s.mu.Unlock()

	s.cfg.Logger.Infow("viewer joined", "host", s.cfg.Self, "viewer", viewerID)
	if err := neg.StartOffer(s.ctx); err != nil {
		s.cfg.Logger.Warnw("failed to offer viewer", "viewer", viewerID, "error", err)
		s.removeViewer(viewerID)
	}
}

func (s *BroadcastSession) viewer(id domain.PeerID) *Negotiator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewers[id]
}

// removeViewer closes one viewer's connection without touching any other
// viewer's state.
func (s *BroadcastSession) removeViewer(viewerID domain.PeerID) {
	s.mu.Lock()
	neg, exists := s.viewers[viewerID]
	if exists {
		delete(s.viewers, viewerID)
	}
	s.mu.Unlock()

	if exists {
		neg.Close(true)
		s.cfg.Logger.Infow("viewer removed", "host", s.cfg.Self, "viewer", viewerID)
	}
}

// ViewerCount returns the number of viewers with a live connection entry.
func (s *BroadcastSession) ViewerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.viewers)
}

// ViewerState returns the negotiation state for one viewer.
func (s *BroadcastSession) ViewerState(viewerID domain.PeerID) (domain.NegotiationState, error) {
	s.mu.Lock()
	neg := s.viewers[viewerID]
	s.mu.Unlock()
	if neg == nil {
		return domain.StateClosed, domain.ErrViewerNotFound
	}
	return neg.State(), nil
}

// StopBroadcast closes every viewer connection, releases local media once,
// clears the presence flag and unsubscribes.
func (s *BroadcastSession) StopBroadcast(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	viewers := s.viewers
	s.viewers = make(map[domain.PeerID]*Negotiator)
	s.mu.Unlock()

	for _, neg := range viewers {
		neg.Close(true)
	}
	if err := s.media.Close(); err != nil {
		s.cfg.Logger.Debugw("error releasing media", "host", s.cfg.Self, "error", err)
	}
	if s.cfg.Presence != nil {
		if err := s.cfg.Presence.SetLive(ctx, s.cfg.Self, false); err != nil {
			s.cfg.Logger.Warnw("failed to clear live flag", "host", s.cfg.Self, "error", err)
		}
	}
	if err := s.listener.Close(); err != nil {
		s.cfg.Logger.Debugw("error unsubscribing", "host", s.cfg.Self, "error", err)
	}
	s.cancel()
	s.cfg.Metrics.SessionEnded("broadcast")
	return nil
}
