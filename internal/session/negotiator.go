package session

import (
	"context"
	"sync"
	"time"

	"peerwave/internal/core/domain"
	"peerwave/internal/core/ports"
	"peerwave/internal/signaling"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Timings groups the protocol timers. The offer retry is a fixed interval,
// not exponential backoff: the channel is low-volume and session-scoped, and
// the retry only compensates for the remote subscription not being active
// yet when the first offer went out.
type Timings struct {
	OfferRetryInterval time.Duration
	NegotiationTimeout time.Duration
}

// DefaultTimings returns the production timer values: resend the offer every
// 3s until answered, abandon a negotiation that has not connected after 30s.
func DefaultTimings() Timings {
	return Timings{
		OfferRetryInterval: 3 * time.Second,
		NegotiationTimeout: 30 * time.Second,
	}
}

func (t Timings) withDefaults() Timings {
	d := DefaultTimings()
	if t.OfferRetryInterval <= 0 {
		t.OfferRetryInterval = d.OfferRetryInterval
	}
	if t.NegotiationTimeout <= 0 {
		t.NegotiationTimeout = d.NegotiationTimeout
	}
	return t
}

// NegotiatorParams configures one negotiation state machine.
type NegotiatorParams struct {
	Self   domain.PeerID
	Remote domain.PeerID
	// Targeted marks broadcast negotiations: outbound offers and candidates
	// carry a target field so viewers can discard messages not addressed to
	// them.
	Targeted bool

	PC      ports.PeerConnection
	Bus     ports.SignalBus
	Channel domain.ChannelName

	Timings Timings
	Metrics Recorder
	Logger  *zap.SugaredLogger

	// OnState is invoked after every state transition, outside the
	// negotiator's lock.
	OnState func(state domain.NegotiationState)
	// OnRemoteTrack fires when the remote side's media arrives.
	OnRemoteTrack func(track ports.RemoteTrack)
}

// Negotiator tracks one peer connection's offer/answer progress and gates
// which signaling is valid at each phase. All engine callbacks, bus
// deliveries and timer ticks funnel into methods that serialize on one
// mutex; the state guards make the protocol idempotent under the duplicate
// traffic the offer retry loop produces.
type Negotiator struct {
	self     domain.PeerID
	remote   domain.PeerID
	targeted bool

	pc      ports.PeerConnection
	bus     ports.SignalBus
	channel domain.ChannelName

	timings Timings
	metrics Recorder
	logger  *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       domain.NegotiationState
	pending     candidateQueue
	remoteSet   bool
	localOffer  *webrtc.SessionDescription
	startedAt   time.Time
	retryStop   chan struct{}
	timeoutStop *time.Timer

	// stateCh serializes OnState callbacks so observers see transitions in
	// the order they happened.
	stateCh chan domain.NegotiationState
}

// NewNegotiator wires the engine callbacks and returns a machine in the
// idle state. ctx bounds the negotiator's background work; it is typically
// the owning session's lifecycle context.
func NewNegotiator(ctx context.Context, p NegotiatorParams) *Negotiator {
	if p.Metrics == nil {
		p.Metrics = NopRecorder()
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop().Sugar()
	}
	p.Timings = p.Timings.withDefaults()

	nctx, cancel := context.WithCancel(ctx)
	n := &Negotiator{
		self:     p.Self,
		remote:   p.Remote,
		targeted: p.Targeted,
		pc:       p.PC,
		bus:      p.Bus,
		channel:  p.Channel,
		timings:  p.Timings,
		metrics:  p.Metrics,
		logger:   p.Logger,
		ctx:      nctx,
		cancel:   cancel,
		state:    domain.StateIdle,
	}

	if p.OnState != nil {
		n.stateCh = make(chan domain.NegotiationState, 16)
		// Range over a captured copy: setStateLocked nils the field on the
		// terminal transition, possibly before this goroutine first runs.
		ch := n.stateCh
		go func() {
			for state := range ch {
				p.OnState(state)
			}
		}()
	}

	n.pc.OnICECandidate(n.handleLocalCandidate)
	n.pc.OnConnectionStateChange(n.handleConnectionState)
	if p.OnRemoteTrack != nil {
		n.pc.OnTrack(p.OnRemoteTrack)
	}
	return n
}

// State returns the current negotiation state.
func (n *Negotiator) State() domain.NegotiationState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Remote returns the remote peer this machine negotiates with.
func (n *Negotiator) Remote() domain.PeerID { return n.remote }

// StartOffer runs the caller path: create and publish the offer, then keep
// resending it on a fixed interval until an answer advances the state.
// Restarting clears any candidates queued by a previous round.
func (n *Negotiator) StartOffer(ctx context.Context) error {
	n.mu.Lock()
	if n.state.Terminal() {
		n.mu.Unlock()
		return domain.ErrSessionClosed
	}
	n.pending.clear()
	n.remoteSet = false
	n.mu.Unlock()

	offer, err := n.pc.CreateOffer(ctx)
	if err != nil {
		return err
	}
	if err := n.pc.SetLocalDescription(offer); err != nil {
		return err
	}

	n.mu.Lock()
	if n.state.Terminal() {
		n.mu.Unlock()
		return domain.ErrSessionClosed
	}
	n.localOffer = &offer
	n.startedAt = time.Now()
	n.setStateLocked(domain.StateOfferSent)
	n.startRetryLocked()
	n.startTimeoutLocked()
	n.mu.Unlock()

	n.metrics.OfferSent(false)
	return n.send(ctx, signaling.Offer{SDP: offer, Sender: n.self, Target: n.outboundTarget()})
}

// HandleOffer runs the answerer path. Only an idle machine accepts an
// offer; a machine that has already answered discards the duplicates the
// caller's retry loop keeps producing, so the remote description is applied
// exactly once.
func (n *Negotiator) HandleOffer(ctx context.Context, msg signaling.Offer) {
	n.mu.Lock()
	if n.state != domain.StateIdle {
		n.mu.Unlock()
		n.discard(signaling.EventOffer)
		return
	}
	// Transition before applying so a concurrently delivered duplicate
	// fails the guard above; the remote description is applied exactly once.
	n.startedAt = time.Now()
	n.setStateLocked(domain.StateNegotiating)
	n.startTimeoutLocked()
	n.mu.Unlock()

	if err := n.pc.SetRemoteDescription(msg.SDP); err != nil {
		n.logger.Warnw("failed to apply remote offer", "remote", n.remote, "error", err)
		return
	}
	n.drainPending()

	answer, err := n.pc.CreateAnswer(ctx)
	if err != nil {
		n.logger.Warnw("failed to create answer", "remote", n.remote, "error", err)
		return
	}
	if err := n.pc.SetLocalDescription(answer); err != nil {
		n.logger.Warnw("failed to apply local answer", "remote", n.remote, "error", err)
		return
	}

	n.metrics.AnswerSent()
	if err := n.send(ctx, signaling.Answer{SDP: answer, Sender: n.self}); err != nil {
		n.logger.Warnw("failed to send answer", "remote", n.remote, "error", err)
	}
}

// HandleAnswer accepts an answer only while an offer is outstanding. A
// duplicate answer after the first one is discarded, never reapplied.
func (n *Negotiator) HandleAnswer(msg signaling.Answer) {
	n.mu.Lock()
	if n.state != domain.StateOfferSent {
		n.mu.Unlock()
		n.discard(signaling.EventAnswer)
		return
	}
	// Leave offer-sent before applying: the retry loop must not fire again
	// and a duplicate answer must fail the guard above.
	n.stopRetryLocked()
	n.setStateLocked(domain.StateNegotiating)
	n.mu.Unlock()

	if err := n.pc.SetRemoteDescription(msg.SDP); err != nil {
		n.logger.Warnw("failed to apply remote answer", "remote", n.remote, "error", err)
		return
	}
	n.drainPending()
}

// HandleCandidate applies the candidate immediately once the remote
// description is set, otherwise queues it in arrival order.
func (n *Negotiator) HandleCandidate(msg signaling.Candidate) {
	n.mu.Lock()
	if n.state.Terminal() {
		n.mu.Unlock()
		n.discard(signaling.EventCandidate)
		return
	}
	if !n.remoteSet {
		n.pending.push(msg.Candidate)
		n.mu.Unlock()
		n.metrics.CandidateQueued()
		return
	}
	n.mu.Unlock()

	if err := n.pc.AddICECandidate(msg.Candidate); err != nil {
		n.logger.Warnw("engine rejected candidate", "remote", n.remote, "error", err)
	}
}

// drainPending marks the remote description applied and flushes the queue
// in arrival order, exactly once per negotiation round.
func (n *Negotiator) drainPending() {
	n.mu.Lock()
	n.remoteSet = true
	queued := n.pending.drain()
	n.mu.Unlock()

	for _, c := range queued {
		if err := n.pc.AddICECandidate(c); err != nil {
			n.logger.Warnw("engine rejected queued candidate", "remote", n.remote, "error", err)
		}
	}
	if len(queued) > 0 {
		n.metrics.CandidatesDrained(len(queued))
	}
}

// Close tears the machine down: detach engine callbacks first so no late
// callback fires into a closed connection, then close the connection. The
// final state is Closed for an intentional hangup and Failed otherwise.
func (n *Negotiator) Close(intentional bool) {
	n.mu.Lock()
	if n.state.Terminal() {
		n.mu.Unlock()
		return
	}
	n.stopRetryLocked()
	n.stopTimeoutLocked()
	final := domain.StateClosed
	if !intentional {
		final = domain.StateFailed
	}
	n.setStateLocked(final)
	n.mu.Unlock()

	n.cancel()
	n.pc.Detach()
	if err := n.pc.Close(); err != nil {
		n.logger.Debugw("error closing peer connection", "remote", n.remote, "error", err)
	}
}

func (n *Negotiator) handleLocalCandidate(c webrtc.ICECandidateInit) {
	msg := signaling.Candidate{Candidate: c, Sender: n.self, Target: n.outboundTarget()}
	if err := n.send(n.ctx, msg); err != nil {
		n.logger.Warnw("failed to send candidate", "remote", n.remote, "error", err)
	}
}

func (n *Negotiator) handleConnectionState(state domain.ConnectionState) {
	switch state {
	case domain.ConnectionConnected:
		n.mu.Lock()
		if n.state != domain.StateOfferSent && n.state != domain.StateNegotiating {
			n.mu.Unlock()
			return
		}
		n.stopRetryLocked()
		n.stopTimeoutLocked()
		elapsed := time.Since(n.startedAt)
		n.setStateLocked(domain.StateConnected)
		n.mu.Unlock()
		n.metrics.Connected(elapsed)

	case domain.ConnectionFailed:
		n.mu.Lock()
		if n.state.Terminal() {
			n.mu.Unlock()
			return
		}
		n.stopRetryLocked()
		n.stopTimeoutLocked()
		n.setStateLocked(domain.StateFailed)
		n.mu.Unlock()
		n.metrics.NegotiationFailed("connection")
	}
}

// startRetryLocked launches the fixed-interval resend loop. Each tick
// re-checks the state under the lock: the first tick after the state leaves
// offer-sent stops the loop without sending.
func (n *Negotiator) startRetryLocked() {
	stop := make(chan struct{})
	n.retryStop = stop
	ticker := time.NewTicker(n.timings.OfferRetryInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-n.ctx.Done():
				return
			case <-ticker.C:
				n.mu.Lock()
				if n.state != domain.StateOfferSent || n.localOffer == nil {
					n.mu.Unlock()
					return
				}
				offer := *n.localOffer
				n.mu.Unlock()

				n.metrics.OfferSent(true)
				msg := signaling.Offer{SDP: offer, Sender: n.self, Target: n.outboundTarget()}
				if err := n.send(n.ctx, msg); err != nil {
					n.logger.Warnw("failed to resend offer", "remote", n.remote, "error", err)
				}
			}
		}
	}()
}

func (n *Negotiator) stopRetryLocked() {
	if n.retryStop != nil {
		close(n.retryStop)
		n.retryStop = nil
	}
}

// startTimeoutLocked arms the stuck-negotiation deadline. If the machine is
// still short of connected when it fires, the attempt is abandoned and the
// connection released.
func (n *Negotiator) startTimeoutLocked() {
	n.stopTimeoutLocked()
	n.timeoutStop = time.AfterFunc(n.timings.NegotiationTimeout, func() {
		n.mu.Lock()
		if n.state == domain.StateConnected || n.state.Terminal() {
			n.mu.Unlock()
			return
		}
		n.stopRetryLocked()
		n.setStateLocked(domain.StateFailed)
		n.mu.Unlock()

		n.metrics.NegotiationFailed("timeout")
		n.logger.Warnw("negotiation timed out", "remote", n.remote)
		n.cancel()
		n.pc.Detach()
		if err := n.pc.Close(); err != nil {
			n.logger.Debugw("error closing timed-out connection", "remote", n.remote, "error", err)
		}
	})
}

func (n *Negotiator) stopTimeoutLocked() {
	if n.timeoutStop != nil {
		n.timeoutStop.Stop()
		n.timeoutStop = nil
	}
}

func (n *Negotiator) setStateLocked(state domain.NegotiationState) {
	if n.state == state {
		return
	}
	n.state = state
	if n.stateCh != nil {
		// Buffered, delivered by a dedicated goroutine: the callback can
		// call back into the negotiator without deadlocking, and observers
		// see transitions in order.
		select {
		case n.stateCh <- state:
		default:
			n.logger.Warnw("dropping state notification", "remote", n.remote, "state", state.String())
		}
	}
	if state.Terminal() && n.stateCh != nil {
		ch := n.stateCh
		n.stateCh = nil
		close(ch)
	}
}

func (n *Negotiator) outboundTarget() domain.PeerID {
	if n.targeted {
		return n.remote
	}
	return ""
}

func (n *Negotiator) discard(event string) {
	n.metrics.SignalDiscarded(event)
	n.logger.Debugw("discarding out-of-order signal",
		"event", event,
		"remote", n.remote,
		"state", n.State().String(),
	)
}

func (n *Negotiator) send(ctx context.Context, msg signaling.Message) error {
	return signaling.Send(ctx, n.bus, n.channel, msg)
}
