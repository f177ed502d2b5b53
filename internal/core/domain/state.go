package domain

// NegotiationState tracks how far the offer/answer exchange for one remote
// peer has progressed. Transitions are guarded by the negotiator; signaling
// that arrives in the wrong state is discarded, not errored, because the
// offer retry loop makes duplicates expected traffic.
type NegotiationState int

const (
	// StateIdle is the initial state on both sides: the caller has not yet
	// sent its offer, the answerer has not yet seen one.
	StateIdle NegotiationState = iota
	// StateOfferSent means the local side created and published an offer and
	// is waiting for an answer. Only valid on the offering side.
	StateOfferSent
	// StateNegotiating means both descriptions are applied and the engine is
	// running ICE; entered by the offerer on answer, by the answerer after
	// sending its answer.
	StateNegotiating
	// StateConnected means the engine reported a working media path.
	StateConnected
	// StateFailed means the engine reported terminal failure, or negotiation
	// timed out. User-visibly distinct from Closed.
	StateFailed
	// StateClosed means an intentional hangup or teardown.
	StateClosed
)

func (s NegotiationState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOfferSent:
		return "offer-sent"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s NegotiationState) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

// ConnectionState is the coarse engine-level connection state, mapped from
// the negotiation engine's own callback values.
type ConnectionState int

const (
	ConnectionNew ConnectionState = iota
	ConnectionConnecting
	ConnectionConnected
	ConnectionFailed
	ConnectionClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionNew:
		return "new"
	case ConnectionConnecting:
		return "connecting"
	case ConnectionConnected:
		return "connected"
	case ConnectionFailed:
		return "failed"
	case ConnectionClosed:
		return "closed"
	default:
		return "unknown"
	}
}
