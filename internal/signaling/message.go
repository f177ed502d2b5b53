package signaling

import (
	"encoding/json"
	"fmt"
	"strings"

	"peerwave/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// Event names carried on the wire. The bus delivers them as named broadcast
// events; payloads are JSON.
const (
	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventCandidate    = "candidate"
	EventHangup       = "hangup"
	EventViewerJoin   = "viewer-join"
	EventIncomingCall = "incoming-call"
)

// Message is one decoded signaling event. The concrete type is one of
// Offer, Answer, Candidate, Hangup, ViewerJoin or IncomingCall; handlers
// switch on it. Every message names its sender so receivers can discard
// their own echoes.
type Message interface {
	Event() string
	From() domain.PeerID
}

// Offer carries a session description proposing a connection. Target is set
// on broadcast offers so viewers can discard offers not addressed to them.
type Offer struct {
	SDP    webrtc.SessionDescription `json:"sdp"`
	Sender domain.PeerID             `json:"sender"`
	Target domain.PeerID             `json:"target,omitempty"`
}

func (Offer) Event() string { return EventOffer }
func (m Offer) From() domain.PeerID { return m.Sender }

// Answer responds to an offer. The sender identity doubles as the routing
// key for the broadcaster's per-viewer state machines.
type Answer struct {
	SDP    webrtc.SessionDescription `json:"sdp"`
	Sender domain.PeerID             `json:"sender"`
}

func (Answer) Event() string { return EventAnswer }
func (m Answer) From() domain.PeerID { return m.Sender }

// Candidate carries one network-path candidate. Sent repeatedly by either
// side while the engine gathers paths.
type Candidate struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
	Sender    domain.PeerID           `json:"sender"`
	Target    domain.PeerID           `json:"target,omitempty"`
}

func (Candidate) Event() string { return EventCandidate }
func (m Candidate) From() domain.PeerID { return m.Sender }

// Hangup is fire-and-forget: not acknowledged, each side releases its own
// resources independently.
type Hangup struct {
	Sender domain.PeerID `json:"sender"`
}

func (Hangup) Event() string { return EventHangup }
func (m Hangup) From() domain.PeerID { return m.Sender }

// ViewerJoin announces a viewer on the host's channel.
type ViewerJoin struct {
	ViewerID domain.PeerID `json:"viewerId"`
}

func (ViewerJoin) Event() string { return EventViewerJoin }
func (m ViewerJoin) From() domain.PeerID { return m.ViewerID }

// IncomingCall rings a callee on their personal presence channel, not the
// call channel itself.
type IncomingCall struct {
	SenderID     domain.PeerID `json:"senderId"`
	SenderName   string        `json:"senderName"`
	SenderAvatar string        `json:"senderAvatar"`
	CallID       domain.CallID `json:"callId"`
	IsVideo      bool          `json:"isVideo"`
}

func (IncomingCall) Event() string { return EventIncomingCall }
func (m IncomingCall) From() domain.PeerID { return m.SenderID }

// Encode marshals a message for publishing.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", msg.Event(), err)
	}
	return data, nil
}

// Decode parses and validates one inbound event at the channel boundary.
// Malformed payloads fail here, before any session state is touched.
func Decode(event string, payload []byte) (Message, error) {
	switch event {
	case EventOffer:
		var m Offer
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("invalid offer payload: %w", err)
		}
		if m.Sender == "" {
			return nil, fmt.Errorf("%w: offer without sender", domain.ErrInvalidSignal)
		}
		if err := validateSDP(m.SDP); err != nil {
			return nil, fmt.Errorf("invalid SDP in offer: %w", err)
		}
		return m, nil

	case EventAnswer:
		var m Answer
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("invalid answer payload: %w", err)
		}
		if m.Sender == "" {
			return nil, fmt.Errorf("%w: answer without sender", domain.ErrInvalidSignal)
		}
		if err := validateSDP(m.SDP); err != nil {
			return nil, fmt.Errorf("invalid SDP in answer: %w", err)
		}
		return m, nil

	case EventCandidate:
		var m Candidate
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("invalid candidate payload: %w", err)
		}
		if m.Sender == "" {
			return nil, fmt.Errorf("%w: candidate without sender", domain.ErrInvalidSignal)
		}
		if m.Candidate.Candidate == "" {
			return nil, fmt.Errorf("%w: empty candidate", domain.ErrInvalidSignal)
		}
		return m, nil

	case EventHangup:
		var m Hangup
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("invalid hangup payload: %w", err)
		}
		if m.Sender == "" {
			return nil, fmt.Errorf("%w: hangup without sender", domain.ErrInvalidSignal)
		}
		return m, nil

	case EventViewerJoin:
		var m ViewerJoin
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("invalid viewer-join payload: %w", err)
		}
		if m.ViewerID == "" {
			return nil, fmt.Errorf("%w: viewer-join without viewerId", domain.ErrInvalidSignal)
		}
		return m, nil

	case EventIncomingCall:
		var m IncomingCall
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("invalid incoming-call payload: %w", err)
		}
		if m.SenderID == "" || m.CallID == "" {
			return nil, fmt.Errorf("%w: incoming-call missing senderId or callId", domain.ErrInvalidSignal)
		}
		return m, nil

	default:
		return nil, fmt.Errorf("%w: unknown event %q", domain.ErrInvalidSignal, event)
	}
}

// validateSDP performs a basic structural check before the description is
// handed to the engine.
func validateSDP(desc webrtc.SessionDescription) error {
	if desc.SDP == "" {
		return fmt.Errorf("SDP cannot be empty")
	}
	if !strings.HasPrefix(desc.SDP, "v=") {
		return fmt.Errorf("SDP must start with 'v='")
	}
	return nil
}
