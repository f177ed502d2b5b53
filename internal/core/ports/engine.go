package ports

import (
	"context"

	"peerwave/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// RemoteTrack is a media track received from the remote peer.
type RemoteTrack interface {
	ID() string
	Kind() string
}

// PeerConnection is the negotiation-engine collaborator for a single remote
// peer. One instance per remote participant, owned exclusively by its
// session; never shared.
//
// Teardown ordering is a hard requirement: Detach must be called before
// Close so that no engine callback fires into a torn-down session.
type PeerConnection interface {
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	AddTrack(track LocalTrack) error

	OnICECandidate(handler func(webrtc.ICECandidateInit))
	OnTrack(handler func(RemoteTrack))
	OnConnectionStateChange(handler func(domain.ConnectionState))

	// Detach drops all registered callbacks.
	Detach()
	Close() error
}

// ConnectionFactory builds engine connections with the configured ICE
// servers.
type ConnectionFactory interface {
	NewPeerConnection() (PeerConnection, error)
}
