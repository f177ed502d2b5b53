package ports

import (
	"context"

	"peerwave/internal/core/domain"
)

// PresenceStore records the broadcaster's "is live" flag in the external
// profile store. A simple write, outside protocol correctness.
type PresenceStore interface {
	SetLive(ctx context.Context, peerID domain.PeerID, live bool) error
	IsLive(ctx context.Context, peerID domain.PeerID) (bool, error)
}
