package ports

import (
	"context"

	"peerwave/internal/core/domain"
)

// LocalTrack is one captured track. SetEnabled toggles the track in place
// without renegotiation; a disabled track keeps its transceiver slot.
type LocalTrack interface {
	Kind() string // "audio" or "video"
	Enabled() bool
	SetEnabled(enabled bool)
}

// MediaSource is a local capture handle. A call session owns its source
// exclusively; a broadcast session shares one source read-only across all
// viewer connections and releases it exactly once.
type MediaSource interface {
	AudioTrack() LocalTrack // nil when audio was not requested
	VideoTrack() LocalTrack // nil when video was not requested
	Tracks() []LocalTrack
	Close() error
}

// MediaDevices is the capture collaborator. GetUserMedia fails with
// domain.ErrMediaAccessDenied when capture permission is refused; that is
// terminal for the session, no retry.
type MediaDevices interface {
	GetUserMedia(ctx context.Context, constraints domain.MediaConstraints) (MediaSource, error)
}
