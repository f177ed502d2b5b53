package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"peerwave/internal/core/domain"
	"peerwave/internal/core/ports"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// RTPTrackProvider exposes the underlying pion track so the connection
// adapter can attach it. Implemented by LocalRTPTrack.
type RTPTrackProvider interface {
	RTPTrack() webrtc.TrackLocal
}

// KeyframeRequester receives keyframe requests recovered from remote RTCP
// picture-loss indications.
type KeyframeRequester interface {
	RequestKeyframe()
}

// LocalRTPTrack is one publishable track fed by WriteRTP. Disabling the
// track drops packets in place without touching the transceiver, which is
// how mute, camera-off and low-bandwidth mode avoid renegotiation. Safe to
// attach to many peer connections at once: the broadcast path shares one
// capture across every viewer.
type LocalRTPTrack struct {
	kind    string
	track   *webrtc.TrackLocalStaticRTP
	enabled atomic.Bool

	mu         sync.Mutex
	onKeyframe func()
}

func newLocalRTPTrack(kind, codec string) (*LocalRTPTrack, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: codec},
		kind,
		"peerwave-"+kind,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s track: %w", kind, err)
	}
	t := &LocalRTPTrack{kind: kind, track: track}
	t.enabled.Store(true)
	return t, nil
}

func (t *LocalRTPTrack) Kind() string { return t.kind }

func (t *LocalRTPTrack) Enabled() bool { return t.enabled.Load() }

func (t *LocalRTPTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

func (t *LocalRTPTrack) RTPTrack() webrtc.TrackLocal { return t.track }

// WriteRTP forwards one packet to every attached connection. Packets are
// silently dropped while the track is disabled.
func (t *LocalRTPTrack) WriteRTP(packet *rtp.Packet) error {
	if !t.enabled.Load() {
		return nil
	}
	return t.track.WriteRTP(packet)
}

// OnKeyframeRequest registers the callback invoked when a remote viewer
// signals picture loss.
func (t *LocalRTPTrack) OnKeyframeRequest(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onKeyframe = fn
}

// RequestKeyframe implements KeyframeRequester.
func (t *LocalRTPTrack) RequestKeyframe() {
	t.mu.Lock()
	fn := t.onKeyframe
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// RTPMedia is a MediaSource whose tracks are fed externally with RTP, e.g.
// from an ingest pipeline or a forwarded remote track.
type RTPMedia struct {
	audio *LocalRTPTrack
	video *LocalRTPTrack

	mu     sync.Mutex
	closed bool
}

func (m *RTPMedia) AudioTrack() ports.LocalTrack {
	if m.audio == nil {
		return nil
	}
	return m.audio
}

func (m *RTPMedia) VideoTrack() ports.LocalTrack {
	if m.video == nil {
		return nil
	}
	return m.video
}

func (m *RTPMedia) Tracks() []ports.LocalTrack {
	var tracks []ports.LocalTrack
	if m.audio != nil {
		tracks = append(tracks, m.audio)
	}
	if m.video != nil {
		tracks = append(tracks, m.video)
	}
	return tracks
}

// Audio returns the writable audio track, or nil.
func (m *RTPMedia) Audio() *LocalRTPTrack { return m.audio }

// Video returns the writable video track, or nil.
func (m *RTPMedia) Video() *LocalRTPTrack { return m.video }

func (m *RTPMedia) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	// Static RTP tracks hold no OS resources; disabling stops the flow.
	if m.audio != nil {
		m.audio.SetEnabled(false)
	}
	if m.video != nil {
		m.video.SetEnabled(false)
	}
	return nil
}

// Devices builds RTP-fed media sources per the capture constraints. This is
// the server-side capture collaborator: audio is Opus, video VP8.
type Devices struct {
	logger *zap.SugaredLogger
}

func NewDevices(logger *zap.SugaredLogger) *Devices {
	return &Devices{logger: logger}
}

func (d *Devices) GetUserMedia(ctx context.Context, constraints domain.MediaConstraints) (ports.MediaSource, error) {
	media := &RTPMedia{}

	if constraints.Audio != nil {
		track, err := newLocalRTPTrack("audio", webrtc.MimeTypeOpus)
		if err != nil {
			return nil, err
		}
		media.audio = track
	}
	if constraints.Video != nil {
		track, err := newLocalRTPTrack("video", webrtc.MimeTypeVP8)
		if err != nil {
			return nil, err
		}
		media.video = track
	}
	if media.audio == nil && media.video == nil {
		return nil, fmt.Errorf("no tracks requested")
	}
	return media, nil
}

// Forward pumps a remote track into a local one until either side closes,
// e.g. to restream a received broadcast. Returns the first read or write
// error.
func Forward(remote ports.RemoteTrack, local *LocalRTPTrack) error {
	rt, ok := remote.(*RemoteTrack)
	if !ok {
		return fmt.Errorf("remote track is not a pion track")
	}
	for {
		packet, err := rt.ReadRTP()
		if err != nil {
			return err
		}
		if err := local.WriteRTP(packet); err != nil {
			return err
		}
	}
}

// RemoteTrack wraps a received pion track.
type RemoteTrack struct {
	track    *webrtc.TrackRemote
	receiver *webrtc.RTPReceiver
}

func (t *RemoteTrack) ID() string { return t.track.ID() }

func (t *RemoteTrack) Kind() string { return t.track.Kind().String() }

// ReadRTP returns the next packet from the remote stream.
func (t *RemoteTrack) ReadRTP() (*rtp.Packet, error) {
	packet, _, err := t.track.ReadRTP()
	return packet, err
}
