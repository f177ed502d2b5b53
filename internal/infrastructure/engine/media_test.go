package engine

import (
	"context"
	"testing"

	"peerwave/internal/core/domain"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGetUserMediaBuildsTracksPerConstraints(t *testing.T) {
	devices := NewDevices(zap.NewNop().Sugar())
	ctx := context.Background()

	t.Run("audio and video", func(t *testing.T) {
		media, err := devices.GetUserMedia(ctx, domain.DefaultConstraints(true))
		require.NoError(t, err)
		defer media.Close()

		require.NotNil(t, media.AudioTrack())
		require.NotNil(t, media.VideoTrack())
		assert.Equal(t, "audio", media.AudioTrack().Kind())
		assert.Equal(t, "video", media.VideoTrack().Kind())
		assert.Len(t, media.Tracks(), 2)
	})

	t.Run("audio only", func(t *testing.T) {
		media, err := devices.GetUserMedia(ctx, domain.DefaultConstraints(false))
		require.NoError(t, err)
		defer media.Close()

		assert.NotNil(t, media.AudioTrack())
		assert.Nil(t, media.VideoTrack())
		assert.Len(t, media.Tracks(), 1)
	})

	t.Run("nothing requested", func(t *testing.T) {
		_, err := devices.GetUserMedia(ctx, domain.MediaConstraints{})
		assert.Error(t, err)
	})
}

func TestLocalRTPTrackDisableDropsPackets(t *testing.T) {
	track, err := newLocalRTPTrack("audio", "audio/opus")
	require.NoError(t, err)
	require.True(t, track.Enabled(), "tracks start enabled")

	packet := &rtp.Packet{Header: rtp.Header{SequenceNumber: 1}}

	// No connections are bound, so an enabled write is a no-op too; the
	// disabled path must not even reach the underlying track.
	require.NoError(t, track.WriteRTP(packet))

	track.SetEnabled(false)
	assert.False(t, track.Enabled())
	assert.NoError(t, track.WriteRTP(packet))

	track.SetEnabled(true)
	assert.True(t, track.Enabled())
}

func TestRTPMediaCloseDisablesTracks(t *testing.T) {
	devices := NewDevices(zap.NewNop().Sugar())
	media, err := devices.GetUserMedia(context.Background(), domain.DefaultConstraints(true))
	require.NoError(t, err)

	rtpMedia := media.(*RTPMedia)
	require.NoError(t, media.Close())
	require.NoError(t, media.Close())

	assert.False(t, rtpMedia.Audio().Enabled())
	assert.False(t, rtpMedia.Video().Enabled())
}

func TestKeyframeRequestInvokesCallback(t *testing.T) {
	track, err := newLocalRTPTrack("video", "video/VP8")
	require.NoError(t, err)

	// No callback registered yet; must not panic.
	track.RequestKeyframe()

	requests := 0
	track.OnKeyframeRequest(func() { requests++ })
	track.RequestKeyframe()
	track.RequestKeyframe()
	assert.Equal(t, 2, requests)
}
