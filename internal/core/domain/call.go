package domain

import "time"

type PeerID string
type CallID string
type ChannelName string

// CallTarget is the remote participant of a one-to-one call, with the
// display metadata carried in the incoming-call invitation.
type CallTarget struct {
	ID     PeerID
	Name   string
	Avatar string
}

// CallInvite is the payload delivered on the callee's personal presence
// channel when a caller rings them.
type CallInvite struct {
	CallID       CallID
	SenderID     PeerID
	SenderName   string
	SenderAvatar string
	IsVideo      bool
	ReceivedAt   time.Time
}

// MediaConstraints mirrors the capture request handed to the media
// collaborator. Video=nil means audio-only.
type MediaConstraints struct {
	Audio *AudioConstraints
	Video *VideoConstraints
}

type AudioConstraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
	ChannelCount     int
}

type VideoConstraints struct {
	Width     int
	Height    int
	FrameRate int
}

// DefaultConstraints returns the capture request used by calls and
// broadcasts: processed mono audio, plus 720p video when requested.
func DefaultConstraints(video bool) MediaConstraints {
	mc := MediaConstraints{
		Audio: &AudioConstraints{
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGainControl:  true,
			ChannelCount:     1,
		},
	}
	if video {
		mc.Video = &VideoConstraints{Width: 1280, Height: 720, FrameRate: 30}
	}
	return mc
}
