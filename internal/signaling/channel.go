package signaling

import "peerwave/internal/core/domain"

// Channel binding is a pure naming convention: everyone who derives the same
// name from the same identity lands on the same pub/sub topic.

// CallChannel is the channel both participants of a one-to-one call bind to.
func CallChannel(callID domain.CallID) domain.ChannelName {
	return domain.ChannelName("call:" + string(callID))
}

// LiveChannel is the channel a broadcaster and all its viewers bind to,
// keyed by the host identity.
func LiveChannel(hostID domain.PeerID) domain.ChannelName {
	return domain.ChannelName("live:" + string(hostID))
}

// PresenceChannel is a user's personal channel, used to ring them with
// incoming-call invitations.
func PresenceChannel(peerID domain.PeerID) domain.ChannelName {
	return domain.ChannelName("user:" + string(peerID))
}
