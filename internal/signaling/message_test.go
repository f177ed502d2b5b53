package signaling

import (
	"testing"

	"peerwave/internal/core/domain"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundtrip(t *testing.T) {
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\ns=-\r\n"}

	messages := []Message{
		Offer{SDP: desc, Sender: "alice", Target: "viewer-1"},
		Answer{SDP: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0\r\n"}, Sender: "bob"},
		Candidate{Candidate: webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2122260223 10.0.0.1 54321 typ host"}, Sender: "alice"},
		Hangup{Sender: "alice"},
		ViewerJoin{ViewerID: "viewer-1"},
		IncomingCall{SenderID: "alice", SenderName: "Alice", CallID: "call-123", IsVideo: true},
	}

	for _, msg := range messages {
		t.Run(msg.Event(), func(t *testing.T) {
			payload, err := Encode(msg)
			require.NoError(t, err)

			decoded, err := Decode(msg.Event(), payload)
			require.NoError(t, err)
			assert.Equal(t, msg, decoded)
			assert.Equal(t, msg.From(), decoded.From())
		})
	}
}

func TestDecodeRejectsInvalidSignals(t *testing.T) {
	tests := []struct {
		name    string
		event   string
		payload string
	}{
		{"unknown event", "renegotiate", `{}`},
		{"offer not json", EventOffer, `{`},
		{"offer without sender", EventOffer, `{"sdp":{"type":"offer","sdp":"v=0\r\n"}}`},
		{"offer with empty sdp", EventOffer, `{"sdp":{"type":"offer","sdp":""},"sender":"alice"}`},
		{"offer sdp missing version line", EventOffer, `{"sdp":{"type":"offer","sdp":"o=- 0 0"},"sender":"alice"}`},
		{"answer without sender", EventAnswer, `{"sdp":{"type":"answer","sdp":"v=0\r\n"}}`},
		{"answer with bad sdp", EventAnswer, `{"sdp":{"type":"answer","sdp":"nope"},"sender":"bob"}`},
		{"candidate without sender", EventCandidate, `{"candidate":{"candidate":"candidate:1"}}`},
		{"empty candidate", EventCandidate, `{"candidate":{"candidate":""},"sender":"alice"}`},
		{"hangup without sender", EventHangup, `{}`},
		{"viewer-join without viewer", EventViewerJoin, `{}`},
		{"incoming-call without call id", EventIncomingCall, `{"senderId":"alice"}`},
		{"incoming-call without sender", EventIncomingCall, `{"callId":"call-123"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.event, []byte(tt.payload))
			assert.Error(t, err)
		})
	}
}

func TestDecodeValidationErrorsAreTyped(t *testing.T) {
	_, err := Decode(EventHangup, []byte(`{}`))
	assert.ErrorIs(t, err, domain.ErrInvalidSignal)

	_, err = Decode("bogus", []byte(`{}`))
	assert.ErrorIs(t, err, domain.ErrInvalidSignal)
}

func TestChannelNames(t *testing.T) {
	assert.Equal(t, domain.ChannelName("call:abc"), CallChannel("abc"))
	assert.Equal(t, domain.ChannelName("live:host-1"), LiveChannel("host-1"))
	assert.Equal(t, domain.ChannelName("user:bob"), PresenceChannel("bob"))
}
