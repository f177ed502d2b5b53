package engine

import (
	"context"
	"fmt"
	"sync"

	"peerwave/internal/core/domain"
	"peerwave/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Factory builds pion-backed peer connections with a shared API instance
// and ICE server configuration.
type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
	logger *zap.SugaredLogger
}

func NewFactory(iceServers []webrtc.ICEServer, logger *zap.SugaredLogger) (*Factory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	return &Factory{
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine)),
		config: webrtc.Configuration{ICEServers: iceServers},
		logger: logger,
	}, nil
}

func (f *Factory) NewPeerConnection() (ports.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	c := &Connection{pc: pc, logger: f.logger}

	// Pion callbacks are registered once and route through the adapter's
	// current handlers; Detach nils the handlers so a late engine callback
	// after teardown hits nothing.
	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return // end of gathering
		}
		if h := c.candidateHandler(); h != nil {
			h(candidate.ToJSON())
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if h := c.trackHandler(); h != nil {
			h(&RemoteTrack{track: track, receiver: receiver})
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if h := c.stateHandler(); h != nil {
			h(mapConnectionState(state))
		}
	})

	return c, nil
}

// Connection adapts *webrtc.PeerConnection to the engine port.
type Connection struct {
	pc     *webrtc.PeerConnection
	logger *zap.SugaredLogger

	mu          sync.Mutex
	onCandidate func(webrtc.ICECandidateInit)
	onTrack     func(ports.RemoteTrack)
	onState     func(domain.ConnectionState)
}

func (c *Connection) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *Connection) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *Connection) SetLocalDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(desc)
}

func (c *Connection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *Connection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(candidate)
}

// AddTrack attaches a local track. The track must carry an RTP track (see
// RTPTrackProvider); the sender's RTCP stream is drained so keyframe
// requests from the remote side reach the track's source.
func (c *Connection) AddTrack(track ports.LocalTrack) error {
	provider, ok := track.(RTPTrackProvider)
	if !ok {
		return fmt.Errorf("%s track does not provide an RTP track", track.Kind())
	}

	sender, err := c.pc.AddTrack(provider.RTPTrack())
	if err != nil {
		return fmt.Errorf("failed to add %s track: %w", track.Kind(), err)
	}

	go c.readRTCP(sender, track)
	return nil
}

// readRTCP drains the sender's RTCP stream until the connection closes,
// surfacing picture-loss indications as keyframe requests.
func (c *Connection) readRTCP(sender *webrtc.RTPSender, track ports.LocalTrack) {
	requester, _ := track.(KeyframeRequester)
	buf := make([]byte, 1500)
	for {
		n, _, err := sender.Read(buf)
		if err != nil {
			return
		}
		packets, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			c.logger.Debugw("failed to parse RTCP", "error", err)
			continue
		}
		for _, packet := range packets {
			if _, ok := packet.(*rtcp.PictureLossIndication); ok && requester != nil {
				requester.RequestKeyframe()
			}
		}
	}
}

func (c *Connection) OnICECandidate(handler func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCandidate = handler
}

func (c *Connection) OnTrack(handler func(ports.RemoteTrack)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrack = handler
}

func (c *Connection) OnConnectionStateChange(handler func(domain.ConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = handler
}

// Detach drops all handlers so no callback fires into a torn-down session.
// Must precede Close.
func (c *Connection) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCandidate = nil
	c.onTrack = nil
	c.onState = nil
}

func (c *Connection) Close() error {
	return c.pc.Close()
}

func (c *Connection) candidateHandler() func(webrtc.ICECandidateInit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onCandidate
}

func (c *Connection) trackHandler() func(ports.RemoteTrack) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onTrack
}

func (c *Connection) stateHandler() func(domain.ConnectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onState
}

func mapConnectionState(state webrtc.PeerConnectionState) domain.ConnectionState {
	switch state {
	case webrtc.PeerConnectionStateNew:
		return domain.ConnectionNew
	case webrtc.PeerConnectionStateConnecting:
		return domain.ConnectionConnecting
	case webrtc.PeerConnectionStateConnected:
		return domain.ConnectionConnected
	case webrtc.PeerConnectionStateDisconnected:
		// Transient per ICE; the engine keeps trying. Only Failed is
		// terminal for the state machine.
		return domain.ConnectionConnecting
	case webrtc.PeerConnectionStateFailed:
		return domain.ConnectionFailed
	case webrtc.PeerConnectionStateClosed:
		return domain.ConnectionClosed
	default:
		return domain.ConnectionNew
	}
}

// DefaultICEServers returns the fallback STUN configuration used when
// no servers are configured.
func DefaultICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
	}
}

// ICEServersFromConfig converts configured URLs and credentials into pion
// ICE servers.
func ICEServersFromConfig(servers []ICEServerConfig) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		server := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
		}
		out = append(out, server)
	}
	return out
}

// ICEServerConfig mirrors the config file's ICE server entries without
// making pkg/config depend on pion.
type ICEServerConfig struct {
	URLs       []string
	Username   string
	Credential string
}
