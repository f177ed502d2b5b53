package session

import (
	"context"
	"fmt"
	"sync"

	"peerwave/internal/core/domain"
	"peerwave/internal/core/ports"

	"github.com/pion/webrtc/v3"
)

// fakePC simulates the negotiation engine for a single connection. Tests
// drive connection-state transitions explicitly through fireConnectionState.
type fakePC struct {
	mu sync.Mutex

	localDesc      *webrtc.SessionDescription
	remoteDesc     *webrtc.SessionDescription
	candidates     []webrtc.ICECandidateInit
	tracks         []ports.LocalTrack
	setRemoteCalls int

	detached bool
	closed   bool

	onCandidate func(webrtc.ICECandidateInit)
	onTrack     func(ports.RemoteTrack)
	onConnState func(domain.ConnectionState)

	createOfferErr  error
	createAnswerErr error
	setRemoteErr    error

	// events collects lifecycle steps for teardown-order assertions.
	events *eventLog
}

func (p *fakePC) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	if p.createOfferErr != nil {
		return webrtc.SessionDescription{}, p.createOfferErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\ns=fake offer\r\n"}, nil
}

func (p *fakePC) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	if p.createAnswerErr != nil {
		return webrtc.SessionDescription{}, p.createAnswerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0\r\ns=fake answer\r\n"}, nil
}

func (p *fakePC) SetLocalDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.localDesc = &desc
	return nil
}

func (p *fakePC) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if p.setRemoteErr != nil {
		return p.setRemoteErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remoteDesc = &desc
	p.setRemoteCalls++
	return nil
}

func (p *fakePC) remoteApplications() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.setRemoteCalls
}

func (p *fakePC) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("connection closed")
	}
	p.candidates = append(p.candidates, candidate)
	return nil
}

func (p *fakePC) AddTrack(track ports.LocalTrack) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks = append(p.tracks, track)
	return nil
}

func (p *fakePC) OnICECandidate(handler func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCandidate = handler
}

func (p *fakePC) OnTrack(handler func(ports.RemoteTrack)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = handler
}

func (p *fakePC) OnConnectionStateChange(handler func(domain.ConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onConnState = handler
}

func (p *fakePC) Detach() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detached = true
	p.onCandidate = nil
	p.onTrack = nil
	p.onConnState = nil
	p.events.record("pc-detach")
}

func (p *fakePC) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.events.record("pc-close")
	return nil
}

func (p *fakePC) fireConnectionState(state domain.ConnectionState) {
	p.mu.Lock()
	handler := p.onConnState
	p.mu.Unlock()
	if handler != nil {
		handler(state)
	}
}

func (p *fakePC) remoteSet() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteDesc != nil
}

func (p *fakePC) appliedCandidates() []webrtc.ICECandidateInit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), p.candidates...)
}

func (p *fakePC) trackCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tracks)
}

// fakeFactory hands out fakePCs and remembers them in creation order.
type fakeFactory struct {
	mu     sync.Mutex
	pcs    []*fakePC
	events *eventLog
	newErr error
}

func (f *fakeFactory) NewPeerConnection() (ports.PeerConnection, error) {
	if f.newErr != nil {
		return nil, f.newErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	pc := &fakePC{events: f.events}
	if pc.events == nil {
		pc.events = &eventLog{}
	}
	f.pcs = append(f.pcs, pc)
	return pc, nil
}

func (f *fakeFactory) pc(i int) *fakePC {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.pcs) {
		return nil
	}
	return f.pcs[i]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pcs)
}

type fakeTrack struct {
	kind string

	mu      sync.Mutex
	enabled bool
}

func newFakeTrack(kind string) *fakeTrack {
	return &fakeTrack{kind: kind, enabled: true}
}

func (t *fakeTrack) Kind() string { return t.kind }

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

type fakeMedia struct {
	audio  *fakeTrack
	video  *fakeTrack
	events *eventLog

	mu     sync.Mutex
	closes int
}

func (m *fakeMedia) AudioTrack() ports.LocalTrack {
	if m.audio == nil {
		return nil
	}
	return m.audio
}

func (m *fakeMedia) VideoTrack() ports.LocalTrack {
	if m.video == nil {
		return nil
	}
	return m.video
}

func (m *fakeMedia) Tracks() []ports.LocalTrack {
	var tracks []ports.LocalTrack
	if m.audio != nil {
		tracks = append(tracks, m.audio)
	}
	if m.video != nil {
		tracks = append(tracks, m.video)
	}
	return tracks
}

func (m *fakeMedia) Close() error {
	m.mu.Lock()
	m.closes++
	m.mu.Unlock()
	m.events.record("media-close")
	return nil
}

func (m *fakeMedia) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

type fakeDevices struct {
	mu     sync.Mutex
	media  []*fakeMedia
	events *eventLog
	err    error
}

func (d *fakeDevices) GetUserMedia(ctx context.Context, constraints domain.MediaConstraints) (ports.MediaSource, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	m := &fakeMedia{events: d.events}
	if m.events == nil {
		m.events = &eventLog{}
	}
	if constraints.Audio != nil {
		m.audio = newFakeTrack("audio")
	}
	if constraints.Video != nil {
		m.video = newFakeTrack("video")
	}
	d.media = append(d.media, m)
	return m, nil
}

func (d *fakeDevices) source(i int) *fakeMedia {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.media) {
		return nil
	}
	return d.media[i]
}

type fakePresence struct {
	mu   sync.Mutex
	live map[domain.PeerID]bool
	err  error
}

func newFakePresence() *fakePresence {
	return &fakePresence{live: make(map[domain.PeerID]bool)}
}

func (p *fakePresence) SetLive(ctx context.Context, peerID domain.PeerID, live bool) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.live[peerID] = live
	return nil
}

func (p *fakePresence) IsLive(ctx context.Context, peerID domain.PeerID) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live[peerID], nil
}

// eventLog records lifecycle steps across collaborators so tests can assert
// teardown ordering.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) record(event string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// recordingBus wraps a SignalBus and records unsubscribes in the event log.
type recordingBus struct {
	inner  ports.SignalBus
	events *eventLog
}

func (b *recordingBus) Publish(ctx context.Context, channel domain.ChannelName, event string, payload []byte) error {
	return b.inner.Publish(ctx, channel, event, payload)
}

func (b *recordingBus) Subscribe(ctx context.Context, channel domain.ChannelName) (ports.Subscription, error) {
	sub, err := b.inner.Subscribe(ctx, channel)
	if err != nil {
		return nil, err
	}
	return &recordingSubscription{Subscription: sub, events: b.events}, nil
}

type recordingSubscription struct {
	ports.Subscription
	events *eventLog
}

func (s *recordingSubscription) Close() error {
	s.events.record("unsubscribe")
	return s.Subscription.Close()
}
