package session

import (
	"context"
	"testing"
	"time"

	"peerwave/internal/core/domain"
	"peerwave/internal/core/ports"
	"peerwave/internal/infrastructure/bus"
	"peerwave/internal/signaling"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// viewerPeer bundles one viewer's fake engine.
type viewerPeer struct {
	factory *fakeFactory
	session *ViewerSession
}

func startTestBroadcast(t *testing.T, shared ports.SignalBus, presence ports.PresenceStore) (*callPeer, *BroadcastSession) {
	t.Helper()
	host := newCallPeer(shared)

	session, err := StartBroadcast(context.Background(), BroadcastConfig{
		Self:     "host",
		Bus:      host.bus,
		Engine:   host.factory,
		Media:    host.devices,
		Presence: presence,
		Timings:  fastTimings(),
	}, true, true)
	require.NoError(t, err)
	t.Cleanup(func() { session.StopBroadcast(context.Background()) })

	return host, session
}

// joinViewer connects one viewer and drives both ends to negotiating.
func joinViewer(t *testing.T, shared ports.SignalBus, session *BroadcastSession, id domain.PeerID) *viewerPeer {
	t.Helper()
	v := &viewerPeer{factory: &fakeFactory{}}

	viewer, err := JoinBroadcast(context.Background(), ViewerConfig{
		Self:    id,
		Bus:     shared,
		Engine:  v.factory,
		Timings: fastTimings(),
	}, "host")
	require.NoError(t, err)
	v.session = viewer
	t.Cleanup(func() { viewer.Leave() })

	require.Eventually(t, func() bool {
		state, err := session.ViewerState(id)
		return err == nil && state == domain.StateNegotiating
	}, time.Second, 5*time.Millisecond, "host never reached negotiating for %s", id)
	require.Equal(t, domain.StateNegotiating, viewer.State())

	return v
}

func connectViewer(t *testing.T, host *callPeer, session *BroadcastSession, v *viewerPeer, hostPCIndex int) {
	t.Helper()
	host.factory.pc(hostPCIndex).fireConnectionState(domain.ConnectionConnected)
	v.factory.pc(0).fireConnectionState(domain.ConnectionConnected)

	state, err := session.ViewerState(v.session.cfg.Self)
	require.NoError(t, err)
	require.Equal(t, domain.StateConnected, state)
	require.Equal(t, domain.StateConnected, v.session.State())
}

func TestBroadcast_FansOutToIndependentViewers(t *testing.T) {
	shared := bus.NewMemoryBus()
	host, session := startTestBroadcast(t, shared, nil)

	v1 := joinViewer(t, shared, session, "viewer-1")
	v2 := joinViewer(t, shared, session, "viewer-2")
	assert.Equal(t, 2, session.ViewerCount())

	// One connection per viewer, each carrying the shared tracks.
	require.Equal(t, 2, host.factory.count())
	assert.Equal(t, 2, host.factory.pc(0).trackCount())
	assert.Equal(t, 2, host.factory.pc(1).trackCount())

	// The shared capture is acquired once, not per viewer.
	assert.Nil(t, host.devices.source(1))

	// Offers on the shared channel are targeted; each viewer applied
	// exactly one remote description despite two negotiations running.
	assert.Equal(t, 1, v1.factory.pc(0).remoteApplications())
	assert.Equal(t, 1, v2.factory.pc(0).remoteApplications())

	connectViewer(t, host, session, v1, 0)
	connectViewer(t, host, session, v2, 1)
}

func TestBroadcast_ViewerFailureLeavesOthersConnected(t *testing.T) {
	shared := bus.NewMemoryBus()
	host, session := startTestBroadcast(t, shared, nil)

	v1 := joinViewer(t, shared, session, "viewer-1")
	v2 := joinViewer(t, shared, session, "viewer-2")
	connectViewer(t, host, session, v1, 0)
	connectViewer(t, host, session, v2, 1)

	// Viewer 1's transport dies on the host side.
	host.factory.pc(0).fireConnectionState(domain.ConnectionFailed)

	require.Eventually(t, func() bool {
		return session.ViewerCount() == 1
	}, time.Second, 5*time.Millisecond, "failed viewer must be removed")

	_, err := session.ViewerState("viewer-1")
	assert.ErrorIs(t, err, domain.ErrViewerNotFound)

	state, err := session.ViewerState("viewer-2")
	require.NoError(t, err)
	assert.Equal(t, domain.StateConnected, state, "other viewers must be unaffected")
	assert.Equal(t, 0, host.devices.source(0).closeCount(), "shared media must survive a single viewer failure")
}

func TestBroadcast_DuplicateJoinIgnored(t *testing.T) {
	shared := bus.NewMemoryBus()
	host, session := startTestBroadcast(t, shared, nil)

	joinViewer(t, shared, session, "viewer-1")
	require.Equal(t, 1, host.factory.count())

	// A re-announced join must not spawn a second connection.
	require.NoError(t, signaling.Send(context.Background(), shared, signaling.LiveChannel("host"), signaling.ViewerJoin{ViewerID: "viewer-1"}))
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 1, host.factory.count())
	assert.Equal(t, 1, session.ViewerCount())
}

func TestBroadcast_SignalsFromUnknownViewersIgnored(t *testing.T) {
	shared := bus.NewMemoryBus()
	_, session := startTestBroadcast(t, shared, nil)

	require.NoError(t, signaling.Send(context.Background(), shared, signaling.LiveChannel("host"), signaling.Answer{
		SDP:    webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0\r\n"},
		Sender: "stranger",
	}))
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 0, session.ViewerCount())
}

func TestBroadcast_PresenceLifecycle(t *testing.T) {
	shared := bus.NewMemoryBus()
	presence := newFakePresence()
	_, session := startTestBroadcast(t, shared, presence)

	live, err := presence.IsLive(context.Background(), "host")
	require.NoError(t, err)
	assert.True(t, live, "host must be marked live on start")

	require.NoError(t, session.StopBroadcast(context.Background()))

	live, err = presence.IsLive(context.Background(), "host")
	require.NoError(t, err)
	assert.False(t, live, "live flag must be cleared on stop")
}

func TestBroadcast_PresenceFailureIsNotFatal(t *testing.T) {
	shared := bus.NewMemoryBus()
	presence := newFakePresence()
	presence.err = domain.ErrChannelUnavailable

	_, session := startTestBroadcast(t, shared, presence)
	assert.NotNil(t, session, "a presence write failure must not abort the broadcast")
}

func TestBroadcast_StopClosesViewersAndMediaOnce(t *testing.T) {
	shared := bus.NewMemoryBus()
	host, session := startTestBroadcast(t, shared, nil)

	v1 := joinViewer(t, shared, session, "viewer-1")
	v2 := joinViewer(t, shared, session, "viewer-2")
	connectViewer(t, host, session, v1, 0)
	connectViewer(t, host, session, v2, 1)

	require.NoError(t, session.StopBroadcast(context.Background()))
	require.NoError(t, session.StopBroadcast(context.Background()))

	assert.Equal(t, 0, session.ViewerCount())
	assert.Equal(t, 1, host.devices.source(0).closeCount(), "shared media must be released exactly once")

	for i := 0; i < 2; i++ {
		pc := host.factory.pc(i)
		pc.mu.Lock()
		detached, closed := pc.detached, pc.closed
		pc.mu.Unlock()
		assert.True(t, detached, "viewer connection %d must be detached", i)
		assert.True(t, closed, "viewer connection %d must be closed", i)
	}

	// Late joins after stop are ignored.
	signaling.Send(context.Background(), shared, signaling.LiveChannel("host"), signaling.ViewerJoin{ViewerID: "late"})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, session.ViewerCount())
}

func TestViewer_DiscardsSignalsForOtherViewers(t *testing.T) {
	shared := bus.NewMemoryBus()

	factory := &fakeFactory{}
	viewer, err := JoinBroadcast(context.Background(), ViewerConfig{
		Self:    "viewer-1",
		Bus:     shared,
		Engine:  factory,
		Timings: fastTimings(),
	}, "host")
	require.NoError(t, err)
	defer viewer.Leave()

	// An offer addressed to a different viewer on the same channel.
	require.NoError(t, signaling.Send(context.Background(), shared, signaling.LiveChannel("host"), signaling.Offer{
		SDP:    webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"},
		Sender: "host",
		Target: "viewer-2",
	}))
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, domain.StateIdle, viewer.State())
	assert.Zero(t, factory.pc(0).remoteApplications())
}

func TestViewer_LeaveTearsDownOnceInOrder(t *testing.T) {
	shared := bus.NewMemoryBus()
	events := &eventLog{}
	factory := &fakeFactory{events: events}

	viewer, err := JoinBroadcast(context.Background(), ViewerConfig{
		Self:    "viewer-1",
		Bus:     &recordingBus{inner: shared, events: events},
		Engine:  factory,
		Timings: fastTimings(),
	}, "host")
	require.NoError(t, err)

	viewer.Leave()
	viewer.Leave()

	assert.Equal(t, []string{"pc-detach", "pc-close", "unsubscribe"}, events.snapshot())
	assert.True(t, viewer.State().Terminal())
}

func TestViewer_MuteIsLocalOnly(t *testing.T) {
	shared := bus.NewMemoryBus()
	obs := observe(t, shared, signaling.LiveChannel("host"))

	factory := &fakeFactory{}
	viewer, err := JoinBroadcast(context.Background(), ViewerConfig{
		Self:    "viewer-1",
		Bus:     shared,
		Engine:  factory,
		Timings: fastTimings(),
	}, "host")
	require.NoError(t, err)
	defer viewer.Leave()

	obs.waitFor(t, signaling.EventViewerJoin, 1)
	before := obs.count(signaling.EventViewerJoin) + obs.count(signaling.EventOffer) + obs.count(signaling.EventAnswer)

	viewer.SetMuted(true)
	assert.True(t, viewer.Muted())
	viewer.SetMuted(false)
	assert.False(t, viewer.Muted())

	time.Sleep(50 * time.Millisecond)
	after := obs.count(signaling.EventViewerJoin) + obs.count(signaling.EventOffer) + obs.count(signaling.EventAnswer)
	assert.Equal(t, before, after, "muting must not signal anything")
}
