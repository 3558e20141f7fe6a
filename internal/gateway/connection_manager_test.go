package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/padeltrack/syncserver/internal/match"
	"github.com/padeltrack/syncserver/internal/protocol"
)

func newTestManager(t *testing.T) (*ConnectionManager, *match.Store, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	store := match.NewStore(clock)
	m := NewConnectionManager(DefaultConnectionConfig(), store, clock)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go m.Start(ctx)

	return m, store, clock
}

// addConn registers a connection without a real socket; frames accumulate in
// its send buffer where tests can read them.
func addConn(m *ConnectionManager, id string) *Connection {
	c := newConnection(id, nil, m)
	m.Register(c)
	return c
}

func recvEnvelope(t *testing.T, c *Connection) protocol.Envelope {
	t.Helper()
	select {
	case frame := <-c.send:
		env, err := protocol.Parse(frame)
		require.NoError(t, err)
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
		return protocol.Envelope{}
	}
}

func assertNoEnvelope(t *testing.T, c *Connection) {
	t.Helper()
	select {
	case frame := <-c.send:
		t.Fatalf("unexpected envelope: %s", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func deviceCount(t *testing.T, env protocol.Envelope) int {
	t.Helper()
	var payload protocol.DeviceCountPayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	return payload.ConnectedDevices
}

func TestRegister_StateSyncIsFirstEnvelope(t *testing.T) {
	m, store, _ := newTestManager(t)
	store.ReplaceScore(match.Score{Points: [2]int{2, 1}}, "Point for team 1")

	conn := addConn(m, "a")

	env := recvEnvelope(t, conn)
	require.Equal(t, protocol.TypeStateSync, env.Type)

	var payload protocol.StateSyncPayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, [2]int{2, 1}, payload.Score.Points)
	assert.Equal(t, "Point for team 1", payload.LastAction)
	assert.Equal(t, 1, payload.ConnectedDevices)
	assert.NotEmpty(t, env.Message)
}

func TestRegister_AnnouncesNewDeviceToOthers(t *testing.T) {
	m, _, _ := newTestManager(t)

	a := addConn(m, "a")
	require.Equal(t, protocol.TypeStateSync, recvEnvelope(t, a).Type)

	b := addConn(m, "b")

	env := recvEnvelope(t, b)
	require.Equal(t, protocol.TypeStateSync, env.Type)
	var sync protocol.StateSyncPayload
	require.NoError(t, json.Unmarshal(env.Data, &sync))
	assert.Equal(t, 2, sync.ConnectedDevices)

	notice := recvEnvelope(t, a)
	require.Equal(t, protocol.TypeDeviceConnected, notice.Type)
	assert.Equal(t, 2, deviceCount(t, notice))

	// the joining device does not hear about itself
	assertNoEnvelope(t, b)
}

func TestBroadcast_RecipientsFixedWhenQueued(t *testing.T) {
	m, _, _ := newTestManager(t)

	// two joins before the broadcast queue gets a chance to drain
	a := addConn(m, "a")
	b := addConn(m, "b")

	require.Equal(t, protocol.TypeStateSync, recvEnvelope(t, a).Type)
	notice := recvEnvelope(t, a)
	require.Equal(t, protocol.TypeDeviceConnected, notice.Type)
	assert.Equal(t, 2, deviceCount(t, notice))

	// b was not open when a joined, so a's join announcement never reaches it
	require.Equal(t, protocol.TypeStateSync, recvEnvelope(t, b).Type)
	assertNoEnvelope(t, b)
}

func TestUnregister_AnnouncesCountToRemaining(t *testing.T) {
	m, _, _ := newTestManager(t)

	a := addConn(m, "a")
	b := addConn(m, "b")
	recvEnvelope(t, a) // state_sync
	recvEnvelope(t, a) // device_connected
	recvEnvelope(t, b) // state_sync

	m.Unregister(b)

	env := recvEnvelope(t, a)
	require.Equal(t, protocol.TypeDeviceDisconnected, env.Type)
	assert.Equal(t, 1, deviceCount(t, env))
	assert.Equal(t, 1, m.Count())
}

func TestUnregister_Idempotent(t *testing.T) {
	m, _, _ := newTestManager(t)
	a := addConn(m, "a")
	recvEnvelope(t, a)

	m.Unregister(a)
	m.Unregister(a)

	assert.Equal(t, 0, m.Count())
}

func TestCount_TracksAcceptsAndCloses(t *testing.T) {
	m, _, _ := newTestManager(t)

	conns := make([]*Connection, 0, 5)
	for i := 0; i < 5; i++ {
		conns = append(conns, addConn(m, string(rune('a'+i))))
	}
	require.Equal(t, 5, m.Count())

	m.Unregister(conns[0])
	m.Unregister(conns[1])
	assert.Equal(t, 3, m.Count())
}

func TestBroadcastToOthers_ExcludesSender(t *testing.T) {
	m, _, _ := newTestManager(t)

	a := addConn(m, "a")
	b := addConn(m, "b")
	c := addConn(m, "c")
	recvEnvelope(t, a) // state_sync
	recvEnvelope(t, a) // b connected
	recvEnvelope(t, a) // c connected
	recvEnvelope(t, b) // state_sync
	recvEnvelope(t, b) // c connected
	recvEnvelope(t, c) // state_sync

	env, err := protocol.New(protocol.TypeScoreUpdate, protocol.ScoreUpdatePayload{Action: "Point for team 1"})
	require.NoError(t, err)
	m.BroadcastToOthers(a, env)

	assert.Equal(t, protocol.TypeScoreUpdate, recvEnvelope(t, b).Type)
	assert.Equal(t, protocol.TypeScoreUpdate, recvEnvelope(t, c).Type)
	assertNoEnvelope(t, a)
}

func TestBroadcastToAll_IncludesEveryone(t *testing.T) {
	m, _, _ := newTestManager(t)

	a := addConn(m, "a")
	b := addConn(m, "b")
	recvEnvelope(t, a)
	recvEnvelope(t, a)
	recvEnvelope(t, b)

	env, err := protocol.New(protocol.TypeHeartbeat, protocol.DeviceCountPayload{ConnectedDevices: 2})
	require.NoError(t, err)
	m.BroadcastToAll(env)

	assert.Equal(t, protocol.TypeHeartbeat, recvEnvelope(t, a).Type)
	assert.Equal(t, protocol.TypeHeartbeat, recvEnvelope(t, b).Type)
}

func TestBroadcast_SkipsClosedConnection(t *testing.T) {
	m, _, _ := newTestManager(t)

	a := addConn(m, "a")
	b := addConn(m, "b")
	recvEnvelope(t, a)
	recvEnvelope(t, a)
	recvEnvelope(t, b)

	b.Close()

	env, err := protocol.New(protocol.TypeHeartbeat, protocol.DeviceCountPayload{ConnectedDevices: 2})
	require.NoError(t, err)
	m.BroadcastToAll(env)

	assert.Equal(t, protocol.TypeHeartbeat, recvEnvelope(t, a).Type)
	assertNoEnvelope(t, b)
}

func TestBroadcast_DropsConnectionWithFullBuffer(t *testing.T) {
	m, _, _ := newTestManager(t)

	a := addConn(m, "a")
	recvEnvelope(t, a)

	for i := 0; i < cap(a.send); i++ {
		a.send <- []byte("{}")
	}

	env, err := protocol.New(protocol.TypeHeartbeat, protocol.DeviceCountPayload{ConnectedDevices: 1})
	require.NoError(t, err)
	m.BroadcastToAll(env)

	require.Eventually(t, func() bool { return m.Count() == 0 }, time.Second, 10*time.Millisecond)
}

func TestShutdown_NotifiesThenClosesAll(t *testing.T) {
	m, _, _ := newTestManager(t)

	a := addConn(m, "a")
	b := addConn(m, "b")
	recvEnvelope(t, a)
	recvEnvelope(t, a)
	recvEnvelope(t, b)

	m.Shutdown()

	envA := recvEnvelope(t, a)
	assert.Equal(t, protocol.TypeServerShutdown, envA.Type)
	envB := recvEnvelope(t, b)
	assert.Equal(t, protocol.TypeServerShutdown, envB.Type)

	select {
	case <-a.done:
	default:
		t.Fatal("connection a not closed")
	}
	select {
	case <-b.done:
	default:
		t.Fatal("connection b not closed")
	}
	assert.Equal(t, 0, m.Count())
}

func TestShutdown_SuppressesDisconnectBroadcasts(t *testing.T) {
	m, _, _ := newTestManager(t)

	a := addConn(m, "a")
	recvEnvelope(t, a)

	m.Shutdown()
	require.Equal(t, protocol.TypeServerShutdown, recvEnvelope(t, a).Type)

	// read pump teardown after shutdown must not announce anything
	m.Unregister(a)
	assertNoEnvelope(t, a)
}
