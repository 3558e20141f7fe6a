package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/padeltrack/syncserver/internal/protocol"
)

func TestLivenessMonitor_Heartbeat(t *testing.T) {
	m, store, clock := newTestManager(t)

	a := addConn(m, "a")
	b := addConn(m, "b")
	recvEnvelope(t, a) // state_sync
	recvEnvelope(t, a) // device_connected
	recvEnvelope(t, b) // state_sync

	monitor := NewLivenessMonitor(m, store, clock, 30*time.Second, 60*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go monitor.Run(ctx)

	// wait for both tickers to be armed before advancing
	clock.BlockUntil(2)
	clock.Advance(30 * time.Second)

	envA := recvEnvelope(t, a)
	require.Equal(t, protocol.TypeHeartbeat, envA.Type)
	assert.Equal(t, clock.Now().UnixMilli(), envA.Timestamp)
	assert.Equal(t, 2, deviceCount(t, envA))

	envB := recvEnvelope(t, b)
	require.Equal(t, protocol.TypeHeartbeat, envB.Type)
	assert.Equal(t, 2, deviceCount(t, envB))
}

func TestLivenessMonitor_HeartbeatTracksCount(t *testing.T) {
	m, store, clock := newTestManager(t)

	a := addConn(m, "a")
	b := addConn(m, "b")
	recvEnvelope(t, a)
	recvEnvelope(t, a)
	recvEnvelope(t, b)

	monitor := NewLivenessMonitor(m, store, clock, 30*time.Second, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go monitor.Run(ctx)

	clock.BlockUntil(2)

	m.Unregister(b)
	recvEnvelope(t, a) // device_disconnected

	clock.Advance(30 * time.Second)

	env := recvEnvelope(t, a)
	require.Equal(t, protocol.TypeHeartbeat, env.Type)
	assert.Equal(t, 1, deviceCount(t, env))
}

func TestLivenessMonitor_StopsOnCancel(t *testing.T) {
	m, store, clock := newTestManager(t)

	a := addConn(m, "a")
	recvEnvelope(t, a)

	monitor := NewLivenessMonitor(m, store, clock, 30*time.Second, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	go monitor.Run(ctx)

	clock.BlockUntil(2)
	cancel()

	// give the monitor a moment to wind down, then fire the interval
	time.Sleep(20 * time.Millisecond)
	clock.Advance(30 * time.Second)

	assertNoEnvelope(t, a)
}
