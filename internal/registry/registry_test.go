package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizmatters/agent-builder/site-orchestrator/internal/events"
)

// MockConn implements Conn and records delivered envelopes
type MockConn struct {
	mu       sync.Mutex
	written  []interface{}
	writeErr error
	pingErr  error
	pings    int
	closed   int
}

func (m *MockConn) WriteJSON(v interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.written = append(m.written, v)
	return nil
}

func (m *MockConn) Ping() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pings++
	return m.pingErr
}

func (m *MockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

func (m *MockConn) writtenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.written)
}

func TestRegisterAssignsUniqueIDs(t *testing.T) {
	r := New()

	id1 := r.Register(&MockConn{})
	id2 := r.Register(&MockConn{})

	assert.NotEmpty(t, id1)
	assert.NotEmpty(t, id2)
	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 2, r.ConnectionCount())
}

func TestJoinMovesConnectionBetweenRooms(t *testing.T) {
	r := New()
	id := r.Register(&MockConn{})

	require.True(t, r.Join(id, "project-a"))
	assert.Equal(t, 1, r.RoomSize("project-a"))

	// A connection observes at most one project at a time
	require.True(t, r.Join(id, "project-b"))
	assert.Equal(t, 0, r.RoomSize("project-a"))
	assert.Equal(t, 1, r.RoomSize("project-b"))

	room, ok := r.CurrentRoom(id)
	require.True(t, ok)
	assert.Equal(t, "project-b", room)

	// The abandoned room is reaped entirely
	assert.Equal(t, 1, r.RoomCount())
}

func TestJoinIsIdempotent(t *testing.T) {
	r := New()
	id := r.Register(&MockConn{})

	require.True(t, r.Join(id, "project-a"))
	require.True(t, r.Join(id, "project-a"))
	assert.Equal(t, 1, r.RoomSize("project-a"))
}

func TestJoinUnknownConnection(t *testing.T) {
	r := New()
	assert.False(t, r.Join("no-such-connection", "project-a"))
}

func TestLeaveReapsEmptyRoom(t *testing.T) {
	r := New()
	id := r.Register(&MockConn{})
	require.True(t, r.Join(id, "project-a"))

	r.Leave(id, "project-a")

	assert.Equal(t, 0, r.RoomCount())
	_, ok := r.CurrentRoom(id)
	assert.False(t, ok)

	// Leaving again is a no-op
	r.Leave(id, "project-a")
}

func TestSendTo(t *testing.T) {
	r := New()
	conn := &MockConn{}
	id := r.Register(conn)

	env, err := events.NewEnvelope(events.TypeConnected, events.ConnectedPayload{ConnectionID: id})
	require.NoError(t, err)

	assert.True(t, r.SendTo(id, env))
	assert.Equal(t, 1, conn.writtenCount())

	assert.False(t, r.SendTo("no-such-connection", env))
}

func TestBroadcastToProjectCountsDeliveries(t *testing.T) {
	r := New()
	member1 := &MockConn{}
	member2 := &MockConn{}
	outsider := &MockConn{}

	id1 := r.Register(member1)
	id2 := r.Register(member2)
	r.Register(outsider)

	require.True(t, r.Join(id1, "project-a"))
	require.True(t, r.Join(id2, "project-a"))

	env, err := events.NewEnvelope(events.TypeProgress, events.ProgressPayload{ProjectID: "project-a"})
	require.NoError(t, err)

	delivered := r.BroadcastToProject("project-a", env)

	assert.Equal(t, 2, delivered)
	assert.Equal(t, 1, member1.writtenCount())
	assert.Equal(t, 1, member2.writtenCount())
	assert.Equal(t, 0, outsider.writtenCount())
}

func TestBroadcastToProjectSkipsFailedWrites(t *testing.T) {
	r := New()
	healthy := &MockConn{}
	broken := &MockConn{writeErr: assert.AnError}

	id1 := r.Register(healthy)
	id2 := r.Register(broken)
	require.True(t, r.Join(id1, "project-a"))
	require.True(t, r.Join(id2, "project-a"))

	env, err := events.NewEnvelope(events.TypeProgress, events.ProgressPayload{ProjectID: "project-a"})
	require.NoError(t, err)

	assert.Equal(t, 1, r.BroadcastToProject("project-a", env))

	// The failed member is not removed by the broadcast path
	assert.Equal(t, 2, r.RoomSize("project-a"))
}

func TestBroadcastToAll(t *testing.T) {
	r := New()
	a := &MockConn{}
	b := &MockConn{}
	r.Register(a)
	r.Register(b)

	env, err := events.NewEnvelope(events.TypeProgress, events.ProgressPayload{ProjectID: "project-a"})
	require.NoError(t, err)

	assert.Equal(t, 2, r.BroadcastToAll(env))
}

func TestDisconnectIsIdempotent(t *testing.T) {
	r := New()
	conn := &MockConn{}
	id := r.Register(conn)
	require.True(t, r.Join(id, "project-a"))

	r.Disconnect(id)
	r.Disconnect(id)

	assert.Equal(t, 0, r.ConnectionCount())
	assert.Equal(t, 0, r.RoomCount())
	assert.Equal(t, 1, conn.closed)
}

func TestSweepProbesThenReaps(t *testing.T) {
	r := New()
	silent := &MockConn{}
	responsive := &MockConn{}

	silentID := r.Register(silent)
	responsiveID := r.Register(responsive)

	// First sweep marks both unconfirmed and probes them
	r.Sweep(context.Background())
	assert.Equal(t, 2, r.ConnectionCount())
	assert.Equal(t, 1, silent.pings)
	assert.Equal(t, 1, responsive.pings)

	// Only one connection acknowledges before the next sweep
	r.ConfirmAlive(responsiveID)

	r.Sweep(context.Background())
	assert.Equal(t, 1, r.ConnectionCount())
	assert.Equal(t, 1, silent.closed)
	assert.Equal(t, 0, responsive.closed)

	// The reaped connection no longer accepts sends
	env, err := events.NewEnvelope(events.TypeConnected, events.ConnectedPayload{ConnectionID: silentID})
	require.NoError(t, err)
	assert.False(t, r.SendTo(silentID, env))
}
