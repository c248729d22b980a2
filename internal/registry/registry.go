package registry

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bizmatters/agent-builder/site-orchestrator/internal/events"
)

var tracer = otel.Tracer("connection-registry")

// Conn is the transport surface the registry needs from a live connection.
// The gateway wraps *websocket.Conn behind this so the registry can be
// exercised without a network.
type Conn interface {
	WriteJSON(v interface{}) error
	Ping() error
	Close() error
}

// connection tracks one registered connection. Room membership is at most one
// project at a time.
type connection struct {
	id        string
	conn      Conn
	projectID string
	observer  string
	confirmed bool
}

// Registry owns live connections and per-project rooms. It is the sole
// mutator of room membership; all state is guarded by a single mutex and
// writes to connections happen outside the lock.
type Registry struct {
	mu     sync.Mutex
	conns  map[string]*connection
	rooms  map[string]map[string]struct{}
	tracer trace.Tracer
}

// New creates a new connection registry
func New() *Registry {
	return &Registry{
		conns:  make(map[string]*connection),
		rooms:  make(map[string]map[string]struct{}),
		tracer: tracer,
	}
}

// Register accepts a newly opened connection, assigns an id and marks it alive
func (r *Registry) Register(conn Conn) string {
	id := uuid.New().String()

	r.mu.Lock()
	r.conns[id] = &connection{
		id:        id,
		conn:      conn,
		confirmed: true,
	}
	total := len(r.conns)
	r.mu.Unlock()

	log.Printf("Connection %s registered (%d active)", id, total)
	return id
}

// SetObserver associates an observer identity with a connection
func (r *Registry) SetObserver(connectionID, observer string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[connectionID]; ok {
		c.observer = observer
	}
}

// ConfirmAlive resets a connection to confirmed after a liveness probe
func (r *Registry) ConfirmAlive(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[connectionID]; ok {
		c.confirmed = true
	}
}

// Join moves a connection into the room for projectID, removing it from any
// prior room first. Idempotent if already a member.
func (r *Registry) Join(connectionID, projectID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connectionID]
	if !ok {
		return false
	}
	if c.projectID == projectID {
		return true
	}

	if c.projectID != "" {
		r.removeFromRoomLocked(connectionID, c.projectID)
	}

	room, ok := r.rooms[projectID]
	if !ok {
		room = make(map[string]struct{})
		r.rooms[projectID] = room
	}
	room[connectionID] = struct{}{}
	c.projectID = projectID

	log.Printf("Connection %s joined project %s (%d members)", connectionID, projectID, len(room))
	return true
}

// Leave removes a connection from a project room. No-op if not a member.
func (r *Registry) Leave(connectionID, projectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connectionID]
	if !ok || c.projectID != projectID {
		return
	}
	r.removeFromRoomLocked(connectionID, projectID)
	c.projectID = ""
}

// removeFromRoomLocked deletes a membership entry and reaps the room when it
// becomes empty. Caller must hold r.mu.
func (r *Registry) removeFromRoomLocked(connectionID, projectID string) {
	room, ok := r.rooms[projectID]
	if !ok {
		return
	}
	delete(room, connectionID)
	if len(room) == 0 {
		delete(r.rooms, projectID)
		log.Printf("Project room %s is empty, removed", projectID)
	}
}

// SendTo attempts delivery to a single connection. Returns false, not an
// error, when the connection is absent or the write fails; the disconnect
// path is the sole authority on connection lifecycle.
func (r *Registry) SendTo(connectionID string, env events.Envelope) bool {
	r.mu.Lock()
	c, ok := r.conns[connectionID]
	r.mu.Unlock()
	if !ok {
		return false
	}

	if err := c.conn.WriteJSON(env); err != nil {
		log.Printf("Failed to deliver %s to connection %s: %v", env.Type, connectionID, err)
		return false
	}
	return true
}

// BroadcastToProject delivers an envelope to every member of a project room
// and returns the delivered count. Failed members are not removed here to
// avoid racing with in-flight joins.
func (r *Registry) BroadcastToProject(projectID string, env events.Envelope) int {
	r.mu.Lock()
	members := make([]*connection, 0, len(r.rooms[projectID]))
	for id := range r.rooms[projectID] {
		if c, ok := r.conns[id]; ok {
			members = append(members, c)
		}
	}
	r.mu.Unlock()

	delivered := 0
	for _, c := range members {
		if err := c.conn.WriteJSON(env); err != nil {
			log.Printf("Failed to deliver %s to connection %s in project %s: %v", env.Type, c.id, projectID, err)
			continue
		}
		delivered++
	}
	return delivered
}

// BroadcastToAll delivers an envelope to every registered connection. Used
// only as a best-effort fallback when room membership may not yet reflect a
// just-joined observer.
func (r *Registry) BroadcastToAll(env events.Envelope) int {
	r.mu.Lock()
	all := make([]*connection, 0, len(r.conns))
	for _, c := range r.conns {
		all = append(all, c)
	}
	r.mu.Unlock()

	delivered := 0
	for _, c := range all {
		if err := c.conn.WriteJSON(env); err != nil {
			continue
		}
		delivered++
	}
	return delivered
}

// Disconnect is the single idempotent cleanup path for transport close,
// transport error and liveness timeout. Safe to invoke twice for the same id.
func (r *Registry) Disconnect(connectionID string) {
	r.mu.Lock()
	c, ok := r.conns[connectionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if c.projectID != "" {
		r.removeFromRoomLocked(connectionID, c.projectID)
	}
	delete(r.conns, connectionID)
	total := len(r.conns)
	r.mu.Unlock()

	c.conn.Close()
	log.Printf("Connection %s disconnected (%d active)", connectionID, total)
}

// Sweep runs one liveness pass: connections still unconfirmed from the
// previous pass are terminated, everything else is marked unconfirmed and
// probed. A received acknowledgment resets a connection via ConfirmAlive.
func (r *Registry) Sweep(ctx context.Context) {
	_, span := r.tracer.Start(ctx, "registry.liveness_sweep")
	defer span.End()

	r.mu.Lock()
	var dead []string
	var probe []*connection
	for id, c := range r.conns {
		if !c.confirmed {
			dead = append(dead, id)
			continue
		}
		c.confirmed = false
		probe = append(probe, c)
	}
	r.mu.Unlock()

	span.SetAttributes(
		attribute.Int("connections.probed", len(probe)),
		attribute.Int("connections.reaped", len(dead)),
	)

	for _, id := range dead {
		log.Printf("Connection %s failed liveness check, terminating", id)
		r.Disconnect(id)
	}
	for _, c := range probe {
		if err := c.conn.Ping(); err != nil {
			log.Printf("Liveness probe failed for connection %s: %v", c.id, err)
		}
	}
}

// RunLivenessLoop sweeps at a fixed interval until the context is cancelled
func (r *Registry) RunLivenessLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// ConnectionCount returns the number of registered connections
func (r *Registry) ConnectionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// RoomSize returns the member count of a project room
func (r *Registry) RoomSize(projectID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[projectID])
}

// RoomCount returns the number of live rooms
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// CurrentRoom returns the project a connection is observing, if any
func (r *Registry) CurrentRoom(connectionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[connectionID]
	if !ok || c.projectID == "" {
		return "", false
	}
	return c.projectID, true
}
