package gateway

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bizmatters/agent-builder/site-orchestrator/internal/events"
	"github.com/bizmatters/agent-builder/site-orchestrator/internal/metrics"
	"github.com/bizmatters/agent-builder/site-orchestrator/internal/registry"
	"github.com/bizmatters/agent-builder/site-orchestrator/internal/router"
)

var wsTracer = otel.Tracer("websocket-gateway")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Implement proper origin checking for production
		return true
	},
}

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 512 * 1024
)

// SocketServer upgrades observer connections, registers them with the
// connection registry, and pumps inbound frames into the message router.
type SocketServer struct {
	registry *registry.Registry
	router   *router.Router
	metrics  *metrics.GenerationMetrics
	tracer   trace.Tracer
}

// NewSocketServer creates a new WebSocket gateway
func NewSocketServer(reg *registry.Registry, rt *router.Router, gm *metrics.GenerationMetrics) *SocketServer {
	return &SocketServer{
		registry: reg,
		router:   rt,
		metrics:  gm,
		tracer:   wsTracer,
	}
}

// wsConn adapts a gorilla connection to the registry's Conn interface.
// gorilla permits one concurrent writer only, so every write goes through
// the mutex: broadcast writes, error replies and liveness pings alike.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsConn) WriteJSON(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteJSON(v)
}

func (w *wsConn) Ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (w *wsConn) Close() error {
	return w.conn.Close()
}

// Serve handles GET /ws
// @Summary Open an observer WebSocket connection
// @Description Upgrades to WebSocket; the first frame sent is a connected envelope carrying the assigned connection id
// @Tags websocket
// @Success 101 "Switching Protocols"
// @Failure 400 {object} models.ErrorResponse
// @Router /ws [get]
func (s *SocketServer) Serve(c *gin.Context) {
	ctx, span := s.tracer.Start(c.Request.Context(), "websocket_gateway.serve")
	defer span.End()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.RecordError(err)
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}

	wc := &wsConn{conn: conn}
	connectionID := s.registry.Register(wc)
	if observer := c.Query("observer"); observer != "" {
		s.registry.SetObserver(connectionID, observer)
	}
	s.metrics.RecordConnectionOpened(ctx)

	span.SetAttributes(attribute.String("connection.id", connectionID))
	log.Printf("Observer connection %s opened from %s", connectionID, c.ClientIP())

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		s.registry.ConfirmAlive(connectionID)
		return nil
	})

	// Greeting frame: tells the client its connection id before any other
	// traffic, so it can correlate later error frames.
	if env, err := events.NewEnvelope(events.TypeConnected, events.ConnectedPayload{ConnectionID: connectionID}); err == nil {
		if werr := wc.WriteJSON(env); werr != nil {
			log.Printf("Failed to greet connection %s: %v", connectionID, werr)
		}
	}

	s.readLoop(connectionID, wc)

	s.registry.Disconnect(connectionID)
	s.metrics.RecordConnectionClosed(context.WithoutCancel(ctx))
	log.Printf("Observer connection %s closed", connectionID)
}

// readLoop pumps inbound frames until the peer goes away. Routing runs on
// the read goroutine; handlers hand long work to the pipeline and return.
func (s *SocketServer) readLoop(connectionID string, wc *wsConn) {
	for {
		_, raw, err := wc.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Connection %s read error: %v", connectionID, err)
			}
			return
		}
		s.router.HandleMessage(context.Background(), connectionID, raw)
	}
}
