package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/aescanero/grantflow/pkg/domain"
	"github.com/aescanero/grantflow/pkg/ports"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	clientBuffer = 32
	writeWait    = 10 * time.Second
	pingPeriod   = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler streams thread events to WebSocket clients. It holds a single
// subscription on the thread event topic and fans events out to the clients
// watching each thread.
type Handler struct {
	eventBus ports.EventBus
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
}

type client struct {
	events chan domain.Event
}

// NewHandler creates a new WebSocket handler
func NewHandler(eventBus ports.EventBus, logger *zap.Logger) *Handler {
	return &Handler{
		eventBus: eventBus,
		logger:   logger.Named("websocket"),
		clients:  make(map[string]map[*client]struct{}),
	}
}

// Start subscribes to thread events until ctx is done
func (h *Handler) Start(ctx context.Context) error {
	return h.eventBus.Subscribe(ctx, domain.TopicThreadEvents, h.broadcast)
}

func (h *Handler) broadcast(_ context.Context, event domain.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[event.ThreadID] {
		select {
		case c.events <- event:
		default:
			h.logger.Warn("client buffer full, dropping event",
				zap.String("thread_id", event.ThreadID),
				zap.String("event_type", string(event.Type)))
		}
	}
	return nil
}

func (h *Handler) register(threadID string) *client {
	c := &client{events: make(chan domain.Event, clientBuffer)}
	h.mu.Lock()
	if h.clients[threadID] == nil {
		h.clients[threadID] = make(map[*client]struct{})
	}
	h.clients[threadID][c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Handler) unregister(threadID string, c *client) {
	h.mu.Lock()
	delete(h.clients[threadID], c)
	if len(h.clients[threadID]) == 0 {
		delete(h.clients, threadID)
	}
	h.mu.Unlock()
}

// Watchers returns the number of clients connected for a thread
func (h *Handler) Watchers(threadID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[threadID])
}

// HandleThreadStream streams the events of one thread
func (h *Handler) HandleThreadStream(c *gin.Context) {
	threadID := c.Param("id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("thread_id", threadID),
		zap.String("client", c.ClientIP()))

	cl := h.register(threadID)
	defer h.unregister(threadID, cl)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Clients only send close frames; reading detects disconnects.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case event := <-cl.events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Warn("failed to write event",
					zap.String("thread_id", threadID),
					zap.Error(err))
				return
			}
		}
	}
}
