package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	events "github.com/aescanero/grantflow/pkg/adapters/events/memory"
	"github.com/aescanero/grantflow/pkg/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestHandler_StreamsOnlyTheWatchedThread(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)
	bus := events.NewEventBus(logger)
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := NewHandler(bus, logger)
	require.NoError(t, h.Start(ctx))

	router := gin.New()
	router.GET("/api/v1/threads/:id/ws", h.HandleThreadStream)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	const watched = "user-1::rfp-42::proposal"
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/threads/" + watched + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return h.Watchers(watched) == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, bus.Publish(ctx, domain.TopicThreadEvents, domain.Event{
		ID: "e-1", Type: domain.EventCheckpointSaved, ThreadID: "user-2::rfp-7::proposal",
	}))
	require.NoError(t, bus.Publish(ctx, domain.TopicThreadEvents, domain.Event{
		ID: "e-2", Type: domain.EventThreadInterrupted, ThreadID: watched, NodeID: "humanReview",
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got domain.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "e-2", got.ID)
	assert.Equal(t, domain.EventThreadInterrupted, got.Type)
	assert.Equal(t, "humanReview", got.NodeID)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return h.Watchers(watched) == 0 }, 2*time.Second, 5*time.Millisecond)
}
