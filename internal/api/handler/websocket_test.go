package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/pricing_server/config"
	"github.com/qs3c/pricing_server/internal/pkg/events"
	"github.com/qs3c/pricing_server/internal/pkg/jwt"
	"github.com/qs3c/pricing_server/internal/pkg/ws"
)

const wsSecret = "test-secret-key-for-websocket"

func wsServer(t *testing.T, hub *ws.Hub) string {
	t.Helper()
	router := gin.New()
	h := NewWebSocketHandler(hub, wsSecret, config.CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}})
	router.GET("/ws", h.Handle)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func TestWebSocketHandler_Unauthorized(t *testing.T) {
	url := wsServer(t, ws.NewHub())

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url+"?token=garbage", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketHandler_RejectsOrigin(t *testing.T) {
	url := wsServer(t, ws.NewHub())
	token, err := jwt.GenerateToken(5, wsSecret, 1)
	require.NoError(t, err)

	header := http.Header{}
	header.Set("Origin", "http://evil.example.com")
	_, resp, err := websocket.DefaultDialer.Dial(url+"?token="+token, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWebSocketHandler_ReceivesOwnEvents(t *testing.T) {
	hub := ws.NewHub()
	url := wsServer(t, hub)
	token, err := jwt.GenerateToken(5, wsSecret, 1)
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?token="+token, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.IsOnline(5) }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), events.DomainEvent{
		Type: events.TypeCreated, SubscriptionID: 1, UserID: 6, Status: "active",
	}))
	require.NoError(t, hub.Publish(context.Background(), events.DomainEvent{
		Type: events.TypeRenewed, SubscriptionID: 2, UserID: 5, Status: "active",
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), events.TypeRenewed)
	assert.NotContains(t, string(data), events.TypeCreated)
}
