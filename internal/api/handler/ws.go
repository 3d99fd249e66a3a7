package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"reviewbot/backend/internal/logger"
	"reviewbot/backend/internal/reviewhub"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Staff tools are served from other origins; the bearer token is the gate.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeEvents upgrades the connection and streams review events. The guild
// query parameter limits the stream to one guild.
func (h *Handler) ServeEvents(c *gin.Context) {
	if h.Hub == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Live events are not enabled"})
		return
	}
	if !h.authenticate(c, true) {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "staff_id", staffID(c), "error", err)
		return
	}

	id := staffID(c) + "/" + uuid.New().String()
	client := reviewhub.NewWebSocketClient(id, c.Query("guild"), conn, h.Hub)

	select {
	case h.Hub.RegisterCh <- client:
		client.Run()
	case <-h.Hub.Done():
		// The hub has stopped; nothing will ever read the register channel.
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
	}
}
