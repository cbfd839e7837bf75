package handlers

import (
	"context"
	"net/http"
	"time"

	"triviaapp/internal/middleware"
	"triviaapp/internal/notifications"
	"triviaapp/internal/observability"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer
	writeWait = 10 * time.Second
	// pongWait is the time allowed to read the next pong from the peer
	pongWait = 30 * time.Second
	// pingPeriod must be less than pongWait
	pingPeriod = (pongWait * 9) / 10
)

// WSHandler streams job events to the session user over a websocket
type WSHandler struct {
	hub      *notifications.Hub
	upgrader websocket.Upgrader
	logger   *observability.Logger
}

// NewWSHandler creates a websocket handler. Origin checking is delegated to
// the CORS layer; the session cookie is what authenticates the upgrade.
func NewWSHandler(hub *notifications.Hub, logger *observability.Logger) *WSHandler {
	return &WSHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Stream upgrades the connection and pushes the user's job events until the
// peer disconnects or stops answering pings.
func (h *WSHandler) Stream(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		StandardizeHTTPError(c, http.StatusUnauthorized, "Authentication required", "")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn(c.Request.Context(), "WebSocket upgrade failed", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
		return
	}

	sub := h.hub.Subscribe(userID)
	if sub == nil {
		_ = conn.Close()
		return
	}

	h.logger.Info(c.Request.Context(), "WebSocket subscriber connected", map[string]interface{}{
		"user_id": userID,
	})

	go h.writePump(conn, sub, userID)
	h.readPump(conn, sub, userID)
}

// readPump consumes and discards client frames. Its real job is running the
// pong handler and noticing when the peer goes away.
func (h *WSHandler) readPump(conn *websocket.Conn, sub *notifications.Subscriber, userID int) {
	defer func() {
		h.hub.Unsubscribe(sub)
		_ = conn.Close()
	}()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump forwards hub events and keeps the heartbeat going
func (h *WSHandler) writePump(conn *websocket.Conn, sub *notifications.Subscriber, userID int) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case event, ok := <-sub.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Debug(context.Background(), "WebSocket write failed", map[string]interface{}{
					"user_id": userID,
					"error":   err.Error(),
				})
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
