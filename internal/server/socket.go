package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/opencove/cove/internal/realtime"
	"go.uber.org/zap"
)

const (
	socketWriteWait      = 10 * time.Second
	socketPongWait       = 60 * time.Second
	socketPingPeriod     = (socketPongWait * 9) / 10
	socketMaxInboundSize = 512
)

var socketUpgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// handleSocket upgrades the connection, validates the bearer token carried
// in the token query parameter and binds the session. The transport cannot
// carry custom headers at upgrade time, so the query parameter is the wire
// contract. Any handshake failure closes the connection without a close
// frame; unauthenticated sessions never reach the registry.
func (h *httpHandler) handleSocket(c *gin.Context) {
	conn, err := socketUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("socket upgrade failed", zap.Error(err))
		return
	}

	claims, err := h.tokens.ValidateToken(c.Query("token"))
	if err != nil {
		h.logger.Debug("socket handshake rejected", zap.Error(err))
		conn.Close()
		return
	}

	session := h.registry.Register(claims.UserID)
	defer h.registry.Unregister(claims.UserID, session)

	h.logger.Debug("socket session opened", zap.Int64("user_id", claims.UserID))

	done := make(chan struct{})
	go h.writePump(conn, session, done)

	h.readLoop(conn)
	close(done)
	conn.Close()

	h.logger.Debug("socket session closed", zap.Int64("user_id", claims.UserID))
}

// readLoop consumes the connection until it errors out. The channel is
// push-only; inbound payloads are drained and discarded, the loop exists to
// observe pongs and the peer closing.
func (h *httpHandler) readLoop(conn *websocket.Conn) {
	conn.SetReadLimit(socketMaxInboundSize)
	_ = conn.SetReadDeadline(time.Now().Add(socketPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(socketPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump serializes session events onto the wire, one self-contained
// frame per event, and keeps the connection alive with pings. A write
// failure tears the connection down, which unblocks the read loop.
func (h *httpHandler) writePump(conn *websocket.Conn, session *realtime.Session, done <-chan struct{}) {
	ticker := time.NewTicker(socketPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event := <-session.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			if err := conn.WriteJSON(event); err != nil {
				conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		case <-done:
			return
		}
	}
}
