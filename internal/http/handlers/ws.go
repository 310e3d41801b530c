package handlers

import (
	"context"
	"net/http"
	"time"

	"village_backend/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	feedWriteWait = 5 * time.Second
	feedPongWait  = 60 * time.Second
)

// WorldBossFeed upgrades to a read-only websocket that pushes the boss snapshot
// every FeedInterval. Each connection polls the store on its own.
func (h *Handler) WorldBossFeed(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "token required"})
		return
	}
	playerID, err := h.Tokens.Parse(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "unauthorized"})
		return
	}

	allowedOrigin := h.cfg.AllowedOrigin
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if allowedOrigin == "" {
				return true
			}
			return r.Header.Get("Origin") == allowedOrigin
		},
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("ws upgrade failed", "player_id", playerID, "error", err)
		return
	}

	go h.serveFeed(conn, playerID)
}

func (h *Handler) serveFeed(conn *websocket.Conn, playerID string) {
	defer conn.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// the client never sends data; reading only surfaces close frames and pongs
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.cfg.FeedInterval)
	defer ticker.Stop()

	for {
		if err := h.pushSnapshot(ctx, conn, playerID); err != nil {
			logger.Debug("worldboss feed closed", "player_id", playerID, "error", err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *Handler) pushSnapshot(ctx context.Context, conn *websocket.Conn, playerID string) error {
	snap, err := h.WorldBoss.Snapshot(ctx, playerID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// keep the connection; the next tick may succeed
		logger.Warn("worldboss snapshot failed", "player_id", playerID, "error", err)
		return nil
	}
	if err := conn.SetWriteDeadline(time.Now().Add(feedWriteWait)); err != nil {
		return err
	}
	if err := conn.WriteJSON(gin.H{"type": "worldboss", "snapshot": snap}); err != nil {
		return err
	}
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(feedWriteWait))
}
