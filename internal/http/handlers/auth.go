package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"village_backend/internal/logger"
	"village_backend/internal/telegram"

	"github.com/gin-gonic/gin"
)

type AuthRequest struct {
	InitData string `json:"init_data" binding:"required"`
}

// Auth exchanges signed Telegram WebApp init data for a bearer token
func (h *Handler) Auth(c *gin.Context) {
	var req AuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": codeBadRequest})
		return
	}

	user, err := telegram.ValidateInitData(req.InitData, h.cfg.BotToken, h.cfg.InitDataMaxAge, h.now())
	if err != nil {
		logger.Warn("init data rejected", "ip", c.ClientIP(), "error", err)
		msg := "invalid init data"
		if errors.Is(err, telegram.ErrExpired) {
			msg = "init data expired"
		}
		c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "unauthorized", "message": msg})
		return
	}

	playerID := strconv.FormatInt(user.ID, 10)
	token, err := h.Tokens.Issue(playerID)
	if err != nil {
		logger.Error("token generation failed", "player_id", playerID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": codeInternal})
		return
	}
	h.Audit.LogLogin(c.Request.Context(), playerID, c.ClientIP(), c.Request.UserAgent())

	c.JSON(http.StatusOK, gin.H{
		"ok":        true,
		"token":     token,
		"player_id": playerID,
		"user": gin.H{
			"id":         user.ID,
			"username":   user.Username,
			"first_name": user.FirstName,
			"name":       user.DisplayName(),
		},
	})
}
