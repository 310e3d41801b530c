package http

import (
	"time"

	"village_backend/internal/http/handlers"
	"village_backend/internal/http/middleware"
	"village_backend/internal/service"

	"github.com/gin-gonic/gin"
)

// Limits configures the fixed-window rate limiters
type Limits struct {
	IPRequests     int
	IPWindow       time.Duration
	ActionRequests int
	ActionWindow   time.Duration
}

func RegisterRoutes(r *gin.Engine, h *handlers.Handler, health *handlers.HealthHandler, tokens *service.TokenIssuer, limits Limits) {
	// Health checks (no rate limiting)
	r.GET("/health", health.Health)
	r.GET("/healthz", health.Liveness)
	r.GET("/readyz", health.Readiness)

	v1 := r.Group("/api/v1")
	v1.Use(middleware.RedisRateLimit("ip", limits.IPRequests, limits.IPWindow, middleware.ByIP))

	v1.POST("/auth", h.Auth)

	// per-player limit on top of the per-IP one
	actionRL := middleware.RedisRateLimit("action", limits.ActionRequests, limits.ActionWindow, middleware.ByPlayer)
	v1.POST("/action", middleware.JWT(tokens), actionRL, h.Action)

	// websocket clients pass the token as ?token=
	r.GET("/ws/worldboss", middleware.RedisRateLimit("ws", limits.IPRequests, limits.IPWindow, middleware.ByIP), h.WorldBossFeed)
}
