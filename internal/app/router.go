package app

import (
	"net/http"

	httpServer "village_backend/internal/http"
	"village_backend/internal/http/handlers"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router builds the gin engine with CORS, metrics and the API routes
func (a *App) Router() *gin.Engine {
	cfg := a.Config
	r := gin.Default()

	// CORS for the mini app frontend served from another domain
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" && (cfg.AllowedOrigin == "" || origin == cfg.AllowedOrigin) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := handlers.NewHandler(handlers.Services{
		Profiles:  a.Profiles,
		Counters:  a.Counters,
		Economy:   a.Economy,
		Villages:  a.Villages,
		WorldBoss: a.WorldBoss,
		Payments:  a.Payments,
		Audit:     a.Audit,
		Tokens:    a.Tokens,
	}, handlers.HandlerConfig{
		BotToken:       cfg.BotToken,
		InitDataMaxAge: cfg.InitDataMaxAge,
		AllowedOrigin:  cfg.AllowedOrigin,
		FeedInterval:   cfg.WorldBoss.FeedInterval,
	})
	health := handlers.NewHealthHandler(a.Store, cfg.AppVersion)

	httpServer.RegisterRoutes(r, h, health, a.Tokens, httpServer.Limits{
		IPRequests:     cfg.IPRateLimit,
		IPWindow:       cfg.IPRateWindow,
		ActionRequests: cfg.ActionRateLimit,
		ActionWindow:   cfg.ActionRateWindow,
	})
	return r
}
