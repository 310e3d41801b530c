package handlers

import (
	"time"

	"village_backend/internal/service"
)

// Services groups the collaborators the handlers call into
type Services struct {
	Profiles  *service.ProfileService
	Counters  *service.CounterService
	Economy   *service.EconomyService
	Villages  *service.VillageService
	WorldBoss *service.WorldBossService
	Payments  *service.PaymentService
	Audit     *service.AuditService
	Tokens    *service.TokenIssuer
}

// HandlerConfig holds request-facing settings
type HandlerConfig struct {
	BotToken       string
	InitDataMaxAge time.Duration
	AllowedOrigin  string
	FeedInterval   time.Duration
}

type Handler struct {
	Services
	cfg HandlerConfig
	now func() time.Time
}

func NewHandler(s Services, cfg HandlerConfig) *Handler {
	if cfg.FeedInterval <= 0 {
		cfg.FeedInterval = 3 * time.Second
	}
	return &Handler{Services: s, cfg: cfg, now: time.Now}
}
