package service

import (
	"context"

	"village_backend/internal/domain"
	"village_backend/internal/logger"
	"village_backend/internal/storage"
)

// AuditService handles audit logging
type AuditService struct {
	log storage.AuditLog
}

// NewAuditService creates a new audit service
func NewAuditService(log storage.AuditLog) *AuditService {
	return &AuditService{log: log}
}

// Log appends an audit event. Failures are logged and swallowed.
func (s *AuditService) Log(ctx context.Context, playerID, action, category string, details map[string]interface{}) {
	if s == nil || s.log == nil {
		return
	}
	e := &domain.AuditEvent{
		PlayerID: playerID,
		Action:   action,
		Category: category,
		Details:  details,
	}
	if err := s.log.AppendAudit(ctx, e); err != nil {
		logger.Error("failed to create audit log", "error", err, "action", action, "player_id", playerID)
	}
}

// LogLogin logs a successful Telegram login
func (s *AuditService) LogLogin(ctx context.Context, playerID, ip, userAgent string) {
	s.Log(ctx, playerID, domain.AuditActionLogin, domain.AuditCategoryAuth, map[string]interface{}{
		"ip":         ip,
		"user_agent": userAgent,
	})
}

// LogRejection logs a validation rejection
func (s *AuditService) LogRejection(ctx context.Context, playerID, reason, detail string) {
	s.Log(ctx, playerID, domain.AuditActionValidationRejected, domain.AuditCategoryProfile, map[string]interface{}{
		"reason": reason,
		"detail": detail,
	})
}

// PlayerEvents returns the newest events for a player
func (s *AuditService) PlayerEvents(ctx context.Context, playerID string, limit int) ([]domain.AuditEvent, error) {
	return s.log.ListAudit(ctx, playerID, limit)
}
