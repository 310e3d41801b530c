package repository

import (
	"context"
	"encoding/json"

	"village_backend/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditRepository handles audit event database operations
type AuditRepository struct {
	db *pgxpool.Pool
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{db: db}
}

// AppendAudit inserts a new audit event
func (r *AuditRepository) AppendAudit(ctx context.Context, e *domain.AuditEvent) error {
	detailsJSON, err := json.Marshal(e.Details)
	if err != nil || e.Details == nil {
		detailsJSON = []byte("{}")
	}

	return r.db.QueryRow(ctx, `
		INSERT INTO audit_events (player_id, action, category, details)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, e.PlayerID, e.Action, e.Category, detailsJSON).Scan(&e.ID, &e.CreatedAt)
}

// ListAudit returns audit events for a player, newest first
func (r *AuditRepository) ListAudit(ctx context.Context, playerID string, limit int) ([]domain.AuditEvent, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, player_id, action, category, details, created_at
		FROM audit_events
		WHERE player_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, playerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAuditEvents(rows)
}

func scanAuditEvents(rows pgx.Rows) ([]domain.AuditEvent, error) {
	var events []domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		var detailsJSON []byte
		if err := rows.Scan(&e.ID, &e.PlayerID, &e.Action, &e.Category, &detailsJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(detailsJSON, &e.Details); err != nil {
			e.Details = make(map[string]interface{})
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
