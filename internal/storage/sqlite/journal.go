package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"village_backend/internal/domain"
	"village_backend/internal/storage"
)

// CreateSaga journals a new saga.
func (s *Store) CreateSaga(ctx context.Context, rec domain.SagaRecord) error {
	payload := string(rec.Payload)
	if payload == "" {
		payload = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sagas (id, player_id, kind, status, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.PlayerID, rec.Kind, string(rec.Status), payload, toMillis(rec.CreatedAt), toMillis(rec.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("insert saga: %w", err)
	}
	return nil
}

func scanSaga(row rowScanner) (*domain.SagaRecord, error) {
	var (
		rec                  domain.SagaRecord
		status, payload      string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&rec.ID, &rec.PlayerID, &rec.Kind, &status, &payload, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	rec.Status = domain.SagaStatus(status)
	rec.Payload = json.RawMessage(payload)
	rec.CreatedAt = fromMillis(createdAt)
	rec.UpdatedAt = fromMillis(updatedAt)
	return &rec, nil
}

// GetSaga returns a saga or storage.ErrNotFound.
func (s *Store) GetSaga(ctx context.Context, id string) (*domain.SagaRecord, error) {
	rec, err := scanSaga(s.db.QueryRowContext(ctx, `
		SELECT id, player_id, kind, status, payload, created_at, updated_at
		FROM sagas WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get saga: %w", err)
	}
	return rec, nil
}

// TransitionSaga moves a saga between statuses; storage.ErrConflict if it is no longer in from.
func (s *Store) TransitionSaga(ctx context.Context, id string, from, to domain.SagaStatus, now time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sagas SET status = ?, updated_at = ? WHERE id = ? AND status = ?
	`, string(to), toMillis(now), id, string(from))
	if err != nil {
		return fmt.Errorf("transition saga: %w", err)
	}
	return requireOneRow(result)
}

// ListPendingSagas returns pending sagas last touched before olderThan, oldest first.
func (s *Store) ListPendingSagas(ctx context.Context, olderThan time.Time, limit int) ([]domain.SagaRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, player_id, kind, status, payload, created_at, updated_at
		FROM sagas WHERE status = ? AND updated_at < ?
		ORDER BY updated_at LIMIT ?
	`, string(domain.SagaPending), toMillis(olderThan), limit)
	if err != nil {
		return nil, fmt.Errorf("list sagas: %w", err)
	}
	defer rows.Close()

	var out []domain.SagaRecord
	for rows.Next() {
		rec, err := scanSaga(rows)
		if err != nil {
			return nil, fmt.Errorf("scan saga: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// CreatePayment records a verified payment; storage.ErrAlreadyExists on a reused hash.
func (s *Store) CreatePayment(ctx context.Context, p domain.Payment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (tx_hash, player_id, amount_nano, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, p.TxHash, p.PlayerID, p.AmountNano, string(p.Status), toMillis(p.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var (
		p         domain.Payment
		status    string
		createdAt int64
		appliedAt sql.NullInt64
	)
	if err := row.Scan(&p.TxHash, &p.PlayerID, &p.AmountNano, &status, &createdAt, &appliedAt); err != nil {
		return nil, err
	}
	p.Status = domain.PaymentStatus(status)
	p.CreatedAt = fromMillis(createdAt)
	if appliedAt.Valid {
		t := fromMillis(appliedAt.Int64)
		p.AppliedAt = &t
	}
	return &p, nil
}

// GetPayment returns a payment or storage.ErrNotFound.
func (s *Store) GetPayment(ctx context.Context, txHash string) (*domain.Payment, error) {
	p, err := scanPayment(s.db.QueryRowContext(ctx, `
		SELECT tx_hash, player_id, amount_nano, status, created_at, applied_at
		FROM payments WHERE tx_hash = ?`, txHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

// MarkPaymentApplied flips a pending payment to applied; storage.ErrConflict if already applied.
func (s *Store) MarkPaymentApplied(ctx context.Context, txHash string, now time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE payments SET status = ?, applied_at = ? WHERE tx_hash = ? AND status = ?
	`, string(domain.PaymentApplied), toMillis(now), txHash, string(domain.PaymentPending))
	if err != nil {
		return fmt.Errorf("mark payment applied: %w", err)
	}
	return requireOneRow(result)
}

// ListPendingPayments returns payments still pending that were created before olderThan.
func (s *Store) ListPendingPayments(ctx context.Context, olderThan time.Time, limit int) ([]domain.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tx_hash, player_id, amount_nano, status, created_at, applied_at
		FROM payments WHERE status = ? AND created_at < ?
		ORDER BY created_at LIMIT ?
	`, string(domain.PaymentPending), toMillis(olderThan), limit)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var out []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// AppendAudit inserts an audit event.
func (s *Store) AppendAudit(ctx context.Context, e *domain.AuditEvent) error {
	details, err := json.Marshal(e.Details)
	if err != nil || e.Details == nil {
		details = []byte("{}")
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (player_id, action, category, details, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, e.PlayerID, e.Action, e.Category, string(details), toMillis(createdAt))
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

// ListAudit returns the most recent audit events for a player, newest first.
func (s *Store) ListAudit(ctx context.Context, playerID string, limit int) ([]domain.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, player_id, action, category, details, created_at
		FROM audit_events WHERE player_id = ?
		ORDER BY id DESC LIMIT ?
	`, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEvent
	for rows.Next() {
		var (
			e         domain.AuditEvent
			details   string
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.PlayerID, &e.Action, &e.Category, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
			e.Details = map[string]interface{}{}
		}
		e.CreatedAt = fromMillis(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
