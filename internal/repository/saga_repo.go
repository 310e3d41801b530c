package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"village_backend/internal/domain"
	"village_backend/internal/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SagaRepository struct {
	db *pgxpool.Pool
}

func NewSagaRepository(db *pgxpool.Pool) *SagaRepository {
	return &SagaRepository{db: db}
}

func (r *SagaRepository) CreateSaga(ctx context.Context, rec domain.SagaRecord) error {
	payload := []byte(rec.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO sagas (id, player_id, kind, status, payload, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.PlayerID, rec.Kind, string(rec.Status), payload, rec.CreatedAt, rec.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return storage.ErrAlreadyExists
	}
	return err
}

func scanSaga(row pgx.Row) (*domain.SagaRecord, error) {
	var (
		rec     domain.SagaRecord
		status  string
		payload []byte
	)
	if err := row.Scan(&rec.ID, &rec.PlayerID, &rec.Kind, &status, &payload, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Status = domain.SagaStatus(status)
	rec.Payload = json.RawMessage(payload)
	return &rec, nil
}

func (r *SagaRepository) GetSaga(ctx context.Context, id string) (*domain.SagaRecord, error) {
	rec, err := scanSaga(r.db.QueryRow(ctx,
		`SELECT id, player_id, kind, status, payload, created_at, updated_at
		 FROM sagas WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return rec, err
}

func (r *SagaRepository) TransitionSaga(ctx context.Context, id string, from, to domain.SagaStatus, now time.Time) error {
	result, err := r.db.Exec(ctx,
		`UPDATE sagas SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(to), now, id, string(from),
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return storage.ErrConflict
	}
	return nil
}

func (r *SagaRepository) ListPendingSagas(ctx context.Context, olderThan time.Time, limit int) ([]domain.SagaRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, player_id, kind, status, payload, created_at, updated_at
		 FROM sagas
		 WHERE status = $1 AND updated_at < $2
		 ORDER BY updated_at
		 LIMIT $3`,
		string(domain.SagaPending), olderThan, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SagaRecord
	for rows.Next() {
		rec, err := scanSaga(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}
