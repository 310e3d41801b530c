package repository

import (
	"context"
	"errors"
	"time"

	"village_backend/internal/domain"
	"village_backend/internal/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PaymentRepository struct {
	db *pgxpool.Pool
}

func NewPaymentRepository(db *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// CreatePayment stores a verified payment; the tx hash primary key rejects reuse.
func (r *PaymentRepository) CreatePayment(ctx context.Context, p domain.Payment) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO payments (tx_hash, player_id, amount_nano, status, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		p.TxHash, p.PlayerID, p.AmountNano, string(p.Status), p.CreatedAt,
	)
	if isUniqueViolation(err) {
		return storage.ErrAlreadyExists
	}
	return err
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var (
		p      domain.Payment
		status string
	)
	if err := row.Scan(&p.TxHash, &p.PlayerID, &p.AmountNano, &status, &p.CreatedAt, &p.AppliedAt); err != nil {
		return nil, err
	}
	p.Status = domain.PaymentStatus(status)
	return &p, nil
}

func (r *PaymentRepository) GetPayment(ctx context.Context, txHash string) (*domain.Payment, error) {
	p, err := scanPayment(r.db.QueryRow(ctx,
		`SELECT tx_hash, player_id, amount_nano, status, created_at, applied_at
		 FROM payments WHERE tx_hash = $1`, txHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return p, err
}

func (r *PaymentRepository) MarkPaymentApplied(ctx context.Context, txHash string, now time.Time) error {
	result, err := r.db.Exec(ctx,
		`UPDATE payments SET status = $1, applied_at = $2 WHERE tx_hash = $3 AND status = $4`,
		string(domain.PaymentApplied), now, txHash, string(domain.PaymentPending),
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return storage.ErrConflict
	}
	return nil
}

func (r *PaymentRepository) ListPendingPayments(ctx context.Context, olderThan time.Time, limit int) ([]domain.Payment, error) {
	rows, err := r.db.Query(ctx,
		`SELECT tx_hash, player_id, amount_nano, status, created_at, applied_at
		 FROM payments
		 WHERE status = $1 AND created_at < $2
		 ORDER BY created_at
		 LIMIT $3`,
		string(domain.PaymentPending), olderThan, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
