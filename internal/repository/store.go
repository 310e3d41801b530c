package repository

import (
	"context"

	"village_backend/internal/storage"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the Postgres implementation of storage.Store
type Store struct {
	*ProfileRepository
	*CounterRepository
	*WorldBossRepository
	*SagaRepository
	*PaymentRepository
	*AuditRepository

	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		ProfileRepository:   NewProfileRepository(pool),
		CounterRepository:   NewCounterRepository(pool),
		WorldBossRepository: NewWorldBossRepository(pool),
		SagaRepository:      NewSagaRepository(pool),
		PaymentRepository:   NewPaymentRepository(pool),
		AuditRepository:     NewAuditRepository(pool),
		pool:                pool,
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
