// Package storage defines the persistence contracts shared by the Postgres and SQLite backends.
//
// Every mutable row carries a version token. Writers read the row, recompute, and
// write back with a conditional update on the version they read; a lost race
// surfaces as ErrConflict and is retried by the service layer.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"village_backend/internal/domain"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("version conflict")
	ErrInvalidVersion = errors.New("invalid version")
	ErrAlreadyExists  = errors.New("already exists")

	// ErrStaleVersion is a conflict detected before the conditional write:
	// another writer committed after the caller's read.
	ErrStaleVersion = fmt.Errorf("stale version: %w", ErrConflict)
)

// MaxVersionSkew bounds how far in the future a client-supplied version may lie
const MaxVersionSkew = 5 * time.Minute

// CheckVersion validates a client-supplied expected version against the stored one
func CheckVersion(expected, stored int64, now time.Time) error {
	if expected > now.Add(MaxVersionSkew).UnixMilli() {
		return ErrInvalidVersion
	}
	if expected < stored {
		return ErrStaleVersion
	}
	if expected > stored {
		return ErrInvalidVersion
	}
	return nil
}

// NextVersion returns the version issued for a write that replaces expected
func NextVersion(expected int64, now time.Time) int64 {
	ms := now.UnixMilli()
	if ms > expected {
		return ms
	}
	return expected + 1
}

// ProfileStore is the versioned per-player record store
type ProfileStore interface {
	LoadProfile(ctx context.Context, playerID string) (*domain.Profile, error)
	// SaveProfile writes state if the stored version equals expectedVersion.
	// expectedVersion == 0 inserts a new profile.
	SaveProfile(ctx context.Context, playerID string, state domain.PlayerState, expectedVersion int64, now time.Time) (int64, error)
}

// CounterStore persists daily-reset ticket counters
type CounterStore interface {
	LoadCounter(ctx context.Context, playerID string, pool domain.Pool) (*domain.TicketCounter, error)
	// SaveCounter writes c if the stored version equals expectedVersion; 0 inserts.
	SaveCounter(ctx context.Context, c domain.TicketCounter, expectedVersion int64, now time.Time) (int64, error)
}

// WorldBossStore persists the cycle singleton and the per-cycle participant rows
type WorldBossStore interface {
	LoadCycle(ctx context.Context) (*domain.WorldBossCycle, error)
	// SaveCycle replaces the singleton if its CycleStart equals expectedStart.
	// A zero expectedStart inserts it.
	SaveCycle(ctx context.Context, c domain.WorldBossCycle, expectedStart time.Time) error

	LoadParticipant(ctx context.Context, playerID string, cycleStart time.Time) (*domain.WorldBossParticipant, error)
	SaveParticipant(ctx context.Context, p domain.WorldBossParticipant, expectedVersion int64, now time.Time) (int64, error)
	TotalJoinedDamage(ctx context.Context, cycleStart time.Time) (int64, error)
	TopParticipants(ctx context.Context, cycleStart time.Time, limit int) ([]domain.WorldBossParticipant, error)
}

// SagaStore journals two-row operations
type SagaStore interface {
	CreateSaga(ctx context.Context, rec domain.SagaRecord) error
	GetSaga(ctx context.Context, id string) (*domain.SagaRecord, error)
	// TransitionSaga moves a saga from one status to another; ErrConflict if it is no longer in from.
	TransitionSaga(ctx context.Context, id string, from, to domain.SagaStatus, now time.Time) error
	ListPendingSagas(ctx context.Context, olderThan time.Time, limit int) ([]domain.SagaRecord, error)
}

// PaymentStore records verified payments, unique per transaction hash
type PaymentStore interface {
	// CreatePayment returns ErrAlreadyExists when the hash was already used.
	CreatePayment(ctx context.Context, p domain.Payment) error
	GetPayment(ctx context.Context, txHash string) (*domain.Payment, error)
	MarkPaymentApplied(ctx context.Context, txHash string, now time.Time) error
	ListPendingPayments(ctx context.Context, olderThan time.Time, limit int) ([]domain.Payment, error)
}

// AuditLog is the append-only event sink
type AuditLog interface {
	AppendAudit(ctx context.Context, e *domain.AuditEvent) error
	ListAudit(ctx context.Context, playerID string, limit int) ([]domain.AuditEvent, error)
}

// Store bundles every contract one backend provides
type Store interface {
	ProfileStore
	CounterStore
	WorldBossStore
	SagaStore
	PaymentStore
	AuditLog
	Ping(ctx context.Context) error
	Close() error
}
