package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"village_backend/internal/domain"
	"village_backend/internal/logger"
	"village_backend/internal/storage"

	"github.com/google/uuid"
)

// SagaSpec describes one run of a two-row operation. Step writes the first row,
// Confirm the second, Compensate reverses the first. Each receives the saga id,
// which the writes record as their op id.
type SagaSpec struct {
	Kind       string
	PlayerID   string
	Payload    any
	Step       func(ctx context.Context, sagaID string) error
	Confirm    func(ctx context.Context, sagaID string) error
	Compensate func(ctx context.Context, sagaID string) error
}

// SagaHandler lets the sweeper inspect and reverse a journaled saga of one kind
type SagaHandler struct {
	FirstApplied  func(ctx context.Context, rec domain.SagaRecord) (bool, error)
	SecondApplied func(ctx context.Context, rec domain.SagaRecord) (bool, error)
	Compensate    func(ctx context.Context, rec domain.SagaRecord) error
}

// SweepReport counts how stale sagas were resolved
type SweepReport struct {
	Scanned     int `json:"scanned"`
	Completed   int `json:"completed"`
	Compensated int `json:"compensated"`
	Aborted     int `json:"aborted"`
	Failed      int `json:"failed"`
}

// SagaService journals cross-row operations and reconciles the ones left pending
type SagaService struct {
	store    storage.SagaStore
	audit    *AuditService
	handlers map[string]SagaHandler
	now      func() time.Time
}

func NewSagaService(store storage.SagaStore, audit *AuditService) *SagaService {
	return &SagaService{
		store:    store,
		audit:    audit,
		handlers: make(map[string]SagaHandler),
		now:      time.Now,
	}
}

// Register installs the sweep handler for kind
func (s *SagaService) Register(kind string, h SagaHandler) {
	s.handlers[kind] = h
}

// Run executes spec. A Step failure aborts. A Confirm failure triggers Compensate
// and returns the Confirm error; if compensation fails too the saga stays pending
// for the sweeper.
func (s *SagaService) Run(ctx context.Context, spec SagaSpec) (string, error) {
	payload, err := json.Marshal(spec.Payload)
	if err != nil {
		return "", fmt.Errorf("encode saga payload: %w", err)
	}

	now := s.now()
	rec := domain.SagaRecord{
		ID:        uuid.NewString(),
		PlayerID:  spec.PlayerID,
		Kind:      spec.Kind,
		Status:    domain.SagaPending,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateSaga(ctx, rec); err != nil {
		return "", fmt.Errorf("journal saga: %w", err)
	}

	if err := spec.Step(ctx, rec.ID); err != nil {
		s.finish(ctx, rec, domain.SagaAborted, "run")
		return rec.ID, err
	}

	if err := spec.Confirm(ctx, rec.ID); err != nil {
		// the request may be gone; the reversal must still land
		cctx := context.WithoutCancel(ctx)
		if cerr := spec.Compensate(cctx, rec.ID); cerr != nil {
			logger.Error("saga compensation failed, left for sweep",
				"saga_id", rec.ID, "kind", rec.Kind, "player_id", rec.PlayerID, "error", cerr)
			return rec.ID, err
		}
		s.finish(cctx, rec, domain.SagaCompensated, "run")
		s.audit.Log(cctx, rec.PlayerID, domain.AuditActionSagaCompensated, domain.AuditCategorySaga, map[string]interface{}{
			"saga_id": rec.ID,
			"kind":    rec.Kind,
			"cause":   err.Error(),
		})
		return rec.ID, err
	}

	s.finish(ctx, rec, domain.SagaCompleted, "run")
	return rec.ID, nil
}

func (s *SagaService) finish(ctx context.Context, rec domain.SagaRecord, to domain.SagaStatus, source string) bool {
	err := s.store.TransitionSaga(ctx, rec.ID, domain.SagaPending, to, s.now())
	if err != nil {
		if !errors.Is(err, storage.ErrConflict) {
			logger.Error("saga transition failed", "saga_id", rec.ID, "to", string(to), "error", err)
		}
		return false
	}
	SagaOutcomes.WithLabelValues(rec.Kind, string(to), source).Inc()
	return true
}

// Sweep resolves pending sagas created before olderThan by inspecting the rows
// they touch: a landed second write completes the saga, a lone first write is
// compensated, and nothing landed aborts it.
func (s *SagaService) Sweep(ctx context.Context, olderThan time.Time, limit int) (SweepReport, error) {
	var report SweepReport
	recs, err := s.store.ListPendingSagas(ctx, olderThan, limit)
	if err != nil {
		return report, err
	}

	for _, rec := range recs {
		report.Scanned++
		to, err := s.resolve(ctx, rec)
		if err != nil {
			report.Failed++
			logger.Error("saga sweep failed", "saga_id", rec.ID, "kind", rec.Kind, "error", err)
			continue
		}
		if !s.finish(ctx, rec, to, "sweep") {
			continue
		}
		switch to {
		case domain.SagaCompleted:
			report.Completed++
		case domain.SagaCompensated:
			report.Compensated++
		case domain.SagaAborted:
			report.Aborted++
		}
		s.audit.Log(ctx, rec.PlayerID, domain.AuditActionSagaSwept, domain.AuditCategorySaga, map[string]interface{}{
			"saga_id": rec.ID,
			"kind":    rec.Kind,
			"status":  string(to),
		})
	}

	if report.Scanned > 0 {
		logger.Info("saga sweep finished",
			"scanned", report.Scanned, "completed", report.Completed,
			"compensated", report.Compensated, "aborted", report.Aborted, "failed", report.Failed)
	}
	return report, nil
}

func (s *SagaService) resolve(ctx context.Context, rec domain.SagaRecord) (domain.SagaStatus, error) {
	h, ok := s.handlers[rec.Kind]
	if !ok {
		return "", fmt.Errorf("no sweep handler for kind %q", rec.Kind)
	}

	second, err := h.SecondApplied(ctx, rec)
	if err != nil {
		return "", err
	}
	if second {
		return domain.SagaCompleted, nil
	}

	first, err := h.FirstApplied(ctx, rec)
	if err != nil {
		return "", err
	}
	if !first {
		return domain.SagaAborted, nil
	}
	if err := h.Compensate(ctx, rec); err != nil {
		return "", err
	}
	return domain.SagaCompensated, nil
}

func decodePayload[T any](rec domain.SagaRecord) (T, error) {
	var out T
	if err := json.Unmarshal(rec.Payload, &out); err != nil {
		return out, fmt.Errorf("decode %s payload: %w", rec.Kind, err)
	}
	return out, nil
}
