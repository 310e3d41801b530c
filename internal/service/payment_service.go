package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"village_backend/internal/config"
	"village_backend/internal/domain"
	"village_backend/internal/logger"
	"village_backend/internal/storage"
	"village_backend/internal/ton"
)

// TransactionLookup finds an on-chain transaction, waiting up to timeout for it to appear
type TransactionLookup interface {
	WaitForTransaction(ctx context.Context, hash string, timeout time.Duration) (*ton.Transaction, error)
}

// PaymentService sells premium time for verified TON transfers
type PaymentService struct {
	store    storage.PaymentStore
	profiles *ProfileService
	lookup   TransactionLookup
	audit    *AuditService
	cfg      config.PremiumConfig
	now      func() time.Time
}

func NewPaymentService(store storage.PaymentStore, profiles *ProfileService, lookup TransactionLookup, audit *AuditService, cfg config.PremiumConfig) *PaymentService {
	return &PaymentService{store: store, profiles: profiles, lookup: lookup, audit: audit, cfg: cfg, now: time.Now}
}

// PaymentOpID is the profile op id of a payment credit
func PaymentOpID(txHash string) string {
	return "pay:" + txHash
}

// PurchasePremium verifies txHash and extends the player's premium
func (s *PaymentService) PurchasePremium(ctx context.Context, playerID, txHash string) (*domain.Profile, error) {
	txHash = strings.TrimSpace(txHash)
	if txHash == "" {
		return nil, fmt.Errorf("tx_hash required: %w", ErrInvalidRequest)
	}
	if s.cfg.Wallet == "" || s.lookup == nil {
		return nil, ErrPaymentsDisabled
	}

	existing, err := s.store.GetPayment(ctx, txHash)
	switch {
	case err == nil:
		// a pending payment of the same player is resumed, anything else was spent
		if existing.PlayerID != playerID || existing.Status != domain.PaymentPending {
			return nil, ErrPaymentUsed
		}
		return s.apply(ctx, *existing)
	case !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}

	tx, err := s.lookup.WaitForTransaction(ctx, txHash, s.cfg.PaymentTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn("payment lookup failed", "player_id", playerID, "tx_hash", txHash, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrExternalDependency, err)
	}
	if err := ton.VerifyPayment(tx, s.cfg.Wallet, s.cfg.PriceNano, playerID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPaymentMismatch, err)
	}

	payment := domain.Payment{
		TxHash:     txHash,
		PlayerID:   playerID,
		AmountNano: tx.InMsg.Value,
		Status:     domain.PaymentPending,
		CreatedAt:  s.now(),
	}
	if err := s.store.CreatePayment(ctx, payment); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, ErrPaymentUsed
		}
		return nil, err
	}
	return s.apply(ctx, payment)
}

// apply credits a recorded payment. Safe to repeat.
func (s *PaymentService) apply(ctx context.Context, p domain.Payment) (*domain.Profile, error) {
	prof, err := s.profiles.Mutate(ctx, "premium_purchase", p.PlayerID, PaymentOpID(p.TxHash), func(st *domain.PlayerState, now time.Time) error {
		base := st.PremiumEndsAt
		if base.Before(now) {
			base = now
		}
		st.PremiumEndsAt = base.Add(s.cfg.Duration)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.MarkPaymentApplied(ctx, p.TxHash, s.now()); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return prof, nil
		}
		// the credit landed; the sweeper will retry the status flip
		logger.Error("mark payment applied failed", "tx_hash", p.TxHash, "error", err)
		return prof, nil
	}

	PaymentsApplied.Inc()
	s.audit.Log(ctx, p.PlayerID, domain.AuditActionPremiumPurchase, domain.AuditCategoryPayment, map[string]interface{}{
		"tx_hash":         p.TxHash,
		"amount_nano":     p.AmountNano,
		"premium_ends_at": prof.State.PremiumEndsAt,
	})
	return prof, nil
}

// ReapplyPending finishes payments recorded but never marked applied
func (s *PaymentService) ReapplyPending(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	pending, err := s.store.ListPendingPayments(ctx, olderThan, limit)
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, p := range pending {
		if _, err := s.apply(ctx, p); err != nil {
			logger.Error("reapply payment failed", "tx_hash", p.TxHash, "player_id", p.PlayerID, "error", err)
			continue
		}
		applied++
	}
	return applied, nil
}
