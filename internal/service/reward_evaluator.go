package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"referpay/internal/domain"
	"referpay/internal/models"
	"referpay/internal/repository"
)

// Eligible is the payout decision: completed, positive reward, and no payout
// triggered yet.
func Eligible(ref *models.Referral, hasPayout bool) bool {
	return ref.Status == domain.ReferralCompleted && !hasPayout && ref.Reward() > 0
}

// RewardEvaluator turns an eligible referral into its first payout through the
// ledger's atomic gate.
type RewardEvaluator struct {
	ledger   *repository.Ledger
	audit    *repository.AuditLogRepository
	currency string
	log      *slog.Logger
}

func NewRewardEvaluator(ledger *repository.Ledger, audit *repository.AuditLogRepository, currency string, log *slog.Logger) *RewardEvaluator {
	if log == nil {
		log = slog.Default()
	}
	return &RewardEvaluator{ledger: ledger, audit: audit, currency: currency, log: log}
}

// Evaluate returns the payout the caller should dispatch, or nil. Only the
// caller winning MarkPayoutEligible gets a fresh payout. A payout that was
// created but never handed to the payments platform (the process died in
// between) is returned again so a redelivered event can resume it; the
// dispatch claim keeps that resumption single.
func (e *RewardEvaluator) Evaluate(ctx context.Context, ref *models.Referral) (*models.Payout, error) {
	if !Eligible(ref, ref.RewardTriggeredAt != nil) {
		if ref.RewardTriggeredAt != nil {
			return e.resumable(ctx, ref)
		}
		return nil, nil
	}
	p, err := e.ledger.MarkPayoutEligible(ctx, ref.ID, e.currency)
	switch {
	case errors.Is(err, domain.ErrAlreadyTriggered):
		e.log.Info("payout already triggered", "referral_id", ref.ID, "outcome", domain.OutcomeDuplicate)
		return e.resumable(ctx, ref)
	case errors.Is(err, domain.ErrNotEligible):
		e.log.Info("referral not eligible for payout", "referral_id", ref.ID, "status", ref.Status)
		return nil, nil
	case err != nil:
		e.log.Error("mark payout eligible failed", "referral_id", ref.ID, "error", err)
		return nil, err
	}
	e.log.Info("payout created", "referral_id", ref.ID, "payout_id", p.ID, "amount_cents", p.AmountCents)
	if e.audit != nil {
		err := e.audit.Record(ctx, p.UserID, domain.AuditPayoutCreated, "payout", strconv.FormatUint(uint64(p.ID), 10),
			map[string]interface{}{"referral_id": ref.ID, "amount_cents": p.AmountCents, "attempt": p.Attempt})
		if err != nil {
			e.log.Error("audit write failed", "payout_id", p.ID, "error", err)
		}
	}
	return p, nil
}

func (e *RewardEvaluator) resumable(ctx context.Context, ref *models.Referral) (*models.Payout, error) {
	p, err := e.ledger.LatestPayout(ctx, ref.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if p.Status == domain.PayoutPending && p.DispatchAttemptedAt == nil {
		e.log.Info("resuming undispatched payout", "referral_id", ref.ID, "payout_id", p.ID)
		return p, nil
	}
	return nil, nil
}
