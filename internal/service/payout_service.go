package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"referpay/internal/domain"
	"referpay/internal/models"
	"referpay/internal/repository"
	"referpay/pkg/payment"
)

const reasonNoPayoutAccount = "no connected payout account"

// PayoutService is the payout dispatcher: it hands a pending payout to the
// payments platform exactly once and records the synchronous outcome.
type PayoutService struct {
	ledger   *repository.Ledger
	users    *repository.UserRepository
	audit    *repository.AuditLogRepository
	provider payment.TransferProvider
	policy   *PolicySource
	currency string
	timeout  time.Duration
	log      *slog.Logger
}

func NewPayoutService(
	ledger *repository.Ledger,
	users *repository.UserRepository,
	audit *repository.AuditLogRepository,
	provider payment.TransferProvider,
	policy *PolicySource,
	currency string,
	timeout time.Duration,
	log *slog.Logger,
) *PayoutService {
	if log == nil {
		log = slog.Default()
	}
	return &PayoutService{
		ledger:   ledger,
		users:    users,
		audit:    audit,
		provider: provider,
		policy:   policy,
		currency: currency,
		timeout:  timeout,
		log:      log,
	}
}

// Dispatch requests the transfer for a pending payout. The returned error is
// non-nil only for storage failures; a rejected or unknown transfer outcome
// is recorded and reported through the payout itself.
//
// A timed-out or otherwise inconclusive request leaves the payout pending and
// is never re-sent: only the transfer webhook can tell whether money moved.
func (s *PayoutService) Dispatch(ctx context.Context, p *models.Payout) (*models.Payout, error) {
	log := s.log.With("payout_id", p.ID, "referral_id", p.ReferralID)

	user, err := s.users.GetByID(ctx, p.UserID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if user == nil || user.PayoutAccount() == "" {
		return s.fail(ctx, p, reasonNoPayoutAccount, log)
	}

	claimed, err := s.ledger.ClaimDispatch(ctx, p.ID)
	if err != nil {
		log.Error("claim dispatch failed", "error", err)
		return nil, err
	}
	if !claimed {
		log.Info("payout dispatch already claimed", "outcome", domain.OutcomeDuplicate)
		return s.ledger.GetPayout(ctx, p.ID)
	}

	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	resp, err := s.provider.CreateTransfer(callCtx, payment.TransferRequest{
		AmountCents:    p.AmountCents,
		Currency:       p.Currency,
		Destination:    user.PayoutAccount(),
		Description:    fmt.Sprintf("Referral reward #%d", p.ReferralID),
		IdempotencyKey: p.IdempotencyKey,
		Metadata: map[string]string{
			"payout_id":   strconv.FormatUint(uint64(p.ID), 10),
			"referral_id": strconv.FormatUint(uint64(p.ReferralID), 10),
		},
	})
	if err != nil {
		if payment.IsRejected(err) {
			return s.fail(ctx, p, err.Error(), log)
		}
		log.Warn("transfer outcome unknown, awaiting transfer webhook", "error", err)
		s.record(ctx, p, domain.AuditPayoutUnknown, map[string]interface{}{"error": err.Error()})
		return s.ledger.GetPayout(ctx, p.ID)
	}

	updated, outcome, err := s.ledger.MarkPayoutDispatched(ctx, p.ID, resp.Reference)
	if err != nil && !errors.Is(err, domain.ErrConflict) {
		log.Error("recording transfer acknowledgment failed", "transfer_ref", resp.Reference, "error", err)
		return nil, err
	}
	switch outcome {
	case domain.OutcomeApplied:
		log.Info("payout dispatched", "transfer_ref", resp.Reference, "status", updated.Status)
		s.record(ctx, updated, domain.AuditPayoutDispatched, map[string]interface{}{"transfer_ref": resp.Reference})
	case domain.OutcomeDuplicate:
		log.Info("transfer already recorded by webhook", "transfer_ref", resp.Reference, "outcome", outcome)
	default:
		log.Warn("transfer acknowledgment conflicts with stored payout", "transfer_ref", resp.Reference, "error", err)
	}
	return updated, nil
}

// Retry creates the next payout attempt for a referral whose latest payout
// failed, bounded by the max-attempts policy, and dispatches it. A new attempt
// refused synchronously is returned together with a *domain.TransferFailure.
func (s *PayoutService) Retry(ctx context.Context, referralID uint) (*models.Payout, error) {
	maxAttempts, err := s.policy.MaxAttempts(ctx)
	if err != nil {
		s.log.Error("loading payout policy failed", "referral_id", referralID, "error", err)
		return nil, err
	}
	p, err := s.ledger.CreateRetryPayout(ctx, referralID, maxAttempts, s.currency)
	if err != nil {
		s.log.Info("payout retry refused", "referral_id", referralID, "max_attempts", maxAttempts, "error", err)
		return nil, err
	}
	s.log.Info("payout retry created", "referral_id", referralID, "payout_id", p.ID, "attempt", p.Attempt)
	s.record(ctx, p, domain.AuditPayoutCreated, map[string]interface{}{"attempt": p.Attempt, "retry": true})
	dispatched, err := s.Dispatch(ctx, p)
	if err != nil {
		return nil, err
	}
	if dispatched.Status == domain.PayoutFailed {
		reason := ""
		if dispatched.FailureReason != nil {
			reason = *dispatched.FailureReason
		}
		return dispatched, &domain.TransferFailure{Reason: reason}
	}
	return dispatched, nil
}

func (s *PayoutService) fail(ctx context.Context, p *models.Payout, reason string, log *slog.Logger) (*models.Payout, error) {
	updated, outcome, err := s.ledger.MarkPayoutFailed(ctx, p.ID, reason)
	if err != nil && !errors.Is(err, domain.ErrConflict) {
		log.Error("recording payout failure failed", "reason", reason, "error", err)
		return nil, err
	}
	if outcome == domain.OutcomeApplied {
		log.Error("payout failed", "reason", reason)
		s.record(ctx, updated, domain.AuditPayoutFailed, map[string]interface{}{"reason": reason})
	} else {
		log.Info("payout failure not applied", "reason", reason, "outcome", outcome, "status", updated.Status)
	}
	return updated, nil
}

func (s *PayoutService) record(ctx context.Context, p *models.Payout, action string, meta map[string]interface{}) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["referral_id"] = p.ReferralID
	meta["amount_cents"] = p.AmountCents
	if err := s.audit.Record(ctx, p.UserID, action, "payout", strconv.FormatUint(uint64(p.ID), 10), meta); err != nil {
		s.log.Error("audit write failed", "payout_id", p.ID, "action", action, "error", err)
	}
}
