package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"referpay/internal/domain"
	"referpay/internal/models"
	"referpay/internal/repository"
	"referpay/internal/webhook"
)

// ReconcileService applies transfer status notifications to payouts. It keeps
// no state of its own; the ledger's rank-guarded update makes duplicate and
// reordered deliveries converge.
type ReconcileService struct {
	ledger *repository.Ledger
	audit  *repository.AuditLogRepository
	log    *slog.Logger
}

func NewReconcileService(ledger *repository.Ledger, audit *repository.AuditLogRepository, log *slog.Logger) *ReconcileService {
	if log == nil {
		log = slog.Default()
	}
	return &ReconcileService{ledger: ledger, audit: audit, log: log}
}

func (s *ReconcileService) HandleTransferEvent(ctx context.Context, ev webhook.TransferEvent) (*models.Payout, domain.Outcome, error) {
	log := s.log.With("transfer_ref", ev.TransferRef, "event_type", ev.Type, "event_id", ev.EventID)
	status, ok := webhook.PayoutStatusFor(ev.Type)
	if !ok {
		log.Debug("transfer event type ignored")
		return nil, domain.OutcomeIgnored, nil
	}
	reason := ev.FailureMessage
	if status == domain.PayoutFailed && reason == "" {
		reason = "transfer failed"
	}

	p, outcome, err := s.ledger.ApplyTransferEvent(ctx, repository.TransferEventInput{
		TransferRef: ev.TransferRef,
		PayoutID:    ev.PayoutID,
		Status:      status,
		Reason:      reason,
	})
	switch {
	case errors.Is(err, domain.ErrNotFound):
		log.Warn("transfer event for unknown payout", "payout_id", ev.PayoutID, "error", err)
		return nil, "", err
	case errors.Is(err, domain.ErrConflict):
		log.Warn("transfer event conflicts with terminal payout, ignored", "payout_id", p.ID, "payout_status", p.Status, "outcome", outcome)
		return p, outcome, err
	case err != nil:
		log.Error("applying transfer event failed", "payout_id", ev.PayoutID, "error", err)
		return nil, "", err
	}

	log = log.With("payout_id", p.ID, "referral_id", p.ReferralID)
	if outcome == domain.OutcomeDuplicate {
		log.Info("transfer event already applied or stale", "outcome", outcome, "payout_status", p.Status)
		return p, outcome, nil
	}
	log.Info("transfer event applied", "outcome", outcome, "payout_status", p.Status)

	var action string
	switch p.Status {
	case domain.PayoutCompleted:
		action = domain.AuditPayoutCompleted
	case domain.PayoutFailed:
		action = domain.AuditPayoutFailed
		log.Error("transfer failed on payments platform", "reason", reason)
	}
	if action != "" && s.audit != nil {
		meta := map[string]interface{}{"referral_id": p.ReferralID, "transfer_ref": p.TransferRef(), "amount_cents": p.AmountCents}
		if p.Status == domain.PayoutFailed {
			meta["reason"] = reason
		}
		if err := s.audit.Record(ctx, p.UserID, action, "payout", strconv.FormatUint(uint64(p.ID), 10), meta); err != nil {
			log.Error("audit write failed", "action", action, "error", err)
		}
	}
	return p, outcome, nil
}
