package service

import (
	"context"
	"errors"
	"log/slog"

	"referpay/internal/domain"
	"referpay/internal/models"
	"referpay/internal/repository"
	"referpay/internal/webhook"
)

// IngestResult reports what one job notification did.
type IngestResult struct {
	Referral *models.Referral
	Outcome  domain.Outcome
	Status   domain.ReferralStatus // normalized status the event implied
	Payout   *models.Payout
}

// IngestService is the job-event ingestor. It applies one job notification to
// the ledger and, on completion, runs reward evaluation and payout dispatch
// in the same call.
type IngestService struct {
	ledger    *repository.Ledger
	policy    *PolicySource
	evaluator *RewardEvaluator
	payouts   *PayoutService
	log       *slog.Logger
}

func NewIngestService(ledger *repository.Ledger, policy *PolicySource, evaluator *RewardEvaluator, payouts *PayoutService, log *slog.Logger) *IngestService {
	if log == nil {
		log = slog.Default()
	}
	return &IngestService{ledger: ledger, policy: policy, evaluator: evaluator, payouts: payouts, log: log}
}

// HandleJobEvent returns domain.ErrNotFound / ErrConflict / ErrSelfReferral
// (wrapped) for events that can never apply, and a transient error when the
// platform should redeliver.
func (s *IngestService) HandleJobEvent(ctx context.Context, ev webhook.JobEvent) (*IngestResult, error) {
	status := webhook.NormalizeJobStatus(ev)
	log := s.log.With("job_ref", ev.JobRef, "job_status", ev.JobStatus, "status", status)
	policy, err := s.policy.Commission(ctx)
	if err != nil {
		log.Error("loading commission policy failed", "error", err)
		return nil, err
	}

	ref, outcome, err := s.ledger.RecordJobEvent(ctx, repository.JobEventInput{
		JobRef:        ev.JobRef,
		ReferralCode:  ev.ReferralCode,
		Contact:       ev.ClientContact,
		Status:        status,
		JobTotalCents: ev.TotalCents,
		CompletedAt:   ev.CompletedAt,
		Reward:        policy.Reward,
	})
	res := &IngestResult{Referral: ref, Outcome: outcome, Status: status}
	switch {
	case errors.Is(err, domain.ErrConflict):
		log.Warn("job event conflicts with terminal referral, ignored", "referral_id", ref.ID, "referral_status", ref.Status, "outcome", outcome)
		return res, err
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrSelfReferral):
		log.Warn("job event not attributable to a referral", "referral_code", ev.ReferralCode, "error", err)
		return res, err
	case err != nil:
		log.Error("recording job event failed", "error", err)
		return res, err
	}
	log = log.With("referral_id", ref.ID)
	if outcome == domain.OutcomeDuplicate {
		log.Info("job event already applied", "outcome", outcome, "referral_status", ref.Status)
	} else {
		log.Info("job event applied", "outcome", outcome, "referral_status", ref.Status, "reward_cents", ref.Reward())
	}

	if ref.Status != domain.ReferralCompleted {
		return res, nil
	}
	if ref.Reward() == 0 && ref.RewardTriggeredAt == nil && ev.TotalCents != nil {
		// Completed earlier without a job total; this delivery carries one.
		ref, err = s.ledger.SetReward(ctx, ref.ID, *ev.TotalCents, policy.Reward(*ev.TotalCents))
		if err != nil {
			log.Error("storing reward failed", "error", err)
			return res, err
		}
		res.Referral = ref
	}
	payout, err := s.evaluator.Evaluate(ctx, ref)
	if err != nil {
		return res, err
	}
	if payout == nil {
		return res, nil
	}
	dispatched, err := s.payouts.Dispatch(ctx, payout)
	if err != nil {
		return res, err
	}
	res.Payout = dispatched
	return res, nil
}
