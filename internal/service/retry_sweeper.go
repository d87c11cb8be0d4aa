package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"referpay/internal/domain"
	"referpay/internal/repository"
)

// RetrySweeper periodically retries failed payouts that still have attempts
// left. The wait before attempt n+1 is backoff × n.
type RetrySweeper struct {
	ledger   *repository.Ledger
	payouts  *PayoutService
	policy   *PolicySource
	interval time.Duration
	backoff  time.Duration
	batch    int
	now      func() time.Time
	log      *slog.Logger
}

func NewRetrySweeper(ledger *repository.Ledger, payouts *PayoutService, policy *PolicySource, interval, backoff time.Duration, log *slog.Logger) *RetrySweeper {
	if log == nil {
		log = slog.Default()
	}
	return &RetrySweeper{
		ledger:   ledger,
		payouts:  payouts,
		policy:   policy,
		interval: interval,
		backoff:  backoff,
		batch:    50,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log,
	}
}

// Run sweeps every interval until ctx is done. A zero interval disables it.
func (s *RetrySweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	s.log.Info("payout retry sweeper started", "interval", s.interval, "backoff", s.backoff)
	tick := time.NewTicker(s.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("payout retry sweeper stopped")
			return
		case <-tick.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep retries eligible failed payouts once and returns how many new
// payouts it created.
func (s *RetrySweeper) Sweep(ctx context.Context) int {
	maxAttempts, err := s.policy.MaxAttempts(ctx)
	if err != nil {
		s.log.Error("loading payout policy failed", "error", err)
		return 0
	}
	now := s.now()
	candidates, err := s.ledger.ListRetryCandidates(ctx, maxAttempts, now.Add(-s.backoff), s.batch)
	if err != nil {
		s.log.Error("listing retry candidates failed", "error", err)
		return 0
	}
	retried := 0
	for _, p := range candidates {
		if p.FailedAt == nil || p.FailedAt.After(now.Add(-s.backoff*time.Duration(p.Attempt))) {
			continue
		}
		_, err := s.payouts.Retry(ctx, p.ReferralID)
		switch {
		case err == nil:
			retried++
		case domain.IsTransferFailure(err):
			retried++
			s.log.Warn("retried payout failed again", "referral_id", p.ReferralID, "payout_id", p.ID, "error", err)
		case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrAttemptsExhausted):
			s.log.Info("retry skipped", "referral_id", p.ReferralID, "payout_id", p.ID, "error", err)
		default:
			s.log.Error("retry failed", "referral_id", p.ReferralID, "payout_id", p.ID, "error", err)
		}
	}
	return retried
}
