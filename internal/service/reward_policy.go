package service

import (
	"context"
	"math"

	"referpay/config"
	"referpay/internal/domain"
	"referpay/internal/repository"
)

// CommissionPolicy computes referral rewards in minor currency units.
type CommissionPolicy struct {
	Bps      int64 // basis points of the job total; 500 = 5%
	MinCents int64
	MaxCents int64 // 0 = uncapped
}

// Reward returns clamp(jobTotal × rate, min, max), rounded half up. A job with
// no value earns nothing, so the minimum only lifts positive rewards.
func (p CommissionPolicy) Reward(jobTotalCents int64) int64 {
	if jobTotalCents <= 0 || p.Bps <= 0 {
		return 0
	}
	reward := scaleBps(jobTotalCents, p.Bps)
	if reward < p.MinCents {
		reward = p.MinCents
	}
	if p.MaxCents > 0 && reward > p.MaxCents {
		reward = p.MaxCents
	}
	return reward
}

// scaleBps returns round(v × bps / 10000) without overflowing the
// intermediate product; results beyond int64 saturate at math.MaxInt64.
func scaleBps(v, bps int64) int64 {
	q, r := v/10000, v%10000
	if bps > math.MaxInt64/10000 || q > math.MaxInt64/bps {
		return math.MaxInt64
	}
	whole := q * bps
	frac := (r*bps + 5000) / 10000
	if whole > math.MaxInt64-frac {
		return math.MaxInt64
	}
	return whole + frac
}

// PolicySource resolves the live reward policy: system_settings rows override
// the configured defaults.
type PolicySource struct {
	settings *repository.SettingRepository
	defaults config.ReferralConfig
}

func NewPolicySource(settings *repository.SettingRepository, defaults config.ReferralConfig) *PolicySource {
	return &PolicySource{settings: settings, defaults: defaults}
}

// Commission fails with a transient error when the settings table cannot be
// read; the configured defaults only stand in for rows that do not exist.
func (s *PolicySource) Commission(ctx context.Context) (CommissionPolicy, error) {
	p := CommissionPolicy{
		Bps:      s.defaults.CommissionBps,
		MinCents: s.defaults.MinRewardCents,
		MaxCents: s.defaults.MaxRewardCents,
	}
	if s.settings == nil {
		return p, nil
	}
	var err error
	if p.Bps, err = s.settings.GetInt64(ctx, domain.SettingReferralCommissionBps, p.Bps); err != nil {
		return CommissionPolicy{}, err
	}
	if p.MinCents, err = s.settings.GetInt64(ctx, domain.SettingReferralMinRewardCents, p.MinCents); err != nil {
		return CommissionPolicy{}, err
	}
	if p.MaxCents, err = s.settings.GetInt64(ctx, domain.SettingReferralMaxRewardCents, p.MaxCents); err != nil {
		return CommissionPolicy{}, err
	}
	return p, nil
}

// MaxAttempts bounds how many payouts a single referral may ever create.
func (s *PolicySource) MaxAttempts(ctx context.Context) (int, error) {
	n := int64(s.defaults.MaxPayoutAttempts)
	if s.settings != nil {
		var err error
		if n, err = s.settings.GetInt64(ctx, domain.SettingPayoutMaxAttempts, n); err != nil {
			return 0, err
		}
	}
	if n < 1 {
		return 1, nil
	}
	if n > math.MaxInt32 {
		return math.MaxInt32, nil
	}
	return int(n), nil
}
