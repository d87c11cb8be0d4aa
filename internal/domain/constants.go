package domain

const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// ReferralStatus is the lifecycle state of a referral.
type ReferralStatus string

const (
	ReferralPending   ReferralStatus = "pending"
	ReferralCompleted ReferralStatus = "completed"
	ReferralCancelled ReferralStatus = "cancelled"
)

// Terminal reports whether no later job event may change the status.
func (s ReferralStatus) Terminal() bool {
	return s == ReferralCompleted || s == ReferralCancelled
}

func (s ReferralStatus) Valid() bool {
	switch s {
	case ReferralPending, ReferralCompleted, ReferralCancelled:
		return true
	}
	return false
}

// PayoutStatus is the lifecycle state of one cash-transfer attempt.
type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "pending"
	PayoutProcessing PayoutStatus = "processing"
	PayoutCompleted  PayoutStatus = "completed"
	PayoutFailed     PayoutStatus = "failed"
)

// Rank orders payout states; a transition is only ever applied to a strictly
// higher rank. completed and failed share the terminal rank.
func (s PayoutStatus) Rank() int {
	switch s {
	case PayoutPending:
		return 0
	case PayoutProcessing:
		return 1
	case PayoutCompleted, PayoutFailed:
		return 2
	}
	return -1
}

func (s PayoutStatus) Terminal() bool { return s.Rank() == 2 }

// Payments-platform transfer event types.
const (
	TransferEventCreated = "transfer.created"
	TransferEventPaid    = "transfer.paid"
	TransferEventFailed  = "transfer.failed"
)

// Outcome describes what a ledger transition did.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeConflict  Outcome = "conflict"
	OutcomeIgnored   Outcome = "ignored"
)

// Setting keys (system_settings) overriding the configured reward policy.
const (
	SettingReferralCommissionBps  = "referral_commission_bps"
	SettingReferralMinRewardCents = "referral_min_reward_cents"
	SettingReferralMaxRewardCents = "referral_max_reward_cents"
	SettingPayoutMaxAttempts      = "payout_max_attempts"
)

// Audit actions for money movement.
const (
	AuditPayoutCreated    = "payout_created"
	AuditPayoutDispatched = "payout_dispatched"
	AuditPayoutCompleted  = "payout_completed"
	AuditPayoutFailed     = "payout_failed"
	AuditPayoutUnknown    = "payout_outcome_unknown"
)
