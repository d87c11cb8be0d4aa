package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"referpay/internal/domain"
	"referpay/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Ledger is the only writer of referral and payout state. Every transition it
// exposes is a single conditional UPDATE guarded by the expected prior state,
// so concurrent deliveries of the same event race to exactly one winner.
type Ledger struct {
	db  *gorm.DB
	now func() time.Time
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// JobEventInput is a normalized job notification as the ledger applies it.
type JobEventInput struct {
	JobRef        string
	ReferralCode  string
	Contact       string
	Status        domain.ReferralStatus
	JobTotalCents *int64
	CompletedAt   *time.Time
	// Reward computes the reward from the effective job total when the
	// referral transitions to completed.
	Reward func(jobTotalCents int64) int64
}

// TransferEventInput is a normalized transfer status notification.
type TransferEventInput struct {
	TransferRef string
	PayoutID    uint // from transfer metadata; 0 when absent
	Status      domain.PayoutStatus
	Reason      string
}

// CreateReferral seeds a pending referral for a booking made with a referral
// code, before the external job exists.
func (l *Ledger) CreateReferral(ctx context.Context, code, contact string) (*models.Referral, error) {
	code = NormalizeCode(code)
	contact = normalizeContact(contact)
	rc, owner, err := l.activeCode(ctx, l.db, code)
	if err != nil {
		return nil, err
	}
	if contact != "" && strings.EqualFold(owner.Email, contact) {
		return nil, fmt.Errorf("code %s: %w", code, domain.ErrSelfReferral)
	}
	var existing models.Referral
	err = l.db.WithContext(ctx).
		Where("referral_code = ? AND referred_contact = ? AND external_job_ref IS NULL AND status = ?", code, contact, domain.ReferralPending).
		First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storageErr("ledger.create_referral", "referral", err)
	}
	ref := &models.Referral{
		ReferrerID:      rc.UserID,
		ReferralCode:    rc.Code,
		ReferredContact: contact,
		Status:          domain.ReferralPending,
	}
	if err := l.db.WithContext(ctx).Create(ref).Error; err != nil {
		return nil, storageErr("ledger.create_referral", "referral", err)
	}
	return ref, nil
}

// RecordJobEvent maps a job notification onto its referral and applies the
// status. It is idempotent on the job ref: replays and stale events never
// regress status nor create a second referral.
func (l *Ledger) RecordJobEvent(ctx context.Context, in JobEventInput) (*models.Referral, domain.Outcome, error) {
	if in.JobRef == "" {
		return nil, "", fmt.Errorf("job event without job ref: %w", domain.ErrNotFound)
	}
	if !in.Status.Valid() {
		return nil, "", fmt.Errorf("job %s: invalid status %q", in.JobRef, in.Status)
	}
	ref, err := l.resolveReferral(ctx, in)
	if err != nil {
		return nil, "", err
	}
	return l.applyJobStatus(ctx, ref, in, true)
}

func (l *Ledger) resolveReferral(ctx context.Context, in JobEventInput) (*models.Referral, error) {
	ref, err := l.referralByJobRef(ctx, in.JobRef)
	if err == nil || !errors.Is(err, domain.ErrNotFound) {
		return ref, err
	}
	code := NormalizeCode(in.ReferralCode)
	if code == "" {
		return nil, fmt.Errorf("job %s has no referral: %w", in.JobRef, domain.ErrNotFound)
	}
	contact := normalizeContact(in.Contact)

	// Link a referral seeded at booking time. Seeds for a named contact only
	// match that contact; anonymous seeds match anyone.
	var seeds []models.Referral
	err = l.db.WithContext(ctx).
		Where("referral_code = ? AND external_job_ref IS NULL AND status = ?", code, domain.ReferralPending).
		Where("referred_contact = ? OR referred_contact = ''", contact).
		Order("referred_contact DESC, id ASC").
		Limit(5).
		Find(&seeds).Error
	if err != nil {
		return nil, storageErr("ledger.find_seed", "referral", err)
	}
	for _, seed := range seeds {
		res := l.db.WithContext(ctx).Model(&models.Referral{}).
			Where("id = ? AND external_job_ref IS NULL", seed.ID).
			Update("external_job_ref", in.JobRef)
		if res.Error != nil && !isDuplicateKey(res.Error) {
			return nil, storageErr("ledger.link_job", "referral", res.Error)
		}
		if res.Error == nil && res.RowsAffected == 1 {
			return l.GetReferral(ctx, seed.ID)
		}
		// Lost a race: either another delivery linked this job elsewhere or
		// the seed went to another job.
		if ref, err := l.referralByJobRef(ctx, in.JobRef); err == nil {
			return ref, nil
		}
	}

	rc, owner, err := l.activeCode(ctx, l.db, code)
	if err != nil {
		return nil, err
	}
	if contact != "" && strings.EqualFold(owner.Email, contact) {
		return nil, fmt.Errorf("job %s code %s: %w", in.JobRef, code, domain.ErrSelfReferral)
	}
	jobRef := in.JobRef
	created := &models.Referral{
		ReferrerID:      rc.UserID,
		ReferralCode:    rc.Code,
		ReferredContact: contact,
		ExternalJobRef:  &jobRef,
		Status:          domain.ReferralPending,
	}
	if err := l.db.WithContext(ctx).Create(created).Error; err != nil {
		if ref, findErr := l.referralByJobRef(ctx, in.JobRef); findErr == nil {
			return ref, nil
		}
		return nil, storageErr("ledger.create_referral", "referral", err)
	}
	return created, nil
}

func (l *Ledger) applyJobStatus(ctx context.Context, ref *models.Referral, in JobEventInput, retry bool) (*models.Referral, domain.Outcome, error) {
	if ref.Status.Terminal() {
		switch {
		case in.Status == ref.Status, in.Status == domain.ReferralPending:
			return ref, domain.OutcomeDuplicate, nil
		default:
			return ref, domain.OutcomeConflict, fmt.Errorf("referral %d is %s, refusing %s: %w", ref.ID, ref.Status, in.Status, domain.ErrConflict)
		}
	}

	now := l.now()
	updates := map[string]interface{}{"last_event_status": string(in.Status)}
	total := ref.JobTotalCents
	if in.JobTotalCents != nil {
		total = in.JobTotalCents
		updates["job_total_cents"] = *in.JobTotalCents
	}
	switch in.Status {
	case domain.ReferralPending:
		if ref.LastEventStatus == string(domain.ReferralPending) && sameAmount(ref.JobTotalCents, in.JobTotalCents) {
			return ref, domain.OutcomeDuplicate, nil
		}
	case domain.ReferralCompleted:
		completedAt := now
		if in.CompletedAt != nil {
			completedAt = in.CompletedAt.UTC()
		}
		updates["status"] = domain.ReferralCompleted
		updates["job_completed_at"] = completedAt
		if total != nil && in.Reward != nil {
			updates["reward_cents"] = in.Reward(*total)
		}
	case domain.ReferralCancelled:
		updates["status"] = domain.ReferralCancelled
		updates["cancelled_at"] = now
	}

	res := l.db.WithContext(ctx).Model(&models.Referral{}).
		Where("id = ? AND status = ?", ref.ID, domain.ReferralPending).
		Updates(updates)
	if res.Error != nil {
		return nil, "", storageErr("ledger.apply_job_status", fmt.Sprintf("referral %d", ref.ID), res.Error)
	}
	fresh, err := l.GetReferral(ctx, ref.ID)
	if err != nil {
		return nil, "", err
	}
	if res.RowsAffected == 1 {
		return fresh, domain.OutcomeApplied, nil
	}
	// A concurrent delivery moved the referral out of pending first.
	if !retry {
		return fresh, domain.OutcomeConflict, fmt.Errorf("referral %d changed concurrently: %w", ref.ID, domain.ErrConflict)
	}
	return l.applyJobStatus(ctx, fresh, in, false)
}

// SetReward fills in the reward of a completed referral whose completion
// event carried no job total. It never touches a referral whose payout was
// already triggered.
func (l *Ledger) SetReward(ctx context.Context, referralID uint, jobTotalCents, rewardCents int64) (*models.Referral, error) {
	res := l.db.WithContext(ctx).Model(&models.Referral{}).
		Where("id = ? AND status = ? AND reward_triggered_at IS NULL", referralID, domain.ReferralCompleted).
		Where("reward_cents IS NULL OR reward_cents = 0").
		Updates(map[string]interface{}{"job_total_cents": jobTotalCents, "reward_cents": rewardCents})
	if res.Error != nil {
		return nil, storageErr("ledger.set_reward", fmt.Sprintf("referral %d", referralID), res.Error)
	}
	return l.GetReferral(ctx, referralID)
}

// MarkPayoutEligible is the single gate in front of money movement: the
// reward trigger flag is set by one conditional update and payout attempt 1
// is created in the same transaction. Every other caller, concurrent or late,
// receives ErrAlreadyTriggered.
func (l *Ledger) MarkPayoutEligible(ctx context.Context, referralID uint, currency string) (*models.Payout, error) {
	var payout *models.Payout
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Referral{}).
			Where("id = ? AND status = ? AND reward_triggered_at IS NULL AND reward_cents > 0", referralID, domain.ReferralCompleted).
			Updates(map[string]interface{}{
				"reward_triggered_at": l.now(),
				"payout_attempts":     gorm.Expr("payout_attempts + 1"),
			})
		if res.Error != nil {
			return storageErr("ledger.mark_payout_eligible", fmt.Sprintf("referral %d", referralID), res.Error)
		}
		var ref models.Referral
		if err := tx.First(&ref, referralID).Error; err != nil {
			return storageErr("ledger.mark_payout_eligible", fmt.Sprintf("referral %d", referralID), err)
		}
		if res.RowsAffected == 0 {
			if ref.RewardTriggeredAt != nil {
				return fmt.Errorf("referral %d: %w", referralID, domain.ErrAlreadyTriggered)
			}
			return fmt.Errorf("referral %d (%s, reward %d): %w", referralID, ref.Status, ref.Reward(), domain.ErrNotEligible)
		}
		p, err := l.insertPayout(tx, &ref, 1, currency)
		payout = p
		return err
	})
	if err != nil {
		return nil, err
	}
	return payout, nil
}

// CreateRetryPayout creates the next payout attempt for a referral whose
// latest payout failed. The update is guarded by the attempt count read in the
// same transaction, so two concurrent retries cannot both create a payout.
func (l *Ledger) CreateRetryPayout(ctx context.Context, referralID uint, maxAttempts int, currency string) (*models.Payout, error) {
	var payout *models.Payout
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ref models.Referral
		if err := tx.First(&ref, referralID).Error; err != nil {
			return storageErr("ledger.retry_payout", fmt.Sprintf("referral %d", referralID), err)
		}
		if ref.RewardTriggeredAt == nil {
			return fmt.Errorf("referral %d has no payout to retry: %w", referralID, domain.ErrNotEligible)
		}
		if ref.PayoutAttempts >= maxAttempts {
			return fmt.Errorf("referral %d used %d/%d attempts: %w", referralID, ref.PayoutAttempts, maxAttempts, domain.ErrAttemptsExhausted)
		}
		res := tx.Model(&models.Referral{}).
			Where("id = ? AND payout_attempts = ? AND payout_attempts < ?", referralID, ref.PayoutAttempts, maxAttempts).
			Where("NOT EXISTS (SELECT 1 FROM payouts WHERE payouts.referral_id = ? AND payouts.status <> ?)", referralID, domain.PayoutFailed).
			Update("payout_attempts", gorm.Expr("payout_attempts + 1"))
		if res.Error != nil {
			return storageErr("ledger.retry_payout", fmt.Sprintf("referral %d", referralID), res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("referral %d has a live payout or a concurrent retry won: %w", referralID, domain.ErrConflict)
		}
		p, err := l.insertPayout(tx, &ref, ref.PayoutAttempts+1, currency)
		payout = p
		return err
	})
	if err != nil {
		return nil, err
	}
	return payout, nil
}

func (l *Ledger) insertPayout(tx *gorm.DB, ref *models.Referral, attempt int, currency string) (*models.Payout, error) {
	p := &models.Payout{
		ReferralID:     ref.ID,
		Attempt:        attempt,
		UserID:         ref.ReferrerID,
		AmountCents:    ref.Reward(),
		Currency:       strings.ToLower(currency),
		Status:         domain.PayoutPending,
		IdempotencyKey: uuid.NewString(),
	}
	if err := tx.Create(p).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, fmt.Errorf("referral %d attempt %d: %w", ref.ID, attempt, domain.ErrConflict)
		}
		return nil, storageErr("ledger.insert_payout", fmt.Sprintf("referral %d", ref.ID), err)
	}
	return p, nil
}

// ClaimDispatch marks a pending payout as handed to the payments platform.
// Only one caller ever gets true, so a transfer is requested at most once per
// payout.
func (l *Ledger) ClaimDispatch(ctx context.Context, payoutID uint) (bool, error) {
	res := l.db.WithContext(ctx).Model(&models.Payout{}).
		Where("id = ? AND status = ? AND dispatch_attempted_at IS NULL", payoutID, domain.PayoutPending).
		Update("dispatch_attempted_at", l.now())
	if res.Error != nil {
		return false, storageErr("ledger.claim_dispatch", fmt.Sprintf("payout %d", payoutID), res.Error)
	}
	return res.RowsAffected == 1, nil
}

// MarkPayoutDispatched records the platform's acknowledgment: pending →
// processing with the transfer ref.
func (l *Ledger) MarkPayoutDispatched(ctx context.Context, payoutID uint, transferRef string) (*models.Payout, domain.Outcome, error) {
	res := l.db.WithContext(ctx).Model(&models.Payout{}).
		Where("id = ? AND status = ?", payoutID, domain.PayoutPending).
		Where("external_transfer_ref IS NULL OR external_transfer_ref = ?", transferRef).
		Updates(map[string]interface{}{
			"status":                domain.PayoutProcessing,
			"external_transfer_ref": transferRef,
		})
	if res.Error != nil {
		return nil, "", storageErr("ledger.mark_dispatched", fmt.Sprintf("payout %d", payoutID), res.Error)
	}
	p, err := l.GetPayout(ctx, payoutID)
	if err != nil {
		return nil, "", err
	}
	if res.RowsAffected == 1 {
		return p, domain.OutcomeApplied, nil
	}
	if p.TransferRef() == transferRef {
		// The transfer webhook got here first.
		return p, domain.OutcomeDuplicate, nil
	}
	return p, domain.OutcomeConflict, fmt.Errorf("payout %d is %s with ref %q: %w", payoutID, p.Status, p.TransferRef(), domain.ErrConflict)
}

// MarkPayoutFailed records a synchronous transfer-request failure. No
// external ref is stored.
func (l *Ledger) MarkPayoutFailed(ctx context.Context, payoutID uint, reason string) (*models.Payout, domain.Outcome, error) {
	now := l.now()
	res := l.db.WithContext(ctx).Model(&models.Payout{}).
		Where("id = ? AND status = ?", payoutID, domain.PayoutPending).
		Updates(map[string]interface{}{
			"status":         domain.PayoutFailed,
			"failure_reason": reason,
			"failed_at":      now,
		})
	if res.Error != nil {
		return nil, "", storageErr("ledger.mark_failed", fmt.Sprintf("payout %d", payoutID), res.Error)
	}
	p, err := l.GetPayout(ctx, payoutID)
	if err != nil {
		return nil, "", err
	}
	if res.RowsAffected == 1 {
		return p, domain.OutcomeApplied, nil
	}
	if p.Status == domain.PayoutFailed {
		return p, domain.OutcomeDuplicate, nil
	}
	return p, domain.OutcomeConflict, fmt.Errorf("payout %d is %s, refusing failed: %w", payoutID, p.Status, domain.ErrConflict)
}

// ApplyTransferEvent advances a payout from a transfer notification. Only a
// strictly more advanced status is applied; completed and failed are terminal.
func (l *Ledger) ApplyTransferEvent(ctx context.Context, in TransferEventInput) (*models.Payout, domain.Outcome, error) {
	if in.Status.Rank() < 1 {
		return nil, "", fmt.Errorf("transfer %s: unsupported status %q", in.TransferRef, in.Status)
	}
	p, err := l.payoutForTransfer(ctx, in)
	if err != nil {
		return nil, "", err
	}
	return l.advancePayout(ctx, p, in, true)
}

func (l *Ledger) payoutForTransfer(ctx context.Context, in TransferEventInput) (*models.Payout, error) {
	if in.TransferRef != "" {
		var p models.Payout
		err := l.db.WithContext(ctx).Where("external_transfer_ref = ?", in.TransferRef).First(&p).Error
		if err == nil {
			return &p, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storageErr("ledger.find_transfer", "payout", err)
		}
	}
	if in.PayoutID == 0 {
		return nil, fmt.Errorf("transfer %s: %w", in.TransferRef, domain.ErrNotFound)
	}
	p, err := l.GetPayout(ctx, in.PayoutID)
	if err != nil {
		return nil, err
	}
	if p.ExternalTransferRef != nil {
		if p.TransferRef() == in.TransferRef {
			return p, nil
		}
		return nil, fmt.Errorf("transfer %s names payout %d which belongs to transfer %s: %w", in.TransferRef, p.ID, p.TransferRef(), domain.ErrNotFound)
	}
	if in.TransferRef == "" {
		return nil, fmt.Errorf("payout %d: transfer event without ref: %w", p.ID, domain.ErrNotFound)
	}
	// The webhook beat the dispatcher's own acknowledgment write.
	res := l.db.WithContext(ctx).Model(&models.Payout{}).
		Where("id = ? AND external_transfer_ref IS NULL", p.ID).
		Update("external_transfer_ref", in.TransferRef)
	if res.Error != nil {
		return nil, storageErr("ledger.attach_transfer", fmt.Sprintf("payout %d", p.ID), res.Error)
	}
	p, err = l.GetPayout(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if p.TransferRef() != in.TransferRef {
		return nil, fmt.Errorf("payout %d attached to transfer %s: %w", p.ID, p.TransferRef(), domain.ErrNotFound)
	}
	return p, nil
}

func (l *Ledger) advancePayout(ctx context.Context, p *models.Payout, in TransferEventInput, retry bool) (*models.Payout, domain.Outcome, error) {
	if p.Status.Rank() >= in.Status.Rank() {
		if p.Status.Terminal() && in.Status.Terminal() && p.Status != in.Status {
			return p, domain.OutcomeConflict, fmt.Errorf("payout %d is %s, refusing %s: %w", p.ID, p.Status, in.Status, domain.ErrConflict)
		}
		return p, domain.OutcomeDuplicate, nil
	}

	now := l.now()
	updates := map[string]interface{}{"status": in.Status}
	switch in.Status {
	case domain.PayoutCompleted:
		updates["completed_at"] = now
	case domain.PayoutFailed:
		updates["failed_at"] = now
		updates["failure_reason"] = in.Reason
	}
	res := l.db.WithContext(ctx).Model(&models.Payout{}).
		Where("id = ? AND status IN ?", p.ID, lowerRanked(in.Status)).
		Updates(updates)
	if res.Error != nil {
		return nil, "", storageErr("ledger.apply_transfer_event", fmt.Sprintf("payout %d", p.ID), res.Error)
	}
	fresh, err := l.GetPayout(ctx, p.ID)
	if err != nil {
		return nil, "", err
	}
	if res.RowsAffected == 1 {
		return fresh, domain.OutcomeApplied, nil
	}
	if !retry {
		return fresh, domain.OutcomeConflict, fmt.Errorf("payout %d changed concurrently: %w", p.ID, domain.ErrConflict)
	}
	return l.advancePayout(ctx, fresh, in, false)
}

func lowerRanked(target domain.PayoutStatus) []domain.PayoutStatus {
	var out []domain.PayoutStatus
	for _, s := range []domain.PayoutStatus{domain.PayoutPending, domain.PayoutProcessing, domain.PayoutCompleted, domain.PayoutFailed} {
		if s.Rank() < target.Rank() {
			out = append(out, s)
		}
	}
	return out
}

func (l *Ledger) GetReferral(ctx context.Context, id uint) (*models.Referral, error) {
	var ref models.Referral
	if err := l.db.WithContext(ctx).First(&ref, id).Error; err != nil {
		return nil, storageErr("ledger.get_referral", fmt.Sprintf("referral %d", id), err)
	}
	return &ref, nil
}

func (l *Ledger) referralByJobRef(ctx context.Context, jobRef string) (*models.Referral, error) {
	var ref models.Referral
	if err := l.db.WithContext(ctx).Where("external_job_ref = ?", jobRef).First(&ref).Error; err != nil {
		return nil, storageErr("ledger.get_referral", "referral for job "+jobRef, err)
	}
	return &ref, nil
}

func (l *Ledger) GetPayout(ctx context.Context, id uint) (*models.Payout, error) {
	var p models.Payout
	if err := l.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, storageErr("ledger.get_payout", fmt.Sprintf("payout %d", id), err)
	}
	return &p, nil
}

// LatestPayout returns the highest attempt for a referral.
func (l *Ledger) LatestPayout(ctx context.Context, referralID uint) (*models.Payout, error) {
	var p models.Payout
	err := l.db.WithContext(ctx).Where("referral_id = ?", referralID).Order("attempt DESC").First(&p).Error
	if err != nil {
		return nil, storageErr("ledger.latest_payout", fmt.Sprintf("payouts for referral %d", referralID), err)
	}
	return &p, nil
}

// ListPayoutsByUser returns a user's payouts, newest first.
func (l *Ledger) ListPayoutsByUser(ctx context.Context, userID uint, limit, offset int) ([]models.Payout, error) {
	var list []models.Payout
	err := l.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).Offset(offset).
		Find(&list).Error
	return list, storageErr("ledger.list_payouts", "payouts", err)
}

// ListRetryCandidates returns failed payouts that are the latest attempt of a
// referral with attempts left and that failed before the cutoff.
func (l *Ledger) ListRetryCandidates(ctx context.Context, maxAttempts int, failedBefore time.Time, limit int) ([]models.Payout, error) {
	var list []models.Payout
	err := l.db.WithContext(ctx).
		Joins("JOIN referrals ON referrals.id = payouts.referral_id").
		Where("payouts.status = ? AND payouts.failed_at <= ?", domain.PayoutFailed, failedBefore).
		Where("payouts.attempt = referrals.payout_attempts AND referrals.payout_attempts < ?", maxAttempts).
		Order("payouts.failed_at ASC").
		Limit(limit).
		Find(&list).Error
	return list, storageErr("ledger.list_retry_candidates", "payouts", err)
}

func (l *Ledger) activeCode(ctx context.Context, db *gorm.DB, code string) (*models.ReferralCode, *models.User, error) {
	var rc models.ReferralCode
	err := db.WithContext(ctx).Preload("User").Where("code = ? AND is_active = ?", code, true).First(&rc).Error
	if err != nil {
		return nil, nil, storageErr("ledger.get_code", "referral code "+code, err)
	}
	return &rc, &rc.User, nil
}

func normalizeContact(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func sameAmount(a, b *int64) bool {
	if b == nil {
		return true
	}
	return a != nil && *a == *b
}
