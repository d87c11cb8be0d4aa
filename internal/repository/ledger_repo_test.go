package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"referpay/internal/domain"
	"referpay/internal/models"
	"referpay/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func fivePercent(total int64) int64 { return total * 5 / 100 }

func int64p(v int64) *int64 { return &v }

func newLedger(t *testing.T) (*Ledger, *gorm.DB, *models.User) {
	t.Helper()
	db := testutil.NewDB(t)
	owner := testutil.CreateUser(t, db, "a@example.com", "acct_a")
	testutil.CreateCode(t, db, owner.ID, "ABC123")
	return NewLedger(db), db, owner
}

func completedReferral(t *testing.T, l *Ledger, jobRef string) *models.Referral {
	t.Helper()
	ref, outcome, err := l.RecordJobEvent(context.Background(), JobEventInput{
		JobRef:        jobRef,
		ReferralCode:  "abc123",
		Contact:       "client@example.com",
		Status:        domain.ReferralCompleted,
		JobTotalCents: int64p(100000),
		Reward:        fivePercent,
	})
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeApplied, outcome)
	return ref
}

func TestRecordJobEventIdempotentOnJobRef(t *testing.T) {
	l, db, owner := newLedger(t)
	ctx := context.Background()
	in := JobEventInput{JobRef: "J1", ReferralCode: "abc123", Contact: "Client@Example.com", Status: domain.ReferralPending}

	ref, outcome, err := l.RecordJobEvent(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, outcome)
	assert.Equal(t, owner.ID, ref.ReferrerID)
	assert.Equal(t, "client@example.com", ref.ReferredContact)
	assert.Equal(t, "J1", ref.JobRef())

	_, outcome, err = l.RecordJobEvent(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, outcome)

	in.Status = domain.ReferralCompleted
	in.JobTotalCents = int64p(100000)
	in.Reward = fivePercent
	done, outcome, err := l.RecordJobEvent(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, outcome)
	assert.Equal(t, ref.ID, done.ID)
	assert.Equal(t, domain.ReferralCompleted, done.Status)
	assert.Equal(t, int64(5000), done.Reward())
	assert.NotNil(t, done.JobCompletedAt)

	_, outcome, err = l.RecordJobEvent(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, outcome)

	var count int64
	require.NoError(t, db.Model(&models.Referral{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRecordJobEventTerminalPrecedence(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()
	ref := completedReferral(t, l, "J1")

	got, outcome, err := l.RecordJobEvent(ctx, JobEventInput{JobRef: "J1", Status: domain.ReferralCancelled})
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, domain.OutcomeConflict, outcome)
	assert.Equal(t, domain.ReferralCompleted, got.Status)

	got, outcome, err = l.RecordJobEvent(ctx, JobEventInput{JobRef: "J1", Status: domain.ReferralPending})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, outcome)
	assert.Equal(t, domain.ReferralCompleted, got.Status)

	fresh, err := l.GetReferral(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReferralCompleted, fresh.Status)
	assert.Nil(t, fresh.CancelledAt)
}

func TestRecordJobEventCancelledThenCompletedConflicts(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()
	_, outcome, err := l.RecordJobEvent(ctx, JobEventInput{JobRef: "J2", ReferralCode: "ABC123", Status: domain.ReferralCancelled})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, outcome)

	got, outcome, err := l.RecordJobEvent(ctx, JobEventInput{JobRef: "J2", Status: domain.ReferralCompleted, JobTotalCents: int64p(5000), Reward: fivePercent})
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, domain.OutcomeConflict, outcome)
	assert.Equal(t, domain.ReferralCancelled, got.Status)
	assert.Nil(t, got.RewardCents)
}

func TestRecordJobEventUnknownReferral(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()

	_, _, err := l.RecordJobEvent(ctx, JobEventInput{JobRef: "J9", ReferralCode: "NOPE", Status: domain.ReferralPending})
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = l.RecordJobEvent(ctx, JobEventInput{JobRef: "J9", Status: domain.ReferralPending})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRecordJobEventRejectsSelfReferral(t *testing.T) {
	l, _, _ := newLedger(t)
	_, _, err := l.RecordJobEvent(context.Background(), JobEventInput{
		JobRef: "J1", ReferralCode: "ABC123", Contact: "A@example.com", Status: domain.ReferralPending,
	})
	require.ErrorIs(t, err, domain.ErrSelfReferral)
}

func TestRecordJobEventLinksSeededReferral(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()

	anon, err := l.CreateReferral(ctx, "abc123", "")
	require.NoError(t, err)
	named, err := l.CreateReferral(ctx, "ABC123", "client@example.com")
	require.NoError(t, err)
	again, err := l.CreateReferral(ctx, "ABC123", "CLIENT@example.com")
	require.NoError(t, err)
	assert.Equal(t, named.ID, again.ID)

	ref, _, err := l.RecordJobEvent(ctx, JobEventInput{JobRef: "J1", ReferralCode: "ABC123", Contact: "client@example.com", Status: domain.ReferralPending})
	require.NoError(t, err)
	assert.Equal(t, named.ID, ref.ID)

	ref, _, err = l.RecordJobEvent(ctx, JobEventInput{JobRef: "J2", ReferralCode: "ABC123", Contact: "other@example.com", Status: domain.ReferralPending})
	require.NoError(t, err)
	assert.Equal(t, anon.ID, ref.ID)

	_, err = l.CreateReferral(ctx, "ABC123", "a@example.com")
	require.ErrorIs(t, err, domain.ErrSelfReferral)
	_, err = l.CreateReferral(ctx, "MISSING", "x@example.com")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMarkPayoutEligibleSingleWinner(t *testing.T) {
	l, db, owner := newLedger(t)
	ref := completedReferral(t, l, "J1")

	const callers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  int
		triggers int
		others   []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := l.MarkPayoutEligible(context.Background(), ref.ID, "USD")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && p != nil:
				winners++
			case err != nil && errors.Is(err, domain.ErrAlreadyTriggered):
				triggers++
			default:
				others = append(others, err)
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, others)
	assert.Equal(t, 1, winners)
	assert.Equal(t, callers-1, triggers)

	var payouts []models.Payout
	require.NoError(t, db.Find(&payouts).Error)
	require.Len(t, payouts, 1)
	assert.Equal(t, 1, payouts[0].Attempt)
	assert.Equal(t, int64(5000), payouts[0].AmountCents)
	assert.Equal(t, "usd", payouts[0].Currency)
	assert.Equal(t, owner.ID, payouts[0].UserID)
	assert.Equal(t, domain.PayoutPending, payouts[0].Status)
	assert.NotEmpty(t, payouts[0].IdempotencyKey)

	fresh, err := l.GetReferral(context.Background(), ref.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, fresh.PayoutAttempts)
	assert.NotNil(t, fresh.RewardTriggeredAt)
}

func TestMarkPayoutEligibleNotEligible(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()

	pending, _, err := l.RecordJobEvent(ctx, JobEventInput{JobRef: "J1", ReferralCode: "ABC123", Status: domain.ReferralPending})
	require.NoError(t, err)
	_, err = l.MarkPayoutEligible(ctx, pending.ID, "usd")
	require.ErrorIs(t, err, domain.ErrNotEligible)

	noTotal, _, err := l.RecordJobEvent(ctx, JobEventInput{JobRef: "J2", ReferralCode: "ABC123", Status: domain.ReferralCompleted, Reward: fivePercent})
	require.NoError(t, err)
	assert.Nil(t, noTotal.RewardCents)
	_, err = l.MarkPayoutEligible(ctx, noTotal.ID, "usd")
	require.ErrorIs(t, err, domain.ErrNotEligible)

	withReward, err := l.SetReward(ctx, noTotal.ID, 40000, fivePercent(40000))
	require.NoError(t, err)
	assert.Equal(t, int64(2000), withReward.Reward())
	p, err := l.MarkPayoutEligible(ctx, noTotal.ID, "usd")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), p.AmountCents)

	unchanged, err := l.SetReward(ctx, noTotal.ID, 90000, 9999)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), unchanged.Reward())
}

func TestClaimDispatchOnce(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()
	ref := completedReferral(t, l, "J1")
	p, err := l.MarkPayoutEligible(ctx, ref.ID, "usd")
	require.NoError(t, err)

	ok, err := l.ClaimDispatch(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = l.ClaimDispatch(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApplyTransferEventMonotonic(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()
	ref := completedReferral(t, l, "J1")
	p, err := l.MarkPayoutEligible(ctx, ref.ID, "usd")
	require.NoError(t, err)
	_, outcome, err := l.MarkPayoutDispatched(ctx, p.ID, "tr_1")
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeApplied, outcome)

	got, outcome, err := l.ApplyTransferEvent(ctx, TransferEventInput{TransferRef: "tr_1", Status: domain.PayoutProcessing})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, outcome)
	assert.Equal(t, domain.PayoutProcessing, got.Status)

	got, outcome, err = l.ApplyTransferEvent(ctx, TransferEventInput{TransferRef: "tr_1", Status: domain.PayoutFailed, Reason: "account closed"})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, outcome)
	assert.Equal(t, domain.PayoutFailed, got.Status)
	require.NotNil(t, got.FailureReason)
	assert.Equal(t, "account closed", *got.FailureReason)
	assert.NotNil(t, got.FailedAt)

	got, outcome, err = l.ApplyTransferEvent(ctx, TransferEventInput{TransferRef: "tr_1", Status: domain.PayoutProcessing})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, outcome)
	assert.Equal(t, domain.PayoutFailed, got.Status)

	got, outcome, err = l.ApplyTransferEvent(ctx, TransferEventInput{TransferRef: "tr_1", Status: domain.PayoutCompleted})
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, domain.OutcomeConflict, outcome)
	assert.Equal(t, domain.PayoutFailed, got.Status)
	assert.Nil(t, got.CompletedAt)
}

func TestApplyTransferEventBeforeAcknowledgment(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()
	ref := completedReferral(t, l, "J1")
	p, err := l.MarkPayoutEligible(ctx, ref.ID, "usd")
	require.NoError(t, err)
	_, err = l.ClaimDispatch(ctx, p.ID)
	require.NoError(t, err)

	got, outcome, err := l.ApplyTransferEvent(ctx, TransferEventInput{TransferRef: "tr_9", PayoutID: p.ID, Status: domain.PayoutCompleted})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, outcome)
	assert.Equal(t, "tr_9", got.TransferRef())
	assert.Equal(t, domain.PayoutCompleted, got.Status)

	got, outcome, err = l.MarkPayoutDispatched(ctx, p.ID, "tr_9")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, outcome)
	assert.Equal(t, domain.PayoutCompleted, got.Status)

	_, _, err = l.ApplyTransferEvent(ctx, TransferEventInput{TransferRef: "tr_other", PayoutID: p.ID, Status: domain.PayoutCompleted})
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, _, err = l.ApplyTransferEvent(ctx, TransferEventInput{TransferRef: "tr_unknown", Status: domain.PayoutCompleted})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateRetryPayoutBounded(t *testing.T) {
	l, db, _ := newLedger(t)
	ctx := context.Background()
	ref := completedReferral(t, l, "J1")
	first, err := l.MarkPayoutEligible(ctx, ref.ID, "usd")
	require.NoError(t, err)

	_, err = l.CreateRetryPayout(ctx, ref.ID, 3, "usd")
	require.ErrorIs(t, err, domain.ErrConflict, "attempt 1 is still pending")

	_, _, err = l.MarkPayoutFailed(ctx, first.ID, "insufficient funds")
	require.NoError(t, err)
	second, err := l.CreateRetryPayout(ctx, ref.ID, 3, "usd")
	require.NoError(t, err)
	assert.Equal(t, 2, second.Attempt)
	assert.Equal(t, first.AmountCents, second.AmountCents)
	assert.NotEqual(t, first.IdempotencyKey, second.IdempotencyKey)

	_, _, err = l.MarkPayoutFailed(ctx, second.ID, "insufficient funds")
	require.NoError(t, err)
	third, err := l.CreateRetryPayout(ctx, ref.ID, 3, "usd")
	require.NoError(t, err)
	assert.Equal(t, 3, third.Attempt)

	_, _, err = l.MarkPayoutFailed(ctx, third.ID, "insufficient funds")
	require.NoError(t, err)
	_, err = l.CreateRetryPayout(ctx, ref.ID, 3, "usd")
	require.ErrorIs(t, err, domain.ErrAttemptsExhausted)

	var count int64
	require.NoError(t, db.Model(&models.Payout{}).Where("referral_id = ?", ref.ID).Count(&count).Error)
	assert.Equal(t, int64(3), count)

	latest, err := l.LatestPayout(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, third.ID, latest.ID)
}

func TestMarkPayoutFailedOnlyFromPending(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()
	ref := completedReferral(t, l, "J1")
	p, err := l.MarkPayoutEligible(ctx, ref.ID, "usd")
	require.NoError(t, err)
	_, _, err = l.MarkPayoutDispatched(ctx, p.ID, "tr_1")
	require.NoError(t, err)

	got, outcome, err := l.MarkPayoutFailed(ctx, p.ID, "late")
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, domain.OutcomeConflict, outcome)
	assert.Equal(t, domain.PayoutProcessing, got.Status)
}

func TestListRetryCandidates(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()
	ref := completedReferral(t, l, "J1")
	p, err := l.MarkPayoutEligible(ctx, ref.ID, "usd")
	require.NoError(t, err)
	_, _, err = l.MarkPayoutFailed(ctx, p.ID, "insufficient funds")
	require.NoError(t, err)

	list, err := l.ListRetryCandidates(ctx, 3, time.Now().UTC().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, p.ID, list[0].ID)

	list, err = l.ListRetryCandidates(ctx, 1, time.Now().UTC().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = l.ListRetryCandidates(ctx, 3, time.Now().UTC().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}
