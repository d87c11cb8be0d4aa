package webhook

import (
	"testing"

	"referpay/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJobEvent(t *testing.T) {
	body := []byte(`{
		"event": "job.completed",
		"job": {
			"id": 4821,
			"status": "Completed",
			"total": "1000.00",
			"completed_at": "2026-03-01T10:00:00Z",
			"referral_code": " abc123 ",
			"client": {"email": "Client@Example.com", "phone": "+15550100"},
			"invoices": [{"id": 1, "status": "open"}]
		},
		"invoices": [{"id": 1, "status": "PAID"}, {"id": "2", "status": "paid"}]
	}`)
	ev, err := ParseJobEvent(body)
	require.NoError(t, err)
	assert.Equal(t, "4821", ev.JobRef)
	assert.Equal(t, "job.completed", ev.EventType)
	assert.Equal(t, "completed", ev.JobStatus)
	assert.Equal(t, "abc123", ev.ReferralCode)
	assert.Equal(t, "Client@Example.com", ev.ClientContact)
	require.NotNil(t, ev.TotalCents)
	assert.Equal(t, int64(100000), *ev.TotalCents)
	require.NotNil(t, ev.CompletedAt)
	assert.Equal(t, 2026, ev.CompletedAt.Year())
	assert.Equal(t, []Invoice{{ID: "1", Status: "paid"}, {ID: "2", Status: "paid"}}, ev.Invoices)
	assert.Equal(t, domain.ReferralCompleted, NormalizeJobStatus(ev))
}

func TestParseJobEventFallbacks(t *testing.T) {
	body := []byte(`{
		"event": "invoice.paid",
		"job": {"id": "J-7", "status": "in_progress", "total": 250.5, "completed_at": "yesterday"},
		"invoice": {"id": "inv_9", "status": "paid"},
		"referral_code": "XYZ",
		"client": {"phone": "+15550100"}
	}`)
	ev, err := ParseJobEvent(body)
	require.NoError(t, err)
	assert.Equal(t, "XYZ", ev.ReferralCode)
	assert.Equal(t, "+15550100", ev.ClientContact)
	assert.Equal(t, int64(25050), *ev.TotalCents)
	assert.Nil(t, ev.CompletedAt)
	assert.Len(t, ev.Invoices, 1)
	assert.Equal(t, domain.ReferralPending, NormalizeJobStatus(ev))
}

func TestParseJobEventInvalid(t *testing.T) {
	for name, body := range map[string]string{
		"not json":       `{`,
		"missing job id": `{"job": {"status": "completed"}}`,
		"negative total": `{"job": {"id": "J1", "total": "-5"}}`,
		"garbage total":  `{"job": {"id": "J1", "total": "a lot"}}`,
		"huge total":     `{"job": {"id": "J1", "total": "1e20"}}`,
		"huge number":    `{"job": {"id": "J1", "total": 1e300}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseJobEvent([]byte(body))
			require.ErrorIs(t, err, ErrInvalidPayload)
		})
	}
}

func TestNormalizeJobStatus(t *testing.T) {
	paid := []Invoice{{ID: "1", Status: "paid"}}
	tests := []struct {
		name string
		ev   JobEvent
		want domain.ReferralStatus
	}{
		{"complete and paid", JobEvent{JobStatus: "complete", Invoices: paid}, domain.ReferralCompleted},
		{"complete without invoices", JobEvent{JobStatus: "completed"}, domain.ReferralPending},
		{"complete with unpaid invoice", JobEvent{JobStatus: "completed", Invoices: append(paid, Invoice{ID: "2", Status: "open"})}, domain.ReferralPending},
		{"paid but job open", JobEvent{JobStatus: "in_progress", Invoices: paid}, domain.ReferralPending},
		{"cancelled status", JobEvent{JobStatus: "canceled", Invoices: paid}, domain.ReferralCancelled},
		{"cancelled event", JobEvent{EventType: "job.cancelled", JobStatus: "completed", Invoices: paid}, domain.ReferralCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeJobStatus(tt.ev))
		})
	}
}

func TestToCents(t *testing.T) {
	n, err := ToCents("19.999")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), n)
	n, err = ToCents("0")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	_, err = ToCents("-1")
	assert.Error(t, err)

	n, err = ToCents("1000000000000")
	require.NoError(t, err)
	assert.Equal(t, MaxAmountCents, n)
	_, err = ToCents("1000000000000.01")
	require.ErrorIs(t, err, ErrInvalidPayload)
	_, err = ToCents("1e20")
	require.ErrorIs(t, err, ErrInvalidPayload)
}
