package webhook

import (
	"testing"

	"referpay/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTransferEvent(t *testing.T) {
	body := []byte(`{
		"id": "evt_1",
		"object": "event",
		"type": "transfer.failed",
		"data": {"object": {"id": "tr_123", "object": "transfer", "metadata": {"payout_id": "42", "referral_id": "7"}, "failure_code": "account_closed"}}
	}`)
	ev, err := ParseTransferEvent(body)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.EventID)
	assert.Equal(t, domain.TransferEventFailed, ev.Type)
	assert.Equal(t, "tr_123", ev.TransferRef)
	assert.Equal(t, uint(42), ev.PayoutID)
	assert.Equal(t, "account_closed", ev.FailureMessage)
}

func TestParseTransferEventInvalid(t *testing.T) {
	_, err := ParseTransferEvent([]byte(`nope`))
	require.ErrorIs(t, err, ErrInvalidPayload)

	_, err = ParseTransferEvent([]byte(`{"id": "evt_2", "type": "transfer.paid"}`))
	require.ErrorIs(t, err, ErrInvalidPayload)

	_, err = ParseTransferEvent([]byte(`{"id": "evt_3", "type": "transfer.paid", "data": {"object": {"metadata": {}}}}`))
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestPayoutStatusFor(t *testing.T) {
	s, ok := PayoutStatusFor("transfer.created")
	assert.True(t, ok)
	assert.Equal(t, domain.PayoutProcessing, s)
	s, ok = PayoutStatusFor("transfer.paid")
	assert.True(t, ok)
	assert.Equal(t, domain.PayoutCompleted, s)
	s, ok = PayoutStatusFor("transfer.failed")
	assert.True(t, ok)
	assert.Equal(t, domain.PayoutFailed, s)
	_, ok = PayoutStatusFor("transfer.reversed")
	assert.False(t, ok)
}
