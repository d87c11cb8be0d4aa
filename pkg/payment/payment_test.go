package payment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v80"
)

func TestClassifyStripeError(t *testing.T) {
	rejected := classifyStripeError(&stripe.Error{HTTPStatusCode: http.StatusBadRequest, Code: stripe.ErrorCodeInsufficientFunds, Msg: "balance too low"})
	assert.True(t, IsRejected(rejected))
	assert.Contains(t, rejected.Error(), "insufficient_funds")

	for _, code := range []int{http.StatusConflict, http.StatusTooManyRequests, http.StatusInternalServerError} {
		err := classifyStripeError(&stripe.Error{HTTPStatusCode: code, Msg: "try later"})
		assert.False(t, IsRejected(err), "status %d", code)
	}
	assert.False(t, IsRejected(classifyStripeError(context.DeadlineExceeded)))
}

func TestIsRejectedWrapped(t *testing.T) {
	err := fmt.Errorf("dispatch: %w", &RejectedError{Message: "no"})
	assert.True(t, IsRejected(err))
	assert.False(t, IsRejected(errors.New("boom")))
}

func TestStubProvider(t *testing.T) {
	var buf bytes.Buffer
	p := NewStubProvider(slog.New(slog.NewTextHandler(&buf, nil)))
	resp, err := p.CreateTransfer(context.Background(), TransferRequest{
		AmountCents: 100, Destination: "acct_private", IdempotencyKey: "k1",
		Metadata: map[string]string{"payout_id": "7"},
	})
	require.NoError(t, err)
	assert.Equal(t, "stub_tr_k1", resp.Reference)
	assert.Contains(t, buf.String(), "payout_id=7")
	assert.NotContains(t, buf.String(), "acct_private")

	resp, err = (&StubProvider{}).CreateTransfer(context.Background(), TransferRequest{IdempotencyKey: "k2"})
	require.NoError(t, err)
	assert.Equal(t, "stub_tr_k2", resp.Reference)
}

func TestStripeProviderRejectionLogsWithoutAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"type": "invalid_request_error", "code": "insufficient_funds", "message": "balance too low"}}`))
	}))
	defer srv.Close()

	var buf bytes.Buffer
	p := newStripeProvider("sk_test_123", time.Second, srv.URL, slog.New(slog.NewJSONHandler(&buf, nil)))
	_, err := p.CreateTransfer(context.Background(), TransferRequest{
		AmountCents: 500, Currency: "usd", Destination: "acct_private", IdempotencyKey: "payout-7-1",
		Metadata: map[string]string{"payout_id": "7"},
	})
	require.Error(t, err)
	assert.True(t, IsRejected(err))
	assert.Contains(t, buf.String(), `"payout_id":"7"`)
	assert.NotContains(t, buf.String(), "acct_private")
}
