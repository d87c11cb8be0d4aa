package payment

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
)

// StripeProvider creates Connect transfers to referrers' connected accounts.
type StripeProvider struct {
	api     *client.API
	timeout time.Duration
	log     *slog.Logger
}

// NewStripeProvider builds a client whose backends never retry on their own:
// a transfer whose outcome is unknown is resolved by the transfer webhook,
// not by resending it.
func NewStripeProvider(secretKey string, timeout time.Duration, log *slog.Logger) *StripeProvider {
	return newStripeProvider(secretKey, timeout, "", log)
}

// newStripeProvider points every backend at apiURL when it is set.
func newStripeProvider(secretKey string, timeout time.Duration, apiURL string, log *slog.Logger) *StripeProvider {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	cfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(0),
	}
	if apiURL != "" {
		cfg.URL = stripe.String(apiURL)
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, cfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, cfg),
	}
	return &StripeProvider{api: client.New(secretKey, backends), timeout: timeout, log: log}
}

func (p *StripeProvider) CreateTransfer(ctx context.Context, req TransferRequest) (*TransferResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := &stripe.TransferParams{
		Amount:      stripe.Int64(req.AmountCents),
		Currency:    stripe.String(req.Currency),
		Destination: stripe.String(req.Destination),
		Description: stripe.String(req.Description),
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	log := p.log.With("payout_id", req.Metadata["payout_id"])
	log.Info("stripe transfer request", "amount_cents", req.AmountCents, "currency", req.Currency)
	tr, err := p.api.Transfers.New(params)
	if err != nil {
		err = classifyStripeError(err)
		log.Warn("stripe transfer request failed", "rejected", IsRejected(err), "error", err)
		return nil, err
	}
	return &TransferResponse{Reference: tr.ID, Status: "created"}, nil
}

// classifyStripeError turns definitive 4xx refusals into RejectedError.
// 409 (idempotent request in flight) and 429 keep the outcome unknown, as do
// network errors, timeouts and 5xx.
func classifyStripeError(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return err
	}
	code := se.HTTPStatusCode
	if code >= 400 && code < 500 && code != http.StatusConflict && code != http.StatusTooManyRequests {
		return &RejectedError{Code: string(se.Code), Message: se.Msg, Err: err}
	}
	return err
}
