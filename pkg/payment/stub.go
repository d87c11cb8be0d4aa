package payment

import (
	"context"
	"log/slog"
)

// StubProvider acknowledges every transfer without moving money; used when no
// payments-platform key is configured.
type StubProvider struct {
	log *slog.Logger
}

func NewStubProvider(log *slog.Logger) *StubProvider {
	if log == nil {
		log = slog.Default()
	}
	return &StubProvider{log: log}
}

func (s *StubProvider) CreateTransfer(ctx context.Context, req TransferRequest) (*TransferResponse, error) {
	ref := "stub_tr_" + req.IdempotencyKey
	log := s.log
	if log == nil {
		log = slog.Default()
	}
	log.Warn("stub transfer created, no money moved",
		"transfer_ref", ref, "amount_cents", req.AmountCents, "payout_id", req.Metadata["payout_id"])
	return &TransferResponse{Reference: ref, Status: "created"}, nil
}
