package webhook

import (
	"encoding/json"
	"fmt"
	"strconv"

	"referpay/internal/domain"

	"github.com/stripe/stripe-go/v80"
)

// TransferEvent is a transfer status notification from the payments platform.
type TransferEvent struct {
	EventID        string
	Type           string
	TransferRef    string
	PayoutID       uint
	FailureMessage string
}

// transferObject is the subset of the transfer object we read. It is decoded
// on its own rather than into stripe.Transfer so failure fields sent on older
// API versions survive.
type transferObject struct {
	ID             string            `json:"id"`
	Metadata       map[string]string `json:"metadata"`
	FailureMessage string            `json:"failure_message"`
	FailureCode    string            `json:"failure_code"`
}

// TransferEventFromStripe extracts a TransferEvent from a verified event.
func TransferEventFromStripe(ev stripe.Event) (TransferEvent, error) {
	out := TransferEvent{EventID: ev.ID, Type: string(ev.Type)}
	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return out, fmt.Errorf("%w: event %s has no data", ErrInvalidPayload, ev.ID)
	}
	var obj transferObject
	if err := json.Unmarshal(ev.Data.Raw, &obj); err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	out.TransferRef = obj.ID
	out.FailureMessage = obj.FailureMessage
	if out.FailureMessage == "" {
		out.FailureMessage = obj.FailureCode
	}
	if v := obj.Metadata["payout_id"]; v != "" {
		if id, err := strconv.ParseUint(v, 10, 64); err == nil {
			out.PayoutID = uint(id)
		}
	}
	if out.TransferRef == "" && out.PayoutID == 0 {
		return out, fmt.Errorf("%w: transfer id required", ErrInvalidPayload)
	}
	return out, nil
}

// ParseTransferEvent decodes an unsigned event body. Only used when no
// webhook secret is configured.
func ParseTransferEvent(body []byte) (TransferEvent, error) {
	var ev stripe.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return TransferEvent{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return TransferEventFromStripe(ev)
}

// PayoutStatusFor maps a transfer event type onto the payout status it
// implies. ok is false for event types the reconciler ignores.
func PayoutStatusFor(eventType string) (status domain.PayoutStatus, ok bool) {
	switch eventType {
	case domain.TransferEventCreated:
		return domain.PayoutProcessing, true
	case domain.TransferEventPaid:
		return domain.PayoutCompleted, true
	case domain.TransferEventFailed:
		return domain.PayoutFailed, true
	}
	return "", false
}
