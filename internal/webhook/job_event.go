// Package webhook holds the validated record types for inbound platform
// notifications and the pure functions mapping them onto ledger statuses.
// Nothing here touches storage.
package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"referpay/internal/domain"
)

var ErrInvalidPayload = errors.New("invalid webhook payload")

// Invoice is one invoice attached to a job.
type Invoice struct {
	ID     string
	Status string
}

// JobEvent is a job/invoice lifecycle notification from the job platform.
type JobEvent struct {
	EventType     string
	JobRef        string
	JobStatus     string
	Invoices      []Invoice
	TotalCents    *int64
	CompletedAt   *time.Time
	ReferralCode  string
	ClientContact string
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type invoicePayload struct {
	ID     flexString `json:"id"`
	Status string     `json:"status"`
}

type clientPayload struct {
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type jobPayload struct {
	ID           flexString       `json:"id"`
	Status       string           `json:"status"`
	Total        flexString       `json:"total"`
	CompletedAt  string           `json:"completed_at"`
	ReferralCode string           `json:"referral_code"`
	Client       clientPayload    `json:"client"`
	Invoices     []invoicePayload `json:"invoices"`
}

// jobWebhook is the envelope the job platform posts. Invoices may appear on
// the job, at the top level, or as a single invoice object; unknown fields are
// ignored.
type jobWebhook struct {
	Event        string           `json:"event"`
	Job          jobPayload       `json:"job"`
	Invoices     []invoicePayload `json:"invoices"`
	Invoice      *invoicePayload  `json:"invoice"`
	ReferralCode string           `json:"referral_code"`
	Client       *clientPayload   `json:"client"`
}

// ParseJobEvent validates a raw job-platform payload.
func ParseJobEvent(body []byte) (JobEvent, error) {
	var w jobWebhook
	if err := json.Unmarshal(body, &w); err != nil {
		return JobEvent{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	ev := JobEvent{
		EventType:    strings.ToLower(strings.TrimSpace(w.Event)),
		JobRef:       strings.TrimSpace(string(w.Job.ID)),
		JobStatus:    strings.ToLower(strings.TrimSpace(w.Job.Status)),
		ReferralCode: strings.TrimSpace(w.Job.ReferralCode),
	}
	if ev.JobRef == "" {
		return JobEvent{}, fmt.Errorf("%w: job id required", ErrInvalidPayload)
	}
	if ev.ReferralCode == "" {
		ev.ReferralCode = strings.TrimSpace(w.ReferralCode)
	}
	client := w.Job.Client
	if client.Email == "" && client.Phone == "" && w.Client != nil {
		client = *w.Client
	}
	ev.ClientContact = strings.TrimSpace(client.Email)
	if ev.ClientContact == "" {
		ev.ClientContact = strings.TrimSpace(client.Phone)
	}

	invoices := append([]invoicePayload{}, w.Job.Invoices...)
	invoices = append(invoices, w.Invoices...)
	if w.Invoice != nil {
		invoices = append(invoices, *w.Invoice)
	}
	seen := map[string]int{}
	for _, inv := range invoices {
		item := Invoice{ID: string(inv.ID), Status: strings.ToLower(strings.TrimSpace(inv.Status))}
		if i, ok := seen[item.ID]; ok && item.ID != "" {
			ev.Invoices[i] = item
			continue
		}
		seen[item.ID] = len(ev.Invoices)
		ev.Invoices = append(ev.Invoices, item)
	}

	if w.Job.Total != "" {
		cents, err := ToCents(string(w.Job.Total))
		if err != nil {
			return JobEvent{}, fmt.Errorf("%w: total: %v", ErrInvalidPayload, err)
		}
		ev.TotalCents = &cents
	}
	if w.Job.CompletedAt != "" {
		if t, err := time.Parse(time.RFC3339, w.Job.CompletedAt); err == nil {
			ev.CompletedAt = &t
		}
	}
	return ev, nil
}

// MaxAmountCents is the largest job total accepted, in minor units.
const MaxAmountCents int64 = 100_000_000_000_000

// ToCents converts a decimal major-unit amount ("1000.50") to minor units.
// Amounts above MaxAmountCents are rejected with ErrInvalidPayload.
func ToCents(amount string) (int64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(amount), 64)
	if err != nil {
		return 0, err
	}
	if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("amount %q out of range", amount)
	}
	cents := math.Round(f * 100)
	if cents > float64(MaxAmountCents) {
		return 0, fmt.Errorf("%w: amount %q exceeds %d cents", ErrInvalidPayload, amount, MaxAmountCents)
	}
	return int64(cents), nil
}

var (
	cancelledJobStatuses = map[string]bool{"cancelled": true, "canceled": true}
	completeJobStatuses  = map[string]bool{"completed": true, "complete": true}
)

// NormalizeJobStatus derives the referral status a job event implies. A job
// is completed only when the job is complete and every attached invoice is
// paid; cancellation in either the event type or the job status wins.
func NormalizeJobStatus(ev JobEvent) domain.ReferralStatus {
	if cancelledJobStatuses[ev.JobStatus] || strings.HasSuffix(ev.EventType, ".cancelled") || strings.HasSuffix(ev.EventType, ".canceled") {
		return domain.ReferralCancelled
	}
	if completeJobStatuses[ev.JobStatus] && invoicesPaid(ev.Invoices) {
		return domain.ReferralCompleted
	}
	return domain.ReferralPending
}

func invoicesPaid(invoices []Invoice) bool {
	if len(invoices) == 0 {
		return false
	}
	for _, inv := range invoices {
		if inv.Status != "paid" {
			return false
		}
	}
	return true
}
