// Package eventx publishes domain events. Publishing is best-effort: callers log
// failures and never fail a request because of them.
package eventx

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	OTPIssued         = "otp.issued"
	OTPVerified       = "otp.verified"
	OTPDeliveryFailed = "otp.delivery_failed"
	WithdrawalCreated = "withdrawal.created"
	withdrawalPrefix  = "withdrawal."
)

// Event is a domain event. Data must never carry codes or hashes.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	SubjectID  string         `json:"subject_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

// New builds an event stamped with a fresh id and the current time.
func New(eventType, subjectID string, data map[string]any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		SubjectID:  subjectID,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

// WithdrawalStatus returns the event type for a withdrawal entering status.
func WithdrawalStatus(status string) string {
	return withdrawalPrefix + status
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }
