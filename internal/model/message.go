package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Channel identifies the delivery gateway a message goes through.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// Status is the lifecycle state of a message.
//
// Lifecycle: queued -> (retry)* -> sent | failed. Cancelled is reachable
// from queued/retry only; sent, failed and cancelled are terminal.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRetry     Status = "retry"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition out of s is allowed.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

var ErrInvalidMessage = errors.New("invalid message")

var (
	phoneRe = regexp.MustCompile(`^\+?[1-9]\d{5,14}$`)
	emailRe = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)

	forbidden = []string{"<SCRIPT", "SELECT ", "INSERT ", "DELETE ", "UPDATE ", "DROP "}
)

// Message represents one outbound notification in the system.
type Message struct {
	ID             int64     `json:"id"`              // storage identifier, assigned on insert
	UUID           uuid.UUID `json:"uuid"`            // external reference, assigned at creation
	Channel        Channel   `json:"channel"`         // delivery gateway, "sms" or "email"
	To             string    `json:"to"`              // recipient phone number or email address
	Subject        string    `json:"subject,omitempty"` // email only
	Body           string    `json:"body"`            // SMS text or email body
	Status         Status    `json:"status"`          // current lifecycle state
	TaskID         string    `json:"task_id,omitempty"` // async dispatch unit handling this message
	CorrelationID  string    `json:"correlation_id,omitempty"`
	Attempts       int       `json:"attempts"` // delivery attempts made so far
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewSMS validates the inputs and builds an SMS message in the queued state.
func NewSMS(to, body, idempotencyKey, correlationID string) (Message, error) {
	to = strings.TrimSpace(to)
	body = strings.TrimSpace(body)

	if !phoneRe.MatchString(to) {
		return Message{}, fmt.Errorf("%w: invalid phone number format", ErrInvalidMessage)
	}
	if len(body) < 1 || len(body) > 500 {
		return Message{}, fmt.Errorf("%w: message length must be 1-500 characters", ErrInvalidMessage)
	}
	if containsForbidden(body) {
		return Message{}, fmt.Errorf("%w: message contains forbidden content", ErrInvalidMessage)
	}

	return Message{
		UUID:           uuid.New(),
		Channel:        ChannelSMS,
		To:             to,
		Body:           body,
		Status:         StatusQueued,
		IdempotencyKey: idempotencyKey,
		CorrelationID:  correlationID,
	}, nil
}

// NewEmail validates the inputs and builds an email message in the queued state.
func NewEmail(to, subject, body, idempotencyKey, correlationID string) (Message, error) {
	to = strings.TrimSpace(to)
	subject = strings.TrimSpace(subject)
	body = strings.TrimSpace(body)

	if len(to) > 255 || !emailRe.MatchString(to) {
		return Message{}, fmt.Errorf("%w: invalid email address format", ErrInvalidMessage)
	}
	if len(subject) < 1 || len(subject) > 500 {
		return Message{}, fmt.Errorf("%w: subject length must be 1-500 characters", ErrInvalidMessage)
	}
	if len(body) < 1 || len(body) > 10000 {
		return Message{}, fmt.Errorf("%w: body length must be 1-10000 characters", ErrInvalidMessage)
	}
	if containsForbidden(subject + " " + body) {
		return Message{}, fmt.Errorf("%w: message contains forbidden content", ErrInvalidMessage)
	}

	return Message{
		UUID:           uuid.New(),
		Channel:        ChannelEmail,
		To:             to,
		Subject:        subject,
		Body:           body,
		Status:         StatusQueued,
		IdempotencyKey: idempotencyKey,
		CorrelationID:  correlationID,
	}, nil
}

func containsForbidden(content string) bool {
	upper := strings.ToUpper(content)
	for _, f := range forbidden {
		if strings.Contains(upper, f) {
			return true
		}
	}
	return false
}
