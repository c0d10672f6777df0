// Package email delivers sync reports to unit leaders.
package email

import (
	"context"
	"time"
)

// SendRequest is one message for the provider.
type SendRequest struct {
	To      []string
	From    string // empty uses the sender's default
	Subject string
	HTML    string
	Text    string // plain-text alternative
	ReplyTo string
}

// SendResult is the provider's acknowledgement.
type SendResult struct {
	MessageID string
	SentAt    time.Time
}

// Sender delivers email through an external provider.
type Sender interface {
	Send(ctx context.Context, req SendRequest) (SendResult, error)
	SendBatch(ctx context.Context, reqs []SendRequest) ([]SendResult, error)
}

// NewSender returns a Resend sender when apiKey is set and a logging no-op otherwise.
func NewSender(apiKey, from string) Sender {
	if apiKey == "" {
		return NewNoopSender()
	}
	return NewResendSender(apiKey, from)
}
