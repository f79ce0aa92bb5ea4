// Package mail provides the outbound email-delivery channel used to send
// claim links. Delivery is best-effort; failures are the channel's concern
// and are not retried by callers.
package mail

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrDeliveryFailed is returned when the channel could not accept a message.
var ErrDeliveryFailed = errors.New("mail delivery failed")

// Channel accepts a recipient address and a claim URL for delivery.
type Channel interface {
	// Send dispatches a claim link to the recipient. Best-effort: a nil
	// return means the channel accepted the message, not that it was read.
	Send(ctx context.Context, email, claimURL string) error
}

// SlogChannel is a development channel that logs instead of delivering.
// The recipient address is never written to the log in clear form.
type SlogChannel struct {
	logger *slog.Logger
}

// NewSlogChannel creates a logging mail channel.
func NewSlogChannel(logger *slog.Logger) *SlogChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogChannel{logger: logger}
}

// Send logs the dispatch.
func (c *SlogChannel) Send(ctx context.Context, email, claimURL string) error {
	c.logger.Info("claim link dispatched",
		"recipient_domain", domainOf(email),
		"claim_url", claimURL)
	return nil
}

// domainOf returns the part of the address after '@', or empty.
func domainOf(email string) string {
	for i := len(email) - 1; i >= 0; i-- {
		if email[i] == '@' {
			return email[i+1:]
		}
	}
	return ""
}

// RecordingChannel captures sent messages for tests.
type RecordingChannel struct {
	mu   sync.Mutex
	sent []SentMessage
	// Err, when set, is returned from Send to simulate delivery failure.
	Err error
}

// SentMessage is one captured dispatch.
type SentMessage struct {
	Email    string
	ClaimURL string
}

// NewRecordingChannel creates a recording mail channel.
func NewRecordingChannel() *RecordingChannel {
	return &RecordingChannel{}
}

// Send records the message.
func (c *RecordingChannel) Send(ctx context.Context, email, claimURL string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.sent = append(c.sent, SentMessage{Email: email, ClaimURL: claimURL})
	return nil
}

// Sent returns a copy of all captured messages.
func (c *RecordingChannel) Sent() []SentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SentMessage, len(c.sent))
	copy(out, c.sent)
	return out
}
