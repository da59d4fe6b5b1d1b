// Package notify delivers new listings to Telegram. Sends either
// succeed, fail permanently (bad destination, never retried) or fail
// transiently (retried with the channel's own backoff hint).
package notify

import (
	"context"
	"fmt"
	"time"
)

// Message is one outbound notification.
type Message struct {
	ChatID   int64
	ThreadID int64
	Text     string
	ImageURL string
}

// Channel is a destination capable of delivering messages.
type Channel interface {
	Send(ctx context.Context, msg Message) error
}

// PermanentError marks a send that will never succeed against this
// destination. The item stays undelivered.
type PermanentError struct {
	Reason string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent delivery failure: %s", e.Reason)
}

// TransientError marks a send worth retrying. RetryAfter, when set,
// carries the channel's own backoff hint.
type TransientError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient delivery failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }
