package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"kufarwatch/internal/model"
)

const (
	sendAttempts  = 3 // retries of a transient failure per item
	sendBaseDelay = 2 * time.Second
	interSendGap  = 500 * time.Millisecond
)

// ItemQueue is the persistence surface the dispatcher needs.
type ItemQueue interface {
	UnsentItems(ctx context.Context) ([]model.UnsentItem, error)
	MarkDelivered(ctx context.Context, itemID int64) error
}

// Dispatcher drains undelivered items to their Telegram destinations.
// An item is marked delivered only after a confirmed send, so a crash
// between send and mark re-sends rather than drops.
type Dispatcher struct {
	queue     ItemQueue
	channel   Channel
	log       *slog.Logger
	retryBase time.Duration
	sendGap   time.Duration
}

func NewDispatcher(queue ItemQueue, channel Channel, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		queue:     queue,
		channel:   channel,
		log:       log,
		retryBase: sendBaseDelay,
		sendGap:   interSendGap,
	}
}

// DispatchPending sends every undelivered item. Transient failures are
// retried per item, honoring the channel's backoff hint; a permanent
// failure leaves the item undelivered and moves on. Returns the number
// of confirmed deliveries.
func (d *Dispatcher) DispatchPending(ctx context.Context) (int, error) {
	items, err := d.queue.UnsentItems(ctx)
	if err != nil {
		return 0, fmt.Errorf("load unsent items: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	sent := 0
	for i, it := range items {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if i > 0 && d.sendGap > 0 {
			select {
			case <-ctx.Done():
				return sent, ctx.Err()
			case <-time.After(d.sendGap):
			}
		}

		if err := d.deliver(ctx, it); err != nil {
			var perm *PermanentError
			if errors.As(err, &perm) {
				d.log.Error("destination rejected item, leaving undelivered",
					"item_id", it.ID, "chat_id", it.TelegramChatID, "reason", perm.Reason)
				continue
			}
			d.log.Warn("delivery failed, will retry next run",
				"item_id", it.ID, "error", err)
			continue
		}

		if err := d.queue.MarkDelivered(ctx, it.ID); err != nil {
			return sent, fmt.Errorf("mark item %d delivered: %w", it.ID, err)
		}
		sent++
	}

	d.log.Info("dispatch finished", "sent", sent, "pending", len(items)-sent)
	return sent, nil
}

// deliver sends one item, retrying transient failures with backoff.
func (d *Dispatcher) deliver(ctx context.Context, it model.UnsentItem) error {
	msg := Message{
		ChatID:   it.TelegramChatID,
		ThreadID: it.TelegramThreadID,
		Text:     FormatItem(it),
	}
	if len(it.Images) > 0 {
		msg.ImageURL = it.Images[0]
	}

	// When the channel supplies a retry-after hint it replaces the next
	// exponential wait instead of stacking on top of it.
	var hint time.Duration
	exp := retry.NewExponential(d.retryBase)
	backoff := retry.WithMaxRetries(sendAttempts-1, retry.BackoffFunc(func() (time.Duration, bool) {
		next, stop := exp.Next()
		if stop {
			return 0, true
		}
		if hint > 0 {
			next = hint
			hint = 0
		}
		return next, false
	}))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := d.channel.Send(ctx, msg)
		if err == nil {
			return nil
		}

		var transient *TransientError
		if errors.As(err, &transient) {
			hint = transient.RetryAfter
			return retry.RetryableError(err)
		}
		return err
	})
}
