package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"kufarwatch/internal/model"
)

type fakeQueue struct {
	items     []model.UnsentItem
	delivered []int64
	loadErr   error
}

func (q *fakeQueue) UnsentItems(context.Context) ([]model.UnsentItem, error) {
	return q.items, q.loadErr
}

func (q *fakeQueue) MarkDelivered(_ context.Context, itemID int64) error {
	q.delivered = append(q.delivered, itemID)
	return nil
}

type fakeChannel struct {
	sent []Message
	errs map[int64][]error // per chat id, consumed in order
}

func (c *fakeChannel) Send(_ context.Context, msg Message) error {
	if queued := c.errs[msg.ChatID]; len(queued) > 0 {
		err := queued[0]
		c.errs[msg.ChatID] = queued[1:]
		if err != nil {
			return err
		}
	}
	c.sent = append(c.sent, msg)
	return nil
}

func unsent(id int64, chatID int64, title string) model.UnsentItem {
	return model.UnsentItem{
		Item:           model.Item{ID: id, KufarID: "k" + title, Title: title, Price: 15000},
		SearchName:     "куртки",
		TelegramChatID: chatID,
	}
}

func newTestDispatcher(q ItemQueue, ch Channel) *Dispatcher {
	d := NewDispatcher(q, ch, slog.New(slog.NewTextHandler(io.Discard, nil)))
	d.retryBase = time.Millisecond
	d.sendGap = 0
	return d
}

func TestDispatchPending(t *testing.T) {
	queue := &fakeQueue{items: []model.UnsentItem{
		unsent(1, 100, "Куртка"),
		unsent(2, 100, "Ботинки"),
	}}
	channel := &fakeChannel{}
	d := newTestDispatcher(queue, channel)

	sent, err := d.DispatchPending(context.Background())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sent != 2 {
		t.Errorf("sent = %d, want 2", sent)
	}
	if len(queue.delivered) != 2 || queue.delivered[0] != 1 || queue.delivered[1] != 2 {
		t.Errorf("delivered ids = %v", queue.delivered)
	}
	if !strings.Contains(channel.sent[0].Text, "Куртка") {
		t.Errorf("message text: %q", channel.sent[0].Text)
	}
}

func TestDispatchRetriesTransient(t *testing.T) {
	queue := &fakeQueue{items: []model.UnsentItem{unsent(1, 100, "Куртка")}}
	channel := &fakeChannel{errs: map[int64][]error{
		100: {&TransientError{Err: errors.New("timeout")}},
	}}
	d := newTestDispatcher(queue, channel)

	sent, err := d.DispatchPending(context.Background())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sent != 1 || len(queue.delivered) != 1 {
		t.Errorf("sent = %d, delivered = %v", sent, queue.delivered)
	}
}

func TestDispatchPermanentSkips(t *testing.T) {
	queue := &fakeQueue{items: []model.UnsentItem{
		unsent(1, 100, "Куртка"),
		unsent(2, 200, "Ботинки"),
	}}
	channel := &fakeChannel{errs: map[int64][]error{
		100: {
			&PermanentError{Reason: "chat not found"},
			&PermanentError{Reason: "chat not found"},
			&PermanentError{Reason: "chat not found"},
		},
	}}
	d := newTestDispatcher(queue, channel)

	sent, err := d.DispatchPending(context.Background())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sent != 1 {
		t.Fatalf("sent = %d, want 1", sent)
	}
	if len(queue.delivered) != 1 || queue.delivered[0] != 2 {
		t.Errorf("delivered ids = %v, want [2]", queue.delivered)
	}
}

func TestDispatchTransientExhaustedLeavesUndelivered(t *testing.T) {
	transient := &TransientError{Err: errors.New("flaky")}
	queue := &fakeQueue{items: []model.UnsentItem{unsent(1, 100, "Куртка")}}
	channel := &fakeChannel{errs: map[int64][]error{
		100: {transient, transient, transient, transient},
	}}
	d := newTestDispatcher(queue, channel)

	sent, err := d.DispatchPending(context.Background())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sent != 0 || len(queue.delivered) != 0 {
		t.Errorf("sent = %d, delivered = %v, want none", sent, queue.delivered)
	}
}

func TestDispatchRetryAfterReplacesBackoff(t *testing.T) {
	queue := &fakeQueue{items: []model.UnsentItem{unsent(1, 100, "Куртка")}}
	channel := &fakeChannel{errs: map[int64][]error{
		100: {&TransientError{RetryAfter: time.Millisecond, Err: errors.New("too many requests")}},
	}}
	d := newTestDispatcher(queue, channel)
	// A large base delay: the retry-after hint must replace it, not add
	// a second wait before or after it.
	d.retryBase = 2 * time.Second

	start := time.Now()
	sent, err := d.DispatchPending(context.Background())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sent != 1 {
		t.Fatalf("sent = %d, want 1", sent)
	}
	if elapsed := time.Since(start); elapsed >= time.Second {
		t.Errorf("delivery took %v, hint did not replace the backoff", elapsed)
	}
}

func TestDispatchUsesFirstImage(t *testing.T) {
	it := unsent(1, 100, "Куртка")
	it.Images = []string{"https://rms.kufar.by/v1/gallery/a.jpg", "https://rms.kufar.by/v1/gallery/b.jpg"}
	queue := &fakeQueue{items: []model.UnsentItem{it}}
	channel := &fakeChannel{}
	d := newTestDispatcher(queue, channel)

	if _, err := d.DispatchPending(context.Background()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got := channel.sent[0].ImageURL; got != it.Images[0] {
		t.Errorf("ImageURL = %q, want first image", got)
	}
}
