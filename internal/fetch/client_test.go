package fetch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/h2non/gock"
)

func newTestClient(t *testing.T, source ProxySource) *Client {
	t.Helper()
	c := New(source, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.SetDelayBounds(0, 0)
	gock.InterceptClient(c.http)
	t.Cleanup(gock.Off)
	return c
}

func TestGetOK(t *testing.T) {
	c := newTestClient(t, nil)

	gock.New("https://www.kufar.by").
		Get("/l/kurtka").
		Reply(http.StatusOK).
		BodyString("<html>ok</html>")

	body, err := c.Get(context.Background(), "https://www.kufar.by/l/kurtka")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != "<html>ok</html>" {
		t.Errorf("unexpected body: %q", body)
	}
}

func TestGetStatusClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr any
	}{
		{name: "blocked", status: http.StatusForbidden, wantErr: &BlockedError{}},
		{name: "rate limited", status: http.StatusTooManyRequests, wantErr: &RateLimitedError{}},
		{name: "not found", status: http.StatusNotFound, wantErr: &NotFoundError{}},
		{name: "server error", status: http.StatusInternalServerError, wantErr: &StatusError{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, nil)

			gock.New("https://www.kufar.by").
				Get("/l/kurtka").
				Reply(tt.status)

			_, err := c.Get(context.Background(), "https://www.kufar.by/l/kurtka")
			if err == nil {
				t.Fatal("expected an error")
			}

			switch want := tt.wantErr.(type) {
			case *BlockedError:
				if !errors.As(err, &want) {
					t.Errorf("got %T, want BlockedError", err)
				}
			case *RateLimitedError:
				if !errors.As(err, &want) {
					t.Errorf("got %T, want RateLimitedError", err)
				}
			case *NotFoundError:
				if !errors.As(err, &want) {
					t.Errorf("got %T, want NotFoundError", err)
				}
			case *StatusError:
				if !errors.As(err, &want) {
					t.Errorf("got %T, want StatusError", err)
				}
				if want.Code != tt.status {
					t.Errorf("StatusError.Code = %d, want %d", want.Code, tt.status)
				}
			}
		})
	}
}

func TestGetRetriesTransportErrors(t *testing.T) {
	c := newTestClient(t, nil)

	gock.New("https://www.kufar.by").
		Get("/l/kurtka").
		ReplyError(errors.New("connection reset"))
	gock.New("https://www.kufar.by").
		Get("/l/kurtka").
		Reply(http.StatusOK).
		BodyString("recovered")

	body, err := c.Get(context.Background(), "https://www.kufar.by/l/kurtka")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != "recovered" {
		t.Errorf("unexpected body: %q", body)
	}
}

func TestGetTransportErrorExhaustsRetries(t *testing.T) {
	c := newTestClient(t, nil)

	for i := 0; i < 3; i++ {
		gock.New("https://www.kufar.by").
			Get("/l/kurtka").
			ReplyError(errors.New("connection reset"))
	}

	_, err := c.Get(context.Background(), "https://www.kufar.by/l/kurtka")
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("got %T (%v), want TransportError", err, err)
	}
}

type stubSource struct {
	next     string
	nextN    int
	failures []string
}

func (s *stubSource) Next(context.Context) string { s.nextN++; return s.next }
func (s *stubSource) ReportFailure(p string)      { s.failures = append(s.failures, p) }

func TestProxySwapThrottled(t *testing.T) {
	source := &stubSource{next: "10.0.0.1:8080"}
	c := newTestClient(t, source)

	for i := 0; i < 2; i++ {
		gock.New("https://www.kufar.by").
			Get("/l/kurtka").
			Reply(http.StatusForbidden)
	}

	ctx := context.Background()
	if _, err := c.Get(ctx, "https://www.kufar.by/l/kurtka"); err == nil {
		t.Fatal("expected blocked error")
	}
	if source.nextN != 1 {
		t.Fatalf("Next called %d times after first block, want 1", source.nextN)
	}

	// Swapping the proxy replaces the transport, so re-intercept.
	gock.InterceptClient(c.http)

	if _, err := c.Get(ctx, "https://www.kufar.by/l/kurtka"); err == nil {
		t.Fatal("expected blocked error")
	}
	if source.nextN != 1 {
		t.Errorf("Next called %d times within cooldown, want still 1", source.nextN)
	}
}

func TestDelayBetweenRequests(t *testing.T) {
	c := newTestClient(t, nil)
	c.SetDelayBounds(50*time.Millisecond, 50*time.Millisecond)

	for i := 0; i < 2; i++ {
		gock.New("https://www.kufar.by").
			Get("/l/kurtka").
			Reply(http.StatusOK).
			BodyString("ok")
	}

	ctx := context.Background()
	start := time.Now()
	if _, err := c.Get(ctx, "https://www.kufar.by/l/kurtka"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if _, err := c.Get(ctx, "https://www.kufar.by/l/kurtka"); err != nil {
		t.Fatalf("second request: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("second request not delayed, elapsed %v", elapsed)
	}
}
