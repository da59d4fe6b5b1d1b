package fetch

import "fmt"

// TransportError wraps a network-level failure that survived the retry
// budget.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error fetching %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// BlockedError reports a 403 from the target site. The client requests a
// proxy swap before surfacing it.
type BlockedError struct {
	URL string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("blocked (403) fetching %s", e.URL)
}

// RateLimitedError reports a 429 from the target site. Like a block, it
// triggers a proxy swap request.
type RateLimitedError struct {
	URL string
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited (429) fetching %s", e.URL)
}

// NotFoundError reports a 404; it is permanent for the URL and not retried.
type NotFoundError struct {
	URL string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found (404): %s", e.URL)
}

// StatusError reports any other non-success HTTP status.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d fetching %s", e.Code, e.URL)
}
