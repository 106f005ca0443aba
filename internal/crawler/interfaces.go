package crawler

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// Fetcher performs a single HTTP GET and returns the raw response. It does not
// retry and does not interpret status codes.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// LineAPI is the resilient view of the betline endpoints consumed by Engine.
// Failures are absorbed by the implementation: empty slices and false mean
// "nothing to do here".
type LineAPI interface {
	ListSports(ctx context.Context) []Sport
	ListLeagueEvents(ctx context.Context, leagueID int64) []Event
	GetEventDetail(ctx context.Context, eventID int64) (Event, bool)
}

// Sink receives hydrated events. Implementations must be safe for concurrent
// callers and write each record as one unit.
type Sink interface {
	Emit(lc LeagueContext, event Event) error
}

// Pacer spaces successive dispatches within a named stage.
type Pacer interface {
	Wait(ctx context.Context, stage string) error
}

// RetryPolicy decides whether and when a failed attempt is repeated.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// FetchRequest captures everything needed to issue one upstream GET.
type FetchRequest struct {
	URL     string
	Query   url.Values
	Headers http.Header
}

// FullURL joins URL and the encoded query.
func (r FetchRequest) FullURL() string {
	if len(r.Query) == 0 {
		return r.URL
	}
	return r.URL + "?" + r.Query.Encode()
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}
