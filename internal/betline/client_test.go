package betline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/betline-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/betline-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/betline-crawler/internal/policy/breaker"
	"github.com/JakeFAU/betline-crawler/internal/progress"
)

type scriptedResponse struct {
	status int
	body   string
	err    error
}

// scriptedFetcher replays responses in order and repeats the last one.
type scriptedFetcher struct {
	mu        sync.Mutex
	responses []scriptedResponse
	requests  []crawler.FetchRequest
}

func (f *scriptedFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	idx := len(f.requests) - 1
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	r := f.responses[idx]
	if r.err != nil {
		return crawler.FetchResponse{Duration: time.Millisecond}, r.err
	}
	return crawler.FetchResponse{
		URL:        req.FullURL(),
		StatusCode: r.status,
		Body:       []byte(r.body),
		Duration:   time.Millisecond,
	}, nil
}

func (f *scriptedFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *scriptedFetcher) Request(i int) crawler.FetchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i]
}

type recordingPause struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (p *recordingPause) Pause(ctx context.Context, d time.Duration) error {
	p.mu.Lock()
	p.delays = append(p.delays, d)
	p.mu.Unlock()
	return ctx.Err()
}

func (p *recordingPause) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.delays)
}

type captureEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (c *captureEmitter) Emit(evt progress.Event) {
	c.mu.Lock()
	c.events = append(c.events, evt)
	c.mu.Unlock()
}

func (c *captureEmitter) Stages() []progress.Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]progress.Stage, 0, len(c.events))
	for _, evt := range c.events {
		out = append(out, evt.Stage)
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() Config {
	return Config{
		BaseURL:       "https://leon.test/",
		MaxAttempts:   3,
		RetryDelay:    10 * time.Millisecond,
		RetryMaxDelay: 40 * time.Millisecond,
	}
}

func newTestClient(t *testing.T, cfg Config, fetcher crawler.Fetcher, opts ...Option) (*Client, *recordingPause) {
	t.Helper()
	pause := &recordingPause{}
	opts = append([]Option{WithPauseController(pause)}, opts...)
	client, err := New(cfg, fetcher, zap.NewNop(), opts...)
	require.NoError(t, err)
	return client, pause
}

const sportsPayload = `[
	{"id":1,"name":"Soccer","family":"Soccer","regions":[
		{"id":10,"name":"England","leagues":[
			{"id":100,"name":"Premier League","top":true,"topOrder":1,"prematch":12}
		]}
	]},
	{"id":2,"name":"Tennis","family":"Tennis"}
]`

const detailPayload = `{
	"id":555,"name":"Arsenal - Chelsea","kickoff":1700000000000,
	"markets":[{"id":1,"name":"Winner","open":true,"runners":[
		{"id":11,"name":"1","price":2.15,"open":true}
	]}]
}`

func TestNewValidatesInput(t *testing.T) {
	t.Parallel()

	_, err := New(testConfig(), nil, nil)
	require.Error(t, err)

	cfg := testConfig()
	cfg.BaseURL = "  "
	_, err = New(cfg, &scriptedFetcher{}, nil)
	require.Error(t, err)

	cfg = testConfig()
	cfg.BaseURL = "not a url"
	_, err = New(cfg, &scriptedFetcher{}, nil)
	require.Error(t, err)

	cfg = testConfig()
	cfg.CircuitBreaker = BreakerConfig{Enabled: true}
	_, err = New(cfg, &scriptedFetcher{}, nil)
	require.Error(t, err)
}

func TestListSports(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: []scriptedResponse{{status: http.StatusOK, body: sportsPayload}}}
	client, _ := newTestClient(t, testConfig(), fetcher)

	sports := client.ListSports(context.Background())
	require.Len(t, sports, 2)
	require.Equal(t, "Soccer", sports[0].Family)
	require.Equal(t, int64(100), sports[0].Regions[0].Leagues[0].ID)
	require.True(t, sports[0].Regions[0].Leagues[0].Top)
	require.Empty(t, sports[1].Regions)

	req := fetcher.Request(0)
	require.Equal(t, "https://leon.test/api-2/betline/sports", req.URL)
	require.Equal(t, "en-US", req.Query.Get("ctag"))
	require.Equal(t, "urlv2", req.Query.Get("flags"))
}

func TestListLeagueEventsQuery(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: []scriptedResponse{{
		status: http.StatusOK,
		body:   `{"events":[{"id":1,"name":"A - B"},{"id":2,"name":"C - D"}]}`,
	}}}
	cfg := testConfig()
	cfg.Ctag = "ru-RU"
	client, _ := newTestClient(t, cfg, fetcher)

	events := client.ListLeagueEvents(context.Background(), 1970324836974595)
	require.Len(t, events, 2)
	require.Equal(t, int64(2), events[1].ID)

	req := fetcher.Request(0)
	require.Equal(t, "https://leon.test/api-2/betline/events/all", req.URL)
	require.Equal(t, "ru-RU", req.Query.Get("ctag"))
	require.Equal(t, "1970324836974595", req.Query.Get("league_id"))
	require.Equal(t, "true", req.Query.Get("hideClosed"))
	require.Equal(t, "reg,urlv2,mm2,rrc,nodup", req.Query.Get("flags"))
}

func TestListLeagueEventsMissingEvents(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: []scriptedResponse{{status: http.StatusOK, body: `{}`}}}
	client, _ := newTestClient(t, testConfig(), fetcher)

	events := client.ListLeagueEvents(context.Background(), 7)
	require.NotNil(t, events)
	require.Empty(t, events)
}

func TestGetEventDetail(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: []scriptedResponse{{status: http.StatusOK, body: detailPayload}}}
	client, _ := newTestClient(t, testConfig(), fetcher)

	event, ok := client.GetEventDetail(context.Background(), 555)
	require.True(t, ok)
	require.Equal(t, "Arsenal - Chelsea", event.Name)
	require.Equal(t, "2.15", event.Markets[0].Runners[0].Price.String())

	req := fetcher.Request(0)
	require.Equal(t, "https://leon.test/api-2/betline/event/all", req.URL)
	require.Equal(t, "555", req.Query.Get("eventId"))
	require.Equal(t, "reg,urlv2,mm2,rrc,nodup", req.Query.Get("flags"))
}

func TestRetryThenSuccess(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: []scriptedResponse{
		{status: http.StatusServiceUnavailable},
		{err: errors.New("connection reset")},
		{status: http.StatusOK, body: detailPayload},
	}}
	client, pause := newTestClient(t, testConfig(), fetcher)

	_, ok := client.GetEventDetail(context.Background(), 555)
	require.True(t, ok)
	require.Equal(t, 3, fetcher.Calls())
	require.Equal(t, 2, pause.Count())
}

func TestRetriesExhausted(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: []scriptedResponse{{status: http.StatusBadGateway}}}
	client, pause := newTestClient(t, testConfig(), fetcher)

	sports := client.ListSports(context.Background())
	require.NotNil(t, sports)
	require.Empty(t, sports)
	require.Equal(t, 3, fetcher.Calls())
	require.Equal(t, 2, pause.Count())
}

func TestNonRetryableFailures(t *testing.T) {
	t.Parallel()

	cases := map[string]scriptedResponse{
		"not found":   {status: http.StatusNotFound},
		"bad request": {status: http.StatusBadRequest},
		"bad payload": {status: http.StatusOK, body: `{"id":`},
	}
	for name, resp := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			fetcher := &scriptedFetcher{responses: []scriptedResponse{resp}}
			client, pause := newTestClient(t, testConfig(), fetcher)

			_, ok := client.GetEventDetail(context.Background(), 1)
			require.False(t, ok)
			require.Equal(t, 1, fetcher.Calls())
			require.Zero(t, pause.Count())
		})
	}
}

func TestCancelledContextStopsRetries(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: []scriptedResponse{{status: http.StatusServiceUnavailable}}}
	client, pause := newTestClient(t, testConfig(), fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	events := client.ListLeagueEvents(ctx, 1)
	require.Empty(t, events)
	require.Equal(t, 1, fetcher.Calls())
	require.Zero(t, pause.Count())
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	emitter := &captureEmitter{}
	cfg := testConfig()
	cfg.MaxAttempts = 1
	cfg.CircuitBreaker = BreakerConfig{
		Enabled:              true,
		FailureRateThreshold: 50,
		SlidingWindowSize:    4,
		WaitDurationInOpen:   30 * time.Second,
		PermittedInHalfOpen:  1,
	}
	fetcher := &scriptedFetcher{responses: []scriptedResponse{
		{status: http.StatusInternalServerError},
		{status: http.StatusInternalServerError},
		{status: http.StatusInternalServerError},
		{status: http.StatusInternalServerError},
		{status: http.StatusOK, body: detailPayload},
	}}
	client, _ := newTestClient(t, cfg, fetcher,
		WithClock(clock),
		WithReporter(progress.NewReporter([16]byte{1}, emitter, clock.Now)),
	)

	for range 4 {
		_, ok := client.GetEventDetail(context.Background(), 1)
		require.False(t, ok)
	}
	require.Equal(t, breaker.StateOpen, client.BreakerState())

	_, ok := client.GetEventDetail(context.Background(), 1)
	require.False(t, ok)
	require.Equal(t, 4, fetcher.Calls(), "open circuit must not reach upstream")

	clock.Advance(31 * time.Second)
	require.Equal(t, breaker.StateHalfOpen, client.BreakerState())

	_, ok = client.GetEventDetail(context.Background(), 1)
	require.True(t, ok)
	require.Equal(t, breaker.StateClosed, client.BreakerState())

	var transitions int
	for _, stage := range emitter.Stages() {
		if stage == progress.StageBreakerTransition {
			transitions++
		}
	}
	require.Equal(t, 3, transitions)
}

func TestDecodeErrorsDoNotTripBreaker(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxAttempts = 1
	cfg.CircuitBreaker = BreakerConfig{
		Enabled:              true,
		FailureRateThreshold: 50,
		SlidingWindowSize:    2,
		WaitDurationInOpen:   time.Minute,
		PermittedInHalfOpen:  1,
	}
	fetcher := &scriptedFetcher{responses: []scriptedResponse{{status: http.StatusOK, body: `not json`}}}
	client, _ := newTestClient(t, cfg, fetcher)

	for range 5 {
		_, ok := client.GetEventDetail(context.Background(), 1)
		require.False(t, ok)
	}
	require.Equal(t, breaker.StateClosed, client.BreakerState())
	require.Equal(t, 5, fetcher.Calls())
}

func TestNotFoundCountsAgainstBreaker(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxAttempts = 1
	cfg.CircuitBreaker = BreakerConfig{
		Enabled:              true,
		FailureRateThreshold: 50,
		SlidingWindowSize:    2,
		WaitDurationInOpen:   time.Minute,
		PermittedInHalfOpen:  1,
	}
	fetcher := &scriptedFetcher{responses: []scriptedResponse{{status: http.StatusNotFound}}}
	client, _ := newTestClient(t, cfg, fetcher)

	for range 2 {
		_, ok := client.GetEventDetail(context.Background(), 1)
		require.False(t, ok)
	}
	require.Equal(t, breaker.StateOpen, client.BreakerState())

	_, ok := client.GetEventDetail(context.Background(), 1)
	require.False(t, ok)
	require.Equal(t, 2, fetcher.Calls())
}

func TestFetchProgressReported(t *testing.T) {
	t.Parallel()

	emitter := &captureEmitter{}
	fetcher := &scriptedFetcher{responses: []scriptedResponse{
		{status: http.StatusServiceUnavailable},
		{status: http.StatusOK, body: sportsPayload},
	}}
	client, _ := newTestClient(t, testConfig(), fetcher,
		WithReporter(progress.NewReporter([16]byte{2}, emitter, nil)),
	)
	client.ListSports(context.Background())

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	require.Len(t, emitter.events, 2)
	require.Equal(t, "5xx", emitter.events[0].StatusClass)
	require.Equal(t, 1, emitter.events[0].Attempt)
	require.Equal(t, "2xx", emitter.events[1].StatusClass)
	require.Equal(t, 2, emitter.events[1].Attempt)
	require.Equal(t, int64(len(sportsPayload)), emitter.events[1].Bytes)
	require.Equal(t, EndpointSports, emitter.events[1].Endpoint)
}

// TestClientOverColly runs the client against a real HTTP server through the
// Colly fetcher.
func TestClientOverColly(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	hits := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits[r.URL.Path]++
		n := hits[r.URL.Path]
		mu.Unlock()
		if r.Header.Get("Accept") != "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch r.URL.Path {
		case "/api-2/betline/sports":
			if n == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(sportsPayload))
		case "/api-2/betline/event/all":
			_, _ = w.Write([]byte(detailPayload))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	headers := http.Header{}
	headers.Set("Accept", "application/json")
	fetcher := collyfetcher.New(collyfetcher.Config{UserAgent: "betline-test", Timeout: 5 * time.Second, Headers: headers})
	cfg := testConfig()
	cfg.BaseURL = srv.URL
	client, pause := newTestClient(t, cfg, fetcher)

	sports := client.ListSports(context.Background())
	require.Len(t, sports, 2)
	require.Equal(t, 1, pause.Count())

	event, ok := client.GetEventDetail(context.Background(), 555)
	require.True(t, ok)
	require.Equal(t, int64(555), event.ID)

	require.Empty(t, client.ListLeagueEvents(context.Background(), 9))
}
