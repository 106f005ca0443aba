// Package betline is the resilient client for the betline JSON API. Every call
// runs through a retry policy and an optional circuit breaker, and terminal
// failures degrade to empty results instead of surfacing errors.
package betline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/JakeFAU/betline-crawler/internal/crawler"
	"github.com/JakeFAU/betline-crawler/internal/metrics"
	"github.com/JakeFAU/betline-crawler/internal/policy/breaker"
	"github.com/JakeFAU/betline-crawler/internal/progress"
)

// Endpoint labels used in logs, metrics and progress events.
const (
	EndpointSports       = "sports"
	EndpointLeagueEvents = "league_events"
	EndpointEventDetail  = "event_detail"
)

const (
	sportsPath       = "/api-2/betline/sports"
	leagueEventsPath = "/api-2/betline/events/all"
	eventDetailPath  = "/api-2/betline/event/all"

	sportsFlags = "urlv2"
	eventFlags  = "reg,urlv2,mm2,rrc,nodup"

	defaultCtag = "en-US"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// BreakerConfig enables and tunes the per-client circuit breaker.
type BreakerConfig struct {
	Enabled              bool
	FailureRateThreshold float64
	SlidingWindowSize    int
	WaitDurationInOpen   time.Duration
	PermittedInHalfOpen  int
}

// Config holds the fixed request parameters and resilience settings.
type Config struct {
	BaseURL        string
	Ctag           string
	MaxAttempts    int
	RetryDelay     time.Duration
	RetryMaxDelay  time.Duration
	CircuitBreaker BreakerConfig
}

// Client implements crawler.LineAPI.
type Client struct {
	baseURL  string
	ctag     string
	fetcher  crawler.Fetcher
	retry    crawler.RetryPolicy
	pause    crawler.PauseController
	breaker  *breaker.Breaker
	logger   *zap.Logger
	reporter *progress.Reporter
	now      func() time.Time
}

// Option customises a Client.
type Option func(*Client)

// WithReporter streams fetch completions and breaker transitions to r.
func WithReporter(r *progress.Reporter) Option {
	return func(c *Client) { c.reporter = r }
}

// WithRetryPolicy replaces the policy derived from Config.
func WithRetryPolicy(p crawler.RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithPauseController replaces the timer used between retries.
func WithPauseController(p crawler.PauseController) Option {
	return func(c *Client) { c.pause = p }
}

// WithClock sets the time source used by the circuit breaker.
func WithClock(clock crawler.Clock) Option {
	return func(c *Client) { c.now = clock.Now }
}

// New builds a Client on top of fetcher.
func New(cfg Config, fetcher crawler.Fetcher, logger *zap.Logger, opts ...Option) (*Client, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("base url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	ctag := cfg.Ctag
	if ctag == "" {
		ctag = defaultCtag
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		baseURL: baseURL,
		ctag:    ctag,
		fetcher: fetcher,
		retry:   crawler.NewExponentialRetryPolicy(cfg.MaxAttempts, cfg.RetryDelay, cfg.RetryMaxDelay),
		pause:   crawler.TimerPause{},
		logger:  logger.Named("betline"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if cfg.CircuitBreaker.Enabled {
		b, err := breaker.New(breaker.Config{
			FailureRateThreshold: cfg.CircuitBreaker.FailureRateThreshold,
			SlidingWindowSize:    cfg.CircuitBreaker.SlidingWindowSize,
			WaitDurationInOpen:   cfg.CircuitBreaker.WaitDurationInOpen,
			PermittedInHalfOpen:  cfg.CircuitBreaker.PermittedInHalfOpen,
			OnTransition:         c.onTransition,
			Now:                  c.now,
		})
		if err != nil {
			return nil, fmt.Errorf("build circuit breaker: %w", err)
		}
		c.breaker = b
		metrics.SetCircuitState(metrics.CircuitClosed)
	}
	return c, nil
}

// ListSports returns the sport catalog, or an empty list when it cannot be
// fetched or decoded.
func (c *Client) ListSports(ctx context.Context) []Sport {
	query := url.Values{}
	query.Set("ctag", c.ctag)
	query.Set("flags", sportsFlags)

	var sports []Sport
	if err := c.getJSON(ctx, EndpointSports, sportsPath, query, &sports); err != nil {
		c.degrade(EndpointSports, err)
		return []Sport{}
	}
	if sports == nil {
		sports = []Sport{}
	}
	return sports
}

// ListLeagueEvents returns the summary events of a league, or an empty list on
// failure.
func (c *Client) ListLeagueEvents(ctx context.Context, leagueID int64) []Event {
	query := url.Values{}
	query.Set("ctag", c.ctag)
	query.Set("league_id", strconv.FormatInt(leagueID, 10))
	query.Set("hideClosed", "true")
	query.Set("flags", eventFlags)

	var resp crawler.EventsResponse
	if err := c.getJSON(ctx, EndpointLeagueEvents, leagueEventsPath, query, &resp); err != nil {
		c.degrade(EndpointLeagueEvents, err, zap.Int64("league_id", leagueID))
		return []Event{}
	}
	if resp.Events == nil {
		return []Event{}
	}
	return resp.Events
}

// GetEventDetail returns the fully hydrated event. The boolean is false when
// the event could not be obtained.
func (c *Client) GetEventDetail(ctx context.Context, eventID int64) (Event, bool) {
	query := url.Values{}
	query.Set("ctag", c.ctag)
	query.Set("eventId", strconv.FormatInt(eventID, 10))
	query.Set("flags", eventFlags)

	var event Event
	if err := c.getJSON(ctx, EndpointEventDetail, eventDetailPath, query, &event); err != nil {
		c.degrade(EndpointEventDetail, err, zap.Int64("event_id", eventID))
		return Event{}, false
	}
	return event, true
}

// BreakerState reports the breaker state; closed when the breaker is disabled.
func (c *Client) BreakerState() breaker.State {
	if c.breaker == nil {
		return breaker.StateClosed
	}
	return c.breaker.State()
}

func (c *Client) getJSON(ctx context.Context, endpoint, path string, query url.Values, out any) error {
	body, err := c.fetchWithRetry(ctx, endpoint, crawler.FetchRequest{
		URL:   c.baseURL + path,
		Query: query,
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &crawler.DecodeError{Endpoint: endpoint, Err: err}
	}
	return nil
}

func (c *Client) fetchWithRetry(ctx context.Context, endpoint string, req crawler.FetchRequest) ([]byte, error) {
	for attempt := 1; ; attempt++ {
		body, err := c.attempt(ctx, endpoint, req, attempt)
		if err == nil {
			return body, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s attempt %d: %w", endpoint, attempt, ctxErr)
		}
		if !c.retry.ShouldRetry(err, attempt) {
			return nil, err
		}
		backoff := c.retry.Backoff(attempt)
		metrics.ObserveRetry(endpoint)
		c.logger.Warn("retrying betline request",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if err := c.pause.Pause(ctx, backoff); err != nil {
			return nil, fmt.Errorf("%s backoff: %w", endpoint, err)
		}
	}
}

// attempt issues one GET through the breaker. The breaker only sees the HTTP
// exchange; decoding happens after it has recorded the outcome.
func (c *Client) attempt(ctx context.Context, endpoint string, req crawler.FetchRequest, attempt int) ([]byte, error) {
	var body []byte
	call := func() error {
		resp, err := c.fetcher.Fetch(ctx, req)
		if err != nil {
			c.observe(endpoint, 0, attempt, 0, resp.Duration)
			return &crawler.TransportError{Endpoint: endpoint, Err: err}
		}
		c.observe(endpoint, resp.StatusCode, attempt, len(resp.Body), resp.Duration)
		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			return &crawler.StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode}
		}
		body = resp.Body
		return nil
	}
	if c.breaker == nil {
		err := call()
		return body, err
	}
	err := c.breaker.Do(call, countsAgainstUpstream)
	if errors.Is(err, breaker.ErrCircuitOpen) {
		metrics.ObserveCircuitRejection()
		c.logger.Debug("betline request rejected by open circuit",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt),
		)
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}
	return body, err
}

func (c *Client) observe(endpoint string, status, attempt, size int, dur time.Duration) {
	class := metrics.StatusClass(status)
	metrics.ObserveRequest(endpoint, class, dur)
	c.reporter.Report(progress.Event{
		Stage:       progress.StageFetchDone,
		Endpoint:    endpoint,
		StatusClass: class,
		Attempt:     attempt,
		Bytes:       int64(size),
		Dur:         dur,
	})
}

func (c *Client) degrade(endpoint string, err error, fields ...zap.Field) {
	metrics.ObserveDegraded(endpoint)
	fields = append(fields, zap.String("endpoint", endpoint), zap.Error(err))
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		c.logger.Debug("betline request abandoned", fields...)
		return
	}
	c.logger.Warn("betline request failed, continuing with empty result", fields...)
}

func (c *Client) onTransition(t breaker.Transition) {
	note := t.From.String() + "->" + t.To.String()
	switch t.To {
	case breaker.StateOpen:
		metrics.SetCircuitState(metrics.CircuitOpen)
	case breaker.StateHalfOpen:
		metrics.SetCircuitState(metrics.CircuitHalfOpen)
	default:
		metrics.SetCircuitState(metrics.CircuitClosed)
	}
	c.logger.Warn("circuit breaker state changed",
		zap.String("from", t.From.String()),
		zap.String("to", t.To.String()),
	)
	c.reporter.Report(progress.Event{
		Stage: progress.StageBreakerTransition,
		TS:    t.At,
		Note:  note,
	})
}

// countsAgainstUpstream excludes caller cancellation from the breaker window.
func countsAgainstUpstream(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return crawler.IsUpstreamFailure(err)
}
