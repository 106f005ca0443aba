package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/betline-crawler/internal/dispatcher"
	"github.com/JakeFAU/betline-crawler/internal/progress"
)

// Pacing stage names shared with the Pacer.
const (
	StageLeague = "league"
	StageEvent  = "event"
)

// EngineConfig controls what a crawl run selects and how hard it pushes.
type EngineConfig struct {
	TargetSports        []string
	MaxParallelRequests int
	MatchesPerLeague    int
}

// Validate reports configuration that would make a run meaningless.
func (c EngineConfig) Validate() error {
	var errs []error
	if c.MaxParallelRequests < 1 {
		errs = append(errs, fmt.Errorf("max parallel requests must be >= 1, got %d", c.MaxParallelRequests))
	}
	if c.MatchesPerLeague < 1 {
		errs = append(errs, fmt.Errorf("matches per league must be >= 1, got %d", c.MatchesPerLeague))
	}
	if len(c.TargetSports) == 0 {
		errs = append(errs, errors.New("at least one target sport is required"))
	}
	for _, family := range c.TargetSports {
		if strings.TrimSpace(family) == "" {
			errs = append(errs, errors.New("target sports must not contain blank entries"))
			break
		}
	}
	return errors.Join(errs...)
}

// Engine walks sport → league → event for one crawl run. Sports are processed
// one at a time in catalog order. Within a sport, league fetches fan out
// through a bounded league stage; each league feeds detail fetches into an
// event stage shared by the whole run. Both stages are capped at
// MaxParallelRequests, so at most twice that many requests are in flight.
type Engine struct {
	cfg      EngineConfig
	targets  map[string]struct{}
	api      LineAPI
	sink     Sink
	pacer    Pacer
	logger   *zap.Logger
	reporter *progress.Reporter
	clock    Clock

	emitMu sync.Mutex
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithProgress streams run milestones to r.
func WithProgress(r *progress.Reporter) EngineOption {
	return func(e *Engine) { e.reporter = r }
}

// WithEngineClock overrides the time source used for elapsed time.
func WithEngineClock(c Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// NewEngine validates cfg and wires the collaborators. A nil pacer disables
// pacing.
func NewEngine(cfg EngineConfig, api LineAPI, sink Sink, pacer Pacer, logger *zap.Logger, opts ...EngineOption) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate engine config: %w", err)
	}
	if api == nil {
		return nil, errors.New("line api is required")
	}
	if sink == nil {
		return nil, errors.New("sink is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	targets := make(map[string]struct{}, len(cfg.TargetSports))
	for _, family := range cfg.TargetSports {
		targets[family] = struct{}{}
	}
	e := &Engine{
		cfg:     cfg,
		targets: targets,
		api:     api,
		sink:    sink,
		pacer:   pacer,
		logger:  logger.Named("engine"),
		clock:   wallClock{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

type runCounters struct {
	sports    atomic.Int64
	leagues   atomic.Int64
	requested atomic.Int64
	emitted   atomic.Int64
	skipped   atomic.Int64
}

func (c *runCounters) snapshot() RunStats {
	return RunStats{
		SportsSelected:  int(c.sports.Load()),
		LeaguesCrawled:  int(c.leagues.Load()),
		EventsRequested: int(c.requested.Load()),
		EventsEmitted:   int(c.emitted.Load()),
		EventsSkipped:   int(c.skipped.Load()),
	}
}

// Run performs one crawl. Item failures never fail the run; only context
// cancellation does, after in-flight work has drained.
func (e *Engine) Run(ctx context.Context) (RunStats, error) {
	start := e.clock.Now()
	e.reporter.Report(progress.Event{Stage: progress.StageRunStart})
	e.logger.Info("crawl started", zap.Strings("target_sports", e.cfg.TargetSports))

	var counters runCounters
	sports := e.api.ListSports(ctx)
	selected := SelectSports(sports, e.targets)
	counters.sports.Store(int64(len(selected)))
	e.logger.Info("sport catalog fetched",
		zap.Int("sports", len(sports)),
		zap.Int("selected", len(selected)),
	)

	events := dispatcher.New(StageEvent, e.cfg.MaxParallelRequests)
	for _, sport := range selected {
		if ctx.Err() != nil {
			break
		}
		e.crawlSport(ctx, sport, events, &counters)
	}
	events.Wait()

	stats := counters.snapshot()
	stats.Elapsed = e.clock.Now().Sub(start)
	fields := []zap.Field{
		zap.Int("sports", stats.SportsSelected),
		zap.Int("leagues", stats.LeaguesCrawled),
		zap.Int("events_requested", stats.EventsRequested),
		zap.Int("events_emitted", stats.EventsEmitted),
		zap.Int("events_skipped", stats.EventsSkipped),
		zap.Duration("elapsed", stats.Elapsed),
	}
	if err := ctx.Err(); err != nil {
		e.reporter.Report(progress.Event{
			Stage: progress.StageRunError,
			Count: int64(stats.EventsEmitted),
			Dur:   stats.Elapsed,
			Note:  err.Error(),
		})
		e.logger.Warn("crawl interrupted", append(fields, zap.Error(err))...)
		return stats, fmt.Errorf("crawl run: %w", err)
	}
	e.reporter.Report(progress.Event{
		Stage: progress.StageRunDone,
		Count: int64(stats.EventsEmitted),
		Dur:   stats.Elapsed,
	})
	e.logger.Info("crawl completed", fields...)
	return stats, nil
}

func (e *Engine) crawlSport(ctx context.Context, sport Sport, events *dispatcher.Stage, counters *runCounters) {
	leagues := CollectTopLeagues(sport)
	e.logger.Debug("processing sport",
		zap.String("sport", sport.Name),
		zap.Int("top_leagues", len(leagues)),
	)

	stage := dispatcher.New(StageLeague, e.cfg.MaxParallelRequests)
	for _, lc := range leagues {
		if err := e.pace(ctx, StageLeague); err != nil {
			break
		}
		stage.Go(func() {
			e.crawlLeague(ctx, lc, events, counters)
		})
	}
	stage.Wait()
}

func (e *Engine) crawlLeague(ctx context.Context, lc LeagueContext, events *dispatcher.Stage, counters *runCounters) {
	summaries := e.api.ListLeagueEvents(ctx, lc.League.ID)
	counters.leagues.Add(1)
	kept := TakeEvents(summaries, e.cfg.MatchesPerLeague)
	e.logger.Debug("league events listed",
		zap.Int64("league_id", lc.League.ID),
		zap.String("league", lc.League.Name),
		zap.Int("events", len(summaries)),
		zap.Int("kept", len(kept)),
	)

	for _, summary := range kept {
		if err := e.pace(ctx, StageEvent); err != nil {
			return
		}
		counters.requested.Add(1)
		eventID := summary.ID
		events.Go(func() {
			e.crawlEvent(ctx, lc, eventID, counters)
		})
	}
}

func (e *Engine) crawlEvent(ctx context.Context, lc LeagueContext, eventID int64, counters *runCounters) {
	event, ok := e.api.GetEventDetail(ctx, eventID)
	if !ok {
		counters.skipped.Add(1)
		e.logger.Debug("event skipped", zap.Int64("event_id", eventID), zap.Int64("league_id", lc.League.ID))
		return
	}
	if err := e.emit(lc, event); err != nil {
		counters.skipped.Add(1)
		e.logger.Warn("sink rejected event", zap.Int64("event_id", eventID), zap.Error(err))
		return
	}
	counters.emitted.Add(1)
	e.reporter.Report(progress.Event{Stage: progress.StageEventEmitted})
}

// emit serializes hand-off so sinks see one event at a time.
func (e *Engine) emit(lc LeagueContext, event Event) error {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	if err := e.sink.Emit(lc, event); err != nil {
		return fmt.Errorf("emit event %d: %w", event.ID, err)
	}
	return nil
}

func (e *Engine) pace(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("dispatch %s: %w", stage, err)
	}
	if e.pacer == nil {
		return nil
	}
	if err := e.pacer.Wait(ctx, stage); err != nil {
		return fmt.Errorf("dispatch %s: %w", stage, err)
	}
	return nil
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }
