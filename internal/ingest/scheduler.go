package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/lox/surfcast/internal/features"
	"github.com/lox/surfcast/internal/metrics"
	"github.com/lox/surfcast/internal/models"
	"github.com/lox/surfcast/internal/predict"
	"github.com/lox/surfcast/internal/publish"
	"github.com/lox/surfcast/internal/store"
)

// ErrNoRecentData means every probe missed.
var ErrNoRecentData = errors.New("no recent data")

// ErrNoForecast means a cycle produced nothing worth persisting.
var ErrNoForecast = errors.New("no forecast produced")

// State is the scheduler's position in a refresh cycle.
type State int32

const (
	StateIdle State = iota
	StateDiscoveringLatest
	StateFetching
	StateProcessing
	StatePredicting
	StatePersisting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDiscoveringLatest:
		return "discovering_latest"
	case StateFetching:
		return "fetching"
	case StateProcessing:
		return "processing"
	case StatePredicting:
		return "predicting"
	case StatePersisting:
		return "persisting"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type SchedulerConfig struct {
	// Interval is the provider's sampling cadence.
	Interval time.Duration
	// Period is how often a cycle is attempted.
	Period time.Duration
	// MaxProbes bounds the latest-timestamp search.
	MaxProbes int
	// History is how long refresh runs and provider call audits are kept.
	// Zero keeps them forever.
	History time.Duration
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:  10 * time.Minute,
		Period:    2 * time.Minute,
		MaxProbes: 6,
		History:   7 * 24 * time.Hour,
	}
}

// CycleResult summarises one refresh cycle.
type CycleResult struct {
	RunID   string
	DataEnd time.Time
	Result  string
	Records int
	Pruned  int64
}

// Scheduler drives the refresh pipeline. Cycles run one at a time on the
// caller's goroutine. Only one scheduler may run against a given database,
// cache directory and artifact path.
type Scheduler struct {
	store    *store.Store
	acquirer *Acquirer
	proc     *features.Processor
	engine   *predict.Engine
	bundles  []*predict.Bundle
	artifact *publish.CSVWriter
	sinks    []publish.Sink
	clock    clockwork.Clock
	cfg      SchedulerConfig
	logger   *slog.Logger

	state    atomic.Int32
	lastEnd  time.Time
	restored bool
}

func NewScheduler(cfg SchedulerConfig, st *store.Store, acquirer *Acquirer, proc *features.Processor, engine *predict.Engine, bundles []*predict.Bundle, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:    st,
		acquirer: acquirer,
		proc:     proc,
		engine:   engine,
		bundles:  bundles,
		clock:    clockwork.NewRealClock(),
		cfg:      cfg,
		logger:   logger.With("component", "scheduler"),
	}
}

// SetClock replaces the wall clock, for tests.
func (s *Scheduler) SetClock(c clockwork.Clock) {
	s.clock = c
}

// SetArtifact configures the forecast file written on every successful cycle.
func (s *Scheduler) SetArtifact(w *publish.CSVWriter) {
	s.artifact = w
}

// AddSink registers an optional consumer. Sink failures are logged only.
func (s *Scheduler) AddSink(sink publish.Sink) {
	s.sinks = append(s.sinks, sink)
}

func (s *Scheduler) pruneHistory() {
	if s.cfg.History <= 0 {
		return
	}
	n, err := s.store.PruneRunHistory(s.clock.Now().Add(-s.cfg.History))
	if err != nil {
		s.logger.Warn("failed to prune run history", "error", err)
		return
	}
	if n > 0 {
		s.logger.Debug("run history pruned", "rows", n)
	}
}

func (s *Scheduler) State() State {
	return State(s.state.Load())
}

func (s *Scheduler) setState(st State) {
	s.state.Store(int32(st))
	metrics.RefreshState.Set(float64(st))
}

// Run performs a cycle immediately and then one per period until ctx is
// done.
func (s *Scheduler) Run(ctx context.Context) {
	s.runCycle(ctx)

	ticker := s.clock.NewTicker(s.cfg.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("shutting down")
			return
		case <-ticker.Chan():
			s.runCycle(ctx)
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	res, err := s.RunCycle(ctx)
	switch {
	case err == nil && res.Result == store.ResultUpToDate:
		s.logger.Debug("already up to date", "data_end", res.DataEnd)
	case err == nil:
		s.logger.Info("refresh complete", "run_id", res.RunID, "data_end", res.DataEnd, "records", res.Records, "pruned", res.Pruned)
	case errors.Is(err, ErrNoRecentData), errors.Is(err, features.ErrInsufficientHistory), errors.Is(err, ErrNoForecast):
		s.logger.Info("refresh skipped", "run_id", res.RunID, "reason", err)
	default:
		s.logger.Warn("refresh failed", "run_id", res.RunID, "error", err)
	}
}

// DiscoverLatest finds the newest complete sample time. Starting at now
// truncated to the interval it probes one parameter at one station at
// decreasing times. The first hit marks a possibly incomplete interval, so
// the result is one interval before it.
func (s *Scheduler) DiscoverLatest(ctx context.Context) (time.Time, error) {
	pairs, err := s.store.ActiveParamStations()
	if err != nil {
		return time.Time{}, fmt.Errorf("load param stations: %w", err)
	}
	if len(pairs) == 0 {
		return time.Time{}, fmt.Errorf("%w: no active parameter/station pairs", ErrNoRecentData)
	}
	probe := pairs[0]

	start := s.clock.Now().UTC().Truncate(s.cfg.Interval)
	for i := range s.cfg.MaxProbes {
		at := start.Add(-time.Duration(i) * s.cfg.Interval)
		ok, err := s.acquirer.Probe(ctx, probe, at, s.cfg.Interval)
		if err != nil {
			if ctx.Err() != nil {
				return time.Time{}, ctx.Err()
			}
			s.logger.Warn("probe failed", "at", at, "station", probe.StationName, "parameter", probe.Parameter, "error", err)
			continue
		}
		if ok {
			return at.Add(-s.cfg.Interval), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %d probes from %s", ErrNoRecentData, s.cfg.MaxProbes, start.Format(time.RFC3339))
}

// RunCycle runs the pipeline once: discover the latest data, fetch, build
// features, predict with every bundle and persist. A cycle whose latest data
// matches the previous one does nothing.
func (s *Scheduler) RunCycle(ctx context.Context) (res CycleResult, err error) {
	if !s.restored {
		end, ok, err := s.store.LastDataEnd()
		if err != nil {
			s.logger.Warn("failed to restore last data end", "error", err)
		} else {
			s.restored = true
			if ok {
				s.lastEnd = end
			}
		}
	}

	started := s.clock.Now()
	res.RunID = uuid.NewString()
	run, rerr := s.store.StartRefreshRun(res.RunID, started)
	if rerr != nil {
		s.logger.Warn("failed to record refresh run", "error", rerr)
	}

	defer func() {
		s.setState(StateIdle)
		if res.Result == "" {
			res.Result = store.ResultFailed
		}
		metrics.RefreshCycles.WithLabelValues(res.Result).Inc()
		if res.Result != store.ResultUpToDate && res.Result != store.ResultNoData {
			metrics.RefreshDuration.Observe(s.clock.Since(started).Seconds())
		}
		if run == nil {
			return
		}
		run.Result = res.Result
		if !res.DataEnd.IsZero() {
			run.DataEnd = sql.NullTime{Time: res.DataEnd, Valid: true}
		}
		run.Records = sql.NullInt64{Int64: int64(res.Records), Valid: true}
		run.Pruned = sql.NullInt64{Int64: res.Pruned, Valid: true}
		if err != nil {
			run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
		}
		if cerr := s.store.CompleteRefreshRun(run, s.clock.Now()); cerr != nil {
			s.logger.Warn("failed to complete refresh run", "run_id", res.RunID, "error", cerr)
		}
		s.pruneHistory()
	}()

	s.setState(StateDiscoveringLatest)
	end, err := s.DiscoverLatest(ctx)
	if err != nil {
		if errors.Is(err, ErrNoRecentData) {
			res.Result = store.ResultNoData
		}
		return res, err
	}
	res.DataEnd = end
	if end.Equal(s.lastEnd) {
		res.Result = store.ResultUpToDate
		return res, nil
	}

	s.setState(StateFetching)
	pairs, err := s.store.ActiveParamStations()
	if err != nil {
		return res, fmt.Errorf("load param stations: %w", err)
	}
	window := models.Window{
		Start:    s.proc.Config().StartFor(end, s.cfg.Interval),
		End:      end,
		Interval: s.cfg.Interval,
	}
	raw, failed := s.acquirer.FetchParamStations(ctx, pairs, window)
	if len(failed) > 0 {
		n, perr := s.store.PruneParamStations(failed, s.clock.Now())
		if perr != nil {
			s.logger.Warn("failed to prune param stations", "error", perr)
		} else {
			res.Pruned = n
			metrics.ParamStationsPruned.Add(float64(n))
			for _, ps := range failed {
				s.logger.Info("pruned param station", "station", ps.StationName, "parameter", ps.Parameter)
			}
		}
	}
	if raw.Empty() {
		res.Result = store.ResultAborted
		return res, fmt.Errorf("%w: no series fetched", ErrNoForecast)
	}

	s.setState(StateProcessing)
	m, err := s.proc.Build(ctx, raw, window)
	if err != nil {
		res.Result = store.ResultAborted
		return res, err
	}

	s.setState(StatePredicting)
	var records []models.ForecastRecord
	for _, b := range s.bundles {
		recs, err := s.engine.Predict(m, b)
		if err != nil {
			s.logger.Warn("skipping model", "model", b.Name, "error", err)
			continue
		}
		records = append(records, recs...)
	}
	if len(records) == 0 {
		res.Result = store.ResultAborted
		return res, fmt.Errorf("%w: no model produced records", ErrNoForecast)
	}

	s.setState(StatePersisting)
	if s.artifact != nil {
		if err := s.artifact.Write(records); err != nil {
			return res, fmt.Errorf("write artifact: %w", err)
		}
	}
	if err := s.store.ReplaceForecasts(res.RunID, records); err != nil {
		return res, fmt.Errorf("store forecasts: %w", err)
	}
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, records); err != nil {
			metrics.PublishErrors.WithLabelValues(sink.Name()).Inc()
			s.logger.Warn("publish failed", "sink", sink.Name(), "error", err)
		}
	}

	s.lastEnd = end
	res.Records = len(records)
	res.Result = store.ResultSuccess
	metrics.ForecastRecordsWritten.Add(float64(len(records)))
	metrics.LatestDataTimestamp.Set(float64(end.Unix()))
	return res, nil
}
