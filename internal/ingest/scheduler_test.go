package ingest

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/surfcast/internal/features"
	"github.com/lox/surfcast/internal/models"
	"github.com/lox/surfcast/internal/predict"
	"github.com/lox/surfcast/internal/publish"
	"github.com/lox/surfcast/internal/store"
)

var now = time.Date(2026, 10, 17, 8, 3, 0, 0, time.UTC)

type harness struct {
	provider  *fakeProvider
	store     *store.Store
	clock     *clockwork.FakeClock
	scheduler *Scheduler
	artifact  string
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	loc, err := time.LoadLocation("Europe/Zurich")
	require.NoError(t, err)
	st := store.New(db, loc, testLogger())
	require.NoError(t, st.Migrate())
	return st
}

func persistenceBundle() *predict.Bundle {
	return &predict.Bundle{
		Name:     "persistence",
		Mode:     predict.ModePassthrough,
		Columns:  []string{"Quinten, t_2m:C"},
		Criteria: []predict.Criterion{{Name: "Quinten, t_2m:C", Horizons: []predict.Horizon{{Offset: "10min"}, {Offset: "20min"}}}},
	}
}

func mismatchedBundle() *predict.Bundle {
	return &predict.Bundle{
		Name:    "stale",
		Mode:    predict.ModeEnsemble,
		Columns: []string{"Nowhere, t_2m:C"},
		Criteria: []predict.Criterion{{Name: "Nowhere, t_2m:C", Horizons: []predict.Horizon{{
			Offset: "10min",
			Folds:  []predict.Fold{{Linear: &predict.Linear{Coef: []float64{1}}}},
		}}}},
	}
}

func newHarness(t *testing.T, bundles ...*predict.Bundle) *harness {
	t.Helper()
	h := &harness{
		provider: newFakeProvider(),
		store:    setupTestStore(t),
		clock:    clockwork.NewFakeClockAt(now),
		artifact: filepath.Join(t.TempDir(), "forecast.csv"),
	}
	h.provider.latest = time.Date(2026, 10, 17, 7, 40, 0, 0, time.UTC)
	for _, g := range features.DefaultGradients {
		for _, loc := range []features.Location{g.From, g.To} {
			h.provider.stations[features.PressureParam] = append(h.provider.stations[features.PressureParam], models.Station{
				ID: loc.Name, Name: loc.Name, Latitude: loc.Point.Lat, Longitude: loc.Point.Lon,
			})
		}
	}

	require.NoError(t, h.store.ReplaceParamStations([]models.ParamStation{
		{Parameter: "t_2m:C", StationName: "Quinten", Latitude: quinten.Lat, Longitude: quinten.Lon},
		{Parameter: "wind_speed_10m:kmh", StationName: "Quinten", Latitude: quinten.Lat, Longitude: quinten.Lon},
		{Parameter: features.DirectionParam, StationName: "Quinten", Latitude: quinten.Lat, Longitude: quinten.Lon},
		{Parameter: "global_rad:W", StationName: "Quinten", Latitude: quinten.Lat, Longitude: quinten.Lon},
	}))

	acq := NewAcquirer(h.provider, "mix-obs", testLogger(), WithAudit(h.store))
	proc := features.NewProcessor(features.DefaultConfig(), acq, testLogger())
	loc, err := time.LoadLocation("Europe/Zurich")
	require.NoError(t, err)
	engine := predict.NewEngine(nil, loc, testLogger())

	h.scheduler = NewScheduler(DefaultSchedulerConfig(), h.store, acq, proc, engine, bundles, testLogger())
	h.scheduler.SetClock(h.clock)
	h.scheduler.SetArtifact(publish.NewCSVWriter(h.artifact, loc))
	return h
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "discovering_latest", StateDiscoveringLatest.String())
	assert.Equal(t, "persisting", StatePersisting.String())
	assert.Equal(t, "state(42)", State(42).String())
}

func TestDiscoverLatest(t *testing.T) {
	h := newHarness(t)

	end, err := h.scheduler.DiscoverLatest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 17, 7, 30, 0, 0, time.UTC), end, "one interval before the first hit")
	assert.Equal(t, 3, h.provider.calls(), "probes 08:00, 07:50 and 07:40")
}

func TestDiscoverLatestExhausted(t *testing.T) {
	h := newHarness(t)
	h.provider.latest = now.Add(-24 * time.Hour)

	_, err := h.scheduler.DiscoverLatest(context.Background())
	assert.ErrorIs(t, err, ErrNoRecentData)
	assert.Equal(t, 6, h.provider.calls())
}

func TestDiscoverLatestToleratesProbeErrors(t *testing.T) {
	h := newHarness(t)
	h.provider.failParams["t_2m:C"] = true

	_, err := h.scheduler.DiscoverLatest(context.Background())
	assert.ErrorIs(t, err, ErrNoRecentData)
	assert.Equal(t, 6, h.provider.calls())
}

func TestRunCycle(t *testing.T) {
	h := newHarness(t, persistenceBundle(), mismatchedBundle())
	h.provider.failParams["global_rad:W"] = true

	res, err := h.scheduler.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.ResultSuccess, res.Result)
	assert.Equal(t, time.Date(2026, 10, 17, 7, 30, 0, 0, time.UTC), res.DataEnd)
	assert.Equal(t, 2, res.Records, "one row times two horizons, the mismatched model is skipped")
	assert.Equal(t, int64(1), res.Pruned)
	assert.Equal(t, StateIdle, h.scheduler.State())

	records, err := h.store.LatestForecasts()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "persistence", records[0].Model)
	assert.True(t, records[0].ValidDate.Equal(time.Date(2026, 10, 17, 7, 40, 0, 0, time.UTC)))
	assert.Equal(t, 0.0, records[0].Std)

	data, err := os.ReadFile(h.artifact)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "2026-10-17 09:40:00,persistence,"), lines[1])

	active, err := h.store.ActiveParamStations()
	require.NoError(t, err)
	assert.Len(t, active, 3, "failing pair pruned")

	run, err := h.store.LatestRefreshRun()
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, res.RunID, run.RunID)
	assert.Equal(t, store.ResultSuccess, run.Result)
}

func TestRunCyclePrunesParameterWithoutValues(t *testing.T) {
	h := newHarness(t, persistenceBundle())
	h.provider.nanParams["global_rad:W"] = true

	res, err := h.scheduler.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.ResultSuccess, res.Result)
	assert.Equal(t, 2, res.Records)
	assert.Equal(t, int64(1), res.Pruned)

	active, err := h.store.ActiveParamStations()
	require.NoError(t, err)
	require.Len(t, active, 3)
	for _, ps := range active {
		assert.NotEqual(t, "global_rad:W", ps.Parameter)
	}
}

func TestRunCycleUpToDate(t *testing.T) {
	h := newHarness(t, persistenceBundle())

	_, err := h.scheduler.RunCycle(context.Background())
	require.NoError(t, err)
	before := h.provider.calls()

	res, err := h.scheduler.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.ResultUpToDate, res.Result)
	assert.Equal(t, 3, h.provider.calls()-before, "only the discovery probes run")
}

func TestRunCyclePrunesRunHistory(t *testing.T) {
	h := newHarness(t, persistenceBundle())
	h.scheduler.cfg.History = time.Hour

	var last CycleResult
	for range 3 {
		res, err := h.scheduler.RunCycle(context.Background())
		require.NoError(t, err)
		require.Equal(t, store.ResultSuccess, res.Result)
		last = res

		h.clock.Advance(2 * time.Hour)
		h.provider.latest = h.provider.latest.Add(2 * time.Hour)
	}

	n, err := h.store.PruneRunHistory(h.clock.Now().Add(-3 * time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n, "rows older than the retention were already pruned by the cycles")

	run, err := h.store.LatestSuccessfulRefreshRun()
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, last.RunID, run.RunID)
}

func TestRunCycleRestoresLastEnd(t *testing.T) {
	h := newHarness(t, persistenceBundle())
	_, err := h.scheduler.RunCycle(context.Background())
	require.NoError(t, err)

	restarted := newHarness(t, persistenceBundle())
	restarted.scheduler.store = h.store
	res, err := restarted.scheduler.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.ResultUpToDate, res.Result)
}

func TestRunCycleNoModelOutput(t *testing.T) {
	h := newHarness(t, mismatchedBundle())

	res, err := h.scheduler.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrNoForecast)
	assert.Equal(t, store.ResultAborted, res.Result)

	_, statErr := os.Stat(h.artifact)
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "nothing persisted")

	_, ok, err := h.store.LastDataEnd()
	require.NoError(t, err)
	assert.False(t, ok)

	h.scheduler.bundles = []*predict.Bundle{persistenceBundle()}
	res, err = h.scheduler.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.ResultSuccess, res.Result, "failed cycle does not mark the data as processed")
}

func TestRunCycleNoRecentData(t *testing.T) {
	h := newHarness(t, persistenceBundle())
	h.provider.latest = now.Add(-24 * time.Hour)

	res, err := h.scheduler.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrNoRecentData)
	assert.Equal(t, store.ResultNoData, res.Result)

	run, err := h.store.LatestRefreshRun()
	require.NoError(t, err)
	assert.Equal(t, store.ResultNoData, run.Result)
	assert.True(t, run.ErrorMessage.Valid)
}

type recordingSink struct {
	got [][]models.ForecastRecord
	err error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Publish(ctx context.Context, records []models.ForecastRecord) error {
	s.got = append(s.got, records)
	return s.err
}

func TestRunCycleSinkFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, persistenceBundle())
	failing := &recordingSink{err: errors.New("unreachable")}
	ok := &recordingSink{}
	h.scheduler.AddSink(failing)
	h.scheduler.AddSink(ok)

	res, err := h.scheduler.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.ResultSuccess, res.Result)
	require.Len(t, ok.got, 1)
	assert.Len(t, ok.got[0], 2)
}

func TestRunTicksEveryPeriod(t *testing.T) {
	h := newHarness(t, persistenceBundle())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		h.scheduler.Run(ctx)
		close(done)
	}()

	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	first, err := h.store.LatestRefreshRun()
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, store.ResultSuccess, first.Result)

	h.clock.Advance(2 * time.Minute)
	require.Eventually(t, func() bool {
		run, err := h.store.LatestRefreshRun()
		return err == nil && run != nil && run.RunID != first.RunID && run.FinishedAt.Valid
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
