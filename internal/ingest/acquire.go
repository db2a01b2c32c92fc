// Package ingest fetches station reference data and time series from the
// weather provider and drives the periodic forecast refresh.
package ingest

import (
	"context"
	"database/sql"
	"log/slog"
	"sort"
	"time"

	"github.com/lox/surfcast/internal/cache"
	"github.com/lox/surfcast/internal/frame"
	"github.com/lox/surfcast/internal/geo"
	"github.com/lox/surfcast/internal/meteo"
	"github.com/lox/surfcast/internal/models"
	"github.com/lox/surfcast/internal/store"
)

// Provider is the weather data API. *meteo.Client implements it.
type Provider interface {
	FindStations(ctx context.Context, q meteo.StationQuery) ([]models.Station, error)
	TimeSeries(ctx context.Context, q meteo.SeriesQuery) (*frame.Frame, error)
}

// Auditor records provider calls. *store.Store implements it.
type Auditor interface {
	StartIngestRun(endpoint string, parameters []string, points int) (*store.IngestRun, error)
	CompleteIngestRun(run *store.IngestRun) error
}

// Acquirer wraps the provider with caching, auditing and per-parameter
// fallback. Provider failures never escape it: they become missing results
// and a warning.
type Acquirer struct {
	provider Provider
	model    string
	cache    *cache.Store
	audit    Auditor
	logger   *slog.Logger
}

type AcquirerOption func(*Acquirer)

// WithCache memoizes station discovery in c.
func WithCache(c *cache.Store) AcquirerOption {
	return func(a *Acquirer) { a.cache = c }
}

// WithAudit records every provider call in au.
func WithAudit(au Auditor) AcquirerOption {
	return func(a *Acquirer) { a.audit = au }
}

func NewAcquirer(provider Provider, model string, logger *slog.Logger, opts ...AcquirerOption) *Acquirer {
	a := &Acquirer{
		provider: provider,
		model:    model,
		logger:   logger.With("component", "acquire"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// DiscoverStations returns the stations that reported parameter during
// window, or nil when the provider fails. Each parameter is queried on its
// own: a multi-parameter search only returns stations that measure all of
// them.
func (a *Acquirer) DiscoverStations(ctx context.Context, parameter string, window models.Window) []models.Station {
	params := cache.Params{
		"parameter": parameter,
		"startdate": window.Start,
		"enddate":   window.End,
	}
	stations, err := cache.Memoize(a.cache, "discoverStations", params, func() ([]models.Station, error) {
		run := a.startRun("find_station", []string{parameter}, 0)
		stations, err := a.provider.FindStations(ctx, meteo.StationQuery{
			Parameters: []string{parameter},
			Start:      window.Start,
			End:        window.End,
		})
		a.completeRun(run, len(stations), err)
		return stations, err
	})
	if err != nil {
		a.logger.Warn("station discovery failed", "parameter", parameter, "error", err)
		return nil
	}
	return stations
}

// BuildParamStations discovers, for every parameter, the stations inside
// region and returns the resulting parameter/station map together with the
// distinct stations involved.
func (a *Acquirer) BuildParamStations(ctx context.Context, parameters []string, region geo.Region, window models.Window) ([]models.ParamStation, []models.Station) {
	var pairs []models.ParamStation
	seen := make(map[string]bool)
	byID := make(map[string]*models.Station)
	var ids []string

	for _, param := range parameters {
		found := geo.FilterStations(a.DiscoverStations(ctx, param, window), region)
		a.logger.Info("stations in range", "parameter", param, "count", len(found))

		for _, st := range found {
			ps := models.ParamStation{
				Parameter:   param,
				StationName: frame.CleanName(st.Name),
				Latitude:    st.Latitude,
				Longitude:   st.Longitude,
				Elevation:   st.Elevation,
			}
			if seen[ps.Pair()] {
				continue
			}
			seen[ps.Pair()] = true
			pairs = append(pairs, ps)

			key := st.ID
			if key == "" {
				key = ps.StationName
			}
			if existing, ok := byID[key]; ok {
				existing.Parameters = appendUnique(existing.Parameters, param)
				continue
			}
			st.Parameters = []string{param}
			byID[key] = &st
			ids = append(ids, key)
		}
	}

	stations := make([]models.Station, 0, len(ids))
	for _, id := range ids {
		stations = append(stations, *byID[id])
	}
	return pairs, stations
}

// SeriesRequest asks for parameters at points over window.
type SeriesRequest struct {
	Parameters []string
	Points     []geo.Point
	Window     models.Window
}

// SeriesResult is what could be fetched. Failed lists the parameters that
// returned no values even when requested on their own.
type SeriesResult struct {
	Frame  *frame.Frame
	Failed []string
}

// FetchSeries tries one batched request and falls back to one request per
// parameter when the batch fails or comes back without values. Every
// parameter is judged on its own result: columns without a single value are
// dropped, and a parameter left with no column counts as failed.
func (a *Acquirer) FetchSeries(ctx context.Context, req SeriesRequest) SeriesResult {
	f, err := a.timeSeries(ctx, req.Parameters, req.Points, req.Window)
	if err == nil && f.HasData() {
		return a.withValues(f, req.Parameters)
	}
	if len(req.Parameters) == 1 {
		a.logger.Warn("series fetch failed", "parameter", req.Parameters[0], "error", err)
		return SeriesResult{Failed: req.Parameters}
	}
	a.logger.Warn("batched series fetch failed, retrying per parameter", "parameters", len(req.Parameters), "error", err)

	var res SeriesResult
	var parts []*frame.Frame
	for _, param := range req.Parameters {
		pf, err := a.timeSeries(ctx, []string{param}, req.Points, req.Window)
		if err != nil || !pf.HasData() {
			a.logger.Warn("parameter fetch failed", "parameter", param, "error", err)
			res.Failed = append(res.Failed, param)
			continue
		}
		part := a.withValues(pf, []string{param})
		res.Failed = append(res.Failed, part.Failed...)
		parts = append(parts, part.Frame)
	}
	if len(parts) > 0 {
		res.Frame = frame.Merge(parts...)
	}
	return res
}

// withValues drops the columns of f that hold no value and reports the
// requested parameters that have no column left.
func (a *Acquirer) withValues(f *frame.Frame, params []string) SeriesResult {
	for _, k := range f.DropEmptyColumns() {
		a.logger.Warn("series without values", "column", k.Flat())
	}
	present := make(map[string]bool)
	for _, k := range f.Columns() {
		present[k.Parameter] = true
	}
	res := SeriesResult{Frame: f}
	for _, param := range params {
		if !present[param] {
			res.Failed = append(res.Failed, param)
		}
	}
	return res
}

// FetchParamStations fetches every active pair, one request per station
// location, and names the columns after the stations. It returns the pairs
// whose parameter could not be fetched so they can be pruned.
func (a *Acquirer) FetchParamStations(ctx context.Context, pairs []models.ParamStation, window models.Window) (*frame.Frame, []models.ParamStation) {
	type group struct {
		point geo.Point
		name  string
		pairs []models.ParamStation
	}
	groups := make(map[geo.Point]*group)
	var order []geo.Point
	for _, ps := range pairs {
		p := geo.Round(geo.ParamStationPoint(ps))
		g, ok := groups[p]
		if !ok {
			g = &group{point: p, name: ps.StationName}
			groups[p] = g
			order = append(order, p)
		}
		g.pairs = append(g.pairs, ps)
	}

	var parts []*frame.Frame
	var failed []models.ParamStation
	for _, p := range order {
		g := groups[p]
		var params []string
		for _, ps := range g.pairs {
			params = appendUnique(params, ps.Parameter)
		}

		res := a.FetchSeries(ctx, SeriesRequest{Parameters: params, Points: []geo.Point{g.point}, Window: window})
		if len(res.Failed) > 0 {
			dropped := make(map[string]bool, len(res.Failed))
			for _, param := range res.Failed {
				dropped[param] = true
			}
			for _, ps := range g.pairs {
				if dropped[ps.Parameter] {
					failed = append(failed, ps)
				}
			}
		}
		if res.Frame == nil {
			continue
		}
		if flags := MaskImplausible(res.Frame); flags != nil {
			a.logger.Warn("implausible observations masked", "station", g.name, "flags", flags)
			res.Frame.DropEmptyColumns()
		}
		if res.Frame.Empty() {
			continue
		}
		res.Frame.RenameStation(g.point.String(), frame.CleanName(g.name))
		parts = append(parts, res.Frame)
	}

	if len(parts) == 0 {
		return nil, failed
	}
	return frame.Merge(parts...), failed
}

// NearestSeries fetches parameters for the station closest to p within
// radius metres, naming the columns after the station. Only stations that
// reported every parameter during window qualify. It returns nil when there
// is no such station.
func (a *Acquirer) NearestSeries(ctx context.Context, p geo.Point, radius float64, parameters []string, window models.Window) (*frame.Frame, error) {
	if len(parameters) == 0 {
		return nil, nil
	}
	candidates := a.DiscoverStations(ctx, parameters[0], window)
	for _, param := range parameters[1:] {
		candidates = intersect(candidates, a.DiscoverStations(ctx, param, window))
	}
	st, ok := geo.Nearest(candidates, p, radius)
	if !ok {
		return nil, nil
	}

	point := geo.Round(geo.StationPoint(st))
	res := a.FetchSeries(ctx, SeriesRequest{Parameters: parameters, Points: []geo.Point{point}, Window: window})
	if res.Frame == nil {
		return nil, nil
	}
	res.Frame.RenameStation(point.String(), frame.CleanName(st.Name))
	return res.Frame, nil
}

// Probe reports whether ps has at least one value at the single timestamp
// at.
func (a *Acquirer) Probe(ctx context.Context, ps models.ParamStation, at time.Time, interval time.Duration) (bool, error) {
	w := models.Window{Start: at, End: at, Interval: interval}
	f, err := a.timeSeries(ctx, []string{ps.Parameter}, []geo.Point{geo.ParamStationPoint(ps)}, w)
	if err != nil {
		return false, err
	}
	return f.HasData(), nil
}

func (a *Acquirer) timeSeries(ctx context.Context, params []string, points []geo.Point, window models.Window) (*frame.Frame, error) {
	run := a.startRun("timeseries", params, len(points))
	f, err := a.provider.TimeSeries(ctx, meteo.SeriesQuery{
		Parameters: params,
		Points:     points,
		Model:      a.model,
		Window:     window,
	})
	cells := 0
	if f != nil {
		cells = f.Len() * f.Width()
	}
	a.completeRun(run, cells, err)
	return f, err
}

func (a *Acquirer) startRun(endpoint string, params []string, points int) *store.IngestRun {
	if a.audit == nil {
		return nil
	}
	run, err := a.audit.StartIngestRun(endpoint, params, points)
	if err != nil {
		a.logger.Warn("failed to record ingest run", "endpoint", endpoint, "error", err)
		return nil
	}
	return run
}

func (a *Acquirer) completeRun(run *store.IngestRun, records int, err error) {
	if run == nil {
		return
	}
	run.Success = err == nil
	run.RecordsParsed = sql.NullInt64{Int64: int64(records), Valid: err == nil}
	if err != nil {
		run.Fail(err)
	}
	if err := a.audit.CompleteIngestRun(run); err != nil {
		a.logger.Warn("failed to complete ingest run", "id", run.ID, "error", err)
	}
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}

func intersect(a, b []models.Station) []models.Station {
	key := func(st models.Station) string {
		if st.ID != "" {
			return st.ID
		}
		return st.Name
	}
	in := make(map[string]bool, len(b))
	for _, st := range b {
		in[key(st)] = true
	}
	var out []models.Station
	for _, st := range a {
		if in[key(st)] {
			out = append(out, st)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
