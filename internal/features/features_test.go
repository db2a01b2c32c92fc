package features

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/surfcast/internal/frame"
	"github.com/lox/surfcast/internal/geo"
	"github.com/lox/surfcast/internal/models"
)

var t0 = time.Date(2026, 10, 17, 6, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFrame(t *testing.T, n int) *frame.Frame {
	t.Helper()
	f, err := frame.New(frame.Range(t0, t0.Add(time.Duration(n-1)*10*time.Minute), 10*time.Minute))
	require.NoError(t, err)
	return f
}

func ramp(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func TestWindVectorRoundTrip(t *testing.T) {
	for dir := 0.0; dir < 360; dir++ {
		for _, speed := range []float64{0.3, 5, 12.7, 48.2} {
			x, y := WindToVector(speed, dir)
			gotSpeed, gotDir := VectorToWind(x, y)
			assert.Equal(t, speed, gotSpeed, "speed %v dir %v", speed, dir)
			assert.Equal(t, dir, gotDir, "speed %v dir %v", speed, dir)
		}
	}
}

func TestVectorToWindEdgeCases(t *testing.T) {
	speed, dir := VectorToWind(0, 0)
	assert.Equal(t, 0.0, speed)
	assert.Equal(t, 0.0, dir)

	speed, dir = VectorToWind(math.NaN(), 1)
	assert.True(t, math.IsNaN(speed))
	assert.True(t, math.IsNaN(dir))

	_, dir = VectorToWind(-10, 0)
	assert.Equal(t, 270.0, dir)
	_, dir = VectorToWind(10, 0)
	assert.Equal(t, 90.0, dir)
}

func TestDecomposeAndRecomposeFrame(t *testing.T) {
	f := newFrame(t, 3)
	require.NoError(t, f.Set(frame.Col("Quinten", "wind_speed_10m:kmh"), []float64{10, 20, 30}))
	require.NoError(t, f.Set(frame.Col("Quinten", "wind_gusts_10m:kmh"), []float64{15, 25, 35}))
	require.NoError(t, f.Set(frame.Col("Quinten", DirectionParam), []float64{90, 180, 270}))
	require.NoError(t, f.Set(frame.Col("Quinten", "t_2m:C"), []float64{8, 9, 10}))
	require.NoError(t, f.Set(frame.Col("Glarus", "wind_speed_10m:kmh"), []float64{1, 2, 3}))

	d := DecomposeWind(f)
	assert.ElementsMatch(t, []string{"t_2m:C", "wind_speed_10m:kmh_x", "wind_speed_10m:kmh_y", "wind_gusts_10m:kmh_x", "wind_gusts_10m:kmh_y"}, d.ParametersOf("Quinten"))
	assert.Equal(t, []string{"wind_speed_10m:kmh"}, d.ParametersOf("Glarus"), "stations without direction are untouched")
	assert.InDelta(t, 10, d.At(frame.Col("Quinten", "wind_speed_10m:kmh_x"), 0), 1e-9)
	assert.InDelta(t, -20, d.At(frame.Col("Quinten", "wind_speed_10m:kmh_y"), 1), 1e-9)

	r := RecomposeWind(d)
	assert.ElementsMatch(t, []string{"t_2m:C", "wind_speed_10m:kmh", "wind_gusts_10m:kmh", DirectionParam}, r.ParametersOf("Quinten"))
	for i, want := range []float64{10, 20, 30} {
		assert.Equal(t, want, r.At(frame.Col("Quinten", "wind_speed_10m:kmh"), i))
	}
	for i, want := range []float64{90, 180, 270} {
		assert.Equal(t, want, r.At(frame.Col("Quinten", DirectionParam), i))
	}
}

func TestCyclicalAngles(t *testing.T) {
	assert.Equal(t, 0.0, DayAngle(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.InDelta(t, 2*math.Pi, DayAngle(time.Date(2026, 1, 1, 23, 50, 0, 0, time.UTC)), 1e-12)
	assert.Equal(t, 0.0, YearAngle(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.InDelta(t, math.Pi, YearAngle(time.Date(2026, 7, 2, 12, 0, 0, 0, time.UTC)), 1e-9)
}

func TestAddCyclicalFeatures(t *testing.T) {
	f := newFrame(t, 2)
	AddCyclicalFeatures(f)

	assert.Equal(t, []string{"cos_day", "sin_day", "cos_year", "sin_year"}, f.ParametersOf(TimeStation))
	for _, c := range f.Columns() {
		values, _ := f.Column(c)
		for _, v := range values {
			assert.GreaterOrEqual(t, v, -1.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	}
}

func TestTransientFeaturesRowCount(t *testing.T) {
	for _, window := range []int{1, 2, 3, 5} {
		f := newFrame(t, 20)
		require.NoError(t, f.Set(frame.Col("A", "p"), ramp(20, 0, 2)))

		out := TransientFeatures(f, window)
		assert.Equal(t, 20-(window-1)-1, out.Len(), "window %d", window)
		diffs, ok := out.Column(frame.Col("A", "diff_p"))
		require.True(t, ok)
		for _, v := range diffs {
			assert.Equal(t, 2.0, v)
		}
	}
}

type fakeSource struct {
	series map[geo.Point]float64
	err    error
}

func (s fakeSource) NearestSeries(ctx context.Context, p geo.Point, radius float64, params []string, w models.Window) (*frame.Frame, error) {
	if s.err != nil {
		return nil, s.err
	}
	v, ok := s.series[p]
	if !ok {
		return nil, nil
	}
	f, err := frame.New(frame.Range(w.Start, w.End, w.Interval))
	if err != nil {
		return nil, err
	}
	for _, param := range params {
		values := make([]float64, f.Len())
		for i := range values {
			values[i] = v
		}
		if err := f.Set(frame.Col("nearby", param), values); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func window(n int) models.Window {
	return models.Window{Start: t0, End: t0.Add(time.Duration(n-1) * 10 * time.Minute), Interval: 10 * time.Minute}
}

func allPressures() fakeSource {
	return fakeSource{series: map[geo.Point]float64{
		DefaultGradients[0].From.Point: 1020,
		DefaultGradients[0].To.Point:   1016,
		DefaultGradients[1].From.Point: 1010,
		DefaultGradients[1].To.Point:   1014,
	}}
}

func TestExogenousFeatures(t *testing.T) {
	f := newFrame(t, 3)
	require.NoError(t, f.Set(frame.Col("A", "p"), []float64{1, 2, 3}))

	out := ExogenousFeatures(context.Background(), f, allPressures(), DefaultGradients, DefaultGradientRadius, window(3), testLogger())
	for i := range 3 {
		assert.Equal(t, 4.0, out.At(frame.Col("bise", PressureParam), i))
		assert.Equal(t, -4.0, out.At(frame.Col("föhn", PressureParam), i))
	}
	assert.False(t, f.Has(frame.Col("bise", PressureParam)), "input is not modified")
}

func TestExogenousFeaturesMissingSide(t *testing.T) {
	src := allPressures()
	delete(src.series, DefaultGradients[0].To.Point)
	f := newFrame(t, 3)

	out := ExogenousFeatures(context.Background(), f, src, DefaultGradients, DefaultGradientRadius, window(3), testLogger())
	assert.Equal(t, 3, out.MissingCount(frame.Col("bise", PressureParam)))
	assert.Equal(t, 0, out.MissingCount(frame.Col("föhn", PressureParam)))

	out = ExogenousFeatures(context.Background(), f, fakeSource{err: errors.New("down")}, DefaultGradients, DefaultGradientRadius, window(3), testLogger())
	assert.Equal(t, 3, out.MissingCount(frame.Col("föhn", PressureParam)))
}

func TestStartFor(t *testing.T) {
	end := time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, end.Add(-40*time.Minute), DefaultConfig().StartFor(end, 10*time.Minute))
}

func TestProcessorBuild(t *testing.T) {
	const n = 100
	f := newFrame(t, n)
	require.NoError(t, f.Set(frame.Col("Quinten", "wind_speed_10m:kmh"), ramp(n, 5, 0.1)))
	require.NoError(t, f.Set(frame.Col("Quinten", DirectionParam), ramp(n, 200, 0.5)))
	require.NoError(t, f.Set(frame.Col("Glarus", "msl_pressure:hPa"), ramp(n, 1010, 0.01)))

	p := NewProcessor(DefaultConfig(), allPressures(), testLogger())
	m, err := p.Build(context.Background(), f, window(n))
	require.NoError(t, err)

	assert.Equal(t, 96, m.Len())
	assert.Equal(t, t0.Add(40*time.Minute), m.Index[0])
	for i := range m.Rows {
		assert.False(t, m.RowHasMissing(i))
	}
	for _, col := range []string{
		"Quinten, wind_speed_10m:kmh_x",
		"Quinten, diff_wind_speed_10m:kmh_y",
		"Glarus, diff_msl_pressure:hPa",
		"bise, msl_pressure:hPa",
		"föhn, diff_msl_pressure:hPa",
		"time, sin_year",
	} {
		assert.GreaterOrEqual(t, m.ColumnIndex(col), 0, col)
	}
	assert.Equal(t, -1, m.ColumnIndex("Quinten, "+DirectionParam))
}

func TestProcessorMinimalWindowYieldsOneRow(t *testing.T) {
	cfg := DefaultConfig()
	end := t0.Add(time.Hour)
	start := cfg.StartFor(end, 10*time.Minute)
	f, err := frame.New(frame.Range(start, end, 10*time.Minute))
	require.NoError(t, err)
	require.NoError(t, f.Set(frame.Col("Quinten", "t_2m:C"), ramp(f.Len(), 8, 0.1)))

	w := models.Window{Start: start, End: end, Interval: 10 * time.Minute}
	m, err := NewProcessor(cfg, allPressures(), testLogger()).Build(context.Background(), f, w)
	require.NoError(t, err)
	require.Equal(t, 1, m.Len())
	assert.Equal(t, end, m.Index[0])
}

func TestProcessorInsufficientHistory(t *testing.T) {
	p := NewProcessor(DefaultConfig(), allPressures(), testLogger())

	_, err := p.Build(context.Background(), nil, window(1))
	assert.ErrorIs(t, err, ErrInsufficientHistory)

	f := newFrame(t, 3)
	require.NoError(t, f.Set(frame.Col("A", "p"), []float64{1, 2, 3}))
	_, err = p.Build(context.Background(), f, window(3))
	assert.ErrorIs(t, err, ErrInsufficientHistory)
}

func TestProcessorWithoutReferenceStations(t *testing.T) {
	f := newFrame(t, 10)
	require.NoError(t, f.Set(frame.Col("A", "p"), ramp(10, 0, 1)))

	m, err := NewProcessor(DefaultConfig(), nil, testLogger()).Build(context.Background(), f, window(10))
	require.NoError(t, err)
	assert.Equal(t, 6, m.Len())
	assert.GreaterOrEqual(t, m.ColumnIndex("A, diff_p"), 0)
	for _, g := range DefaultGradients {
		assert.Equal(t, -1, m.ColumnIndex(g.Name+", "+PressureParam), g.Name)
		assert.Equal(t, -1, m.ColumnIndex(g.Name+", diff_"+PressureParam), g.Name)
	}
}

func TestProcessorDropsGradientWithOneSideDown(t *testing.T) {
	const n = 20
	src := allPressures()
	delete(src.series, DefaultGradients[0].To.Point)
	f := newFrame(t, n)
	require.NoError(t, f.Set(frame.Col("A", "p"), ramp(n, 0, 1)))

	m, err := NewProcessor(DefaultConfig(), src, testLogger()).Build(context.Background(), f, window(n))
	require.NoError(t, err)
	assert.Equal(t, n-4, m.Len())
	assert.Equal(t, -1, m.ColumnIndex("bise, "+PressureParam))
	assert.GreaterOrEqual(t, m.ColumnIndex("föhn, "+PressureParam), 0)
}
