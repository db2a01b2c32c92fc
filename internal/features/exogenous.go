package features

import (
	"context"
	"log/slog"
	"math"

	"github.com/lox/surfcast/internal/frame"
	"github.com/lox/surfcast/internal/geo"
	"github.com/lox/surfcast/internal/models"
)

// PressureParam is the parameter compared across the Alps.
const PressureParam = "msl_pressure:hPa"

// DefaultGradientRadius is how far from a reference location a station may
// be to stand in for it, in metres.
const DefaultGradientRadius = 5000.0

// Location is a named reference point.
type Location struct {
	Name  string
	Point geo.Point
}

// Gradient is a synthetic feature: the difference From minus To of each
// parameter, stored under the pseudo-station Name.
type Gradient struct {
	Name       string
	From       Location
	To         Location
	Parameters []string
}

// DefaultGradients are the bise (Geneva minus Konstanz) and föhn (Lugano
// minus Zürich) pressure differences.
var DefaultGradients = []Gradient{
	{
		Name:       "bise",
		From:       Location{Name: "Genf", Point: geo.Point{Lat: 46.1957, Lon: 6.09051}},
		To:         Location{Name: "Konstanz", Point: geo.Point{Lat: 47.6952, Lon: 9.1307}},
		Parameters: []string{PressureParam},
	},
	{
		Name:       "föhn",
		From:       Location{Name: "Lugano", Point: geo.Point{Lat: 45.9984, Lon: 8.9320}},
		To:         Location{Name: "Zürich", Point: geo.Point{Lat: 47.3982, Lon: 8.5156}},
		Parameters: []string{PressureParam},
	},
}

// PointSource fetches series for the station nearest to a point. It returns
// nil when no station lies within radius.
type PointSource interface {
	NearestSeries(ctx context.Context, p geo.Point, radius float64, parameters []string, window models.Window) (*frame.Frame, error)
}

// ExogenousFeatures adds one column per gradient parameter. When either side
// has no data the column is added but left entirely missing.
func ExogenousFeatures(ctx context.Context, f *frame.Frame, src PointSource, gradients []Gradient, radius float64, window models.Window, logger *slog.Logger) *frame.Frame {
	out := f.Clone()
	for _, g := range gradients {
		from := fetchSide(ctx, src, g.From, radius, g.Parameters, window, logger)
		to := fetchSide(ctx, src, g.To, radius, g.Parameters, window, logger)

		for _, param := range g.Parameters {
			values := frame.NaNs(out.Len())
			if from != nil && to != nil {
				a := seriesAt(from, param)
				b := seriesAt(to, param)
				for i, t := range out.Index() {
					values[i] = a(t.UnixNano()) - b(t.UnixNano())
				}
			}
			_ = out.Set(frame.Col(g.Name, param), values)
		}
	}
	return out
}

func fetchSide(ctx context.Context, src PointSource, loc Location, radius float64, params []string, window models.Window, logger *slog.Logger) *frame.Frame {
	if src == nil {
		return nil
	}
	f, err := src.NearestSeries(ctx, loc.Point, radius, params, window)
	if err != nil {
		logger.Warn("reference series unavailable", "location", loc.Name, "error", err)
		return nil
	}
	if f.Empty() {
		logger.Warn("no station near reference location", "location", loc.Name, "radius_m", radius)
		return nil
	}
	return f
}

// seriesAt returns a lookup of the first station's values for param by
// timestamp. Unknown timestamps yield NaN.
func seriesAt(f *frame.Frame, param string) func(int64) float64 {
	byTime := make(map[int64]float64, f.Len())
	stations := f.Stations()
	if len(stations) == 0 {
		return func(int64) float64 { return math.NaN() }
	}
	values, ok := f.Column(frame.Col(stations[0], param))
	if !ok {
		return func(int64) float64 { return math.NaN() }
	}
	for i, t := range f.Index() {
		byTime[t.UnixNano()] = values[i]
	}
	return func(ts int64) float64 {
		if v, ok := byTime[ts]; ok {
			return v
		}
		return math.NaN()
	}
}
