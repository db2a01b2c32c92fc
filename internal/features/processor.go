// Package features turns raw station series into the flat feature matrix the
// models were trained on.
package features

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lox/surfcast/internal/frame"
	"github.com/lox/surfcast/internal/models"
)

var ErrInsufficientHistory = errors.New("insufficient history for features")

type Config struct {
	// RollingWindow is the smoothing window applied to the finished features.
	RollingWindow int
	// DiffWindow is the window of the rolling mean over first differences.
	DiffWindow int
	// DataWindow is the number of complete feature rows wanted per cycle.
	DataWindow     int
	Gradients      []Gradient
	GradientRadius float64
}

func DefaultConfig() Config {
	return Config{
		RollingWindow:  3,
		DiffWindow:     2,
		DataWindow:     1,
		Gradients:      DefaultGradients,
		GradientRadius: DefaultGradientRadius,
	}
}

// StartFor returns the earliest timestamp to fetch so that a window ending
// at end yields DataWindow complete rows.
func (c Config) StartFor(end time.Time, interval time.Duration) time.Time {
	steps := c.DataWindow + c.RollingWindow + c.DiffWindow - 2
	return end.Add(-time.Duration(steps) * interval)
}

type Processor struct {
	cfg    Config
	source PointSource
	logger *slog.Logger
}

// NewProcessor returns a processor. source may be nil, in which case the
// features are built without gradient columns.
func NewProcessor(cfg Config, source PointSource, logger *slog.Logger) *Processor {
	return &Processor{cfg: cfg, source: source, logger: logger.With("component", "features")}
}

func (p *Processor) Config() Config { return p.cfg }

// Build runs the feature pipeline: wind decomposition, pressure gradients,
// transient features, calendar features, smoothing and removal of incomplete
// rows, then flattens the columns. Columns without a single value, such as a
// gradient whose reference stations are down, are dropped before incomplete
// rows are removed.
func (p *Processor) Build(ctx context.Context, f *frame.Frame, window models.Window) (*frame.Matrix, error) {
	if f.Empty() {
		return nil, ErrInsufficientHistory
	}

	out := DecomposeWind(f)
	out = ExogenousFeatures(ctx, out, p.source, p.cfg.Gradients, p.cfg.GradientRadius, window, p.logger)
	for _, k := range out.DropEmptyColumns() {
		p.logger.Warn("dropping feature without values", "column", k.Flat())
	}
	out = TransientFeatures(out, p.cfg.DiffWindow)
	AddCyclicalFeatures(out)
	out = out.RollingMean(p.cfg.RollingWindow).DropMissingRows()

	if out.Len() == 0 {
		for _, c := range f.Columns() {
			if n := f.MissingCount(c); n > 0 {
				p.logger.Debug("missing values in input", "column", c.Flat(), "missing", n)
			}
		}
		return nil, ErrInsufficientHistory
	}
	return out.Flat(), nil
}
