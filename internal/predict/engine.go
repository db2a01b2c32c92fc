// Package predict applies trained model bundles to the current feature
// matrix.
package predict

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/lox/surfcast/internal/frame"
	"github.com/lox/surfcast/internal/models"
)

// ErrSchemaMismatch means the live features do not match what a bundle was
// trained on.
var ErrSchemaMismatch = errors.New("feature schema mismatch")

type Engine struct {
	transform *FeatureTransform
	loc       *time.Location
	logger    *slog.Logger
}

// NewEngine returns an engine applying transform (may be nil) before every
// bundle and reporting valid dates in loc.
func NewEngine(transform *FeatureTransform, loc *time.Location, logger *slog.Logger) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{transform: transform, loc: loc, logger: logger.With("component", "predict")}
}

// Predict produces one record per input row, criterion and horizon. A
// criterion whose features cannot be realigned to what it was trained on is
// skipped with a warning and the other criteria still produce records. The
// collected errors are returned only when no criterion produced anything.
func (e *Engine) Predict(m *frame.Matrix, b *Bundle) ([]models.ForecastRecord, error) {
	if m.Empty() {
		return nil, nil
	}
	x, err := e.transform.Apply(m)
	if err != nil {
		return nil, err
	}
	if b.Mode != ModePassthrough {
		x, err = x.Select(b.Columns)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrSchemaMismatch, b.Name, err)
		}
	}

	var records []models.ForecastRecord
	var errs []error
	for _, c := range b.Criteria {
		cr, err := e.predictCriterion(m, x, b, c)
		if err != nil {
			e.logger.Warn("skipping criterion", "model", b.Name, "criterion", c.Name, "error", err)
			errs = append(errs, err)
			continue
		}
		records = append(records, cr...)
	}
	if len(records) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return records, nil
}

// predictCriterion returns the records of every horizon of c, or none.
func (e *Engine) predictCriterion(m, x *frame.Matrix, b *Bundle, c Criterion) ([]models.ForecastRecord, error) {
	var records []models.ForecastRecord
	for _, h := range c.Horizons {
		offset, err := ParseHorizon(h.Offset)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
		}

		var rows []estimate
		if b.Mode == ModePassthrough {
			rows, err = passthrough(m, c.Name)
		} else {
			rows, err = e.ensemble(x, b, c.Name, h)
		}
		if err != nil {
			return nil, err
		}

		mae := b.MAE(c.Name, h.Offset)
		for i, est := range rows {
			records = append(records, models.ForecastRecord{
				ValidDate: m.Index[i].Add(offset).In(e.loc),
				Model:     b.Name,
				Criterion: c.Name,
				Horizon:   offset,
				Mean:      est.mean,
				Std:       est.std,
				Error:     mae,
			})
		}
	}
	return records, nil
}

type estimate struct {
	mean float64
	std  float64
}

// passthrough reports the untransformed criterion feature as the forecast.
func passthrough(m *frame.Matrix, criterion string) ([]estimate, error) {
	values, ok := m.Column(criterion)
	if !ok {
		return nil, fmt.Errorf("%w: passthrough criterion %q not in features", ErrSchemaMismatch, criterion)
	}
	out := make([]estimate, len(values))
	for i, v := range values {
		out[i] = estimate{mean: v, std: 0}
	}
	return out, nil
}

func (e *Engine) ensemble(x *frame.Matrix, b *Bundle, criterion string, h Horizon) ([]estimate, error) {
	col := ColumnName(criterion, h.Offset)
	if imp, ok := b.Importance[col]; ok {
		sel, err := x.Select(imp)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %s: %v", ErrSchemaMismatch, b.Name, col, err)
		}
		x = sel
	}

	regressors := make([]Regressor, len(h.Folds))
	for i, f := range h.Folds {
		r, err := f.Regressor()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %s: %v", ErrInvalidBundle, b.Name, col, err)
		}
		if r.Inputs() != len(x.Columns) {
			return nil, fmt.Errorf("%w: %s: %s fold %d expects %d inputs, have %d", ErrSchemaMismatch, b.Name, col, f.Index, r.Inputs(), len(x.Columns))
		}
		regressors[i] = r
	}

	out := make([]estimate, len(x.Rows))
	preds := make([]float64, len(regressors))
	for i, row := range x.Rows {
		for j, r := range regressors {
			y := r.Predict(row)
			if b.TargetTransform != nil {
				y = b.TargetTransform.Inverse(y)
			}
			preds[j] = y
		}
		out[i] = estimate{mean: mean(preds), std: stddev(preds)}
	}
	return out, nil
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

// stddev is the sample standard deviation; NaN for fewer than two values.
func stddev(v []float64) float64 {
	if len(v) < 2 {
		return math.NaN()
	}
	m := mean(v)
	ss := 0.0
	for _, x := range v {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(v)-1))
}
