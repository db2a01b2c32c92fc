package predict

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Mode selects how a bundle produces its values.
type Mode string

const (
	// ModeEnsemble runs every fold regressor and reports mean and spread.
	ModeEnsemble Mode = "ensemble"
	// ModePassthrough reports the current value of the criterion feature, a
	// persistence baseline.
	ModePassthrough Mode = "passthrough"
)

var ErrInvalidBundle = errors.New("invalid model bundle")

// Bundle is a trained model: per criterion and horizon a set of fold
// regressors, plus what is needed to feed and score them.
type Bundle struct {
	Name string `json:"name"`
	Mode Mode   `json:"mode"`
	// Columns is the training feature order after the feature transform.
	Columns  []string    `json:"columns"`
	Criteria []Criterion `json:"criteria"`
	// Importance optionally restricts the inputs per output column
	// ("<criterion>_+<horizon>").
	Importance      map[string][]string `json:"importance,omitempty"`
	TargetTransform *PowerTransform     `json:"target_transform,omitempty"`
	TestScores      []TestScore         `json:"test_scores,omitempty"`
}

// Criterion is a predicted quantity, named like the feature it forecasts.
type Criterion struct {
	Name     string    `json:"name"`
	Horizons []Horizon `json:"horizons"`
}

// Horizon holds the folds predicting Offset ahead, e.g. "10min" or "1h".
type Horizon struct {
	Offset string `json:"offset"`
	Folds  []Fold `json:"folds"`
}

// Fold is one cross-validation model. Exactly one of the regressor fields is
// set.
type Fold struct {
	Index  int     `json:"fold"`
	Linear *Linear `json:"linear,omitempty"`
	Tree   *Tree   `json:"tree,omitempty"`
	Forest *Forest `json:"forest,omitempty"`
}

func (f Fold) Regressor() (Regressor, error) {
	var set []Regressor
	if f.Linear != nil {
		set = append(set, f.Linear)
	}
	if f.Tree != nil {
		if err := f.Tree.validate(); err != nil {
			return nil, err
		}
		set = append(set, f.Tree)
	}
	if f.Forest != nil {
		if len(f.Forest.Trees) == 0 {
			return nil, errors.New("forest has no trees")
		}
		for _, t := range f.Forest.Trees {
			if err := t.validate(); err != nil {
				return nil, err
			}
		}
		set = append(set, f.Forest)
	}
	if len(set) != 1 {
		return nil, fmt.Errorf("fold %d defines %d regressors, want 1", f.Index, len(set))
	}
	return set[0], nil
}

// TestScore is the held-out error of a criterion at a horizon.
type TestScore struct {
	Criterion string  `json:"criterion"`
	Horizon   string  `json:"horizon"`
	MAE       float64 `json:"mean_absolute_error"`
}

// ColumnName is the output column of a criterion at a horizon.
func ColumnName(criterion, horizon string) string {
	return criterion + "_+" + horizon
}

// MAE returns the mean absolute error recorded for criterion at horizon, NaN
// when there is none.
func (b *Bundle) MAE(criterion, horizon string) float64 {
	sum, n := 0.0, 0
	for _, s := range b.TestScores {
		if s.Criterion == criterion && s.Horizon == horizon {
			sum += s.MAE
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// Validate checks the bundle is internally consistent. An empty mode
// defaults to ensemble.
func (b *Bundle) Validate() error {
	if b.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidBundle)
	}
	switch b.Mode {
	case ModeEnsemble, ModePassthrough:
	case "":
		b.Mode = ModeEnsemble
	default:
		return fmt.Errorf("%w: %s: unknown mode %q", ErrInvalidBundle, b.Name, b.Mode)
	}
	if len(b.Criteria) == 0 {
		return fmt.Errorf("%w: %s: no criteria", ErrInvalidBundle, b.Name)
	}

	for _, c := range b.Criteria {
		for _, h := range c.Horizons {
			if _, err := ParseHorizon(h.Offset); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalidBundle, b.Name, err)
			}
			if b.Mode == ModePassthrough {
				continue
			}
			if len(h.Folds) == 0 {
				return fmt.Errorf("%w: %s: %s has no folds", ErrInvalidBundle, b.Name, ColumnName(c.Name, h.Offset))
			}
			inputs := len(b.Columns)
			if imp, ok := b.Importance[ColumnName(c.Name, h.Offset)]; ok {
				inputs = len(imp)
			}
			for _, f := range h.Folds {
				r, err := f.Regressor()
				if err != nil {
					return fmt.Errorf("%w: %s: %s: %v", ErrInvalidBundle, b.Name, ColumnName(c.Name, h.Offset), err)
				}
				if r.Inputs() != inputs {
					return fmt.Errorf("%w: %s: %s fold %d expects %d inputs, have %d", ErrInvalidBundle, b.Name, ColumnName(c.Name, h.Offset), f.Index, r.Inputs(), inputs)
				}
			}
		}
	}
	return nil
}

// ParseHorizon accepts "<n>min", "<n>h" and Go durations.
func ParseHorizon(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, ok := strings.CutSuffix(s, "min"); ok {
		v, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("parse horizon %q: %w", s, err)
		}
		return time.Duration(v) * time.Minute, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse horizon %q: %w", s, err)
	}
	return d, nil
}
