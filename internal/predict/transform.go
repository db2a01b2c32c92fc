package predict

import (
	"fmt"
	"math"

	"github.com/lox/surfcast/internal/frame"
)

// ScaledColumn standardises one input column: (x - Mean) / Scale.
type ScaledColumn struct {
	Name  string  `json:"name"`
	Mean  float64 `json:"mean"`
	Scale float64 `json:"scale"`
}

// FeatureTransform is the column transformer fitted at training time and
// shared by all bundles. Columns it does not list pass through unchanged.
type FeatureTransform struct {
	Columns []ScaledColumn `json:"columns"`
}

// Apply returns a transformed copy of m. Every listed column must be present.
func (t *FeatureTransform) Apply(m *frame.Matrix) (*frame.Matrix, error) {
	out := &frame.Matrix{
		Index:   append(m.Index[:0:0], m.Index...),
		Columns: append([]string(nil), m.Columns...),
		Rows:    make([][]float64, len(m.Rows)),
	}
	for i, row := range m.Rows {
		out.Rows[i] = append([]float64(nil), row...)
	}
	if t == nil {
		return out, nil
	}

	var missing []string
	for _, c := range t.Columns {
		j := m.ColumnIndex(c.Name)
		if j < 0 {
			missing = append(missing, c.Name)
			continue
		}
		scale := c.Scale
		if scale == 0 {
			scale = 1
		}
		for _, row := range out.Rows {
			row[j] = (row[j] - c.Mean) / scale
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: transform needs %q", ErrSchemaMismatch, missing)
	}
	return out, nil
}

// PowerTransform is a fitted Yeo-Johnson transform of the target, optionally
// followed by standardisation.
type PowerTransform struct {
	Lambda      float64 `json:"lambda"`
	Standardize bool    `json:"standardize"`
	Mean        float64 `json:"mean"`
	Scale       float64 `json:"scale"`
}

// Forward applies the transform.
func (p *PowerTransform) Forward(x float64) float64 {
	var y float64
	l := p.Lambda
	switch {
	case x >= 0 && l != 0:
		y = (math.Pow(x+1, l) - 1) / l
	case x >= 0:
		y = math.Log1p(x)
	case l != 2:
		y = -(math.Pow(-x+1, 2-l) - 1) / (2 - l)
	default:
		y = -math.Log1p(-x)
	}
	if p.Standardize {
		y = (y - p.Mean) / p.scale()
	}
	return y
}

// Inverse maps a model output back to the target's units.
func (p *PowerTransform) Inverse(y float64) float64 {
	if p.Standardize {
		y = y*p.scale() + p.Mean
	}
	l := p.Lambda
	switch {
	case y >= 0 && l != 0:
		return math.Pow(y*l+1, 1/l) - 1
	case y >= 0:
		return math.Expm1(y)
	case l != 2:
		return 1 - math.Pow(-(2-l)*y+1, 1/(2-l))
	default:
		return -math.Expm1(-y)
	}
}

func (p *PowerTransform) scale() float64 {
	if p.Scale == 0 {
		return 1
	}
	return p.Scale
}
