package predict

import (
	"errors"
	"fmt"
)

// Regressor predicts one value from a feature row.
type Regressor interface {
	Predict(x []float64) float64
	// Inputs is the number of features the regressor expects.
	Inputs() int
}

// Linear is an affine model: Intercept + Σ Coef[i]·x[i].
type Linear struct {
	Intercept float64   `json:"intercept"`
	Coef      []float64 `json:"coef"`
}

func (l *Linear) Predict(x []float64) float64 {
	y := l.Intercept
	for i, c := range l.Coef {
		y += c * x[i]
	}
	return y
}

func (l *Linear) Inputs() int { return len(l.Coef) }

// Tree is a binary regression tree in the array layout exported by
// scikit-learn: node i is a leaf when Left[i] is -1; otherwise samples with
// x[Feature[i]] <= Threshold[i] go left.
type Tree struct {
	Left      []int     `json:"children_left"`
	Right     []int     `json:"children_right"`
	Feature   []int     `json:"feature"`
	Threshold []float64 `json:"threshold"`
	Value     []float64 `json:"value"`
	NFeatures int       `json:"n_features"`
}

func (t *Tree) Predict(x []float64) float64 {
	node := 0
	for t.Left[node] >= 0 {
		if x[t.Feature[node]] <= t.Threshold[node] {
			node = t.Left[node]
		} else {
			node = t.Right[node]
		}
	}
	return t.Value[node]
}

func (t *Tree) Inputs() int { return t.NFeatures }

func (t *Tree) validate() error {
	n := len(t.Left)
	if n == 0 {
		return errors.New("tree has no nodes")
	}
	if len(t.Right) != n || len(t.Feature) != n || len(t.Threshold) != n || len(t.Value) != n {
		return errors.New("tree arrays differ in length")
	}
	for i := range n {
		if t.Left[i] < 0 {
			continue
		}
		if t.Left[i] <= i || t.Left[i] >= n || t.Right[i] <= i || t.Right[i] >= n {
			return fmt.Errorf("node %d has invalid children", i)
		}
		if t.Feature[i] < 0 || t.Feature[i] >= t.NFeatures {
			return fmt.Errorf("node %d splits on feature %d of %d", i, t.Feature[i], t.NFeatures)
		}
	}
	return nil
}

// Forest averages its trees.
type Forest struct {
	Trees []*Tree `json:"trees"`
}

func (f *Forest) Predict(x []float64) float64 {
	sum := 0.0
	for _, t := range f.Trees {
		sum += t.Predict(x)
	}
	return sum / float64(len(f.Trees))
}

func (f *Forest) Inputs() int {
	if len(f.Trees) == 0 {
		return 0
	}
	return f.Trees[0].NFeatures
}
