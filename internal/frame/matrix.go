package frame

import (
	"fmt"
	"math"
	"time"
)

// Matrix is the flattened, row-major view of a Frame used as model input.
// Column names are "<station>, <parameter>".
type Matrix struct {
	Index   []time.Time
	Columns []string
	Rows    [][]float64
}

// Flat converts f into a Matrix, keeping column order.
func (f *Frame) Flat() *Matrix {
	m := &Matrix{
		Index:   append([]time.Time(nil), f.index...),
		Columns: make([]string, len(f.cols)),
		Rows:    make([][]float64, len(f.index)),
	}
	for j, c := range f.cols {
		m.Columns[j] = c.Flat()
	}
	for i := range f.index {
		row := make([]float64, len(f.cols))
		for j, c := range f.cols {
			row[j] = f.data[c][i]
		}
		m.Rows[i] = row
	}
	return m
}

// Unflatten restores the two-level frame. It is the exact inverse of Flat
// for names that do not contain the separator.
func (m *Matrix) Unflatten() (*Frame, error) {
	f, err := New(m.Index)
	if err != nil {
		return nil, err
	}
	for j, name := range m.Columns {
		k, err := ParseColumn(name)
		if err != nil {
			return nil, err
		}
		values := make([]float64, len(m.Rows))
		for i, row := range m.Rows {
			values[i] = row[j]
		}
		if err := f.Set(k, values); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (m *Matrix) Len() int { return len(m.Rows) }

func (m *Matrix) Empty() bool { return m == nil || len(m.Rows) == 0 || len(m.Columns) == 0 }

// ColumnIndex returns the position of name or -1.
func (m *Matrix) ColumnIndex(name string) int {
	for i, c := range m.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Column returns a copy of the named column.
func (m *Matrix) Column(name string) ([]float64, bool) {
	j := m.ColumnIndex(name)
	if j < 0 {
		return nil, false
	}
	out := make([]float64, len(m.Rows))
	for i, row := range m.Rows {
		out[i] = row[j]
	}
	return out, true
}

// Select returns a matrix with exactly the given columns in that order. It
// fails when any column is missing, listing all of them.
func (m *Matrix) Select(columns []string) (*Matrix, error) {
	pos := make(map[string]int, len(m.Columns))
	for i, c := range m.Columns {
		pos[c] = i
	}
	idx := make([]int, len(columns))
	var missing []string
	for i, c := range columns {
		j, ok := pos[c]
		if !ok {
			missing = append(missing, c)
			continue
		}
		idx[i] = j
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing columns %q", missing)
	}

	out := &Matrix{
		Index:   append([]time.Time(nil), m.Index...),
		Columns: append([]string(nil), columns...),
		Rows:    make([][]float64, len(m.Rows)),
	}
	for i, row := range m.Rows {
		r := make([]float64, len(idx))
		for k, j := range idx {
			r[k] = row[j]
		}
		out.Rows[i] = r
	}
	return out, nil
}

// RowHasMissing reports whether row i holds any NaN.
func (m *Matrix) RowHasMissing(i int) bool {
	for _, v := range m.Rows[i] {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
