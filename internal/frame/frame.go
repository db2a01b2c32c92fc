// Package frame holds the in-memory time-series table passed between the
// acquisition, feature and prediction stages.
//
// A Frame is indexed by strictly increasing UTC timestamps and has
// two-level columns (station, parameter). Missing values are NaN.
package frame

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
	"time"
)

// Separator joins the two column levels in flattened names.
const Separator = ", "

var (
	ErrUnsortedIndex = errors.New("index not strictly increasing")
	ErrLength        = errors.New("column length does not match index")
	ErrColumnName    = errors.New("invalid flat column name")
)

// ColumnKey identifies a column by station and parameter.
type ColumnKey struct {
	Station   string
	Parameter string
}

func Col(station, parameter string) ColumnKey {
	return ColumnKey{Station: station, Parameter: parameter}
}

// Flat returns the single-level name "<station>, <parameter>".
func (k ColumnKey) Flat() string {
	return k.Station + Separator + k.Parameter
}

func (k ColumnKey) String() string { return k.Flat() }

// ParseColumn splits a flat name produced by Flat.
func ParseColumn(s string) (ColumnKey, error) {
	station, param, ok := strings.Cut(s, Separator)
	if !ok || station == "" || param == "" {
		return ColumnKey{}, fmt.Errorf("%w: %q", ErrColumnName, s)
	}
	return ColumnKey{Station: station, Parameter: param}, nil
}

// CleanName strips commas so a name can never contain the separator.
func CleanName(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
}

type Frame struct {
	index []time.Time
	cols  []ColumnKey
	data  map[ColumnKey][]float64
}

// New returns an empty frame over index.
func New(index []time.Time) (*Frame, error) {
	for i := 1; i < len(index); i++ {
		if !index[i].After(index[i-1]) {
			return nil, fmt.Errorf("%w at %s", ErrUnsortedIndex, index[i].Format(time.RFC3339))
		}
	}
	idx := make([]time.Time, len(index))
	for i, t := range index {
		idx[i] = t.UTC()
	}
	return &Frame{index: idx, data: make(map[ColumnKey][]float64)}, nil
}

// Range returns an index from start to end inclusive every step.
func Range(start, end time.Time, step time.Duration) []time.Time {
	if step <= 0 || end.Before(start) {
		return nil
	}
	var idx []time.Time
	for t := start; !t.After(end); t = t.Add(step) {
		idx = append(idx, t.UTC())
	}
	return idx
}

func (f *Frame) Index() []time.Time { return f.index }

func (f *Frame) Columns() []ColumnKey { return f.cols }

func (f *Frame) Len() int { return len(f.index) }

func (f *Frame) Width() int { return len(f.cols) }

func (f *Frame) Has(k ColumnKey) bool {
	_, ok := f.data[k]
	return ok
}

// Empty reports whether the frame has no rows or no columns.
func (f *Frame) Empty() bool {
	return f == nil || f.Len() == 0 || f.Width() == 0
}

// At returns the value of k at row, NaN when out of range.
func (f *Frame) At(k ColumnKey, row int) float64 {
	v, ok := f.data[k]
	if !ok || row < 0 || row >= len(v) {
		return math.NaN()
	}
	return v[row]
}

// Set adds or replaces a column. values is copied.
func (f *Frame) Set(k ColumnKey, values []float64) error {
	if len(values) != len(f.index) {
		return fmt.Errorf("%w: %s has %d values, index has %d", ErrLength, k, len(values), len(f.index))
	}
	if _, ok := f.data[k]; !ok {
		f.cols = append(f.cols, k)
	}
	f.data[k] = slices.Clone(values)
	return nil
}

// SetFunc adds a column computed from each row's timestamp.
func (f *Frame) SetFunc(k ColumnKey, fn func(time.Time) float64) {
	values := make([]float64, len(f.index))
	for i, t := range f.index {
		values[i] = fn(t)
	}
	_ = f.Set(k, values)
}

// Column returns the values of k. The slice must not be modified.
func (f *Frame) Column(k ColumnKey) ([]float64, bool) {
	v, ok := f.data[k]
	return v, ok
}

// Drop removes the given columns if present.
func (f *Frame) Drop(keys ...ColumnKey) {
	for _, k := range keys {
		if _, ok := f.data[k]; !ok {
			continue
		}
		delete(f.data, k)
		f.cols = slices.DeleteFunc(f.cols, func(c ColumnKey) bool { return c == k })
	}
}

// DropEmptyColumns removes every column without a single value and returns
// the removed keys.
func (f *Frame) DropEmptyColumns() []ColumnKey {
	if f == nil {
		return nil
	}
	var empty []ColumnKey
	for _, c := range f.cols {
		if f.MissingCount(c) == len(f.index) {
			empty = append(empty, c)
		}
	}
	f.Drop(empty...)
	return empty
}

// RenameStation moves every column of station from to station to.
func (f *Frame) RenameStation(from, to string) {
	for i, c := range f.cols {
		if c.Station != from {
			continue
		}
		nk := ColumnKey{Station: to, Parameter: c.Parameter}
		f.data[nk] = f.data[c]
		delete(f.data, c)
		f.cols[i] = nk
	}
}

// Stations lists the distinct stations in column order.
func (f *Frame) Stations() []string {
	var out []string
	seen := make(map[string]bool)
	for _, c := range f.cols {
		if !seen[c.Station] {
			seen[c.Station] = true
			out = append(out, c.Station)
		}
	}
	return out
}

// ParametersOf lists the parameters available for station.
func (f *Frame) ParametersOf(station string) []string {
	var out []string
	for _, c := range f.cols {
		if c.Station == station {
			out = append(out, c.Parameter)
		}
	}
	return out
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	out := &Frame{
		index: slices.Clone(f.index),
		cols:  slices.Clone(f.cols),
		data:  make(map[ColumnKey][]float64, len(f.data)),
	}
	for k, v := range f.data {
		out.data[k] = slices.Clone(v)
	}
	return out
}

// Merge outer-joins frames on their index. When two frames share a column,
// non-missing values from later frames win.
func Merge(frames ...*Frame) *Frame {
	seen := make(map[int64]time.Time)
	for _, fr := range frames {
		if fr == nil {
			continue
		}
		for _, t := range fr.index {
			seen[t.UnixNano()] = t
		}
	}
	index := make([]time.Time, 0, len(seen))
	for _, t := range seen {
		index = append(index, t)
	}
	sort.Slice(index, func(i, j int) bool { return index[i].Before(index[j]) })

	pos := make(map[int64]int, len(index))
	for i, t := range index {
		pos[t.UnixNano()] = i
	}

	out := &Frame{index: index, data: make(map[ColumnKey][]float64)}
	for _, fr := range frames {
		if fr == nil {
			continue
		}
		for _, c := range fr.cols {
			dst, ok := out.data[c]
			if !ok {
				dst = nanSlice(len(index))
				out.data[c] = dst
				out.cols = append(out.cols, c)
			}
			for i, v := range fr.data[c] {
				if !math.IsNaN(v) {
					dst[pos[fr.index[i].UnixNano()]] = v
				}
			}
		}
	}
	return out
}

// SelectRows returns a frame keeping the rows for which keep is true.
func (f *Frame) SelectRows(keep func(row int) bool) *Frame {
	var rows []int
	for i := range f.index {
		if keep(i) {
			rows = append(rows, i)
		}
	}
	out := &Frame{index: make([]time.Time, len(rows)), cols: slices.Clone(f.cols), data: make(map[ColumnKey][]float64, len(f.cols))}
	for j, i := range rows {
		out.index[j] = f.index[i]
	}
	for _, c := range f.cols {
		src := f.data[c]
		dst := make([]float64, len(rows))
		for j, i := range rows {
			dst[j] = src[i]
		}
		out.data[c] = dst
	}
	return out
}

// DropMissingRows removes every row with at least one NaN.
func (f *Frame) DropMissingRows() *Frame {
	return f.SelectRows(func(row int) bool {
		for _, c := range f.cols {
			if math.IsNaN(f.data[c][row]) {
				return false
			}
		}
		return true
	})
}

// Tail returns the last n rows.
func (f *Frame) Tail(n int) *Frame {
	start := max(len(f.index)-n, 0)
	return f.SelectRows(func(row int) bool { return row >= start })
}

// Diff returns the first difference of every column. The first row is NaN.
func (f *Frame) Diff() *Frame {
	out := &Frame{index: slices.Clone(f.index), cols: slices.Clone(f.cols), data: make(map[ColumnKey][]float64, len(f.cols))}
	for _, c := range f.cols {
		src := f.data[c]
		dst := nanSlice(len(src))
		for i := 1; i < len(src); i++ {
			dst[i] = src[i] - src[i-1]
		}
		out.data[c] = dst
	}
	return out
}

// RollingMean returns the trailing mean over window rows. A row is NaN until
// window complete values are available.
func (f *Frame) RollingMean(window int) *Frame {
	out := &Frame{index: slices.Clone(f.index), cols: slices.Clone(f.cols), data: make(map[ColumnKey][]float64, len(f.cols))}
	for _, c := range f.cols {
		out.data[c] = rollingMean(f.data[c], window)
	}
	return out
}

func rollingMean(src []float64, window int) []float64 {
	dst := nanSlice(len(src))
	if window < 1 {
		return dst
	}
	for i := window - 1; i < len(src); i++ {
		sum := 0.0
		ok := true
		for _, v := range src[i-window+1 : i+1] {
			if math.IsNaN(v) {
				ok = false
				break
			}
			sum += v
		}
		if ok {
			dst[i] = sum / float64(window)
		}
	}
	return dst
}

// MissingCount returns the number of NaN values in column k.
func (f *Frame) MissingCount(k ColumnKey) int {
	n := 0
	for _, v := range f.data[k] {
		if math.IsNaN(v) {
			n++
		}
	}
	return n
}

// HasData reports whether any value in the frame is present.
func (f *Frame) HasData() bool {
	if f == nil {
		return false
	}
	for _, c := range f.cols {
		if f.MissingCount(c) < len(f.index) {
			return true
		}
	}
	return false
}

// NaNs returns a slice of n NaN values.
func NaNs(n int) []float64 { return nanSlice(n) }

func nanSlice(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}
