package frame

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)

func index(n int) []time.Time {
	return Range(t0, t0.Add(time.Duration(n-1)*10*time.Minute), 10*time.Minute)
}

func TestNewRejectsUnsortedIndex(t *testing.T) {
	_, err := New([]time.Time{t0, t0})
	assert.ErrorIs(t, err, ErrUnsortedIndex)

	_, err = New([]time.Time{t0.Add(time.Minute), t0})
	assert.ErrorIs(t, err, ErrUnsortedIndex)
}

func TestRange(t *testing.T) {
	idx := Range(t0, t0.Add(40*time.Minute), 10*time.Minute)
	assert.Len(t, idx, 5)
	assert.Nil(t, Range(t0, t0.Add(-time.Minute), time.Minute))
}

func TestSetLengthMismatch(t *testing.T) {
	f, err := New(index(3))
	require.NoError(t, err)
	assert.ErrorIs(t, f.Set(Col("Glarus", "t_2m:C"), []float64{1}), ErrLength)
}

func TestFlattenUnflattenRoundTrip(t *testing.T) {
	f, err := New(index(3))
	require.NoError(t, err)
	require.NoError(t, f.Set(Col("Glarus", "t_2m:C"), []float64{1, 2, 3}))
	require.NoError(t, f.Set(Col("Zürich / Fluntern", "wind_speed_10m:kmh_x"), []float64{4, math.NaN(), 6}))
	require.NoError(t, f.Set(Col("time", "cos_day"), []float64{0.1, 0.2, 0.3}))

	m := f.Flat()
	assert.Equal(t, []string{"Glarus, t_2m:C", "Zürich / Fluntern, wind_speed_10m:kmh_x", "time, cos_day"}, m.Columns)

	back, err := m.Unflatten()
	require.NoError(t, err)
	assert.Equal(t, f.Columns(), back.Columns())
	assert.Equal(t, f.Index(), back.Index())
	for _, c := range f.Columns() {
		want, _ := f.Column(c)
		got, _ := back.Column(c)
		for i := range want {
			if math.IsNaN(want[i]) {
				assert.True(t, math.IsNaN(got[i]))
				continue
			}
			assert.Equal(t, want[i], got[i])
		}
	}
}

func TestParseColumn(t *testing.T) {
	k, err := ParseColumn("bise, msl_pressure:hPa")
	require.NoError(t, err)
	assert.Equal(t, Col("bise", "msl_pressure:hPa"), k)

	for _, bad := range []string{"", "nosep", ", param", "station, "} {
		_, err := ParseColumn(bad)
		assert.ErrorIs(t, err, ErrColumnName, bad)
	}
}

func TestCleanName(t *testing.T) {
	assert.Equal(t, "Altdorf UR", CleanName(" Altdorf, UR "))
}

func TestMerge(t *testing.T) {
	a, _ := New(index(2))
	require.NoError(t, a.Set(Col("A", "p"), []float64{1, 2}))

	b, _ := New([]time.Time{t0.Add(10 * time.Minute), t0.Add(20 * time.Minute)})
	require.NoError(t, b.Set(Col("B", "p"), []float64{3, 4}))

	m := Merge(a, nil, b)
	require.Equal(t, 3, m.Len())
	assert.Equal(t, []ColumnKey{Col("A", "p"), Col("B", "p")}, m.Columns())
	assert.Equal(t, 2.0, m.At(Col("A", "p"), 1))
	assert.True(t, math.IsNaN(m.At(Col("A", "p"), 2)))
	assert.True(t, math.IsNaN(m.At(Col("B", "p"), 0)))
	assert.Equal(t, 4.0, m.At(Col("B", "p"), 2))
}

func TestDiffAndRollingMean(t *testing.T) {
	f, _ := New(index(5))
	require.NoError(t, f.Set(Col("A", "p"), []float64{1, 3, 6, 10, 15}))

	d := f.Diff()
	got, _ := d.Column(Col("A", "p"))
	assert.True(t, math.IsNaN(got[0]))
	assert.Equal(t, []float64{2, 3, 4, 5}, got[1:])

	r := d.RollingMean(2)
	got, _ = r.Column(Col("A", "p"))
	assert.True(t, math.IsNaN(got[0]))
	assert.True(t, math.IsNaN(got[1]))
	assert.Equal(t, []float64{2.5, 3.5, 4.5}, got[2:])
}

func TestDropMissingRowsAndTail(t *testing.T) {
	f, _ := New(index(4))
	require.NoError(t, f.Set(Col("A", "p"), []float64{math.NaN(), 1, 2, 3}))
	require.NoError(t, f.Set(Col("B", "p"), []float64{1, 1, math.NaN(), 1}))

	clean := f.DropMissingRows()
	assert.Equal(t, 2, clean.Len())
	assert.Equal(t, []time.Time{t0.Add(10 * time.Minute), t0.Add(30 * time.Minute)}, clean.Index())

	tail := f.Tail(1)
	assert.Equal(t, 1, tail.Len())
	assert.Equal(t, 3.0, tail.At(Col("A", "p"), 0))
}

func TestDropAndRename(t *testing.T) {
	f, _ := New(index(1))
	require.NoError(t, f.Set(Col("47.1,9.2", "p"), []float64{1}))
	require.NoError(t, f.Set(Col("47.1,9.2", "q"), []float64{2}))

	f.RenameStation("47.1,9.2", "Quinten")
	assert.Equal(t, []string{"Quinten"}, f.Stations())
	assert.Equal(t, []string{"p", "q"}, f.ParametersOf("Quinten"))

	f.Drop(Col("Quinten", "p"), Col("missing", "x"))
	assert.Equal(t, []ColumnKey{Col("Quinten", "q")}, f.Columns())
}

func TestHasData(t *testing.T) {
	f, _ := New(index(2))
	assert.False(t, f.HasData())
	require.NoError(t, f.Set(Col("A", "p"), NaNs(2)))
	assert.False(t, f.HasData())
	require.NoError(t, f.Set(Col("B", "p"), []float64{math.NaN(), 1}))
	assert.True(t, f.HasData())

	var nilFrame *Frame
	assert.True(t, nilFrame.Empty())
}

func TestMatrixSelect(t *testing.T) {
	f, _ := New(index(2))
	require.NoError(t, f.Set(Col("A", "p"), []float64{1, 2}))
	require.NoError(t, f.Set(Col("B", "p"), []float64{3, 4}))
	m := f.Flat()

	sel, err := m.Select([]string{"B, p", "A, p"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{3, 1}, {4, 2}}, sel.Rows)

	_, err = m.Select([]string{"C, p"})
	assert.Error(t, err)
}

func TestDropEmptyColumns(t *testing.T) {
	f, err := New(index(3))
	require.NoError(t, err)
	nan := math.NaN()
	require.NoError(t, f.Set(Col("Quinten", "t_2m:C"), []float64{1, nan, 3}))
	require.NoError(t, f.Set(Col("Quinten", "global_rad:W"), []float64{nan, nan, nan}))
	require.NoError(t, f.Set(Col("Glarus", "t_2m:C"), []float64{nan, nan, 2}))

	dropped := f.DropEmptyColumns()
	assert.Equal(t, []ColumnKey{Col("Quinten", "global_rad:W")}, dropped)
	assert.Equal(t, 2, f.Width())
	assert.False(t, f.Has(Col("Quinten", "global_rad:W")))

	assert.Empty(t, f.DropEmptyColumns())
	var nilFrame *Frame
	assert.Nil(t, nilFrame.DropEmptyColumns())
}
