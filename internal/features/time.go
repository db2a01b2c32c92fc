package features

import (
	"math"
	"time"

	"github.com/lox/surfcast/internal/frame"
)

// TimeStation is the pseudo-station holding calendar features.
const TimeStation = "time"

// DayAngle maps the time of day onto [0, 2π], reaching 2π at 23:50, the
// last sample of a 10 minute grid.
func DayAngle(t time.Time) float64 {
	t = t.UTC()
	minutes := float64(t.Hour()*60 + t.Minute())
	return minutes / (24*60 - 10) * 2 * math.Pi
}

// YearAngle maps the elapsed fraction of the calendar year onto [0, 2π).
func YearAngle(t time.Time) float64 {
	t = t.UTC()
	start := time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)
	return t.Sub(start).Seconds() / end.Sub(start).Seconds() * 2 * math.Pi
}

// AddCyclicalFeatures adds sine and cosine encodings of the day and year
// position of each row.
func AddCyclicalFeatures(f *frame.Frame) {
	for _, period := range []struct {
		name  string
		angle func(time.Time) float64
	}{
		{"day", DayAngle},
		{"year", YearAngle},
	} {
		angle := period.angle
		f.SetFunc(frame.Col(TimeStation, "cos_"+period.name), func(t time.Time) float64 { return math.Cos(angle(t)) })
		f.SetFunc(frame.Col(TimeStation, "sin_"+period.name), func(t time.Time) float64 { return math.Sin(angle(t)) })
	}
}

// TransientFeatures adds, for every column, the trailing mean over window
// rows of its first difference as "diff_<parameter>". Rows lacking a
// complete value are dropped, so n input rows yield at most n-window rows.
func TransientFeatures(f *frame.Frame, window int) *frame.Frame {
	diff := f.Diff().RollingMean(window)
	out := f.Clone()
	for _, c := range f.Columns() {
		values, _ := diff.Column(c)
		_ = out.Set(frame.Col(c.Station, "diff_"+c.Parameter), values)
	}
	return out.DropMissingRows()
}
