package meteo

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lox/surfcast/internal/frame"
	"github.com/lox/surfcast/internal/geo"
	"github.com/lox/surfcast/internal/models"
)

// Provider sentinels for "no value". They are never passed downstream.
var sentinels = []float64{-999, -888, -777, -666}

// NormalizeSentinel maps provider sentinel values to NaN.
func NormalizeSentinel(v float64) float64 {
	for _, s := range sentinels {
		if v == s {
			return math.NaN()
		}
	}
	return v
}

// SeriesQuery requests parameters at points over a window.
type SeriesQuery struct {
	Parameters []string
	Points     []geo.Point
	Model      string
	Window     models.Window
}

// TimeSeries queries the time-series endpoint. The returned frame is keyed
// by (coordinate string, parameter), see geo.Point.String.
func (c *Client) TimeSeries(ctx context.Context, q SeriesQuery) (*frame.Frame, error) {
	if len(q.Parameters) == 0 || len(q.Points) == 0 {
		return nil, errors.New("time series: parameters and points required")
	}
	if err := q.Window.Validate(); err != nil {
		return nil, fmt.Errorf("time series: %w", err)
	}

	points := make([]string, len(q.Points))
	for i, p := range q.Points {
		points[i] = geo.Round(p).String()
	}
	path := fmt.Sprintf("/%s--%s:PT%dM/%s/%s/csv",
		formatTime(q.Window.Start),
		formatTime(q.Window.End),
		int(q.Window.Interval/time.Minute),
		strings.Join(q.Parameters, ","),
		strings.Join(points, "+"),
	)
	u := c.baseURL + path
	if q.Model != "" {
		u += "?" + url.Values{"model": {q.Model}}.Encode()
	}

	body, err := c.get(ctx, "timeseries", u)
	if err != nil {
		return nil, fmt.Errorf("time series: %w", err)
	}
	f, err := ParseSeries(body, q.Points)
	if err != nil {
		return nil, fmt.Errorf("time series: %w", err)
	}
	return f, nil
}

// ParseSeries decodes the time-series CSV. Multi-point answers carry lat and
// lon columns; single-point answers are attributed to the only requested
// point.
func ParseSeries(body []byte, requested []geo.Point) (*frame.Frame, error) {
	r := csv.NewReader(bytes.NewReader(body))
	r.Comma = ';'
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	latIdx, lonIdx, dateIdx := -1, -1, -1
	var params []int
	for i, h := range header {
		switch strings.TrimSpace(h) {
		case "lat":
			latIdx = i
		case "lon":
			lonIdx = i
		case "validdate":
			dateIdx = i
		default:
			params = append(params, i)
		}
	}
	if dateIdx < 0 {
		return nil, fmt.Errorf("missing validdate column in %q", header)
	}
	if (latIdx < 0 || lonIdx < 0) && len(requested) != 1 {
		return nil, fmt.Errorf("cannot attribute rows to %d points without lat/lon columns", len(requested))
	}

	type cell struct {
		at    time.Time
		value float64
	}
	series := make(map[frame.ColumnKey][]cell)
	var order []frame.ColumnKey

	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if dateIdx >= len(rec) {
			continue
		}
		at, err := time.Parse(time.RFC3339, strings.TrimSpace(rec[dateIdx]))
		if err != nil {
			return nil, fmt.Errorf("parse validdate %q: %w", rec[dateIdx], err)
		}

		station := ""
		if latIdx >= 0 && lonIdx >= 0 {
			p, err := geo.ParsePoint(rec[latIdx] + "," + rec[lonIdx])
			if err != nil {
				return nil, err
			}
			station = p.String()
		} else {
			station = geo.Round(requested[0]).String()
		}

		for _, i := range params {
			k := frame.Col(station, strings.TrimSpace(header[i]))
			v := math.NaN()
			if i < len(rec) {
				if parsed, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64); err == nil {
					v = NormalizeSentinel(parsed)
				}
			}
			if _, ok := series[k]; !ok {
				order = append(order, k)
			}
			series[k] = append(series[k], cell{at: at.UTC(), value: v})
		}
	}

	var parts []*frame.Frame
	for _, k := range order {
		cells := series[k]
		idx := make([]time.Time, len(cells))
		values := make([]float64, len(cells))
		for i, c := range cells {
			idx[i] = c.at
			values[i] = c.value
		}
		f, err := frame.New(idx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		if err := f.Set(k, values); err != nil {
			return nil, err
		}
		parts = append(parts, f)
	}
	return frame.Merge(parts...), nil
}
