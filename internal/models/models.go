package models

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// Station is a measurement location as reported by the provider's station
// search.
type Station struct {
	ID         string // provider hash id
	WMOID      string
	Name       string
	Latitude   float64
	Longitude  float64
	Elevation  float64
	Parameters []string // parameters the station was discovered for
}

// ParamStation is one entry of the parameter/station map: a parameter known
// to be served by a station near the point of interest.
type ParamStation struct {
	ID          int64
	Parameter   string
	StationName string
	Latitude    float64
	Longitude   float64
	Elevation   float64
	PrunedAt    sql.NullTime
}

// Pair returns the (station, parameter) identity used for pruning.
func (p ParamStation) Pair() string {
	return p.StationName + "|" + p.Parameter
}

// Window is a closed time range sampled every Interval.
type Window struct {
	Start    time.Time
	End      time.Time
	Interval time.Duration
}

var ErrInvalidWindow = errors.New("invalid window")

func (w Window) Validate() error {
	if w.Interval <= 0 {
		return fmt.Errorf("%w: interval %s", ErrInvalidWindow, w.Interval)
	}
	if w.End.Before(w.Start) {
		return fmt.Errorf("%w: end %s before start %s", ErrInvalidWindow, w.End.Format(time.RFC3339), w.Start.Format(time.RFC3339))
	}
	return nil
}

// Steps returns the number of sample timestamps in the window, both ends
// included.
func (w Window) Steps() int {
	if w.Validate() != nil {
		return 0
	}
	return int(w.End.Sub(w.Start)/w.Interval) + 1
}

// ForecastRecord is one row of the published forecast table. Mean, Std and
// Error are NaN when unknown.
type ForecastRecord struct {
	ValidDate time.Time     `json:"validdate"`
	Model     string        `json:"model"`
	Criterion string        `json:"criterion"`
	Horizon   time.Duration `json:"horizon"`
	Mean      float64       `json:"mean"`
	Std       float64       `json:"std"`
	Error     float64       `json:"error"`
}

// MarshalJSON writes NaN values as null and the horizon as a duration string.
func (r ForecastRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ValidDate time.Time `json:"validdate"`
		Model     string    `json:"model"`
		Criterion string    `json:"criterion"`
		Horizon   string    `json:"horizon"`
		Mean      *float64  `json:"mean"`
		Std       *float64  `json:"std"`
		Error     *float64  `json:"error"`
	}{
		ValidDate: r.ValidDate,
		Model:     r.Model,
		Criterion: r.Criterion,
		Horizon:   r.Horizon.String(),
		Mean:      finite(r.Mean),
		Std:       finite(r.Std),
		Error:     finite(r.Error),
	})
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
