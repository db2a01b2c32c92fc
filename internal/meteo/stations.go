package meteo

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lox/surfcast/internal/geo"
	"github.com/lox/surfcast/internal/models"
)

// StationQuery asks which stations measured the given parameters during a
// time range. Zero times leave the range open.
type StationQuery struct {
	Parameters []string
	Start      time.Time
	End        time.Time
}

// FindStations queries the station search endpoint.
func (c *Client) FindStations(ctx context.Context, q StationQuery) ([]models.Station, error) {
	v := url.Values{}
	if len(q.Parameters) > 0 {
		v.Set("parameters", strings.Join(q.Parameters, ","))
	}
	if !q.Start.IsZero() {
		v.Set("startdate", formatTime(q.Start))
	}
	if !q.End.IsZero() {
		v.Set("enddate", formatTime(q.End))
	}
	u := c.baseURL + "/find_station"
	if len(v) > 0 {
		u += "?" + v.Encode()
	}

	body, err := c.get(ctx, "find_station", u)
	if err != nil {
		return nil, fmt.Errorf("find stations: %w", err)
	}
	stations, err := ParseStations(body)
	if err != nil {
		return nil, fmt.Errorf("find stations: %w", err)
	}
	for i := range stations {
		stations[i].Parameters = append([]string(nil), q.Parameters...)
	}
	return stations, nil
}

// ParseStations decodes the station search CSV. Rows without a usable
// location are skipped.
func ParseStations(body []byte) ([]models.Station, error) {
	r := csv.NewReader(bytes.NewReader(body))
	r.Comma = ';'
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	locIdx, ok := col["Location Lat,Lon"]
	if !ok {
		return nil, fmt.Errorf("missing location column in %q", header)
	}
	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var stations []models.Station
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if locIdx >= len(rec) {
			continue
		}
		p, err := geo.ParsePoint(rec[locIdx])
		if err != nil {
			continue
		}
		st := models.Station{
			ID:        field(rec, "ID Hash"),
			WMOID:     field(rec, "WMO ID"),
			Name:      field(rec, "Name"),
			Latitude:  p.Lat,
			Longitude: p.Lon,
		}
		if elev := strings.TrimSuffix(field(rec, "Elevation"), "m"); elev != "" {
			if e, err := strconv.ParseFloat(elev, 64); err == nil {
				st.Elevation = e
			}
		}
		stations = append(stations, st)
	}
	return stations, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
