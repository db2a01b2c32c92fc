package predict

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/lox/surfcast/internal/features"
	"github.com/lox/surfcast/internal/frame"
	"github.com/lox/surfcast/internal/models"
)

// RecomposeWind replaces forecasts of wind vector components with speed and
// direction forecasts. A "<station>, <param>_x" record is paired with the
// "_y" record of the same model, valid date and horizon; the pair becomes a
// "<station>, <param>" speed record, and the first pair of a station also
// yields a "<station>, wind_dir_10m:d" record. Spread and error do not
// survive the conversion and are NaN. Other records pass through unchanged.
func RecomposeWind(records []models.ForecastRecord) []models.ForecastRecord {
	type pairKey struct {
		model     string
		station   string
		base      string
		validDate int64
		horizon   time.Duration
	}
	type pair struct {
		x, y      *models.ForecastRecord
		validDate time.Time
	}

	pairs := make(map[pairKey]*pair)
	var order []pairKey
	var out []models.ForecastRecord

	for i := range records {
		r := &records[i]
		col, err := frame.ParseColumn(r.Criterion)
		if err != nil {
			out = append(out, *r)
			continue
		}
		base, isX := strings.CutSuffix(col.Parameter, "_x")
		if !isX {
			var isY bool
			base, isY = strings.CutSuffix(col.Parameter, "_y")
			if !isY {
				out = append(out, *r)
				continue
			}
		}
		k := pairKey{r.Model, col.Station, base, r.ValidDate.UnixNano(), r.Horizon}
		p, ok := pairs[k]
		if !ok {
			p = &pair{validDate: r.ValidDate}
			pairs[k] = p
			order = append(order, k)
		}
		if isX {
			p.x = r
		} else {
			p.y = r
		}
	}

	dirSeen := make(map[pairKey]bool)
	for _, k := range order {
		p := pairs[k]
		if p.x == nil || p.y == nil {
			if p.x != nil {
				out = append(out, *p.x)
			}
			if p.y != nil {
				out = append(out, *p.y)
			}
			continue
		}
		speed, dir := features.VectorToWind(p.x.Mean, p.y.Mean)
		base := models.ForecastRecord{
			ValidDate: p.validDate,
			Model:     k.model,
			Horizon:   k.horizon,
			Std:       math.NaN(),
			Error:     math.NaN(),
		}
		s := base
		s.Criterion = frame.Col(k.station, k.base).Flat()
		s.Mean = speed
		out = append(out, s)

		dk := k
		dk.base = ""
		if dirSeen[dk] {
			continue
		}
		dirSeen[dk] = true
		d := base
		d.Criterion = frame.Col(k.station, features.DirectionParam).Flat()
		d.Mean = dir
		out = append(out, d)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Model != out[j].Model {
			return out[i].Model < out[j].Model
		}
		return out[i].ValidDate.Before(out[j].ValidDate)
	})
	return out
}
