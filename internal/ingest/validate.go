package ingest

import (
	"math"
	"slices"
	"strings"

	"github.com/lox/surfcast/internal/frame"
)

const (
	FlagTempOutOfRange     = "temp_out_of_range"
	FlagHumidityInvalid    = "humidity_invalid"
	FlagWindDirInvalid     = "wind_dir_invalid"
	FlagWindSpeedUnlikely  = "wind_speed_unlikely"
	FlagPressureOutOfRange = "pressure_out_of_range"
	FlagSolarNegative      = "solar_negative"
	FlagPrecipNegative     = "precip_negative"
)

type plausibleRange struct {
	prefix   string
	min, max float64
	flag     string
}

// Parameters are matched by name prefix. Anything else is left alone.
var plausibleRanges = []plausibleRange{
	{"t_", -60, 60, FlagTempOutOfRange},
	{"relative_humidity", 0, 100, FlagHumidityInvalid},
	{"wind_dir", 0, 360, FlagWindDirInvalid},
	{"wind_speed", 0, 300, FlagWindSpeedUnlikely},
	{"wind_gusts", 0, 400, FlagWindSpeedUnlikely},
	{"msl_pressure", 900, 1100, FlagPressureOutOfRange},
	{"global_rad", 0, math.Inf(1), FlagSolarNegative},
	{"precip", 0, math.Inf(1), FlagPrecipNegative},
}

func rangeFor(parameter string) (plausibleRange, bool) {
	for _, r := range plausibleRanges {
		if strings.HasPrefix(parameter, r.prefix) {
			return r, true
		}
	}
	return plausibleRange{}, false
}

// MaskImplausible replaces physically implausible observations with NaN
// and returns how many values were masked per flag.
func MaskImplausible(f *frame.Frame) map[string]int {
	if f.Empty() {
		return nil
	}
	flags := make(map[string]int)
	for _, k := range f.Columns() {
		r, ok := rangeFor(k.Parameter)
		if !ok {
			continue
		}
		src, _ := f.Column(k)
		var masked []float64
		for i, v := range src {
			if math.IsNaN(v) || (v >= r.min && v <= r.max) {
				continue
			}
			if masked == nil {
				masked = slices.Clone(src)
			}
			masked[i] = math.NaN()
			flags[r.flag]++
		}
		if masked != nil {
			_ = f.Set(k, masked)
		}
	}
	if len(flags) == 0 {
		return nil
	}
	return flags
}
