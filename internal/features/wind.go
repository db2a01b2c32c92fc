package features

import (
	"math"
	"strings"

	"github.com/lox/surfcast/internal/frame"
)

// DirectionParam is the wind direction parameter, in degrees.
const DirectionParam = "wind_dir_10m:d"

// SpeedSuffixes mark speed-like parameters that are decomposed together with
// the direction.
var SpeedSuffixes = []string{":kmh", ":ms"}

const (
	suffixX = "_x"
	suffixY = "_y"
)

// WindToVector splits a speed and a meteorological direction in degrees into
// its two components: x along sin(direction), y along cos(direction).
func WindToVector(speed, dir float64) (x, y float64) {
	rad := dir * math.Pi / 180
	return speed * math.Sin(rad), speed * math.Cos(rad)
}

// VectorToWind is the inverse of WindToVector. Speed is rounded to one
// decimal and direction to whole degrees in [0, 360).
func VectorToWind(x, y float64) (speed, dir float64) {
	if math.IsNaN(x) || math.IsNaN(y) {
		return math.NaN(), math.NaN()
	}
	speed = math.Round(math.Hypot(x, y)*10) / 10
	if x == 0 && y == 0 {
		return speed, 0
	}
	dir = math.Atan(x/y) * 180 / math.Pi
	if y < 0 {
		dir += 180
	} else if x < 0 {
		dir += 360
	}
	dir = math.Round(dir)
	if dir >= 360 {
		dir -= 360
	}
	return speed, dir
}

func isSpeed(param string) bool {
	for _, s := range SpeedSuffixes {
		if strings.HasSuffix(param, s) {
			return true
		}
	}
	return false
}

// DecomposeWind replaces, for every station that reports a direction, each
// speed-like parameter p with p_x and p_y and drops the direction column.
// Stations without a direction are left untouched.
func DecomposeWind(f *frame.Frame) *frame.Frame {
	out := f.Clone()
	for _, station := range f.Stations() {
		dirKey := frame.Col(station, DirectionParam)
		dirs, ok := f.Column(dirKey)
		if !ok {
			continue
		}
		for _, param := range f.ParametersOf(station) {
			if !isSpeed(param) {
				continue
			}
			k := frame.Col(station, param)
			speeds, _ := f.Column(k)
			xs := make([]float64, len(speeds))
			ys := make([]float64, len(speeds))
			for i := range speeds {
				xs[i], ys[i] = WindToVector(speeds[i], dirs[i])
			}
			_ = out.Set(frame.Col(station, param+suffixX), xs)
			_ = out.Set(frame.Col(station, param+suffixY), ys)
			out.Drop(k)
		}
		out.Drop(dirKey)
	}
	return out
}

// RecomposeWind reverses DecomposeWind: every p_x/p_y pair becomes p plus a
// direction column. When a station has several pairs the direction of the
// last one wins; they share the same direction in practice.
func RecomposeWind(f *frame.Frame) *frame.Frame {
	out := f.Clone()
	for _, station := range f.Stations() {
		for _, param := range f.ParametersOf(station) {
			base, ok := strings.CutSuffix(param, suffixX)
			if !ok || !isSpeed(base) {
				continue
			}
			kx := frame.Col(station, param)
			ky := frame.Col(station, base+suffixY)
			ys, ok := f.Column(ky)
			if !ok {
				continue
			}
			xs, _ := f.Column(kx)
			speeds := make([]float64, len(xs))
			dirs := make([]float64, len(xs))
			for i := range xs {
				speeds[i], dirs[i] = VectorToWind(xs[i], ys[i])
			}
			_ = out.Set(frame.Col(station, base), speeds)
			_ = out.Set(frame.Col(station, DirectionParam), dirs)
			out.Drop(kx, ky)
		}
	}
	return out
}
