// Package geo provides the small amount of spherical geometry the pipeline
// needs: distances, buffered regions around a point and the coordinate string
// format shared by the provider API and the cache.
package geo

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/lox/surfcast/internal/models"
)

const earthRadius = 6371008.8 // metres, mean radius

// CoordPrecision is the number of decimals kept when formatting coordinates.
const CoordPrecision = 5

type Point struct {
	Lat float64
	Lon float64
}

func (p Point) String() string {
	return formatFloat(p.Lat) + "," + formatFloat(p.Lon)
}

// Region is anything that can answer point membership.
type Region interface {
	Contains(p Point) bool
}

// Distance returns the great-circle distance between a and b in metres.
func Distance(a, b Point) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := lat2 - lat1
	dLon := radians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadius * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Circle is a point buffered by Radius metres.
type Circle struct {
	Center Point
	Radius float64
}

func NewCircle(center Point, radius float64) Circle {
	return Circle{Center: center, Radius: radius}
}

func (c Circle) Contains(p Point) bool {
	return Distance(c.Center, p) <= c.Radius
}

// Polygon is a closed ring of vertices. The closing vertex is implicit.
type Polygon []Point

// Contains uses ray casting in lon/lat space, which is accurate enough for
// regions of a few hundred kilometres away from the poles.
func (poly Polygon) Contains(p Point) bool {
	inside := false
	n := len(poly)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := poly[i], poly[j]
		if (a.Lat > p.Lat) != (b.Lat > p.Lat) {
			x := (b.Lon-a.Lon)*(p.Lat-a.Lat)/(b.Lat-a.Lat) + a.Lon
			if p.Lon < x {
				inside = !inside
			}
		}
	}
	return inside
}

// Buffer approximates the disc of radius metres around p with a polygon of
// the given number of segments.
func Buffer(p Point, radius float64, segments int) Polygon {
	if segments < 3 {
		segments = 3
	}
	poly := make(Polygon, segments)
	for i := range segments {
		bearing := 2 * math.Pi * float64(i) / float64(segments)
		poly[i] = Destination(p, bearing, radius)
	}
	return poly
}

// Destination returns the point reached from p after travelling distance
// metres on the given initial bearing (radians, clockwise from north).
func Destination(p Point, bearing, distance float64) Point {
	lat1 := radians(p.Lat)
	lon1 := radians(p.Lon)
	d := distance / earthRadius

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(d) + math.Cos(lat1)*math.Sin(d)*math.Cos(bearing))
	lon2 := lon1 + math.Atan2(
		math.Sin(bearing)*math.Sin(d)*math.Cos(lat1),
		math.Cos(d)-math.Sin(lat1)*math.Sin(lat2),
	)
	return Point{Lat: degrees(lat2), Lon: math.Mod(degrees(lon2)+540, 360) - 180}
}

// Round returns p with both coordinates rounded to CoordPrecision decimals.
func Round(p Point) Point {
	return Point{Lat: round(p.Lat), Lon: round(p.Lon)}
}

// FormatCoords renders points as "lat,lon_lat,lon", rounded and sorted so
// the same set of points always yields the same string.
func FormatCoords(points []Point) string {
	rounded := make([]Point, len(points))
	for i, p := range points {
		rounded[i] = Round(p)
	}
	sort.Slice(rounded, func(i, j int) bool {
		if rounded[i].Lat != rounded[j].Lat {
			return rounded[i].Lat < rounded[j].Lat
		}
		return rounded[i].Lon < rounded[j].Lon
	})

	parts := make([]string, len(rounded))
	for i, p := range rounded {
		parts[i] = p.String()
	}
	return strings.Join(parts, "_")
}

// ParseCoords is the inverse of FormatCoords.
func ParseCoords(s string) ([]Point, error) {
	if s == "" {
		return nil, nil
	}
	var points []Point
	for _, part := range strings.Split(s, "_") {
		p, err := ParsePoint(part)
		if err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, nil
}

// ParsePoint parses "lat,lon".
func ParsePoint(s string) (Point, error) {
	latStr, lonStr, ok := strings.Cut(strings.TrimSpace(s), ",")
	if !ok {
		return Point{}, fmt.Errorf("parse point %q: missing comma", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return Point{}, fmt.Errorf("parse point %q: %w", s, err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return Point{}, fmt.Errorf("parse point %q: %w", s, err)
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return Point{}, fmt.Errorf("parse point %q: out of range", s)
	}
	return Point{Lat: lat, Lon: lon}, nil
}

// StationPoint converts a station row into its geometry.
func StationPoint(st models.Station) Point {
	return Point{Lat: st.Latitude, Lon: st.Longitude}
}

// ParamStationPoint converts a parameter/station map row into its geometry.
func ParamStationPoint(ps models.ParamStation) Point {
	return Point{Lat: ps.Latitude, Lon: ps.Longitude}
}

// FilterStations keeps the stations located inside region, preserving order.
func FilterStations(stations []models.Station, region Region) []models.Station {
	var out []models.Station
	for _, st := range stations {
		if region.Contains(StationPoint(st)) {
			out = append(out, st)
		}
	}
	return out
}

// Nearest returns the station closest to p within radius metres.
func Nearest(stations []models.Station, p Point, radius float64) (models.Station, bool) {
	best := -1
	bestDist := math.Inf(1)
	for i, st := range stations {
		d := Distance(p, StationPoint(st))
		if d <= radius && d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return models.Station{}, false
	}
	return stations[best], true
}

// UniquePoints returns the distinct rounded points in first-seen order.
func UniquePoints(points []Point) []Point {
	seen := make(map[Point]bool, len(points))
	var out []Point
	for _, p := range points {
		r := Round(p)
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(round(v), 'f', -1, 64)
}

func round(v float64) float64 {
	scale := math.Pow(10, CoordPrecision)
	return math.Round(v*scale) / scale
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
func degrees(rad float64) float64 { return rad * 180 / math.Pi }
