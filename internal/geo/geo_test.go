package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/surfcast/internal/models"
)

var quinten = Point{Lat: 47.12885, Lon: 9.21567}

func TestDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b Point
		want float64
		tol  float64
	}{
		{"same point", quinten, quinten, 0, 1e-9},
		{"one degree of latitude", Point{0, 0}, Point{1, 0}, 111195, 50},
		{"zurich to lugano", Point{47.3982, 8.5156}, Point{45.9984, 8.9320}, 158800, 1500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Distance(tt.a, tt.b), tt.tol)
		})
	}
}

func TestCircleContains(t *testing.T) {
	c := NewCircle(quinten, 5000)

	assert.True(t, c.Contains(quinten))
	assert.True(t, c.Contains(Destination(quinten, 1.0, 4900)))
	assert.False(t, c.Contains(Destination(quinten, 1.0, 5100)))
}

func TestBufferMatchesCircle(t *testing.T) {
	poly := Buffer(quinten, 10000, 64)
	require.Len(t, poly, 64)

	for _, bearing := range []float64{0, 0.7, 2.1, 3.3, 5.9} {
		assert.True(t, poly.Contains(Destination(quinten, bearing, 9000)), "bearing %v inside", bearing)
		assert.False(t, poly.Contains(Destination(quinten, bearing, 11000)), "bearing %v outside", bearing)
	}
}

func TestFormatCoords(t *testing.T) {
	points := []Point{
		{Lat: 47.6952, Lon: 9.1307},
		{Lat: 46.195700001, Lon: 6.09051},
	}
	s := FormatCoords(points)
	assert.Equal(t, "46.1957,6.09051_47.6952,9.1307", s)

	reversed := []Point{points[1], points[0]}
	assert.Equal(t, s, FormatCoords(reversed))

	parsed, err := ParseCoords(s)
	require.NoError(t, err)
	assert.Equal(t, []Point{{46.1957, 6.09051}, {47.6952, 9.1307}}, parsed)
}

func TestParsePointErrors(t *testing.T) {
	for _, in := range []string{"", "47.1", "abc,9", "47,xyz", "91,0", "0,181"} {
		_, err := ParsePoint(in)
		assert.Error(t, err, in)
	}
}

func TestFilterStationsAndNearest(t *testing.T) {
	near := Destination(quinten, 0.5, 2000)
	far := Destination(quinten, 0.5, 60000)
	stations := []models.Station{
		{Name: "Far", Latitude: far.Lat, Longitude: far.Lon},
		{Name: "Near", Latitude: near.Lat, Longitude: near.Lon},
		{Name: "Here", Latitude: quinten.Lat, Longitude: quinten.Lon},
	}

	got := FilterStations(stations, NewCircle(quinten, 50000))
	require.Len(t, got, 2)
	assert.Equal(t, "Near", got[0].Name)
	assert.Equal(t, "Here", got[1].Name)

	st, ok := Nearest(stations, quinten, 5000)
	require.True(t, ok)
	assert.Equal(t, "Here", st.Name)

	_, ok = Nearest(stations[:1], quinten, 5000)
	assert.False(t, ok)
}

func TestUniquePoints(t *testing.T) {
	got := UniquePoints([]Point{quinten, {47.128850001, 9.21567}, {1, 2}})
	assert.Equal(t, []Point{quinten, {1, 2}}, got)
}
