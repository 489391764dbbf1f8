package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"awareness-svr/internal/position"
)

func TestDistance(t *testing.T) {
	a := position.NewLocation(0, 0)
	b := position.NewLocation(1, 0)
	// one degree of latitude on the mean sphere
	assert.InDelta(t, EarthRadius*math.Pi/180, Distance(a, b), 1e-6)
	assert.Zero(t, Distance(a, a))

	porto := position.NewLocation(41.1579, -8.6291)
	lisbon := position.NewLocation(38.7223, -9.1393)
	assert.InDelta(t, 274_000, Distance(porto, lisbon), 2_000)
}

func TestBearing(t *testing.T) {
	o := position.NewLocation(0, 0)
	cases := []struct {
		to   position.Location
		want float64
	}{
		{position.NewLocation(1, 0), 0},
		{position.NewLocation(0, 1), math.Pi / 2},
		{position.NewLocation(-1, 0), math.Pi},
		{position.NewLocation(0, -1), 3 * math.Pi / 2},
	}
	for _, c := range cases {
		assert.InDelta(t, c.want, Bearing(o, c.to), 1e-9, "to %v", c.to)
	}
}

func TestOffsetMatchesDistance(t *testing.T) {
	start := position.NewLocation(41.0, -8.0)
	moved := Offset(start, 1000, 0)
	assert.Greater(t, moved.Lat, start.Lat)
	assert.InDelta(t, 1000, Distance(start, moved), 0.5)

	moved = Offset(start, 0, -500)
	assert.Less(t, moved.Lon, start.Lon)
	assert.InDelta(t, 500, Distance(start, moved), 0.5)
	assert.InDelta(t, 3*math.Pi/2, Bearing(start, moved), 1e-3)
}

func TestOffsetWrapsLongitude(t *testing.T) {
	moved := Offset(position.NewLocation(0, 179.999), 0, 1000)
	assert.True(t, moved.Valid())
	assert.Less(t, moved.Lon, 0.0)
}

func TestNormalize(t *testing.T) {
	assert.InDelta(t, math.Pi/2, NormalizeAngle(-3*math.Pi/2), 1e-12)
	assert.InDelta(t, 0, NormalizeAngle(2*math.Pi), 1e-12)
	assert.InDelta(t, -170, NormalizeLon(190), 1e-9)
	assert.InDelta(t, 170, NormalizeLon(-190), 1e-9)
	assert.Equal(t, 180.0, NormalizeLon(180))
}

func TestOffsetStaysOnGlobe(t *testing.T) {
	start := position.NewLocation(60, 10)
	// 48h at 250 m/s due north crosses the pole several times
	north := 48 * 3600 * 250.0
	moved := Offset(start, north, 0)
	assert.True(t, moved.Valid(), "moved to %v", moved)

	over := Offset(position.NewLocation(89.99, 0), 5_000, 0)
	assert.True(t, over.Valid())
	assert.InDelta(t, 180, math.Abs(over.Lon), 1e-6)

	for _, c := range []struct{ n, e float64 }{{-1e9, 3e8}, {7e7, -7e7}, {0, 4e7}} {
		assert.True(t, Offset(start, c.n, c.e).Valid(), "offset %v", c)
	}
	still := Offset(start, 0, 0)
	assert.Equal(t, start.Lat, still.Lat)
	assert.Equal(t, start.Lon, still.Lon)
}
