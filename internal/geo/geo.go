// Package geo holds the small amount of WGS84 geometry the tracker needs:
// great-circle distance, bearing and destination used for dead reckoning.
package geo

import (
	"math"

	"awareness-svr/internal/position"
)

// EarthRadius is the mean Earth radius in meters.
const EarthRadius = 6371008.8

func rad(deg float64) float64 { return deg * math.Pi / 180 }
func deg(rad float64) float64 { return rad * 180 / math.Pi }

// Distance returns the haversine distance in meters.
func Distance(a, b position.Location) float64 {
	lat1, lat2 := rad(a.Lat), rad(b.Lat)
	dLat := lat2 - lat1
	dLon := rad(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadius * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Bearing returns the initial bearing from a to b in radians, clockwise from
// north, in [0, 2π).
func Bearing(a, b position.Location) float64 {
	lat1, lat2 := rad(a.Lat), rad(b.Lat)
	dLon := rad(b.Lon - a.Lon)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	return NormalizeAngle(math.Atan2(y, x))
}

// Offset moves loc north/east meters along the great circle with initial
// bearing atan2(east, north). Any distance lands on the globe, wrapping over
// the poles when needed.
func Offset(loc position.Location, north, east float64) position.Location {
	d := math.Hypot(north, east) / EarthRadius
	if d == 0 {
		return loc
	}
	theta := math.Atan2(east, north)
	lat1, lon1 := rad(loc.Lat), rad(loc.Lon)

	sinLat := math.Sin(lat1)*math.Cos(d) + math.Cos(lat1)*math.Sin(d)*math.Cos(theta)
	lat2 := math.Asin(math.Max(-1, math.Min(1, sinLat)))
	lon2 := lon1 + math.Atan2(math.Sin(theta)*math.Sin(d)*math.Cos(lat1),
		math.Cos(d)-math.Sin(lat1)*math.Sin(lat2))

	return position.Location{Lat: deg(lat2), Lon: NormalizeLon(deg(lon2)), Height: loc.Height}
}

// NormalizeAngle wraps radians into [0, 2π).
func NormalizeAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a
}

// NormalizeLon wraps degrees into [-180, 180].
func NormalizeLon(lon float64) float64 {
	if lon >= -180 && lon <= 180 {
		return lon
	}
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}
