package position

import (
	"fmt"
	"math"
	"time"

	"github.com/iancoleman/orderedmap"
)

const (
	DefaultSource = "unknown"
	DefaultType   = "Sensor"
)

// Location is a WGS84 point. Height is meters (negative for depth), NaN if unknown.
type Location struct {
	Lat    float64
	Lon    float64
	Height float64
}

func NewLocation(lat, lon float64) Location {
	return Location{Lat: lat, Lon: lon, Height: math.NaN()}
}

func (l Location) Valid() bool {
	if math.IsNaN(l.Lat) || math.IsNaN(l.Lon) || math.IsInf(l.Lat, 0) || math.IsInf(l.Lon, 0) {
		return false
	}
	return l.Lat >= -90 && l.Lat <= 90 && l.Lon >= -180 && l.Lon <= 180
}

func (l Location) String() string {
	return fmt.Sprintf("%.6f,%.6f", l.Lat, l.Lon)
}

// Position is one fix of a named asset. Once handed to a track it must not
// be mutated; tracks only give out clones.
type Position struct {
	Asset     string
	Loc       Location
	Timestamp time.Time

	Heading  float64 // radians, NaN if unknown
	Speed    float64 // m/s over ground, NaN if unknown
	Accuracy float64 // meters, NaN if unknown

	Source string
	Type   string

	// Replayed marks fixes loaded back from persisted history. They are
	// stored in tracks but never recorded again.
	Replayed bool

	extras *orderedmap.OrderedMap
}

// New builds a fix with unknown heading/speed/accuracy and default labels.
// The timestamp is kept in UTC, truncated to millisecond resolution.
func New(asset string, loc Location, ts time.Time) Position {
	return Position{
		Asset:     asset,
		Loc:       loc,
		Timestamp: ts.UTC().Truncate(time.Millisecond),
		Heading:   math.NaN(),
		Speed:     math.NaN(),
		Accuracy:  math.NaN(),
		Source:    DefaultSource,
		Type:      DefaultType,
	}
}

func (p Position) Valid() bool {
	return p.Asset != "" && !p.Timestamp.IsZero() && p.Loc.Valid()
}

// Millis returns the timestamp as milliseconds since the epoch.
func (p Position) Millis() int64 { return p.Timestamp.UnixMilli() }

func (p Position) Age(now time.Time) time.Duration {
	return now.Sub(p.Timestamp)
}

// PutExtra sets an annotation. Re-setting an existing key keeps its place.
func (p *Position) PutExtra(key, value string) {
	if p.extras == nil {
		p.extras = orderedmap.New()
	}
	p.extras.Set(key, value)
}

func (p Position) Extra(key string) (string, bool) {
	if p.extras == nil {
		return "", false
	}
	v, ok := p.extras.Get(key)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, true
}

// ExtraKeys lists annotation keys in insertion order.
func (p Position) ExtraKeys() []string {
	if p.extras == nil {
		return nil
	}
	return p.extras.Keys()
}

// Clone deep-copies the fix, annotations included.
func (p Position) Clone() Position {
	c := p
	if p.extras != nil {
		c.extras = orderedmap.New()
		for _, k := range p.extras.Keys() {
			v, _ := p.extras.Get(k)
			c.extras.Set(k, v)
		}
	}
	return c
}

func (p Position) String() string {
	return fmt.Sprintf("%s@%s[%s]", p.Asset, p.Loc, p.Timestamp.UTC().Format(time.RFC3339))
}
