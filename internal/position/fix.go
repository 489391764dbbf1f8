package position

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/iancoleman/orderedmap"
)

var ErrInvalidFix = errors.New("invalid fix")

// Fix is the JSON form of a Position used by the NDJSON and HTTP feeds and
// by the query API. Unknown numeric values are omitted.
type Fix struct {
	Asset     string   `json:"asset"`
	Timestamp int64    `json:"ts"` // ms since epoch
	Lat       float64  `json:"lat"`
	Lon       float64  `json:"lon"`
	Height    *float64 `json:"height,omitempty"`
	Heading   *float64 `json:"heading,omitempty"` // radians
	Speed     *float64 `json:"speed,omitempty"`   // m/s
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Source    string   `json:"source,omitempty"`
	Type      string   `json:"type,omitempty"`

	Extras *orderedmap.OrderedMap `json:"extras,omitempty"`
}

func optional(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

func orNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

func (p Position) Fix() Fix {
	f := Fix{
		Asset:     p.Asset,
		Timestamp: p.Millis(),
		Lat:       p.Loc.Lat,
		Lon:       p.Loc.Lon,
		Height:    optional(p.Loc.Height),
		Heading:   optional(p.Heading),
		Speed:     optional(p.Speed),
		Accuracy:  optional(p.Accuracy),
		Source:    p.Source,
		Type:      p.Type,
	}
	if p.extras != nil && len(p.extras.Keys()) > 0 {
		f.Extras = p.Clone().extras
	}
	return f
}

// Position converts the wire form back, applying defaults for missing labels.
// defaultSource is used when the fix carries no source of its own.
func (f Fix) Position(defaultSource string) (Position, error) {
	if f.Asset == "" {
		return Position{}, fmt.Errorf("%w: missing asset", ErrInvalidFix)
	}
	if f.Timestamp <= 0 {
		return Position{}, fmt.Errorf("%w: bad timestamp %d for %s", ErrInvalidFix, f.Timestamp, f.Asset)
	}
	loc := Location{Lat: f.Lat, Lon: f.Lon, Height: orNaN(f.Height)}
	if !loc.Valid() {
		return Position{}, fmt.Errorf("%w: location %s out of range for %s", ErrInvalidFix, loc, f.Asset)
	}
	p := New(f.Asset, loc, time.UnixMilli(f.Timestamp))
	p.Heading = orNaN(f.Heading)
	p.Speed = orNaN(f.Speed)
	p.Accuracy = orNaN(f.Accuracy)
	switch {
	case f.Source != "":
		p.Source = f.Source
	case defaultSource != "":
		p.Source = defaultSource
	}
	if f.Type != "" {
		p.Type = f.Type
	}
	if f.Extras != nil {
		for _, k := range f.Extras.Keys() {
			v, _ := f.Extras.Get(k)
			if s, ok := v.(string); ok {
				p.PutExtra(k, s)
			} else {
				p.PutExtra(k, fmt.Sprint(v))
			}
		}
	}
	return p, nil
}
