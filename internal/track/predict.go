package track

import (
	"image/color"
	"math"
	"time"

	"awareness-svr/internal/geo"
	"awareness-svr/internal/position"
)

const (
	PredictionType   = "Prediction"
	PredictionSource = "dead reckoning"

	// MinPredictionFixes is the history needed before extrapolating.
	MinPredictionFixes = 3
)

// Snapshot is a copy of a track handed to readers.
type Snapshot struct {
	Asset     string
	Color     color.RGBA
	Positions []position.Position
}

func (s Snapshot) Latest() (position.Position, error) {
	if len(s.Positions) == 0 {
		return position.Position{}, ErrEmptyTrack
	}
	return s.Positions[len(s.Positions)-1], nil
}

func (s Snapshot) Predict(now time.Time) (position.Position, bool) {
	return predict(s.Asset, s.Positions, now)
}

// Predict extrapolates the asset position at now from the velocity between
// the two newest fixes. It reports false when the track is too short or the
// two newest fixes do not move forward in time.
func Predict(t *Track, now time.Time) (position.Position, bool) {
	return predict(t.asset, t.positions, now)
}

func predict(asset string, ps []position.Position, now time.Time) (position.Position, bool) {
	if len(ps) < MinPredictionFixes {
		return position.Position{}, false
	}
	last := ps[len(ps)-1]
	prev := ps[len(ps)-2]

	dt := last.Timestamp.Sub(prev.Timestamp).Seconds()
	if dt <= 0 {
		return position.Position{}, false
	}

	dist := geo.Distance(prev.Loc, last.Loc)
	bearing := geo.Bearing(prev.Loc, last.Loc)
	speed := dist / dt
	elapsed := now.Sub(last.Timestamp).Seconds()

	north := elapsed * speed * math.Cos(bearing)
	east := elapsed * speed * math.Sin(bearing)

	p := position.New(asset, geo.Offset(last.Loc, north, east), now)
	p.Speed = speed
	p.Heading = bearing
	p.Type = PredictionType
	p.Source = PredictionSource
	return p, true
}
