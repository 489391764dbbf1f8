package track

import (
	"errors"
	"hash/fnv"
	"image/color"
	"sort"
	"time"

	"awareness-svr/internal/position"
)

var ErrEmptyTrack = errors.New("track has no positions")

// Track is the ordered history of one asset. Positions are kept strictly
// ascending by timestamp; a second fix with an existing timestamp is dropped.
// Track is not safe for concurrent use; the aggregator serializes access.
type Track struct {
	asset     string
	color     color.RGBA
	positions []position.Position
}

func New(asset string) *Track {
	return &Track{asset: asset, color: ColorFor(asset)}
}

func (t *Track) Asset() string     { return t.asset }
func (t *Track) Color() color.RGBA { return t.color }
func (t *Track) Len() int          { return len(t.positions) }

func (t *Track) SetColor(c color.RGBA) { t.color = c }

// Insert adds p at its chronological place. It reports false, leaving the
// track untouched, when a fix with the same millisecond timestamp exists.
func (t *Track) Insert(p position.Position) bool {
	ms := p.Millis()
	i := sort.Search(len(t.positions), func(i int) bool {
		return t.positions[i].Millis() >= ms
	})
	if i < len(t.positions) && t.positions[i].Millis() == ms {
		return false
	}
	t.positions = append(t.positions, position.Position{})
	copy(t.positions[i+1:], t.positions[i:])
	t.positions[i] = p.Clone()
	return true
}

func (t *Track) Latest() (position.Position, error) {
	if len(t.positions) == 0 {
		return position.Position{}, ErrEmptyTrack
	}
	return t.positions[len(t.positions)-1].Clone(), nil
}

// LatestBefore returns the newest fix with timestamp <= ts.
func (t *Track) LatestBefore(ts time.Time) (position.Position, bool) {
	var (
		found position.Position
		ok    bool
	)
	for _, p := range t.positions {
		if p.Timestamp.After(ts) {
			continue
		}
		found, ok = p, true
	}
	if !ok {
		return position.Position{}, false
	}
	return found.Clone(), true
}

// Window walks back from the newest fix collecting at most maxCount fixes,
// stopping at the first one older than since. Output is chronological.
func (t *Track) Window(maxCount int, since time.Time) []position.Position {
	start := len(t.positions)
	for i := len(t.positions) - 1; i >= 0; i-- {
		if len(t.positions)-i > maxCount {
			break
		}
		if t.positions[i].Timestamp.Before(since) {
			break
		}
		start = i
	}
	return clones(t.positions[start:])
}

func (t *Track) All() []position.Position {
	return clones(t.positions)
}

// Prune drops fixes older than before and returns how many went.
func (t *Track) Prune(before time.Time) int {
	i := sort.Search(len(t.positions), func(i int) bool {
		return !t.positions[i].Timestamp.Before(before)
	})
	if i == 0 {
		return 0
	}
	t.positions = append(t.positions[:0:0], t.positions[i:]...)
	return i
}

// Truncate keeps only the newest max fixes. max <= 0 is a no-op.
func (t *Track) Truncate(max int) int {
	if max <= 0 || len(t.positions) <= max {
		return 0
	}
	n := len(t.positions) - max
	t.positions = append(t.positions[:0:0], t.positions[n:]...)
	return n
}

// Snapshot returns a read-only copy of the track.
func (t *Track) Snapshot() Snapshot {
	return Snapshot{Asset: t.asset, Color: t.color, Positions: t.All()}
}

func clones(ps []position.Position) []position.Position {
	out := make([]position.Position, len(ps))
	for i, p := range ps {
		out[i] = p.Clone()
	}
	return out
}

// ColorFor derives a stable display color from the asset name.
func ColorFor(asset string) color.RGBA {
	h := fnv.New32a()
	_, _ = h.Write([]byte(asset))
	v := h.Sum32()
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}
}
