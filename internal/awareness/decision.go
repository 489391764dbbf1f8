package awareness

import (
	"fmt"
	"sort"
	"time"

	"awareness-svr/internal/geo"
	"awareness-svr/internal/position"
)

const (
	DefaultShipSpeed      = 10.0   // m/s
	DefaultUUVSpeed       = 1.25   // m/s
	DefaultSafetyDistance = 3000.0 // meters
)

// DefaultTagTypes are the position types treated as animal tags.
var DefaultTagTypes = []string{"SPOT Tag", "Argos Tag"}

// DecisionConfig holds the speeds and distances used to rank tags.
type DecisionConfig struct {
	// MainAsset is the vehicle used when the caller names none.
	MainAsset      string
	ShipSpeed      float64
	UUVSpeed       float64
	SafetyDistance float64
	TagTypes       []string
}

func (c *DecisionConfig) setDefaults() {
	if c.ShipSpeed <= 0 {
		c.ShipSpeed = DefaultShipSpeed
	}
	if c.UUVSpeed <= 0 {
		c.UUVSpeed = DefaultUUVSpeed
	}
	if c.SafetyDistance <= 0 {
		c.SafetyDistance = DefaultSafetyDistance
	}
	if len(c.TagTypes) == 0 {
		c.TagTypes = append([]string(nil), DefaultTagTypes...)
	}
}

// TagDecision is one row of the decision support table.
type TagDecision struct {
	Tag       string    `json:"tag"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Age       string    `json:"age"`
	// Distance from the vehicle to the tag, in meters.
	Distance float64 `json:"distance"`
	// UUVTime is how long the vehicle needs to reach the tag.
	UUVTime time.Duration `json:"uuv_time"`
	// ShipTime is how long the ship, starting at the vehicle, needs to get
	// within the safety distance of the tag. Zero when already inside it.
	ShipTime time.Duration `json:"ship_time"`
}

// DecisionSupport ranks the latest tag positions by distance to the latest
// fix of uuv (the configured main asset when empty).
func (a *Aggregator) DecisionSupport(uuv string) ([]TagDecision, error) {
	cfg := a.cfg.Decision
	if uuv == "" {
		uuv = cfg.MainAsset
	}
	if uuv == "" {
		return nil, fmt.Errorf("%w: no vehicle given", ErrUnknownAsset)
	}
	origin, err := a.Latest(uuv)
	if err != nil {
		return nil, err
	}

	byType := a.PositionsByType()
	var tags []position.Position
	for _, t := range cfg.TagTypes {
		tags = append(tags, byType[t]...)
	}

	now := a.cfg.Now()
	out := make([]TagDecision, 0, len(tags))
	for _, tag := range tags {
		d := geo.Distance(origin.Loc, tag.Loc)
		row := TagDecision{
			Tag:       tag.Asset,
			Type:      tag.Type,
			Timestamp: tag.Timestamp,
			Age:       tag.Age(now).Round(time.Second).String(),
			Distance:  d,
			UUVTime:   seconds(d / cfg.UUVSpeed),
		}
		if d > cfg.SafetyDistance {
			row.ShipTime = seconds((d - cfg.SafetyDistance) / cfg.ShipSpeed)
		}
		out = append(out, row)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second)).Round(time.Second)
}
