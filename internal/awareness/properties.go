package awareness

import (
	"errors"
	"fmt"
	"image/color"
	"sort"
	"strconv"
	"strings"
)

// AssetProperties describe an asset as published by the asset catalogue.
type AssetProperties struct {
	Name        string `json:"name"`
	Friendly    string `json:"friendly,omitempty"`
	Description string `json:"description,omitempty"`
	Color       string `json:"color,omitempty"` // #rrggbb
}

// HexColor formats c as #rrggbb.
func HexColor(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// ParseHexColor accepts rrggbb with or without a leading '#'.
func ParseHexColor(s string) (color.RGBA, error) {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return color.RGBA{}, fmt.Errorf("color %q is not #rrggbb", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("color %q is not #rrggbb", s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

// SetAssetProperties merges descriptions by name. A valid color is applied
// to the asset track now and to the track created when the asset first
// reports. It returns the entries skipped for a missing name or bad color.
func (a *Aggregator) SetAssetProperties(props []AssetProperties) []error {
	var bad []error
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range props {
		if p.Name == "" {
			bad = append(bad, errors.New("asset properties without a name"))
			continue
		}
		if p.Color != "" {
			c, err := ParseHexColor(p.Color)
			if err != nil {
				bad = append(bad, fmt.Errorf("%s: %w", p.Name, err))
				continue
			}
			p.Color = HexColor(c)
			if tr, ok := a.tracks[p.Name]; ok {
				tr.SetColor(c)
			}
		}
		a.props[p.Name] = p
	}
	return bad
}

func (a *Aggregator) AssetProperties(asset string) (AssetProperties, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.props[asset]
	return p, ok
}

// AllAssetProperties lists every known description sorted by name.
func (a *Aggregator) AllAssetProperties() []AssetProperties {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]AssetProperties, 0, len(a.props))
	for _, p := range a.props {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// propColor must be called with mu held.
func (a *Aggregator) propColor(asset string) (color.RGBA, bool) {
	p, ok := a.props[asset]
	if !ok || p.Color == "" {
		return color.RGBA{}, false
	}
	c, err := ParseHexColor(p.Color)
	return c, err == nil
}
