package group

import (
	"errors"
	"fmt"
	"math"
)

// Epsilon is the smallest coordinate difference (in degrees) treated as a move.
const Epsilon = 1e-9

var ErrMalformed = errors.New("malformed descriptor")

type Position struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

func (p Position) Equal(o Position) bool {
	return math.Abs(p.Lat-o.Lat) <= Epsilon && math.Abs(p.Lng-o.Lng) <= Epsilon
}

func (p Position) Valid() bool {
	return isFinite(p.Lat) && isFinite(p.Lng) &&
		p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

func (p Position) String() string {
	return fmt.Sprintf("(%.6f,%.6f)", p.Lat, p.Lng)
}

// Color is an opaque token, compared byte for byte.
type Color string

// Descriptor is the complete replicated state of one group.
type Descriptor struct {
	Position Position `json:"position"`
	Color    Color    `json:"color"`
}

func (d Descriptor) Equal(o Descriptor) bool {
	return d.Color == o.Color && d.Position.Equal(o.Position)
}

// Raw returns the store representation. Writes always carry the full value.
func (d Descriptor) Raw() map[string]any {
	return map[string]any{
		"position": map[string]any{
			"lat": d.Position.Lat,
			"lng": d.Position.Lng,
		},
		"color": string(d.Color),
	}
}

// ParseDescriptor validates a raw store value. A missing, empty or non-string
// color is replaced by defaultColor; a bad position is an error.
func ParseDescriptor(raw any, defaultColor Color) (Descriptor, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: value is %T, not an object", ErrMalformed, raw)
	}
	pos, err := ParsePosition(m["position"])
	if err != nil {
		return Descriptor{}, err
	}
	d := Descriptor{Position: pos, Color: defaultColor}
	if c, ok := m["color"].(string); ok && c != "" {
		d.Color = Color(c)
	}
	return d, nil
}

func ParsePosition(raw any) (Position, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return Position{}, fmt.Errorf("%w: position is %T, not an object", ErrMalformed, raw)
	}
	lat, ok := toFloat(m["lat"])
	if !ok {
		return Position{}, fmt.Errorf("%w: lat is %v", ErrMalformed, m["lat"])
	}
	lng, ok := toFloat(m["lng"])
	if !ok {
		return Position{}, fmt.Errorf("%w: lng is %v", ErrMalformed, m["lng"])
	}
	p := Position{Lat: lat, Lng: lng}
	if !p.Valid() {
		return Position{}, fmt.Errorf("%w: position %s out of range", ErrMalformed, p)
	}
	return p, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
