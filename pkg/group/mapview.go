package group

import "fmt"

// MapView is the shared map viewport stored under the reserved key.
type MapView struct {
	Center Position
	Zoom   int
}

func (v MapView) Raw() map[string]any {
	return map[string]any{
		"center": map[string]any{"lat": v.Center.Lat, "lng": v.Center.Lng},
		"zoom":   int64(v.Zoom),
	}
}

func ParseMapView(raw any) (MapView, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return MapView{}, fmt.Errorf("%w: map view is %T, not an object", ErrMalformed, raw)
	}
	center, err := ParsePosition(m["center"])
	if err != nil {
		return MapView{}, err
	}
	zoom, ok := toFloat(m["zoom"])
	if !ok || zoom < 0 || zoom > 22 {
		return MapView{}, fmt.Errorf("%w: zoom is %v", ErrMalformed, m["zoom"])
	}
	return MapView{Center: center, Zoom: int(zoom)}, nil
}
