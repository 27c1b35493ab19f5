// Package geo provides the bounding-box and distance helpers behind
// radius-filtered business listings, and EWKB encoding for the Postgres
// geometry column.
package geo

import (
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

// SRID is WGS84.
const SRID = 4326

// Box is a lat/lng bounding box.
type Box struct {
	MinLat, MinLng float64
	MaxLat, MaxLng float64
}

// BoxAround returns the bounding box that encloses a circle of radiusMeters
// around (lat, lng). Callers use it as a cheap SQL prefilter.
func BoxAround(lat, lng, radiusMeters float64) Box {
	b := geo.NewBoundAroundPoint(orb.Point{lng, lat}, radiusMeters)
	return Box{
		MinLat: b.Min.Lat(),
		MinLng: b.Min.Lon(),
		MaxLat: b.Max.Lat(),
		MaxLng: b.Max.Lon(),
	}
}

// Contains reports whether (lat, lng) is inside the box, edges included.
func (b Box) Contains(lat, lng float64) bool {
	return orb.Bound{
		Min: orb.Point{b.MinLng, b.MinLat},
		Max: orb.Point{b.MaxLng, b.MaxLat},
	}.Contains(orb.Point{lng, lat})
}

// DistanceMeters returns the haversine distance between two coordinates.
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	return geo.DistanceHaversine(orb.Point{lng1, lat1}, orb.Point{lng2, lat2})
}

// Located is anything with a coordinate.
type Located interface {
	Coordinates() (lat, lng float64)
}

// WithinRadius keeps the items at most radiusMeters from the center and
// returns them nearest first. Ties keep their input order.
func WithinRadius[T Located](items []T, lat, lng, radiusMeters float64) []T {
	type scored struct {
		item T
		dist float64
	}
	var kept []scored
	for _, it := range items {
		ilat, ilng := it.Coordinates()
		if d := DistanceMeters(lat, lng, ilat, ilng); d <= radiusMeters {
			kept = append(kept, scored{item: it, dist: d})
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].dist < kept[j].dist })

	out := make([]T, len(kept))
	for i, k := range kept {
		out[i] = k.item
	}
	return out
}

// EncodePoint returns the EWKB encoding of a WGS84 point.
func EncodePoint(lat, lng float64) ([]byte, error) {
	p := geom.NewPointFlat(geom.XY, []float64{lng, lat}).SetSRID(SRID)
	data, err := ewkb.Marshal(p, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "geo: encode point")
	}
	return data, nil
}

// DecodePoint parses an EWKB point back into (lat, lng).
func DecodePoint(data []byte) (lat, lng float64, err error) {
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return 0, 0, eris.Wrap(err, "geo: decode point")
	}
	p, ok := g.(*geom.Point)
	if !ok {
		return 0, 0, eris.Errorf("geo: expected point, got %T", g)
	}
	return p.Y(), p.X(), nil
}
