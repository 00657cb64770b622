package cluster

import "alertcore/geo"

// spatialIndex narrows the clusters Observe has to test. candidates returns
// ok=false when the caller must fall back to scanning every cluster. The
// haversine check in match stays authoritative either way.
type spatialIndex interface {
	add(id uint64, p geo.Point)
	remove(id uint64, p geo.Point)
	candidates(p geo.Point) ([]uint64, bool)
}
