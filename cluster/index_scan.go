//go:build windows || !cgo

package cluster

import "alertcore/geo"

// scanIndex is used where h3-go is unavailable; matching walks every cluster.
type scanIndex struct{}

func newSpatialIndex(int, float64) spatialIndex {
	return scanIndex{}
}

func (scanIndex) add(uint64, geo.Point)    {}
func (scanIndex) remove(uint64, geo.Point) {}

func (scanIndex) candidates(geo.Point) ([]uint64, bool) {
	return nil, false
}
