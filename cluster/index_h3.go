//go:build !windows && cgo

package cluster

import (
	"math"

	"alertcore/geo"

	"github.com/uber/h3-go/v4"
)

// Average hexagon edge length in meters per H3 resolution.
var h3EdgeMeters = [16]float64{
	1281256, 483057, 182513, 68979, 26072, 9854, 3725, 1406,
	531, 201, 76, 29, 11, 4, 1.5, 0.6,
}

// h3Index buckets clusters by H3 cell so matching only inspects nearby cells.
// Any H3 error degrades the index to a full scan; it never hides a cluster.
type h3Index struct {
	res      int
	k        int
	cells    map[h3.Cell][]uint64
	degraded bool
}

func newSpatialIndex(res int, radiusM float64) spatialIndex {
	edge := h3EdgeMeters[res]
	// Half an edge per ring is a conservative lower bound on ring spacing.
	k := int(math.Ceil(radiusM/(edge*0.5))) + 1
	return &h3Index{res: res, k: k, cells: make(map[h3.Cell][]uint64)}
}

func (x *h3Index) cellFor(p geo.Point) (h3.Cell, bool) {
	cell, err := h3.LatLngToCell(h3.NewLatLng(p.Lat, p.Lon), x.res)
	if err != nil {
		return 0, false
	}
	return cell, true
}

func (x *h3Index) add(id uint64, p geo.Point) {
	cell, ok := x.cellFor(p)
	if !ok {
		x.degraded = true
		return
	}
	x.cells[cell] = append(x.cells[cell], id)
}

func (x *h3Index) remove(id uint64, p geo.Point) {
	cell, ok := x.cellFor(p)
	if !ok {
		return
	}
	ids := x.cells[cell]
	for i, v := range ids {
		if v == id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(x.cells, cell)
		return
	}
	x.cells[cell] = ids
}

func (x *h3Index) candidates(p geo.Point) ([]uint64, bool) {
	if x.degraded {
		return nil, false
	}
	cell, ok := x.cellFor(p)
	if !ok {
		return nil, false
	}
	disk, err := h3.GridDisk(cell, x.k)
	if err != nil {
		return nil, false
	}
	var out []uint64
	for _, c := range disk {
		out = append(out, x.cells[c]...)
	}
	return out, true
}
