// Package lockout holds the geofenced mute rules. A record mutes alerts on its
// band whose frequency falls inside its range while the vehicle is within its
// radius. Records are validated on the way in; nothing unvalidated is ever
// stored, applied or persisted.
package lockout

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"alertcore/geo"
	"alertcore/packet"

	"github.com/zeebo/xxh3"
)

// Source records how a lockout came to exist.
type Source uint8

const (
	SourceManual Source = iota + 1
	SourceAutoPromoted
)

func (s Source) String() string {
	switch s {
	case SourceManual:
		return "manual"
	case SourceAutoPromoted:
		return "auto"
	default:
		return "unknown"
	}
}

// ParseSource maps "manual"/"auto" back to a Source.
func ParseSource(s string) (Source, bool) {
	switch s {
	case "manual":
		return SourceManual, true
	case "auto", "auto_promoted":
		return SourceAutoPromoted, true
	default:
		return 0, false
	}
}

// Record is one geofenced mute rule.
type Record struct {
	ID         uint64
	Band       packet.Band
	LowMHz     float64
	HighMHz    float64
	Location   geo.Point
	RadiusM    float64
	MutedSince time.Time
	Source     Source
	ClusterID  uint64 // owning cluster for auto-promoted records
	Validated  bool
}

// Covers reports whether the record's band and frequency range contain the alert.
func (r Record) Covers(a packet.Alert) bool {
	return r.Band == a.Band && a.FrequencyMHz >= r.LowMHz && a.FrequencyMHz <= r.HighMHz
}

// Contains reports whether p lies inside the geofence. The boundary counts as inside.
func (r Record) Contains(p geo.Point) bool {
	return geo.Distance(r.Location, p) <= r.RadiusM
}

func (r Record) String() string {
	return fmt.Sprintf("#%d %s %s %.0f-%.0fMHz @%.5f,%.5f r=%.0fm",
		r.ID, r.Source, r.Band, r.LowMHz, r.HighMHz, r.Location.Lat, r.Location.Lon, r.RadiusM)
}

// fingerprint hashes the fields that define a duplicate, quantised so float
// noise from persistence round trips does not defeat detection.
func (r Record) fingerprint() uint64 {
	var buf [41]byte
	buf[0] = byte(r.Band)
	binary.LittleEndian.PutUint64(buf[1:9], uint64(quantize(r.LowMHz, 1e3)))
	binary.LittleEndian.PutUint64(buf[9:17], uint64(quantize(r.HighMHz, 1e3)))
	binary.LittleEndian.PutUint64(buf[17:25], uint64(quantize(r.Location.Lat, 1e6)))
	binary.LittleEndian.PutUint64(buf[25:33], uint64(quantize(r.Location.Lon, 1e6)))
	binary.LittleEndian.PutUint64(buf[33:41], uint64(quantize(r.RadiusM, 1e2)))
	return xxh3.Hash(buf[:])
}

func (r Record) sameShape(o Record) bool {
	return r.Band == o.Band &&
		quantize(r.LowMHz, 1e3) == quantize(o.LowMHz, 1e3) &&
		quantize(r.HighMHz, 1e3) == quantize(o.HighMHz, 1e3) &&
		quantize(r.Location.Lat, 1e6) == quantize(o.Location.Lat, 1e6) &&
		quantize(r.Location.Lon, 1e6) == quantize(o.Location.Lon, 1e6) &&
		quantize(r.RadiusM, 1e2) == quantize(o.RadiusM, 1e2)
}

func quantize(v, scale float64) int64 {
	return int64(math.Round(v * scale))
}
