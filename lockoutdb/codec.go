package lockoutdb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"time"

	"alertcore/cluster"
	"alertcore/geo"
	"alertcore/lockout"
	"alertcore/packet"

	"github.com/cockroachdb/pebble"
)

const (
	recordVersion     = 1
	recordSize        = 68
	clusterVersion    = 1
	clusterHeaderSize = 90

	recordFlagValidated = 1 << 0
)

var errInvalidEncoding = errors.New("lockoutdb: invalid encoding")

func encodeRecord(rec lockout.Record) []byte {
	buf := make([]byte, recordSize)
	buf[0] = recordVersion
	buf[1] = uint8(rec.Band)
	buf[2] = uint8(rec.Source)
	if rec.Validated {
		buf[3] |= recordFlagValidated
	}
	binary.BigEndian.PutUint64(buf[4:], rec.ID)
	putFloat(buf[12:], rec.LowMHz)
	putFloat(buf[20:], rec.HighMHz)
	putFloat(buf[28:], rec.Location.Lat)
	putFloat(buf[36:], rec.Location.Lon)
	putFloat(buf[44:], rec.RadiusM)
	binary.BigEndian.PutUint64(buf[52:], uint64(unixNano(rec.MutedSince)))
	binary.BigEndian.PutUint64(buf[60:], rec.ClusterID)
	return buf
}

func decodeRecord(raw []byte) (lockout.Record, error) {
	if len(raw) != recordSize || raw[0] != recordVersion {
		return lockout.Record{}, errInvalidEncoding
	}
	return lockout.Record{
		Band:       packet.Band(raw[1]),
		Source:     lockout.Source(raw[2]),
		Validated:  raw[3]&recordFlagValidated != 0,
		ID:         binary.BigEndian.Uint64(raw[4:]),
		LowMHz:     getFloat(raw[12:]),
		HighMHz:    getFloat(raw[20:]),
		Location:   geo.Point{Lat: getFloat(raw[28:]), Lon: getFloat(raw[36:])},
		RadiusM:    getFloat(raw[44:]),
		MutedSince: fromUnixNano(int64(binary.BigEndian.Uint64(raw[52:]))),
		ClusterID:  binary.BigEndian.Uint64(raw[60:]),
	}, nil
}

func encodeCluster(c *cluster.Cluster) []byte {
	days := c.Days()
	buf := make([]byte, clusterHeaderSize+4*len(days))
	buf[0] = clusterVersion
	buf[1] = uint8(c.Band)
	buf[2] = uint8(c.State)
	buf[3] = uint8(c.HeadingBucket)
	binary.BigEndian.PutUint64(buf[4:], c.ID)
	putFloat(buf[12:], c.CentroidMHz)
	putFloat(buf[20:], c.SeedMHz)
	putFloat(buf[28:], c.ToleranceMHz)
	putFloat(buf[36:], c.HeadingDeg)
	putFloat(buf[44:], c.Location.Lat)
	putFloat(buf[52:], c.Location.Lon)
	binary.BigEndian.PutUint32(buf[60:], uint32(c.FirstSeenDay))
	binary.BigEndian.PutUint64(buf[64:], c.Hits)
	binary.BigEndian.PutUint64(buf[72:], uint64(unixNano(c.LastSeen)))
	binary.BigEndian.PutUint64(buf[80:], c.LockoutID)
	binary.BigEndian.PutUint16(buf[88:], uint16(len(days)))
	offset := clusterHeaderSize
	for _, d := range days {
		binary.BigEndian.PutUint32(buf[offset:], uint32(d))
		offset += 4
	}
	return buf
}

func decodeCluster(raw []byte) (cluster.Cluster, error) {
	if len(raw) < clusterHeaderSize || raw[0] != clusterVersion {
		return cluster.Cluster{}, errInvalidEncoding
	}
	n := int(binary.BigEndian.Uint16(raw[88:]))
	if clusterHeaderSize+4*n != len(raw) {
		return cluster.Cluster{}, errInvalidEncoding
	}
	state := cluster.State(raw[2])
	if state < cluster.Candidate || state > cluster.Locked {
		return cluster.Cluster{}, errInvalidEncoding
	}
	c := cluster.Cluster{
		Band:          packet.Band(raw[1]),
		State:         state,
		HeadingBucket: int(raw[3]),
		ID:            binary.BigEndian.Uint64(raw[4:]),
		CentroidMHz:   getFloat(raw[12:]),
		SeedMHz:       getFloat(raw[20:]),
		ToleranceMHz:  getFloat(raw[28:]),
		HeadingDeg:    getFloat(raw[36:]),
		Location:      geo.Point{Lat: getFloat(raw[44:]), Lon: getFloat(raw[52:])},
		FirstSeenDay:  geo.Day(int32(binary.BigEndian.Uint32(raw[60:]))),
		Hits:          binary.BigEndian.Uint64(raw[64:]),
		LastSeen:      fromUnixNano(int64(binary.BigEndian.Uint64(raw[72:]))),
		LockoutID:     binary.BigEndian.Uint64(raw[80:]),
		VisitDays:     make(map[geo.Day]struct{}, n),
	}
	offset := clusterHeaderSize
	for i := 0; i < n; i++ {
		c.VisitDays[geo.Day(int32(binary.BigEndian.Uint32(raw[offset:])))] = struct{}{}
		offset += 4
	}
	return c, nil
}

func putFloat(b []byte, v float64) {
	binary.BigEndian.PutUint64(b, math.Float64bits(v))
}

func getFloat(b []byte) float64 {
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v).UTC()
}

func idKey(prefix string, id uint64) []byte {
	buf := make([]byte, len(prefix)+8)
	copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[len(prefix):], id)
	return buf
}

func parseIDKey(prefix string, key []byte) (uint64, bool) {
	p := []byte(prefix)
	if len(key) != len(p)+8 || !bytes.HasPrefix(key, p) {
		return 0, false
	}
	return binary.BigEndian.Uint64(key[len(p):]), true
}

func iterOptionsForPrefix(prefix string) *pebble.IterOptions {
	lower := []byte(prefix)
	upper := prefixUpperBound(lower)
	return &pebble.IterOptions{LowerBound: lower, UpperBound: upper}
}

func prefixUpperBound(prefix []byte) []byte {
	if len(prefix) == 0 {
		return nil
	}
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] != 0xFF {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}
