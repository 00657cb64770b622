// Package geo holds the location primitives shared by clustering and the
// lockout store: points, fixes from the location provider, great-circle
// distance, circular heading arithmetic and calendar days.
package geo

import (
	"math"
	"time"
)

const earthRadiusMeters = 6371008.8

// Point is a WGS84 position in decimal degrees.
type Point struct {
	Lat float64
	Lon float64
}

// Valid reports whether the point is finite and inside coordinate bounds.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// Fix is one sample from the location provider.
type Fix struct {
	Point
	Heading float64 // degrees, [0, 360)
	Time    time.Time
}

// Valid reports whether the fix can be used for geofence decisions.
func (f Fix) Valid() bool {
	return f.Point.Valid() && !math.IsNaN(f.Heading) && !math.IsInf(f.Heading, 0)
}

// Distance returns the haversine distance between a and b in meters.
func Distance(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	sLat := math.Sin(dLat / 2)
	sLon := math.Sin(dLon / 2)
	h := sLat*sLat + math.Cos(lat1)*math.Cos(lat2)*sLon*sLon
	if h > 1 {
		h = 1
	}
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

// Offset returns the point reached by travelling meters along bearing (degrees)
// from p. Used to build geofence fixtures and simulated drives.
func Offset(p Point, bearing, meters float64) Point {
	lat1 := p.Lat * math.Pi / 180
	lon1 := p.Lon * math.Pi / 180
	brg := bearing * math.Pi / 180
	d := meters / earthRadiusMeters
	lat2 := math.Asin(math.Sin(lat1)*math.Cos(d) + math.Cos(lat1)*math.Sin(d)*math.Cos(brg))
	lon2 := lon1 + math.Atan2(math.Sin(brg)*math.Sin(d)*math.Cos(lat1), math.Cos(d)-math.Sin(lat1)*math.Sin(lat2))
	lon := lon2 * 180 / math.Pi
	lon = math.Mod(lon+540, 360) - 180
	return Point{Lat: lat2 * 180 / math.Pi, Lon: lon}
}

// NormalizeHeading folds any angle into [0, 360).
func NormalizeHeading(h float64) float64 {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	return h
}

// HeadingDelta returns the circular distance between two headings, in [0, 180].
func HeadingDelta(a, b float64) float64 {
	d := math.Abs(NormalizeHeading(a) - NormalizeHeading(b))
	if d > 180 {
		d = 360 - d
	}
	return d
}

// HeadingBucket maps a heading onto one of n sectors centred on north.
func HeadingBucket(h float64, n int) int {
	if n <= 1 {
		return 0
	}
	width := 360 / float64(n)
	return int(NormalizeHeading(h+width/2)/width) % n
}

// Day is a calendar day number (days since 1970-01-01 in a given zone).
type Day int32

// DayOf returns the calendar day t falls on in loc (UTC when loc is nil).
func DayOf(t time.Time, loc *time.Location) Day {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return Day(midnight.Unix() / 86400)
}

// Time returns midnight UTC of the day, for display.
func (d Day) Time() time.Time {
	return time.Unix(int64(d)*86400, 0).UTC()
}

func (d Day) String() string {
	return d.Time().Format("2006-01-02")
}
