package geo

import (
	"math"
	"testing"
	"time"
)

func TestHeadingDeltaWraparound(t *testing.T) {
	cases := []struct {
		a, b, want float64
	}{
		{350, 10, 20},
		{10, 350, 20},
		{0, 180, 180},
		{90, 90, 0},
		{359, 0, 1},
		{-10, 10, 20},
		{720, 0, 0},
	}
	for _, tc := range cases {
		if got := HeadingDelta(tc.a, tc.b); math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("HeadingDelta(%v,%v) expected %v, got %v", tc.a, tc.b, tc.want, got)
		}
	}
}

func TestHeadingBucket(t *testing.T) {
	if got := HeadingBucket(350, 8); got != 0 {
		t.Fatalf("expected 350 in north bucket, got %d", got)
	}
	if got := HeadingBucket(10, 8); got != 0 {
		t.Fatalf("expected 10 in north bucket, got %d", got)
	}
	if got := HeadingBucket(90, 8); got != 2 {
		t.Fatalf("expected 90 in bucket 2, got %d", got)
	}
}

func TestDistanceAndOffsetAgree(t *testing.T) {
	origin := Point{Lat: 40.0, Lon: -75.0}
	for _, meters := range []float64{1, 150, 1000, 25000} {
		p := Offset(origin, 37, meters)
		if got := Distance(origin, p); math.Abs(got-meters) > meters*1e-6+1e-6 {
			t.Fatalf("offset %.0fm measured %.6fm", meters, got)
		}
	}
}

func TestPointValid(t *testing.T) {
	bad := []Point{
		{Lat: math.NaN(), Lon: 0},
		{Lat: 0, Lon: math.Inf(1)},
		{Lat: 91, Lon: 0},
		{Lat: 0, Lon: -181},
	}
	for _, p := range bad {
		if p.Valid() {
			t.Fatalf("expected %+v invalid", p)
		}
	}
	if !(Point{Lat: -90, Lon: 180}).Valid() {
		t.Fatalf("expected boundary point valid")
	}
}

func TestDayOfRespectsZone(t *testing.T) {
	ts := time.Date(2025, 3, 2, 3, 0, 0, 0, time.UTC)
	ny := time.FixedZone("EST", -5*3600)
	if DayOf(ts, time.UTC)-DayOf(ts, ny) != 1 {
		t.Fatalf("expected local day to lag UTC by one")
	}
	if DayOf(ts, nil).String() != "2025-03-02" {
		t.Fatalf("unexpected day string %s", DayOf(ts, nil))
	}
}
