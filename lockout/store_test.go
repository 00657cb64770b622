package lockout

import (
	"errors"
	"math"
	"testing"
	"time"

	"alertcore/geo"
	"alertcore/packet"
)

var origin = geo.Point{Lat: 45.5017, Lon: -73.5673}

func doorOpener() Record {
	return Record{
		Band:     packet.BandK,
		LowMHz:   24140,
		HighMHz:  24160,
		Location: origin,
		RadiusM:  150,
		Source:   SourceManual,
	}
}

func kAlert(freq float64) packet.Alert {
	return packet.Alert{Band: packet.BandK, FrequencyMHz: freq, Front: 0xC0, Direction: packet.DirFront}
}

func newTestStore() *Store {
	fixed := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	return NewStore(Options{Now: func() time.Time { return fixed }})
}

func TestInsertValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Record)
		want   error
	}{
		{"inverted range", func(r *Record) { r.LowMHz, r.HighMHz = 24160, 24140 }, ErrInvertedRange},
		{"below band", func(r *Record) { r.LowMHz = 23000 }, ErrOutOfBounds},
		{"above band", func(r *Record) { r.HighMHz = 24500 }, ErrOutOfBounds},
		{"laser band", func(r *Record) { r.Band = packet.BandLaser }, ErrOutOfBounds},
		{"nan frequency", func(r *Record) { r.LowMHz = math.NaN() }, ErrOutOfBounds},
		{"zero radius", func(r *Record) { r.RadiusM = 0 }, ErrOutOfBounds},
		{"negative radius", func(r *Record) { r.RadiusM = -5 }, ErrOutOfBounds},
		{"huge radius", func(r *Record) { r.RadiusM = 50000 }, ErrOutOfBounds},
		{"latitude out of range", func(r *Record) { r.Location.Lat = 95 }, ErrOutOfBounds},
		{"infinite longitude", func(r *Record) { r.Location.Lon = math.Inf(-1) }, ErrOutOfBounds},
		{"missing source", func(r *Record) { r.Source = 0 }, ErrOutOfBounds},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestStore()
			rec := doorOpener()
			tc.mutate(&rec)
			if _, err := s.Insert(rec); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if s.Len() != 0 {
				t.Fatalf("rejected insert must leave the store unchanged")
			}
		})
	}
}

func TestInsertMarksValidatedAndAssignsID(t *testing.T) {
	s := newTestStore()
	id, err := s.Insert(doorOpener())
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	rec, ok := s.Get(id)
	if !ok {
		t.Fatalf("record %d not found", id)
	}
	if !rec.Validated {
		t.Fatalf("expected stored record to be validated")
	}
	if rec.MutedSince.IsZero() {
		t.Fatalf("expected MutedSince to be stamped")
	}
}

func TestInsertRejectsDuplicate(t *testing.T) {
	s := newTestStore()
	if _, err := s.Insert(doorOpener()); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	dup := doorOpener()
	dup.Source = SourceAutoPromoted
	if _, err := s.Insert(dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	shifted := doorOpener()
	shifted.RadiusM = 151
	if _, err := s.Insert(shifted); err != nil {
		t.Fatalf("different radius is not a duplicate: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", s.Len())
	}
}

func TestApplyGeofenceBoundaryInclusive(t *testing.T) {
	at := geo.Offset(origin, 90, 150)
	exact := geo.Distance(origin, at)

	s := newTestStore()
	rec := doorOpener()
	rec.RadiusM = exact
	if _, err := s.Insert(rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if d := s.Apply(kAlert(24150), at); !d.Muted {
		t.Fatalf("expected alert exactly at radius to be muted")
	}

	beyond := geo.Offset(origin, 90, exact+0.01)
	if d := s.Apply(kAlert(24150), beyond); d.Muted {
		t.Fatalf("expected alert beyond radius to pass")
	}
}

func TestApplyFrequencyAndBand(t *testing.T) {
	s := newTestStore()
	id, err := s.Insert(doorOpener())
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	d := s.Apply(kAlert(24140), origin)
	if !d.Muted || d.Record == nil || d.Record.ID != id {
		t.Fatalf("expected low edge muted by #%d, got %+v", id, d)
	}
	if d := s.Apply(kAlert(24161), origin); d.Muted {
		t.Fatalf("expected frequency outside range to pass")
	}
	ka := packet.Alert{Band: packet.BandKa, FrequencyMHz: 24150}
	if d := s.Apply(ka, origin); d.Muted {
		t.Fatalf("record for K must not mute another band")
	}
	if d := s.Apply(kAlert(24150), geo.Point{Lat: math.NaN()}); d.Muted {
		t.Fatalf("invalid location must never mute")
	}
}

func TestApplyPrefersNearestRecord(t *testing.T) {
	s := newTestStore()
	far := doorOpener()
	far.RadiusM = 1000
	farID, _ := s.Insert(far)
	near := doorOpener()
	near.Location = geo.Offset(origin, 0, 300)
	nearID, err := s.Insert(near)
	if err != nil {
		t.Fatalf("insert near: %v", err)
	}
	d := s.Apply(kAlert(24150), geo.Offset(origin, 0, 290))
	if !d.Muted || d.Record.ID != nearID {
		t.Fatalf("expected nearest #%d (not #%d), got %+v", nearID, farID, d.Record)
	}
}

func TestRemoveAndClear(t *testing.T) {
	s := newTestStore()
	manualID, _ := s.Insert(doorOpener())
	auto := doorOpener()
	auto.Location = geo.Offset(origin, 180, 2000)
	auto.Source = SourceAutoPromoted
	autoID, err := s.Insert(auto)
	if err != nil {
		t.Fatalf("insert auto: %v", err)
	}
	if !s.Remove(manualID) {
		t.Fatalf("expected remove to succeed")
	}
	if s.Remove(manualID) {
		t.Fatalf("second remove must report false")
	}
	if d := s.Apply(kAlert(24150), origin); d.Muted {
		t.Fatalf("removed record still mutes")
	}
	if _, err := s.Insert(doorOpener()); err != nil {
		t.Fatalf("re-insert after remove must not be a duplicate: %v", err)
	}
	if n := s.Clear(SourceAutoPromoted); n != 1 {
		t.Fatalf("expected 1 auto record cleared, got %d", n)
	}
	if _, ok := s.Get(autoID); ok {
		t.Fatalf("auto record survived Clear")
	}
	if s.Len() != 1 {
		t.Fatalf("expected manual record to remain")
	}
}

type memPersister struct {
	recs  []Record
	saved []Record
}

func (m *memPersister) LoadRecords() ([]Record, error) { return m.recs, nil }
func (m *memPersister) SaveRecords(recs []Record) error {
	m.saved = append([]Record(nil), recs...)
	return nil
}

func TestLoadDropsCorruptRecords(t *testing.T) {
	good := doorOpener()
	good.ID = 7
	corrupt := doorOpener()
	corrupt.ID = 8
	corrupt.Location.Lat = math.NaN()
	corrupt.Validated = true // persisted flag is never trusted
	dup := doorOpener()
	dup.ID = 9

	p := &memPersister{recs: []Record{good, corrupt, dup}}
	s := newTestStore()
	loaded, dropped, err := s.Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded != 1 || dropped != 2 {
		t.Fatalf("expected 1 loaded / 2 dropped, got %d / %d", loaded, dropped)
	}
	if _, ok := s.Get(7); !ok {
		t.Fatalf("expected persisted ID 7 to be kept")
	}
	next, err := s.Insert(Record{Band: packet.BandX, LowMHz: 10520, HighMHz: 10530, Location: origin, RadiusM: 100, Source: SourceManual})
	if err != nil {
		t.Fatalf("insert after load: %v", err)
	}
	if next <= 7 {
		t.Fatalf("expected new IDs after persisted ones, got %d", next)
	}

	if err := s.Save(p); err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(p.saved) != 2 {
		t.Fatalf("expected 2 saved records, got %d", len(p.saved))
	}
	for _, rec := range p.saved {
		if !rec.Validated {
			t.Fatalf("saved an unvalidated record: %v", rec)
		}
	}
}
