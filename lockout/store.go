package lockout

import (
	"fmt"
	"log"
	"sort"
	"time"

	"alertcore/geo"
	"alertcore/packet"
)

// Persister is the storage collaborator behind Load/Save.
type Persister interface {
	LoadRecords() ([]Record, error)
	SaveRecords(recs []Record) error
}

// MuteDecision is the outcome of Apply. Record is set only when Muted.
type MuteDecision struct {
	Muted  bool
	Record *Record
}

// Options bounds what the store accepts.
type Options struct {
	MaxRadiusM float64
	Now        func() time.Time
}

// Store owns the validated record set. It is driven from the single consumer
// cycle and is not safe for concurrent use.
type Store struct {
	opts    Options
	records map[uint64]*Record
	byBand  map[packet.Band][]uint64
	byPrint map[uint64]uint64
	nextID  uint64
}

// NewStore returns an empty store.
func NewStore(opts Options) *Store {
	if opts.MaxRadiusM <= 0 {
		opts.MaxRadiusM = DefaultMaxRadiusM
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Store{
		opts:    opts,
		records: make(map[uint64]*Record),
		byBand:  make(map[packet.Band][]uint64),
		byPrint: make(map[uint64]uint64),
		nextID:  1,
	}
}

// Insert validates rec and stores it, returning the assigned ID. A non-zero
// rec.ID is kept when free so persisted IDs survive a reload.
func (s *Store) Insert(rec Record) (uint64, error) {
	rec.Validated = false
	if err := Validate(rec, s.opts.MaxRadiusM); err != nil {
		return 0, err
	}
	if existing, ok := s.findDuplicate(rec); ok {
		return 0, &ValidationError{Kind: Duplicate, Field: "record", Detail: fmt.Sprintf("matches #%d", existing)}
	}
	if rec.ID == 0 || s.records[rec.ID] != nil {
		rec.ID = s.nextID
	}
	if rec.ID >= s.nextID {
		s.nextID = rec.ID + 1
	}
	if rec.MutedSince.IsZero() {
		rec.MutedSince = s.opts.Now()
	}
	rec.Validated = true
	stored := rec
	s.records[rec.ID] = &stored
	s.byBand[rec.Band] = append(s.byBand[rec.Band], rec.ID)
	s.byPrint[rec.fingerprint()] = rec.ID
	return rec.ID, nil
}

func (s *Store) findDuplicate(rec Record) (uint64, bool) {
	if id, ok := s.byPrint[rec.fingerprint()]; ok {
		if existing := s.records[id]; existing != nil && existing.Validated && existing.sameShape(rec) {
			return id, true
		}
	}
	// Fingerprint collision or stale index entry: fall back to the band list.
	for _, id := range s.byBand[rec.Band] {
		if existing := s.records[id]; existing != nil && existing.Validated && existing.sameShape(rec) {
			return id, true
		}
	}
	return 0, false
}

// Apply decides whether an alert seen at loc is muted. When several records
// cover the alert the nearest one is reported.
func (s *Store) Apply(a packet.Alert, loc geo.Point) MuteDecision {
	if !a.Band.Lockoutable() || !loc.Valid() {
		return MuteDecision{}
	}
	var best *Record
	bestDist := 0.0
	for _, id := range s.byBand[a.Band] {
		rec := s.records[id]
		if rec == nil || !rec.Validated || !rec.Covers(a) {
			continue
		}
		d := geo.Distance(rec.Location, loc)
		if d > rec.RadiusM {
			continue
		}
		if best == nil || d < bestDist {
			best = rec
			bestDist = d
		}
	}
	if best == nil {
		return MuteDecision{}
	}
	out := *best
	return MuteDecision{Muted: true, Record: &out}
}

// Get returns a copy of the record with the given ID.
func (s *Store) Get(id uint64) (Record, bool) {
	rec := s.records[id]
	if rec == nil {
		return Record{}, false
	}
	return *rec, true
}

// Remove deletes a record. It reports whether anything was removed.
func (s *Store) Remove(id uint64) bool {
	rec := s.records[id]
	if rec == nil {
		return false
	}
	delete(s.records, id)
	fp := rec.fingerprint()
	if s.byPrint[fp] == id {
		delete(s.byPrint, fp)
	}
	ids := s.byBand[rec.Band]
	for i, v := range ids {
		if v == id {
			s.byBand[rec.Band] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(s.byBand[rec.Band]) == 0 {
		delete(s.byBand, rec.Band)
	}
	return true
}

// Clear removes every record from the given source (all records when source
// is zero) and returns how many were dropped.
func (s *Store) Clear(source Source) int {
	removed := 0
	for _, rec := range s.List() {
		if source != 0 && rec.Source != source {
			continue
		}
		if s.Remove(rec.ID) {
			removed++
		}
	}
	return removed
}

// List returns copies of all records ordered by ID.
func (s *Store) List() []Record {
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	return len(s.records)
}

// Load re-validates each persisted record and inserts the ones that pass.
// Corrupt or duplicate records are dropped and logged, never trusted.
func (s *Store) Load(p Persister) (loaded, dropped int, err error) {
	recs, err := p.LoadRecords()
	if err != nil {
		return 0, 0, fmt.Errorf("lockout: load: %w", err)
	}
	for _, rec := range recs {
		if _, err := s.Insert(rec); err != nil {
			log.Printf("Lockout: dropping persisted record #%d: %v", rec.ID, err)
			dropped++
			continue
		}
		loaded++
	}
	return loaded, dropped, nil
}

// Save persists the validated set.
func (s *Store) Save(p Persister) error {
	recs := s.List()
	out := recs[:0]
	for _, rec := range recs {
		if rec.Validated {
			out = append(out, rec)
		}
	}
	if err := p.SaveRecords(out); err != nil {
		return fmt.Errorf("lockout: save: %w", err)
	}
	return nil
}
