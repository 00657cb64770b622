package cluster

import (
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"alertcore/geo"
	"alertcore/lockout"
	"alertcore/packet"
)

// LockoutSink is the part of the lockout store the engine drives: promotion
// inserts an auto record, eviction of a locked cluster removes it.
type LockoutSink interface {
	Insert(rec lockout.Record) (uint64, error)
	Remove(id uint64) bool
}

// Engine owns all clusters. Like the lockout store it is only touched from
// the consumer cycle and does no locking of its own.
type Engine struct {
	cfg      Config
	store    LockoutSink
	clusters map[uint64]*Cluster
	index    spatialIndex
	nextID   uint64
}

// NewEngine builds an engine that promotes into store. store may be nil, in
// which case clusters lock without producing records.
func NewEngine(cfg Config, store LockoutSink) *Engine {
	cfg = cfg.normalized()
	return &Engine{
		cfg:      cfg,
		store:    store,
		clusters: make(map[uint64]*Cluster),
		index:    newSpatialIndex(cfg.H3Resolution, cfg.ProximityRadiusM),
		nextID:   1,
	}
}

// Config returns the normalised tunables in effect.
func (e *Engine) Config() Config {
	return e.cfg
}

// Observe folds one alert seen at loc while travelling on heading into the
// cluster set.
func (e *Engine) Observe(a packet.Alert, loc geo.Point, heading float64, day geo.Day) Decision {
	if !a.Band.Lockoutable() || a.FrequencyMHz <= 0 || !loc.Valid() || math.IsNaN(heading) {
		return Decision{Kind: NoMatch}
	}
	heading = geo.NormalizeHeading(heading)

	c := e.match(a, loc, heading)
	if c == nil {
		c = e.create(a, loc, heading, day)
		d := Decision{Kind: NewCluster, ClusterID: c.ID}
		return e.maybePromote(c, d)
	}

	c.VisitDays[day] = struct{}{}
	c.Hits++
	if a.Timestamp.After(c.LastSeen) {
		c.LastSeen = a.Timestamp
	}
	e.recenter(c, a.FrequencyMHz)
	if c.State == Candidate && c.DayCount() >= e.cfg.ProbationDays {
		c.State = Probation
	}
	return e.maybePromote(c, Decision{Kind: Matched, ClusterID: c.ID})
}

// match returns the best cluster agreeing on band, frequency, heading and
// location. Frequency alone is never enough.
func (e *Engine) match(a packet.Alert, loc geo.Point, heading float64) *Cluster {
	var best *Cluster
	bestDelta := 0.0
	bestDist := 0.0
	consider := func(c *Cluster) {
		if c.Band != a.Band {
			return
		}
		delta := math.Abs(a.FrequencyMHz - c.CentroidMHz)
		if delta > c.ToleranceMHz {
			return
		}
		if geo.HeadingDelta(heading, c.HeadingDeg) > e.cfg.HeadingToleranceDeg {
			return
		}
		dist := geo.Distance(c.Location, loc)
		if dist > e.cfg.ProximityRadiusM {
			return
		}
		if best == nil || delta < bestDelta || (delta == bestDelta && dist < bestDist) ||
			(delta == bestDelta && dist == bestDist && c.ID < best.ID) {
			best, bestDelta, bestDist = c, delta, dist
		}
	}
	if ids, ok := e.index.candidates(loc); ok {
		for _, id := range ids {
			if c := e.clusters[id]; c != nil {
				consider(c)
			}
		}
		return best
	}
	for _, c := range e.clusters {
		consider(c)
	}
	return best
}

func (e *Engine) create(a packet.Alert, loc geo.Point, heading float64, day geo.Day) *Cluster {
	c := &Cluster{
		ID:            e.nextID,
		Band:          a.Band,
		CentroidMHz:   a.FrequencyMHz,
		SeedMHz:       a.FrequencyMHz,
		ToleranceMHz:  e.cfg.FrequencyToleranceMHz,
		HeadingDeg:    heading,
		HeadingBucket: geo.HeadingBucket(heading, e.cfg.HeadingBuckets),
		Location:      loc,
		FirstSeenDay:  day,
		VisitDays:     map[geo.Day]struct{}{day: {}},
		State:         Candidate,
		Hits:          1,
		LastSeen:      a.Timestamp,
	}
	e.nextID++
	e.clusters[c.ID] = c
	e.index.add(c.ID, c.Location)
	return c
}

// recenter moves the centroid toward the new observation as a running mean,
// clamped to MaxDriftMHz around the seed so a cluster cannot walk into a
// neighbouring source.
func (e *Engine) recenter(c *Cluster, freq float64) {
	if c.Hits == 0 {
		return
	}
	next := c.CentroidMHz + (freq-c.CentroidMHz)/float64(c.Hits)
	lo := c.SeedMHz - e.cfg.MaxDriftMHz
	hi := c.SeedMHz + e.cfg.MaxDriftMHz
	if next < lo {
		next = lo
	}
	if next > hi {
		next = hi
	}
	c.CentroidMHz = next
}

func (e *Engine) maybePromote(c *Cluster, d Decision) Decision {
	d.State = c.State
	d.Days = c.DayCount()
	if c.State == Locked || c.DayCount() < e.cfg.PromotionThreshold {
		return d
	}
	// A refused promotion is retried on the next new visit day, not on
	// every sighting.
	if c.rejectedAt == c.DayCount() {
		return d
	}
	if e.store != nil && e.cfg.AutoLockout {
		id, err := e.store.Insert(e.recordFor(c))
		if err != nil {
			if c.State == Candidate {
				c.State = Probation
			}
			c.rejectedAt = c.DayCount()
			log.Printf("Cluster: promotion of #%d rejected: %v", c.ID, err)
			d.State = c.State
			d.Err = fmt.Errorf("cluster: promote #%d: %w", c.ID, err)
			return d
		}
		c.LockoutID = id
	}
	c.State = Locked
	log.Printf("Cluster: promoted %s lockout=#%d", c, c.LockoutID)
	d.Kind = Promoted
	d.State = Locked
	d.LockoutID = c.LockoutID
	return d
}

// recordFor builds the auto record for a cluster, clamped to band limits so
// an edge-of-band centroid still validates.
func (e *Engine) recordFor(c *Cluster) lockout.Record {
	low := c.CentroidMHz - c.ToleranceMHz
	high := c.CentroidMHz + c.ToleranceMHz
	if bl, bh, ok := packet.Limits(c.Band); ok {
		low = math.Max(low, bl)
		high = math.Min(high, bh)
	}
	return lockout.Record{
		Band:      c.Band,
		LowMHz:    low,
		HighMHz:   high,
		Location:  c.Location,
		RadiusM:   e.cfg.ProximityRadiusM,
		Source:    lockout.SourceAutoPromoted,
		ClusterID: c.ID,
	}
}

// Sweep evicts clusters idle for longer than the inactivity window. It runs
// once per processing cycle; locked clusters take their auto record with them.
func (e *Engine) Sweep(now time.Time) []Removal {
	var out []Removal
	for id, c := range e.clusters {
		if now.Sub(c.LastSeen) <= e.cfg.InactivityWindow {
			continue
		}
		r := Removal{ClusterID: id, WasLocked: c.State == Locked}
		if c.LockoutID != 0 && e.store != nil && e.store.Remove(c.LockoutID) {
			r.LockoutID = c.LockoutID
		}
		e.index.remove(id, c.Location)
		delete(e.clusters, id)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClusterID < out[j].ClusterID })
	return out
}

// PruneOrphans removes auto records that no live cluster owns, such as the
// record of a persisted cluster that failed to restore. Manual records are
// never touched. It returns the removed record ids.
func (e *Engine) PruneOrphans(records []lockout.Record) []uint64 {
	if e.store == nil {
		return nil
	}
	var removed []uint64
	for _, rec := range records {
		if rec.Source != lockout.SourceAutoPromoted {
			continue
		}
		if c := e.clusters[rec.ClusterID]; c != nil && c.LockoutID == rec.ID {
			continue
		}
		if e.store.Remove(rec.ID) {
			log.Printf("Cluster: removed orphaned auto lockout #%d (cluster #%d)", rec.ID, rec.ClusterID)
			removed = append(removed, rec.ID)
		}
	}
	return removed
}

// Get returns a copy of one cluster.
func (e *Engine) Get(id uint64) (Cluster, bool) {
	c := e.clusters[id]
	if c == nil {
		return Cluster{}, false
	}
	return c.clone(), true
}

// Clusters returns copies of every cluster ordered by ID.
func (e *Engine) Clusters() []Cluster {
	out := make([]Cluster, 0, len(e.clusters))
	for _, c := range e.clusters {
		out = append(out, c.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of live clusters.
func (e *Engine) Len() int {
	return len(e.clusters)
}

// Clear drops every cluster and, for locked ones, their auto records.
func (e *Engine) Clear() int {
	n := len(e.clusters)
	for id, c := range e.clusters {
		if c.LockoutID != 0 && e.store != nil {
			e.store.Remove(c.LockoutID)
		}
		e.index.remove(id, c.Location)
	}
	e.clusters = make(map[uint64]*Cluster)
	return n
}

// Restore loads persisted clusters. A locked cluster whose record no longer
// exists (checked via exists) is demoted to Probation so it can be promoted
// again on its next sighting.
func (e *Engine) Restore(clusters []Cluster, exists func(lockoutID uint64) bool) int {
	restored := 0
	for i := range clusters {
		c := clusters[i].clone()
		if c.ID == 0 || e.clusters[c.ID] != nil || c.Band == packet.BandNone || !c.Location.Valid() {
			continue
		}
		if c.ToleranceMHz <= 0 {
			c.ToleranceMHz = e.cfg.FrequencyToleranceMHz
		}
		if c.State == Locked && c.LockoutID != 0 && exists != nil && !exists(c.LockoutID) {
			c.State = Probation
			c.LockoutID = 0
		}
		e.clusters[c.ID] = &c
		e.index.add(c.ID, c.Location)
		if c.ID >= e.nextID {
			e.nextID = c.ID + 1
		}
		restored++
	}
	return restored
}
