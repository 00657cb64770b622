package lockoutdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"alertcore/cluster"
	"alertcore/geo"
	"alertcore/lockout"
	"alertcore/packet"

	"github.com/cockroachdb/pebble"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "lockouts"), Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

var home = geo.Point{Lat: 40.7128, Lon: -74.006}

func TestRecordsRoundTripThroughLockoutStore(t *testing.T) {
	db := openTestStore(t)
	defer db.Close()

	mutedAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	src := lockout.NewStore(lockout.Options{Now: func() time.Time { return mutedAt }})
	if _, err := src.Insert(lockout.Record{Band: packet.BandK, LowMHz: 24140, HighMHz: 24160, Location: home, RadiusM: 150, Source: lockout.SourceManual}); err != nil {
		t.Fatalf("insert manual: %v", err)
	}
	if _, err := src.Insert(lockout.Record{Band: packet.BandX, LowMHz: 10520, HighMHz: 10530, Location: home, RadiusM: 90, Source: lockout.SourceAutoPromoted, ClusterID: 4}); err != nil {
		t.Fatalf("insert auto: %v", err)
	}
	if err := src.Save(db); err != nil {
		t.Fatalf("save: %v", err)
	}

	dst := lockout.NewStore(lockout.Options{})
	loaded, dropped, err := dst.Load(db)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded != 2 || dropped != 0 {
		t.Fatalf("expected 2 loaded 0 dropped, got %d/%d", loaded, dropped)
	}
	want := src.List()
	got := dst.List()
	for i := range want {
		w, g := want[i], got[i]
		if w.ID != g.ID || w.Band != g.Band || w.LowMHz != g.LowMHz || w.HighMHz != g.HighMHz ||
			w.Location != g.Location || w.RadiusM != g.RadiusM || w.Source != g.Source ||
			w.ClusterID != g.ClusterID || !w.MutedSince.Equal(g.MutedSince) {
			t.Fatalf("record %d mismatch:\nwant %+v\ngot  %+v", i, w, g)
		}
	}
}

func TestSaveRecordsReplacesSet(t *testing.T) {
	db := openTestStore(t)
	defer db.Close()

	recs := []lockout.Record{
		{ID: 1, Band: packet.BandK, LowMHz: 24100, HighMHz: 24110, Location: home, RadiusM: 100, Source: lockout.SourceManual, Validated: true},
		{ID: 2, Band: packet.BandK, LowMHz: 24200, HighMHz: 24210, Location: home, RadiusM: 100, Source: lockout.SourceManual, Validated: true},
	}
	if err := db.SaveRecords(recs); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := db.SaveRecords(recs[1:]); err != nil {
		t.Fatalf("save subset: %v", err)
	}
	got, err := db.LoadRecords()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[0].ID != 2 {
		t.Fatalf("expected only record 2 to remain, got %+v", got)
	}
}

func TestUndecodableRecordSkipped(t *testing.T) {
	db := openTestStore(t)
	defer db.Close()

	rec := lockout.Record{ID: 3, Band: packet.BandKa, LowMHz: 34600, HighMHz: 34800, Location: home, RadiusM: 200, Source: lockout.SourceManual, Validated: true}
	if err := db.SaveRecords([]lockout.Record{rec}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := db.db.Set(idKey(recordPrefix, 9), []byte{recordVersion, 1, 2}, pebble.Sync); err != nil {
		t.Fatalf("inject corrupt record: %v", err)
	}
	got, err := db.LoadRecords()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[0].ID != 3 {
		t.Fatalf("expected corrupt record skipped, got %+v", got)
	}
	stats, err := db.Verify(context.Background(), time.Minute)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if stats.Records != 1 || stats.Corrupt != 1 {
		t.Fatalf("unexpected verify stats %+v", stats)
	}
}

func TestClustersRoundTrip(t *testing.T) {
	db := openTestStore(t)
	defer db.Close()

	lockouts := lockout.NewStore(lockout.Options{})
	eng := cluster.NewEngine(cluster.DefaultConfig(), lockouts)
	base := time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC)
	for day := 0; day < 3; day++ {
		ts := base.AddDate(0, 0, day)
		a := packet.Alert{Band: packet.BandK, FrequencyMHz: 24125, Front: 0xD0, Timestamp: ts}
		eng.Observe(a, home, 180, geo.DayOf(ts, time.UTC))
	}
	saved := eng.Clusters()
	if err := db.SaveClusters(saved); err != nil {
		t.Fatalf("save clusters: %v", err)
	}

	got, err := db.LoadClusters()
	if err != nil {
		t.Fatalf("load clusters: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 cluster, got %d", len(got))
	}
	w, g := saved[0], got[0]
	if g.ID != w.ID || g.State != cluster.Locked || g.LockoutID != w.LockoutID || g.DayCount() != 3 ||
		g.CentroidMHz != w.CentroidMHz || g.Location != w.Location || g.HeadingDeg != w.HeadingDeg ||
		!g.LastSeen.Equal(w.LastSeen) || g.FirstSeenDay != w.FirstSeenDay || g.Hits != w.Hits {
		t.Fatalf("cluster mismatch:\nwant %+v\ngot  %+v", w, g)
	}

	fresh := cluster.NewEngine(cluster.DefaultConfig(), lockouts)
	if n := fresh.Restore(got, func(id uint64) bool { _, ok := lockouts.Get(id); return ok }); n != 1 {
		t.Fatalf("expected 1 restored cluster, got %d", n)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lockouts")
	db, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	rec := lockout.Record{ID: 5, Band: packet.BandX, LowMHz: 10500, HighMHz: 10510, Location: home, RadiusM: 50, Source: lockout.SourceManual, Validated: true}
	if err := db.SaveRecords([]lockout.Record{rec}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := db.SaveRecords(nil); err == nil {
		t.Fatalf("expected error writing to a closed store")
	}

	db, err = Open(path, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	got, err := db.LoadRecords()
	if err != nil || len(got) != 1 || got[0].ID != 5 {
		t.Fatalf("expected record 5 after reopen, got %+v err=%v", got, err)
	}
}

func TestCheckpointVerifies(t *testing.T) {
	db := openTestStore(t)
	defer db.Close()
	rec := lockout.Record{ID: 1, Band: packet.BandK, LowMHz: 24100, HighMHz: 24110, Location: home, RadiusM: 100, Source: lockout.SourceManual, Validated: true}
	if err := db.SaveRecords([]lockout.Record{rec}); err != nil {
		t.Fatalf("save: %v", err)
	}
	dest := filepath.Join(t.TempDir(), "checkpoint")
	if err := db.Checkpoint(dest); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	stats, err := VerifyCheckpoint(context.Background(), dest, 0)
	if err != nil {
		t.Fatalf("verify checkpoint: %v", err)
	}
	if stats.Records != 1 || stats.Corrupt != 0 {
		t.Fatalf("unexpected checkpoint stats %+v", stats)
	}
}
