// Package lockoutdb persists lockout records and learned clusters in a Pebble
// key/value store so lockouts and learning survive restarts.
package lockoutdb

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"alertcore/cluster"
	"alertcore/lockout"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"
)

const (
	recordPrefix  = "l|"
	clusterPrefix = "k|"
	metaSchemaKey = "meta|schema"
	schemaVersion = 1
)

var errStoreClosed = errors.New("lockoutdb: store is closed")

const (
	defaultCacheSizeBytes        = int64(8 << 20) // record sets are small; a modest cache keeps loads warm
	defaultBloomFilterBits       = 10
	defaultMemTableSizeBytes     = uint64(4 << 20)
	defaultL0CompactionThreshold = 4
	defaultL0StopWritesThreshold = 16
	defaultWriteQueueDepth       = 8
)

// Options controls Pebble tuning and writer buffering.
// All zero/negative fields are replaced with safe defaults via sanitizeOptions.
type Options struct {
	CacheSizeBytes        int64
	BloomFilterBitsPerKey int
	MemTableSizeBytes     uint64
	L0CompactionThreshold int
	L0StopWritesThreshold int
	WriteQueueDepth       int
}

// Store is the Pebble-backed lockout.Persister. Writes are serialised through a
// single writer goroutine; reads go straight to Pebble.
type Store struct {
	db     *pebble.DB
	writes chan writeRequest
	done   chan struct{}
	cache  *pebble.Cache

	mu     sync.Mutex
	closed bool
}

type writeKind int

const (
	writeRecords writeKind = iota
	writeClusters
)

type writeRequest struct {
	kind     writeKind
	records  []lockout.Record
	clusters []cluster.Cluster
	resp     chan error
}

func sanitizeOptions(opts Options) Options {
	if opts.CacheSizeBytes <= 0 {
		opts.CacheSizeBytes = defaultCacheSizeBytes
	}
	if opts.BloomFilterBitsPerKey <= 0 {
		opts.BloomFilterBitsPerKey = defaultBloomFilterBits
	}
	if opts.MemTableSizeBytes <= 0 {
		opts.MemTableSizeBytes = defaultMemTableSizeBytes
	}
	if opts.L0CompactionThreshold <= 0 {
		opts.L0CompactionThreshold = defaultL0CompactionThreshold
	}
	if opts.L0StopWritesThreshold <= opts.L0CompactionThreshold {
		opts.L0StopWritesThreshold = defaultL0StopWritesThreshold
		if opts.L0StopWritesThreshold <= opts.L0CompactionThreshold {
			opts.L0StopWritesThreshold = opts.L0CompactionThreshold + 4
		}
	}
	if opts.WriteQueueDepth <= 0 {
		opts.WriteQueueDepth = defaultWriteQueueDepth
	}
	return opts
}

// Purpose: Open or create the lockout database.
// Key aspects: Writes the schema marker on first open and spins a single writer goroutine.
// Upstream: main.go startup and cmd/lockoutctl.
// Downstream: Pebble open, writer loop.
func Open(path string, opts Options) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("lockoutdb: database path is empty")
	}
	opts = sanitizeOptions(opts)

	if info, err := os.Stat(path); err == nil {
		if !info.IsDir() {
			return nil, fmt.Errorf("lockoutdb: %s exists and is not a directory", path)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("lockoutdb: stat path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("lockoutdb: ensure directory: %w", err)
	}

	pebbleOpts := &pebble.Options{
		MemTableSize:          opts.MemTableSizeBytes,
		L0CompactionThreshold: opts.L0CompactionThreshold,
		L0StopWritesThreshold: opts.L0StopWritesThreshold,
	}
	pebbleOpts.Cache = pebble.NewCache(opts.CacheSizeBytes)
	level := pebble.LevelOptions{
		FilterPolicy: bloom.FilterPolicy(opts.BloomFilterBitsPerKey),
		FilterType:   pebble.TableFilter,
	}
	pebbleOpts.Levels = make([]pebble.LevelOptions, 7)
	for i := range pebbleOpts.Levels {
		pebbleOpts.Levels[i] = level
	}

	db, err := pebble.Open(path, pebbleOpts)
	if err != nil {
		pebbleOpts.Cache.Unref()
		return nil, fmt.Errorf("lockoutdb: open: %w", err)
	}
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		pebbleOpts.Cache.Unref()
		return nil, err
	}

	store := &Store{
		db:     db,
		writes: make(chan writeRequest, opts.WriteQueueDepth),
		done:   make(chan struct{}),
		cache:  pebbleOpts.Cache,
	}
	go store.writeLoop()
	return store, nil
}

func ensureSchema(db *pebble.DB) error {
	value, closer, err := db.Get([]byte(metaSchemaKey))
	if errors.Is(err, pebble.ErrNotFound) {
		if err := db.Set([]byte(metaSchemaKey), []byte{schemaVersion}, pebble.Sync); err != nil {
			return fmt.Errorf("lockoutdb: write schema: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("lockoutdb: read schema: %w", err)
	}
	defer closer.Close()
	if len(value) != 1 || value[0] != schemaVersion {
		return fmt.Errorf("lockoutdb: unsupported schema %v", value)
	}
	return nil
}

// Purpose: Close the underlying database handle.
// Key aspects: Drains writer goroutine before closing Pebble.
// Upstream: main.go shutdown, tools and tests.
// Downstream: writer loop, db.Close.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if s.closeWriter() {
		<-s.done
	}
	err := s.db.Close()
	if s.cache != nil {
		s.cache.Unref()
		s.cache = nil
	}
	return err
}

// LoadRecords returns every persisted lockout record in ID order. Entries that
// no longer decode are skipped and logged; semantic validation is left to
// lockout.Store.Load.
func (s *Store) LoadRecords() ([]lockout.Record, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("lockoutdb: store is not initialized")
	}
	var out []lockout.Record
	err := s.scan(recordPrefix, func(id uint64, raw []byte) {
		rec, err := decodeRecord(raw)
		if err != nil {
			log.Printf("LockoutDB: skipping record %d: %v", id, err)
			return
		}
		out = append(out, rec)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SaveRecords replaces the persisted record set.
func (s *Store) SaveRecords(recs []lockout.Record) error {
	return s.submit(writeRequest{kind: writeRecords, records: recs})
}

// LoadClusters returns every persisted cluster in ID order.
func (s *Store) LoadClusters() ([]cluster.Cluster, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("lockoutdb: store is not initialized")
	}
	var out []cluster.Cluster
	err := s.scan(clusterPrefix, func(id uint64, raw []byte) {
		c, err := decodeCluster(raw)
		if err != nil {
			log.Printf("LockoutDB: skipping cluster %d: %v", id, err)
			return
		}
		out = append(out, c)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SaveClusters replaces the persisted cluster set.
func (s *Store) SaveClusters(clusters []cluster.Cluster) error {
	return s.submit(writeRequest{kind: writeClusters, clusters: clusters})
}

func (s *Store) scan(prefix string, fn func(id uint64, raw []byte)) error {
	iter, err := s.db.NewIter(iterOptionsForPrefix(prefix))
	if err != nil {
		return fmt.Errorf("lockoutdb: %s iterator: %w", prefix, err)
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		id, ok := parseIDKey(prefix, iter.Key())
		if !ok {
			continue
		}
		fn(id, iter.Value())
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("lockoutdb: iterate %s: %w", prefix, err)
	}
	return nil
}

func (s *Store) submit(req writeRequest) error {
	if s == nil || s.db == nil {
		return errors.New("lockoutdb: store is not initialized")
	}
	req.resp = make(chan error, 1)
	if err := s.enqueue(req); err != nil {
		return err
	}
	return <-req.resp
}

func (s *Store) enqueue(req writeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed
	}
	s.writes <- req
	return nil
}

func (s *Store) closeWriter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	close(s.writes)
	return true
}

func (s *Store) writeLoop() {
	defer close(s.done)
	for req := range s.writes {
		var err error
		switch req.kind {
		case writeRecords:
			err = s.replacePrefix(recordPrefix, len(req.records), func(b *pebble.Batch) error {
				for i := range req.records {
					rec := req.records[i]
					if err := b.Set(idKey(recordPrefix, rec.ID), encodeRecord(rec), nil); err != nil {
						return fmt.Errorf("lockoutdb: batch set record %d: %w", rec.ID, err)
					}
				}
				return nil
			})
		case writeClusters:
			err = s.replacePrefix(clusterPrefix, len(req.clusters), func(b *pebble.Batch) error {
				for i := range req.clusters {
					c := &req.clusters[i]
					if err := b.Set(idKey(clusterPrefix, c.ID), encodeCluster(c), nil); err != nil {
						return fmt.Errorf("lockoutdb: batch set cluster %d: %w", c.ID, err)
					}
				}
				return nil
			})
		default:
			err = fmt.Errorf("lockoutdb: unknown write request")
		}
		if req.resp != nil {
			req.resp <- err
		}
	}
}

// replacePrefix clears every key under prefix and writes the new set in one
// synced batch, so a crash leaves either the old set or the new one.
func (s *Store) replacePrefix(prefix string, n int, fill func(*pebble.Batch) error) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	lower := []byte(prefix)
	if err := batch.DeleteRange(lower, prefixUpperBound(lower), nil); err != nil {
		return fmt.Errorf("lockoutdb: clear %s: %w", prefix, err)
	}
	if err := fill(batch); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("lockoutdb: commit %d entries under %s: %w", n, prefix, err)
	}
	return nil
}
