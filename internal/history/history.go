// Package history keeps a ledger of ingestion runs in bbolt.
//
// The ledger is informational. Nothing reads it to decide what to ingest.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

// DefaultPath is the ledger location used when none is configured.
const DefaultPath = "trailpipe-history.db"

var bucketRuns = []byte("runs")

// ErrNotFound is returned when a run id is not in the ledger.
var ErrNotFound = errors.New("run not found")

// Run summarizes one ingestion run.
type Run struct {
	ID        string        `json:"id"`
	Date      string        `json:"date"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	InputsProcessed  int `json:"inputs_processed"`
	InputsFailed     int `json:"inputs_failed"`
	AuthFailures     int `json:"auth_failures"`
	ObjectsListed    int `json:"objects_listed"`
	ObjectsFailed    int `json:"objects_failed"`
	RecordsRead      int `json:"records_read"`
	RecordsDelivered int `json:"records_delivered"`
	RecordsDropped   int `json:"records_dropped"`
	SinkErrors       int `json:"sink_errors"`
}

// entry orders runs by start time, then id.
type entry struct {
	startedAt time.Time
	id        string
}

func lessEntry(a, b entry) bool {
	if !a.startedAt.Equal(b.startedAt) {
		return a.startedAt.Before(b.startedAt)
	}
	return a.id < b.id
}

// Store persists runs on disk with an in-memory index by start time.
type Store struct {
	mu    sync.RWMutex
	db    *bbolt.DB
	index *btree.BTreeG[entry]
}

// Open opens or creates the ledger at path.
func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRuns)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init history: %w", err)
	}

	s := &Store{
		db:    db,
		index: btree.NewG[entry](32, lessEntry),
	}
	if err := s.rebuildIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores run, assigning an id when it has none, and returns the id.
func (s *Store) Record(run Run) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	value, err := json.Marshal(run)
	if err != nil {
		return "", fmt.Errorf("encode run: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRuns).Put([]byte(run.ID), value)
	})
	if err != nil {
		return "", fmt.Errorf("store run: %w", err)
	}

	s.index.ReplaceOrInsert(entry{startedAt: run.StartedAt, id: run.ID})
	return run.ID, nil
}

// Get returns the run with the given id.
func (s *Store) Get(id string) (Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var run Run
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketRuns).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &run)
	})
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

// Recent returns up to n runs, newest first. n <= 0 returns every run.
func (s *Store) Recent(n int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	s.index.Descend(func(e entry) bool {
		ids = append(ids, e.id)
		return n <= 0 || len(ids) < n
	})

	runs := make([]Run, 0, len(ids))
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRuns)
		for _, id := range ids {
			var run Run
			if err := json.Unmarshal(bucket.Get([]byte(id)), &run); err != nil {
				return fmt.Errorf("decode run %s: %w", id, err)
			}
			runs = append(runs, run)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// Len returns the number of recorded runs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Len()
}

func (s *Store) rebuildIndex() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(k, v []byte) error {
			var run Run
			if err := json.Unmarshal(v, &run); err != nil {
				return fmt.Errorf("decode run %s: %w", k, err)
			}
			s.index.ReplaceOrInsert(entry{startedAt: run.StartedAt, id: run.ID})
			return nil
		})
	})
}
