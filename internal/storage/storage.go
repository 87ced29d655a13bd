// Package storage persists trained artifact bundles in a BoltDB file.
//
// Every training run lives in its own bucket under "runs" with nested
// buckets for model and scaler blobs. The "meta" bucket records which run
// is active and which run was active before it, so a deployment can roll
// back without retraining.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"reimburse-engine/internal/common"

	"go.etcd.io/bbolt"
)

const (
	runsBucket    = "runs"
	metaBucket    = "meta"
	modelsBucket  = "models"
	scalersBucket = "scalers"

	keyActive   = "active"
	keyPrevious = "previous"
	keyWeights  = "weights"
	keySchema   = "schema"
	keyMeta     = "meta"
	keyReports  = "reports"
)

var (
	// ErrNoActiveRun is returned when no run has been activated yet.
	ErrNoActiveRun = errors.New("no active run")
	// ErrRunNotFound is returned for an unknown run ID.
	ErrRunNotFound = errors.New("run not found")
)

// RunMeta describes a stored run.
type RunMeta struct {
	RunID       string    `json:"run_id"`
	CreatedAt   time.Time `json:"created_at"`
	TrainSize   int       `json:"train_size"`
	TestSize    int       `json:"test_size"`
	SkippedRows int       `json:"skipped_rows"`
	EnsembleR2  float64   `json:"ensemble_r2"`
	Models      []string  `json:"models"`

	// Active is filled in by ListRuns and never persisted.
	Active bool `json:"-"`
}

// Run is the raw content of one artifact bundle. Blobs are opaque to the
// store.
type Run struct {
	Meta    RunMeta
	Models  map[string][]byte
	Scalers map[string][]byte
	Weights []byte
	Schema  []byte
	Reports []byte
}

// Store provides access to the artifact database.
type Store struct {
	db       *bbolt.DB
	path     string
	readOnly bool
}

type options struct {
	readOnly bool
	timeout  time.Duration
}

// Option configures Open.
type Option func(*options)

// ReadOnly opens the database with a shared lock so a concurrent writer is
// not blocked for longer than a read.
func ReadOnly() Option {
	return func(o *options) { o.readOnly = true }
}

// WithTimeout bounds how long Open waits for the file lock.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// Path returns the database file used for an artifact directory.
func Path(dir string) string {
	return filepath.Join(dir, common.ArtifactDBName)
}

// Open opens (and in write mode creates) the artifact store in dir.
func Open(dir string, opts ...Option) (*Store, error) {
	o := options{timeout: time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	dbPath := Path(dir)
	if o.readOnly {
		if _, err := os.Stat(dbPath); err != nil {
			return nil, fmt.Errorf("artifact store %s: %w", dbPath, err)
		}
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: o.timeout, ReadOnly: o.readOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if !o.readOnly {
		err = db.Update(func(tx *bbolt.Tx) error {
			for _, name := range []string{runsBucket, metaBucket, evaluationsBucket} {
				if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
					return fmt.Errorf("create %s bucket: %w", name, err)
				}
			}
			return nil
		})
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	return &Store{db: db, path: dbPath, readOnly: o.readOnly}, nil
}

// Close closes the database. It is safe to call more than once.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// SaveRun writes a run and, when activate is set, makes it the active run in
// the same transaction.
func (s *Store) SaveRun(run Run, activate bool) error {
	if run.Meta.RunID == "" {
		return errors.New("run ID is required")
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket([]byte(runsBucket))
		if runs.Bucket([]byte(run.Meta.RunID)) != nil {
			return fmt.Errorf("run %s already exists", run.Meta.RunID)
		}
		b, err := runs.CreateBucket([]byte(run.Meta.RunID))
		if err != nil {
			return fmt.Errorf("create run bucket: %w", err)
		}

		if err := putBlobs(b, modelsBucket, run.Models); err != nil {
			return err
		}
		if err := putBlobs(b, scalersBucket, run.Scalers); err != nil {
			return err
		}

		meta, err := json.Marshal(run.Meta)
		if err != nil {
			return fmt.Errorf("marshal run meta: %w", err)
		}
		for key, value := range map[string][]byte{
			keyMeta:    meta,
			keyWeights: run.Weights,
			keySchema:  run.Schema,
			keyReports: run.Reports,
		} {
			if err := b.Put([]byte(key), value); err != nil {
				return fmt.Errorf("put %s: %w", key, err)
			}
		}

		if activate {
			return setActive(tx, run.Meta.RunID)
		}
		return nil
	})
}

func putBlobs(parent *bbolt.Bucket, name string, blobs map[string][]byte) error {
	b, err := parent.CreateBucket([]byte(name))
	if err != nil {
		return fmt.Errorf("create %s bucket: %w", name, err)
	}
	for key, blob := range blobs {
		if err := b.Put([]byte(key), blob); err != nil {
			return fmt.Errorf("put %s/%s: %w", name, key, err)
		}
	}
	return nil
}

func setActive(tx *bbolt.Tx, runID string) error {
	meta := tx.Bucket([]byte(metaBucket))
	if current := meta.Get([]byte(keyActive)); current != nil && string(current) != runID {
		if err := meta.Put([]byte(keyPrevious), append([]byte(nil), current...)); err != nil {
			return err
		}
	}
	return meta.Put([]byte(keyActive), []byte(runID))
}

// LoadRun reads a complete run.
func (s *Store) LoadRun(runID string) (*Run, error) {
	var run *Run
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		run, err = readRun(tx, runID)
		return err
	})
	return run, err
}

// LoadActive reads the active run.
func (s *Store) LoadActive() (*Run, error) {
	var run *Run
	err := s.db.View(func(tx *bbolt.Tx) error {
		id, err := activeID(tx)
		if err != nil {
			return err
		}
		run, err = readRun(tx, id)
		return err
	})
	return run, err
}

// ActiveRunID returns the ID of the active run.
func (s *Store) ActiveRunID() (string, error) {
	var id string
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		id, err = activeID(tx)
		return err
	})
	return id, err
}

func activeID(tx *bbolt.Tx) (string, error) {
	meta := tx.Bucket([]byte(metaBucket))
	if meta == nil {
		return "", ErrNoActiveRun
	}
	v := meta.Get([]byte(keyActive))
	if v == nil {
		return "", ErrNoActiveRun
	}
	return string(v), nil
}

func readRun(tx *bbolt.Tx, runID string) (*Run, error) {
	runs := tx.Bucket([]byte(runsBucket))
	if runs == nil {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	b := runs.Bucket([]byte(runID))
	if b == nil {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	run := &Run{
		Models:  readBlobs(b.Bucket([]byte(modelsBucket))),
		Scalers: readBlobs(b.Bucket([]byte(scalersBucket))),
		Weights: copyBytes(b.Get([]byte(keyWeights))),
		Schema:  copyBytes(b.Get([]byte(keySchema))),
		Reports: copyBytes(b.Get([]byte(keyReports))),
	}
	if err := json.Unmarshal(b.Get([]byte(keyMeta)), &run.Meta); err != nil {
		return nil, fmt.Errorf("decode meta for run %s: %w", runID, err)
	}
	return run, nil
}

func readBlobs(b *bbolt.Bucket) map[string][]byte {
	out := make(map[string][]byte)
	if b == nil {
		return out
	}
	_ = b.ForEach(func(k, v []byte) error {
		out[string(k)] = copyBytes(v)
		return nil
	})
	return out
}

// copyBytes detaches a value from the mmap, which is only valid inside the
// transaction.
func copyBytes(v []byte) []byte {
	if v == nil {
		return nil
	}
	return append([]byte(nil), v...)
}

// ListRuns returns every stored run, newest first.
func (s *Store) ListRuns() ([]RunMeta, error) {
	var out []RunMeta
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		out, err = listRuns(tx)
		return err
	})
	return out, err
}

func listRuns(tx *bbolt.Tx) ([]RunMeta, error) {
	active, _ := activeID(tx)
	runs := tx.Bucket([]byte(runsBucket))
	if runs == nil {
		return nil, nil
	}

	var out []RunMeta
	err := runs.ForEach(func(k, v []byte) error {
		b := runs.Bucket(k)
		if v != nil || b == nil {
			return nil
		}
		var meta RunMeta
		if err := json.Unmarshal(b.Get([]byte(keyMeta)), &meta); err != nil {
			return fmt.Errorf("decode meta for run %s: %w", k, err)
		}
		meta.Active = meta.RunID == active
		out = append(out, meta)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].RunID > out[j].RunID
	})
	return out, nil
}

// Activate makes an existing run the active one.
func (s *Store) Activate(runID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket([]byte(runsBucket))
		if runs.Bucket([]byte(runID)) == nil {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return setActive(tx, runID)
	})
}

// Rollback activates the run created just before the active one and
// returns its ID.
func (s *Store) Rollback() (string, error) {
	var target string
	err := s.db.Update(func(tx *bbolt.Tx) error {
		runs, err := listRuns(tx)
		if err != nil {
			return err
		}
		if len(runs) < 2 {
			return errors.New("no previous run available for rollback")
		}

		current := -1
		for i, r := range runs {
			if r.Active {
				current = i
				break
			}
		}
		if current == -1 {
			return ErrNoActiveRun
		}
		if current+1 >= len(runs) {
			return errors.New("active run is the oldest, nothing to roll back to")
		}

		target = runs[current+1].RunID
		return setActive(tx, target)
	})
	return target, err
}
