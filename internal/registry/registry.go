package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/mushrhyme/rebate/constants"
	"github.com/mushrhyme/rebate/internal/common"
)

// Record is one job registry entry. Absence of a record means the document is
// not currently queued or running; the registry is an index of active work,
// not a ledger of past runs.
type Record struct {
	Status      constants.JobStatus `json:"status"`
	Pages       int                 `json:"pages"`
	Error       *string             `json:"error"`
	Source      string              `json:"source"`
	LastUpdated time.Time           `json:"last_updated"`
}

// Mutation is a partial update merged into an existing record. Nil fields are
// left untouched. The zero Mutation still refreshes last_updated (heartbeat).
type Mutation struct {
	Status   *constants.JobStatus
	Pages    *int
	Err      *string
	ClearErr bool
	Source   *string
}

// Filter selects records by status and/or source; empty fields match all.
type Filter struct {
	Status constants.JobStatus
	Source string
}

// Registry is a durable, crash-tolerant map of document name to Record,
// backed by a single JSON file. Every mutation rewrites the whole file to a
// temp file and atomically renames it over the canonical path, so readers
// only ever observe complete snapshots. Mutations serialize through an
// in-process mutex plus a sidecar file lock for cross-process writers.
type Registry struct {
	path string
	mu   sync.Mutex
	fl   *flock.Flock
	log  *slog.Logger
	now  func() time.Time
}

func New(path string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		path: path,
		fl:   flock.New(path + ".lock"),
		log:  logger,
		now:  time.Now,
	}
}

// Path returns the canonical registry file location.
func (r *Registry) Path() string { return r.path }

// load reads the current snapshot. A missing or corrupt file reads as empty;
// the next successful mutation rewrites a complete snapshot.
func (r *Registry) load() (map[string]Record, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Record{}, nil
		}
		return nil, &common.RegistryIOError{Op: "read", Cause: err}
	}
	recs := map[string]Record{}
	if err := json.Unmarshal(data, &recs); err != nil {
		r.log.Warn("registry.file.corrupt", "path", r.path, "error", err)
		return map[string]Record{}, nil
	}
	return recs, nil
}

// save writes the full registry state via temp file + atomic rename.
func (r *Registry) save(recs map[string]Record) error {
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return &common.RegistryIOError{Op: "encode", Cause: err}
	}
	dir := filepath.Dir(r.path)
	tmp, err := os.CreateTemp(dir, ".registry-*.tmp")
	if err != nil {
		return &common.RegistryIOError{Op: "create temp", Cause: err}
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return &common.RegistryIOError{Op: "write temp", Cause: err}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return &common.RegistryIOError{Op: "close temp", Cause: err}
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		_ = os.Remove(tmpPath)
		return &common.RegistryIOError{Op: "replace", Cause: err}
	}
	return nil
}

// withLock runs fn inside the read-modify-write-replace critical section.
func (r *Registry) withLock(fn func(recs map[string]Record) (dirty bool, err error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fl.Lock(); err != nil {
		return &common.RegistryIOError{Op: "lock", Cause: err}
	}
	defer func() {
		if err := r.fl.Unlock(); err != nil {
			r.log.Warn("registry.unlock.failed", "error", err)
		}
	}()

	recs, err := r.load()
	if err != nil {
		return err
	}
	dirty, err := fn(recs)
	if err != nil {
		return err
	}
	if dirty {
		return r.save(recs)
	}
	return nil
}

// Ensure creates a record for name if absent and returns the stored record.
// Calling Ensure on an existing record is a no-op (idempotent).
func (r *Registry) Ensure(name string, defaults Record) (Record, error) {
	var out Record
	err := r.withLock(func(recs map[string]Record) (bool, error) {
		if rec, ok := recs[name]; ok {
			out = rec
			return false, nil
		}
		rec := defaults
		if rec.Status == "" {
			rec.Status = constants.JobStatusPending
		}
		if rec.Source == "" {
			rec.Source = "session"
		}
		rec.LastUpdated = r.now()
		recs[name] = rec
		out = rec
		return true, nil
	})
	if err != nil {
		return Record{}, err
	}
	return out, nil
}

// Update merges m into the existing record for name and refreshes
// last_updated. Returns common.ErrNotFound when no record exists.
func (r *Registry) Update(name string, m Mutation) (Record, error) {
	var out Record
	err := r.withLock(func(recs map[string]Record) (bool, error) {
		rec, ok := recs[name]
		if !ok {
			return false, fmt.Errorf("registry update %q: %w", name, common.ErrNotFound)
		}
		if m.Status != nil {
			rec.Status = *m.Status
		}
		if m.Pages != nil {
			rec.Pages = *m.Pages
		}
		if m.Err != nil {
			rec.Error = m.Err
		} else if m.ClearErr {
			rec.Error = nil
		}
		if m.Source != nil {
			rec.Source = *m.Source
		}
		rec.LastUpdated = r.now()
		recs[name] = rec
		out = rec
		return true, nil
	})
	if err != nil {
		return Record{}, err
	}
	return out, nil
}

// Remove deletes the record for name. Removing an absent record is a no-op.
func (r *Registry) Remove(name string) error {
	return r.withLock(func(recs map[string]Record) (bool, error) {
		if _, ok := recs[name]; !ok {
			return false, nil
		}
		delete(recs, name)
		return true, nil
	})
}

// Get returns the record for name, reporting presence explicitly.
func (r *Registry) Get(name string) (Record, bool, error) {
	recs, err := r.snapshot()
	if err != nil {
		return Record{}, false, err
	}
	rec, ok := recs[name]
	return rec, ok, nil
}

// List returns all records matching the filter.
func (r *Registry) List(f Filter) (map[string]Record, error) {
	recs, err := r.snapshot()
	if err != nil {
		return nil, err
	}
	out := make(map[string]Record, len(recs))
	for name, rec := range recs {
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		if f.Source != "" && rec.Source != f.Source {
			continue
		}
		out[name] = rec
	}
	return out, nil
}

func (r *Registry) snapshot() (map[string]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load()
}
