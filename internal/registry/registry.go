// Package registry maps printer ids to their backends. Readers always see one
// complete generation: every change builds a fresh immutable snapshot and
// swaps it in atomically, so a reload never exposes a mix of old and new
// entries.
package registry

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/adcondev/printer-proxy/internal/config"
)

var (
	// ErrNotFound means no printer with the requested id is registered.
	ErrNotFound = errors.New("printer not found")
	// ErrExists means a create collided with an existing id.
	ErrExists = errors.New("printer already exists")
)

// snapshot is one immutable registry generation.
type snapshot struct {
	byID  map[string]config.Printer
	order []string // insertion order, for stable listings
}

func buildSnapshot(printers []config.Printer) *snapshot {
	s := &snapshot{
		byID:  make(map[string]config.Printer, len(printers)),
		order: make([]string, 0, len(printers)),
	}
	for _, p := range printers {
		s.byID[p.ID] = p
		s.order = append(s.order, p.ID)
	}
	return s
}

func (s *snapshot) list() []config.Printer {
	out := make([]config.Printer, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// Registry is the swap point between the config file and request handling.
// Reads are lock-free; writers serialize on mu and persist to printers.yaml
// before publishing the new snapshot.
type Registry struct {
	path string
	snap atomic.Pointer[snapshot]
	mu   sync.Mutex
}

// Open loads printers.yaml from path and builds the first snapshot.
func Open(path string) (*Registry, error) {
	cfg, err := config.LoadPrinters(path)
	if err != nil {
		return nil, err
	}
	r := &Registry{path: path}
	r.snap.Store(buildSnapshot(cfg.Printers))
	return r, nil
}

// NewInMemory builds a registry that is never persisted. Used by tests and by
// callers that manage the config file themselves.
func NewInMemory(printers []config.Printer) *Registry {
	r := &Registry{}
	r.snap.Store(buildSnapshot(printers))
	return r
}

// Path returns the printers.yaml location this registry persists to. Empty
// for in-memory registries.
func (r *Registry) Path() string {
	return r.path
}

// Lookup resolves a printer id against the current snapshot.
func (r *Registry) Lookup(id string) (config.Printer, error) {
	s := r.snap.Load()
	p, ok := s.byID[id]
	if !ok {
		return config.Printer{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return p, nil
}

// ListAll returns every printer in insertion order.
func (r *Registry) ListAll() []config.Printer {
	return r.snap.Load().list()
}

// Len returns the number of registered printers.
func (r *Registry) Len() int {
	return len(r.snap.Load().order)
}

// ReplaceAll swaps in a whole new printer set without touching the file.
func (r *Registry) ReplaceAll(printers []config.Printer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.Store(buildSnapshot(printers))
}

// Reload re-reads printers.yaml and swaps the snapshot. The old generation
// stays live until the file parses and validates.
func (r *Registry) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, err := config.LoadPrinters(r.path)
	if err != nil {
		return err
	}
	r.snap.Store(buildSnapshot(cfg.Printers))
	log.Printf("[REGISTRY] 🔄 Reloaded %d printer(s) from %s", len(cfg.Printers), r.path)
	return nil
}

// Create adds a printer, persists the file, then publishes the new snapshot.
func (r *Registry) Create(p config.Printer) error {
	if p.ID == "" || p.Name == "" {
		return fmt.Errorf("printer id and name are required")
	}
	if err := p.Backend.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	if _, ok := cur.byID[p.ID]; ok {
		return fmt.Errorf("%w: %q", ErrExists, p.ID)
	}

	next := append(cur.list(), p)
	if err := r.persist(next); err != nil {
		return err
	}
	r.snap.Store(buildSnapshot(next))
	log.Printf("[REGISTRY] ➕ Printer '%s' -> %s", p.ID, p.Backend.Addr())
	return nil
}

// Update modifies the name and/or backend of an existing printer. Nil fields
// keep their current value.
func (r *Registry) Update(id string, name *string, backend *config.Backend) (config.Printer, error) {
	if backend != nil {
		if err := backend.Validate(); err != nil {
			return config.Printer{}, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	p, ok := cur.byID[id]
	if !ok {
		return config.Printer{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if name != nil {
		p.Name = *name
	}
	if backend != nil {
		p.Backend = *backend
	}

	next := cur.list()
	for i := range next {
		if next[i].ID == id {
			next[i] = p
		}
	}
	if err := r.persist(next); err != nil {
		return config.Printer{}, err
	}
	r.snap.Store(buildSnapshot(next))
	log.Printf("[REGISTRY] ✏️ Printer '%s' -> %s", p.ID, p.Backend.Addr())
	return p, nil
}

// Delete removes a printer, persists the file, then publishes the new
// snapshot.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	if _, ok := cur.byID[id]; !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	next := make([]config.Printer, 0, len(cur.order)-1)
	for _, p := range cur.list() {
		if p.ID != id {
			next = append(next, p)
		}
	}
	if err := r.persist(next); err != nil {
		return err
	}
	r.snap.Store(buildSnapshot(next))
	log.Printf("[REGISTRY] 🗑️ Printer '%s' removed", id)
	return nil
}

func (r *Registry) persist(printers []config.Printer) error {
	if r.path == "" {
		return nil // in-memory registry
	}
	return config.SavePrinters(r.path, &config.Printers{Printers: printers})
}
