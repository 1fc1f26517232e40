package gridcalc

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/exp/maps"
)

// Registry is a concurrency-safe collection of workbooks keyed by id.
// all workbooks it creates share one recalculation mode. individual
// workbooks are not safe for concurrent use; the registry only guards
// its own map.
type Registry struct {
	mu        sync.Mutex
	mode      RecalcMode
	workbooks map[string]*Workbook
}

// NewRegistry builds an empty registry whose workbooks use the given
// recalculation mode
func NewRegistry(mode RecalcMode) *Registry {
	return &Registry{
		mode:      mode,
		workbooks: make(map[string]*Workbook),
	}
}

// GetOrCreate returns the workbook under id, creating it if absent
func (r *Registry) GetOrCreate(id string) *Workbook {
	r.mu.Lock()
	defer r.mu.Unlock()
	if wb, ok := r.workbooks[id]; ok {
		return wb
	}
	wb := NewWorkbook(r.mode)
	r.workbooks[id] = wb
	return wb
}

// New creates a workbook under a fresh random id
func (r *Registry) New() (string, *Workbook) {
	id := uuid.New().String()
	r.mu.Lock()
	defer r.mu.Unlock()
	wb := NewWorkbook(r.mode)
	r.workbooks[id] = wb
	return id, wb
}

// Get returns the workbook under id, if present
func (r *Registry) Get(id string) (*Workbook, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wb, ok := r.workbooks[id]
	return wb, ok
}

// Remove drops the workbook under id
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workbooks[id]; !ok {
		return NewAppError(NotFound, "no such workbook: "+id)
	}
	delete(r.workbooks, id)
	return nil
}

// Count returns the number of registered workbooks
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workbooks)
}

// IDs returns the registered ids in sorted order
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := maps.Keys(r.workbooks)
	sort.Strings(ids)
	return ids
}
