package plugin

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
)

// Registry is an immutable snapshot of the live plugins. It is safe for
// concurrent reads without locking; a new configuration produces a new
// Registry rather than mutating an existing one.
type Registry struct {
	byKind      map[Kind][]*Record
	byName      map[Kind]map[string]*Record
	points      map[InterceptPoint][]*Record
	created     []*Record
	diagnostics []Diagnostic

	closeOnce sync.Once
	closeErr  error
}

func newRegistry() *Registry {
	return &Registry{
		byKind: make(map[Kind][]*Record),
		byName: make(map[Kind]map[string]*Record),
		points: make(map[InterceptPoint][]*Record),
	}
}

func (r *Registry) add(rec *Record) {
	kind := rec.Kind()
	if r.byName[kind] == nil {
		r.byName[kind] = make(map[string]*Record)
	}
	r.byName[kind][rec.Name] = rec
	r.byKind[kind] = append(r.byKind[kind], rec)
	if kind == KindInterceptor {
		r.points[rec.Descriptor.Point] = append(r.points[rec.Descriptor.Point], rec)
	}
	r.created = append(r.created, rec)
}

// freeze sorts every view by priority, keeping discovery order for ties.
func (r *Registry) freeze() {
	byPriority := func(a, b *Record) int {
		if c := cmp.Compare(a.Priority(), b.Priority()); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	}
	for _, recs := range r.byKind {
		slices.SortStableFunc(recs, byPriority)
	}
	for _, recs := range r.points {
		slices.SortStableFunc(recs, byPriority)
	}
}

// Current returns r itself, so a snapshot can be used wherever a Handle is
// expected.
func (r *Registry) Current() *Registry { return r }

// Get looks up an enabled plugin by kind and name.
func (r *Registry) Get(kind Kind, name string) (*Record, bool) {
	if r == nil {
		return nil, false
	}
	rec, ok := r.byName[kind][name]
	return rec, ok
}

// All returns the enabled plugins of kind ordered by priority.
func (r *Registry) All(kind Kind) []*Record {
	if r == nil {
		return nil
	}
	return slices.Clone(r.byKind[kind])
}

// InterceptorsFor returns the interceptors bound to point ordered by
// priority.
func (r *Registry) InterceptorsFor(point InterceptPoint) []*Record {
	if r == nil {
		return nil
	}
	return slices.Clone(r.points[point])
}

// Diagnostics lists the plugins excluded during bootstrap.
func (r *Registry) Diagnostics() []Diagnostic {
	if r == nil {
		return nil
	}
	return slices.Clone(r.diagnostics)
}

// Len returns the number of published plugins.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.created)
}

// Close stops every Stoppable instance in reverse creation order. It runs
// at most once.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.closeOnce.Do(func() {
		var errs []error
		for i := len(r.created) - 1; i >= 0; i-- {
			rec := r.created[i]
			s, ok := rec.Instance.(Stoppable)
			if !ok {
				continue
			}
			execCtx := &ExecutionContext{C: ctx, Name: rec.Name, Config: rec.Config}
			if err := protect(func() error { return s.Stop(execCtx.Clone()) }); err != nil {
				errs = append(errs, fmt.Errorf("stop plugin %s: %w", rec.Name, err))
			}
		}
		r.closeErr = errors.Join(errs...)
	})
	return r.closeErr
}

// Holder publishes the current registry snapshot. Swapping is atomic, so
// in-flight requests keep the snapshot they started with.
type Holder struct {
	current atomic.Pointer[Registry]
}

// NewHolder returns a holder publishing initial, which may be nil.
func NewHolder(initial *Registry) *Holder {
	h := &Holder{}
	if initial != nil {
		h.current.Store(initial)
	}
	return h
}

// Current returns the published snapshot, or nil before the first bootstrap.
func (h *Holder) Current() *Registry {
	if h == nil {
		return nil
	}
	return h.current.Load()
}

// Swap publishes next and returns the previous snapshot.
func (h *Holder) Swap(next *Registry) *Registry {
	return h.current.Swap(next)
}
