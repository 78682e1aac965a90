package registry

import (
	"errors"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
)

// ErrNotRegistered is returned by introspection for unknown method names.
var ErrNotRegistered = errors.New("not registered")

// table holds the two namespaces of one owner.
type table struct {
	calls         map[string]*Descriptor
	notifications map[string]*Descriptor
}

func (t *table) namespace(notification bool) map[string]*Descriptor {
	if notification {
		return t.notifications
	}
	return t.calls
}

func (t *table) clone() *table {
	c := &table{
		calls:         make(map[string]*Descriptor, len(t.calls)+1),
		notifications: make(map[string]*Descriptor, len(t.notifications)+1),
	}
	for k, v := range t.calls {
		c.calls[k] = v
	}
	for k, v := range t.notifications {
		c.notifications[k] = v
	}
	return c
}

type snapshot map[reflect.Type]*table

// Registry maps owner types to their methods. Readers load an immutable
// snapshot without locking; writers copy it under a mutex.
type Registry struct {
	mu      sync.Mutex
	current atomic.Pointer[snapshot]
}

// New creates an empty registry.
func New() *Registry {
	r := &Registry{}
	empty := snapshot{}
	r.current.Store(&empty)
	return r
}

// Register adds d under its owner. A later registration of the same name in
// the same namespace replaces the earlier one.
func (r *Registry) Register(d *Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := *r.current.Load()
	next := make(snapshot, len(old)+1)
	for k, v := range old {
		next[k] = v
	}

	t, ok := old[d.owner]
	if ok {
		t = t.clone()
	} else {
		t = &table{calls: map[string]*Descriptor{}, notifications: map[string]*Descriptor{}}
	}
	t.namespace(d.notification)[d.name] = d
	next[d.owner] = t

	r.current.Store(&next)
}

// Lookup returns the descriptor for name in the call or notification namespace.
func (r *Registry) Lookup(owner reflect.Type, name string, notification bool) (*Descriptor, bool) {
	t, ok := (*r.current.Load())[owner]
	if !ok {
		return nil, false
	}
	d, ok := t.namespace(notification)[name]
	return d, ok
}

// Names returns the sorted method names of owner in one namespace.
func (r *Registry) Names(owner reflect.Type, notification bool) []string {
	t, ok := (*r.current.Load())[owner]
	if !ok {
		return nil
	}
	ns := t.namespace(notification)
	names := make([]string, 0, len(ns))
	for name := range ns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Release removes every method of owner.
func (r *Registry) Release(owner reflect.Type) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := *r.current.Load()
	if _, ok := old[owner]; !ok {
		return
	}
	next := make(snapshot, len(old))
	for k, v := range old {
		if k != owner {
			next[k] = v
		}
	}
	r.current.Store(&next)
}

// Owners returns every owner type with at least one registration.
func (r *Registry) Owners() []reflect.Type {
	cur := *r.current.Load()
	owners := make([]reflect.Type, 0, len(cur))
	for k := range cur {
		owners = append(owners, k)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i].String() < owners[j].String() })
	return owners
}
