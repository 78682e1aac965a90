package registry

import (
	"reflect"
	"time"
)

// Scope is the view of a registry for one owner type. A dispatch engine
// serves exactly one scope.
type Scope struct {
	reg      *Registry
	owner    reflect.Type
	consumer string
}

// ScopeOf returns the scope owned by T.
func ScopeOf[T any](reg *Registry) *Scope {
	return NewScope(reg, reflect.TypeFor[T]())
}

// NewScope returns the scope of owner. The consumer name is the owner's type name.
func NewScope(reg *Registry, owner reflect.Type) *Scope {
	consumer := owner.Name()
	if consumer == "" {
		consumer = owner.String()
	}
	return &Scope{reg: reg, owner: owner, consumer: consumer}
}

// Owner returns the owner type.
func (s *Scope) Owner() reflect.Type { return s.owner }

// Consumer returns the display name of the owner.
func (s *Scope) Consumer() string { return s.consumer }

// Registry returns the backing registry.
func (s *Scope) Registry() *Registry { return s.reg }

// Lookup finds a method or notification by name.
func (s *Scope) Lookup(name string, notification bool) (*Descriptor, bool) {
	return s.reg.Lookup(s.owner, name, notification)
}

// Names lists registered names of one namespace.
func (s *Scope) Names(notification bool) []string {
	return s.reg.Names(s.owner, notification)
}

// Release removes every method of this scope.
func (s *Scope) Release() {
	s.reg.Release(s.owner)
}

// Method starts building a call method. An empty name uses the handler's
// function name.
func (s *Scope) Method(name string) *Builder {
	return &Builder{scope: s, name: name}
}

// Notification starts building a notification handler.
func (s *Scope) Notification(name string) *Builder {
	return &Builder{scope: s, name: name, opts: Options{Notification: true}}
}

// Builder provides a fluent API for registering a method.
type Builder struct {
	scope *Scope
	name  string
	opts  Options
}

// Description sets the method description.
func (b *Builder) Description(desc string) *Builder {
	b.opts.Description = desc
	return b
}

// Timeout overrides the engine default. A value <= 0 disables the deadline.
func (b *Builder) Timeout(d time.Duration) *Builder {
	b.opts.Timeout = &d
	return b
}

// DisableTransport hides the method from connections of the named transport.
func (b *Builder) DisableTransport(transports ...string) *Builder {
	b.opts.Disabled = append(b.opts.Disabled, transports...)
	return b
}

// ValidateParams enables schema validation of params before binding.
func (b *Builder) ValidateParams() *Builder {
	b.opts.ValidateParams = true
	return b
}

// Handler registers fn and returns its descriptor.
func (b *Builder) Handler(fn any) (*Descriptor, error) {
	d, err := NewDescriptor(b.scope.owner, b.name, fn, b.opts)
	if err != nil {
		return nil, err
	}
	b.scope.reg.Register(d)
	return d, nil
}

// MustHandler is like Handler but panics on an invalid handler.
func (b *Builder) MustHandler(fn any) *Descriptor {
	d, err := b.Handler(fn)
	if err != nil {
		panic(err)
	}
	return d
}
