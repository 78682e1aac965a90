package registry

import (
	"fmt"

	"github.com/felixgeelhaar/rpcdispatch/protocol"
	"github.com/felixgeelhaar/rpcdispatch/schema"
)

// MethodInfo describes one registered method.
type MethodInfo struct {
	Name           string         `json:"name" yaml:"name"`
	Signature      string         `json:"signature" yaml:"signature"`
	Description    string         `json:"description,omitempty" yaml:"description,omitempty"`
	AcceptsContext bool           `json:"acceptsContext" yaml:"acceptsContext"`
	Transports     []string       `json:"transports" yaml:"transports"`
	Notification   bool           `json:"notification" yaml:"notification"`
	Timeout        *float64       `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Schema         *schema.Schema `json:"params,omitempty" yaml:"-"`
}

// APIDescription is the machine-readable description of a scope.
type APIDescription struct {
	JSONRPC       string       `json:"jsonrpc" yaml:"jsonrpc"`
	Consumer      string       `json:"consumer" yaml:"consumer"`
	Methods       []MethodInfo `json:"methods" yaml:"methods"`
	Notifications []MethodInfo `json:"notifications" yaml:"notifications"`
}

// Info returns metadata of a call method, falling back to the notification
// namespace. Unknown names yield an error wrapping ErrNotRegistered.
func (s *Scope) Info(name string) (MethodInfo, error) {
	if d, ok := s.Lookup(name, false); ok {
		return d.Info(), nil
	}
	if d, ok := s.Lookup(name, true); ok {
		return d.Info(), nil
	}
	return MethodInfo{}, fmt.Errorf("registry: method '%s' %w for %s", name, ErrNotRegistered, s.consumer)
}

// Describe returns the description of every method in the scope, sorted by name.
func (s *Scope) Describe() APIDescription {
	desc := APIDescription{
		JSONRPC:       protocol.Version,
		Consumer:      s.consumer,
		Methods:       []MethodInfo{},
		Notifications: []MethodInfo{},
	}
	for _, name := range s.Names(false) {
		if d, ok := s.Lookup(name, false); ok {
			desc.Methods = append(desc.Methods, d.Info())
		}
	}
	for _, name := range s.Names(true) {
		if d, ok := s.Lookup(name, true); ok {
			desc.Notifications = append(desc.Notifications, d.Info())
		}
	}
	return desc
}

// Info returns the descriptor metadata.
func (d *Descriptor) Info() MethodInfo {
	info := MethodInfo{
		Name:           d.name,
		Signature:      d.signature,
		Description:    d.description,
		AcceptsContext: d.acceptsContext,
		Transports:     d.EnabledTransports(),
		Notification:   d.notification,
		Schema:         d.schema,
	}
	if t, ok := d.Timeout(); ok {
		secs := t.Seconds()
		info.Timeout = &secs
	}
	return info
}
