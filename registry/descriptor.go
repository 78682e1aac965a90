package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"runtime"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/felixgeelhaar/rpcdispatch/internal/jsoncodec"
	"github.com/felixgeelhaar/rpcdispatch/protocol"
	"github.com/felixgeelhaar/rpcdispatch/schema"
)

var (
	contextType   = reflect.TypeOf((*context.Context)(nil)).Elem()
	executionType = reflect.TypeOf((*protocol.ExecutionContext)(nil))
	errorType     = reflect.TypeOf((*error)(nil)).Elem()
)

// Transports lists every transport a method is available on unless disabled.
var Transports = []string{
	protocol.TransportWebSocket,
	protocol.TransportHTTP,
	protocol.TransportStdio,
	protocol.TransportPubSub,
	protocol.TransportMemory,
}

// Options carries the registration settings of a descriptor.
type Options struct {
	Description    string
	Timeout        *time.Duration
	Disabled       []string
	Notification   bool
	ValidateParams bool
}

// Descriptor is an immutable record of one registered method. Signature
// inspection happens once, in NewDescriptor.
type Descriptor struct {
	owner        reflect.Type
	name         string
	description  string
	handler      reflect.Value
	timeout      *time.Duration
	disabled     map[string]bool
	notification bool

	takesCtx       bool
	acceptsContext bool
	paramType      reflect.Type
	paramPtr       bool
	fields         []schema.Field
	returnsResult  bool

	schema         *schema.Schema
	validateParams bool
	signature      string
}

// NewDescriptor inspects fn and builds a descriptor. An empty name resolves
// to the function's own name with a lower-case first letter.
//
// fn must have the shape
//
//	func([context.Context], [*protocol.ExecutionContext], [P]) (R, error)
//
// or return only error, where P is a struct or pointer to struct.
func NewDescriptor(owner reflect.Type, name string, fn any, opts Options) (*Descriptor, error) {
	if fn == nil {
		return nil, fmt.Errorf("registry: handler must be a function, got nil")
	}
	fnVal := reflect.ValueOf(fn)
	fnType := fnVal.Type()
	if fnType.Kind() != reflect.Func {
		return nil, fmt.Errorf("registry: handler must be a function, got %s", fnType.Kind())
	}

	if name == "" {
		var err error
		if name, err = functionName(fnVal); err != nil {
			return nil, err
		}
	}

	d := &Descriptor{
		owner:          owner,
		name:           name,
		description:    opts.Description,
		handler:        fnVal,
		timeout:        opts.Timeout,
		disabled:       make(map[string]bool, len(opts.Disabled)),
		notification:   opts.Notification,
		validateParams: opts.ValidateParams,
	}
	for _, t := range opts.Disabled {
		d.disabled[t] = true
	}

	if err := d.inspect(fnType); err != nil {
		return nil, fmt.Errorf("registry: method %q: %w", name, err)
	}
	return d, nil
}

func (d *Descriptor) inspect(fnType reflect.Type) error {
	in := 0
	if in < fnType.NumIn() && fnType.In(in) == contextType {
		d.takesCtx = true
		in++
	}
	if in < fnType.NumIn() && fnType.In(in) == executionType {
		d.acceptsContext = true
		in++
	}
	if in < fnType.NumIn() {
		p := fnType.In(in)
		if p.Kind() == reflect.Ptr {
			d.paramPtr = true
			p = p.Elem()
		}
		if p.Kind() != reflect.Struct {
			return fmt.Errorf("params must be a struct or pointer to struct, got %s", fnType.In(in))
		}
		d.paramType = p
		d.fields = schema.Fields(p)
		in++
	}
	if in != fnType.NumIn() {
		return fmt.Errorf("unexpected parameter %s", fnType.In(in))
	}

	switch fnType.NumOut() {
	case 1:
		if fnType.Out(0) != errorType {
			return fmt.Errorf("single return value must be error")
		}
	case 2:
		if fnType.Out(1) != errorType {
			return fmt.Errorf("second return value must be error")
		}
		d.returnsResult = true
	default:
		return fmt.Errorf("handler must return (result, error) or error, got %d return values", fnType.NumOut())
	}

	if d.paramType != nil {
		s, err := schema.GenerateFromType(d.paramType)
		if err != nil {
			return fmt.Errorf("failed to generate params schema: %w", err)
		}
		d.schema = s
	} else {
		d.schema = &schema.Schema{Type: "object"}
	}
	d.signature = d.buildSignature(fnType)
	return nil
}

func (d *Descriptor) buildSignature(fnType reflect.Type) string {
	var sb strings.Builder
	sb.WriteString(d.name)
	sb.WriteByte('(')
	for i, f := range d.fields {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(f.Name)
		if f.Optional {
			sb.WriteByte('?')
		}
		sb.WriteByte(' ')
		sb.WriteString(f.Type.String())
	}
	sb.WriteByte(')')
	if d.returnsResult {
		sb.WriteString(" (")
		sb.WriteString(fnType.Out(0).String())
		sb.WriteString(", error)")
	} else {
		sb.WriteString(" error")
	}
	return sb.String()
}

// functionName derives a method name from the Go function, e.g. a method
// value (*Calc).Add becomes "add".
func functionName(fn reflect.Value) (string, error) {
	f := runtime.FuncForPC(fn.Pointer())
	if f == nil {
		return "", fmt.Errorf("registry: cannot resolve handler name")
	}
	full := f.Name()
	name := strings.TrimSuffix(full[strings.LastIndex(full, ".")+1:], "-fm")
	if name == "" || isAnonymous(name) {
		return "", fmt.Errorf("registry: anonymous handler %s needs an explicit name", full)
	}
	r, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToLower(r)) + name[size:], nil
}

func isAnonymous(name string) bool {
	rest, ok := strings.CutPrefix(name, "func")
	if !ok || rest == "" {
		return false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Owner returns the type that owns this method.
func (d *Descriptor) Owner() reflect.Type { return d.owner }

// Name returns the method name.
func (d *Descriptor) Name() string { return d.name }

// Description returns the registration description.
func (d *Descriptor) Description() string { return d.description }

// Timeout returns the override; ok is false when the default applies.
func (d *Descriptor) Timeout() (timeout time.Duration, ok bool) {
	if d.timeout == nil {
		return 0, false
	}
	return *d.timeout, true
}

// IsNotification reports whether the descriptor lives in the notification namespace.
func (d *Descriptor) IsNotification() bool { return d.notification }

// AcceptsContext reports whether the handler takes a *protocol.ExecutionContext.
func (d *Descriptor) AcceptsContext() bool { return d.acceptsContext }

// Signature returns a printable signature.
func (d *Descriptor) Signature() string { return d.signature }

// Schema returns the generated params schema.
func (d *Descriptor) Schema() *schema.Schema { return d.schema }

// AvailableOn reports whether the method may be called over the given transport.
func (d *Descriptor) AvailableOn(transport string) bool { return !d.disabled[transport] }

// EnabledTransports lists the known transports the method is available on.
func (d *Descriptor) EnabledTransports() []string {
	out := make([]string, 0, len(Transports))
	for _, t := range Transports {
		if !d.disabled[t] {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// Call binds params and invokes the handler. Binding failures are returned as
// INVALID_PARAMS protocol errors; handler errors are returned unchanged.
func (d *Descriptor) Call(ctx context.Context, ec *protocol.ExecutionContext, params json.RawMessage) (any, error) {
	if d.validateParams {
		if vs := d.schema.ValidateParams(params); vs != nil {
			return nil, protocol.NewInvalidParamsField(vs.Error())
		}
	}

	args := make([]reflect.Value, 0, 3)
	if d.takesCtx {
		args = append(args, reflect.ValueOf(ctx))
	}
	if d.acceptsContext {
		args = append(args, reflect.ValueOf(ec))
	}
	if d.paramType != nil {
		p, perr := d.bind(params)
		if perr != nil {
			return nil, perr
		}
		if d.paramPtr {
			args = append(args, p)
		} else {
			args = append(args, p.Elem())
		}
	} else if hasParams(params) {
		return nil, protocol.NewInvalidParamsField(fmt.Sprintf("Method '%s' takes no params", d.name))
	}

	results := d.handler.Call(args)

	errVal := results[len(results)-1]
	if !errVal.IsNil() {
		return nil, errVal.Interface().(error)
	}
	if d.returnsResult {
		return results[0].Interface(), nil
	}
	return nil, nil
}

// bind decodes params into a new parameter struct. Array params bind to the
// fields in declaration order; object params bind by name.
func (d *Descriptor) bind(params json.RawMessage) (reflect.Value, *protocol.Error) {
	p := reflect.New(d.paramType)
	set := make([]bool, len(d.fields))

	switch protocol.TypeName(params) {
	case "array":
		var list []json.RawMessage
		if err := jsoncodec.Unmarshal(params, &list); err != nil {
			return p, protocol.NewInvalidParams("array", "malformed array")
		}
		if len(list) > len(d.fields) {
			return p, protocol.NewInvalidParamsField(
				fmt.Sprintf("Expected at most %d params, got %d", len(d.fields), len(list)))
		}
		for i, raw := range list {
			if perr := d.bindField(p, i, raw); perr != nil {
				return p, perr
			}
			set[i] = true
		}
	case "object":
		var named map[string]json.RawMessage
		if err := jsoncodec.Unmarshal(params, &named); err != nil {
			return p, protocol.NewInvalidParams("object", "malformed object")
		}
		for key, raw := range named {
			i := d.fieldIndex(key)
			if i < 0 {
				return p, protocol.NewInvalidParamsField(fmt.Sprintf("Unexpected param '%s'", key))
			}
			if perr := d.bindField(p, i, raw); perr != nil {
				return p, perr
			}
			set[i] = true
		}
	case "null":
	default:
		return p, protocol.NewInvalidParams("object or array", protocol.TypeName(params))
	}

	for i, f := range d.fields {
		if !set[i] && !f.Optional {
			return p, protocol.NewInvalidParamsField(fmt.Sprintf("Missing required param '%s'", f.Name))
		}
	}
	return p, nil
}

func (d *Descriptor) bindField(p reflect.Value, i int, raw json.RawMessage) *protocol.Error {
	f := d.fields[i]
	target := p.Elem().Field(f.Index).Addr().Interface()
	if err := jsoncodec.Unmarshal(raw, target); err != nil {
		return protocol.NewInvalidParams(
			fmt.Sprintf("%s for '%s'", schema.TypeName(f.Type), f.Name), protocol.TypeName(raw))
	}
	return nil
}

func (d *Descriptor) fieldIndex(name string) int {
	for i, f := range d.fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

func hasParams(params json.RawMessage) bool {
	switch protocol.TypeName(params) {
	case "array":
		var list []json.RawMessage
		return jsoncodec.Unmarshal(params, &list) != nil || len(list) > 0
	case "object":
		var named map[string]json.RawMessage
		return jsoncodec.Unmarshal(params, &named) != nil || len(named) > 0
	}
	return false
}
