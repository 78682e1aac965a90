// Package registry stores the methods a dispatch engine can invoke.
//
// Methods are registered per owner type through a Scope and looked up from an
// immutable snapshot, so registration never blocks dispatch:
//
//	type Calculator struct{}
//
//	type AddParams struct {
//	    A int `json:"a"`
//	    B int `json:"b"`
//	}
//
//	reg := registry.New()
//	scope := registry.ScopeOf[Calculator](reg)
//
//	_, err := scope.Method("add").
//	    Description("Add two numbers").
//	    Timeout(5 * time.Second).
//	    Handler(func(ctx context.Context, p AddParams) (int, error) {
//	        return p.A + p.B, nil
//	    })
//
// Handlers may take a context.Context, a *protocol.ExecutionContext and one
// parameter struct, each optional but in that order. Array params bind to the
// struct's fields in declaration order, object params bind by json name, and
// omitempty fields are optional.
//
// Calls and notifications are separate namespaces. Registering a name again
// replaces the previous descriptor, and Scope.Release drops the whole scope.
package registry
