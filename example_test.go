package rpcdispatch_test

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/rpcdispatch"
	"github.com/felixgeelhaar/rpcdispatch/protocol"
)

type greeter struct{}

func Example() {
	scope := rpcdispatch.ScopeOf[greeter](rpcdispatch.NewRegistry())
	scope.Method("greet").
		Description("Greet someone by name").
		MustHandler(func(p struct {
			Name string `json:"name"`
		}) (string, error) {
			return "Hello, " + p.Name + "!", nil
		})

	engine := rpcdispatch.NewEngine(scope)
	conn := protocol.NewConnection("example", protocol.TransportMemory, nil)
	engine.Connect(conn)
	defer engine.Disconnect(conn, 1000)

	out := engine.HandleMessage(context.Background(), conn,
		[]byte(`{"jsonrpc":"2.0","method":"greet","params":{"name":"Ada"},"id":1}`))
	data, _ := engine.EncodeResponse(out.Response)
	fmt.Println(string(data))

	// Notifications never get a response, even for unknown methods.
	out = engine.HandleMessage(context.Background(), conn,
		[]byte(`{"jsonrpc":"2.0","method":"greet","params":{"name":"Bob"}}`))
	fmt.Println(out.Response == nil)

	// Output:
	// {"jsonrpc":"2.0","id":1,"result":"Hello, Ada!"}
	// true
}

func ExampleScope_Describe() {
	scope := rpcdispatch.ScopeOf[greeter](rpcdispatch.NewRegistry())
	scope.Method("greet").MustHandler(func() (string, error) { return "hi", nil })
	scope.Notification("log").MustHandler(func() error { return nil })

	desc := scope.Describe()
	fmt.Println(desc.Consumer, len(desc.Methods), len(desc.Notifications))

	// Output:
	// greeter 1 1
}
