// Package client is the Go SDK for the DevOps MCP gateway.
//
// It speaks the gateway's JSON-RPC 2.0 over HTTP dialect and reads both
// tools/call response shapes: a stream of newline-delimited frames when the
// upstream streams, and a single JSON document when it does not.
//
// # Asking a question
//
//	c, err := client.New("http://localhost:7373")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	answer, err := c.Ask(ctx, "How do I roll back a Kubernetes deployment?",
//	    func(text string) { fmt.Printf("\r%s", text) },
//	)
//
// The callback receives the cumulative text of every partial frame. Pass nil
// when only the final answer is needed.
//
// # Cancelling
//
// Ask picks a fresh request id for every call. To cancel a call from another
// goroutine, choose the id yourself:
//
//	go c.AskWithID(ctx, "q-42", question, nil)
//	// ...
//	c.Cancel(ctx, "q-42")
//
// Cancelling the context passed to Ask also aborts the call: the gateway
// notices the closed connection and releases the upstream request.
//
// # Errors
//
// Errors reported by the gateway in a JSON-RPC error frame are returned as
// *RPCError. Use IsBackendUnavailable to detect upstream failures.
package client
