package mcpbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/jmerrifield20/devops-mcp-gateway/internal/upstream"
)

func TestDecodeRequest(t *testing.T) {
	req, err := decodeRequest([]byte(`  {"jsonrpc":"2.0","id":"a","method":"tools/list","params":{"x":1}}`))
	if err != nil {
		t.Fatalf("decodeRequest: %v", err)
	}
	if string(req.ID) != `"a"` || req.Method != "tools/list" || string(req.Params) != `{"x":1}` {
		t.Errorf("got %+v", req)
	}
}

func TestDecodeRequest_defaults(t *testing.T) {
	for _, body := range []string{`{"method":"initialize"}`, `{"method":"initialize","id":null,"params":null}`} {
		req, err := decodeRequest([]byte(body))
		if err != nil {
			t.Fatalf("%s: %v", body, err)
		}
		if string(req.ID) != "null" {
			t.Errorf("%s: id got %s, want null", body, req.ID)
		}
		if string(req.Params) != "{}" {
			t.Errorf("%s: params got %s, want {}", body, req.Params)
		}
	}
}

func TestDecodeRequest_parseErrors(t *testing.T) {
	for _, body := range []string{``, `   `, `{`, `[]`, `null`, `42`, `{"method":["x"]}`, `{"id":1,}`} {
		if _, err := decodeRequest([]byte(body)); !errors.Is(err, ErrParse) {
			t.Errorf("%q: expected ErrParse, got %v", body, err)
		}
	}
}

func TestResponse_nullIDIsSerialized(t *testing.T) {
	b, err := json.Marshal(resultResponse(nullID, json.RawMessage(`null`)))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"jsonrpc":"2.0","id":null,"result":null}` {
		t.Errorf("got %s", b)
	}

	b, _ = json.Marshal(errorResponse(json.RawMessage(`3`), methodNotFoundf("Unknown method: x")))
	if string(b) != `{"jsonrpc":"2.0","id":3,"error":{"code":-32601,"message":"Unknown method: x"}}` {
		t.Errorf("got %s", b)
	}
}

func TestRPCErrorFor(t *testing.T) {
	deadline, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-deadline.Done()

	cancelled, stop := context.WithCancel(context.Background())
	stop()

	readErr := fmt.Errorf("%w: read stream: connection reset", upstream.ErrUnavailable)

	cases := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{"method not found", methodNotFoundf("Unknown tool: x"), -32601, "Unknown tool: x"},
		{"invalid params", invalidParamsf("'question' is required"), -32602, "'question' is required"},
		{"bare sentinel", ErrInvalidParams, -32602, "Invalid params"},
		{"upstream", readErr, -32002, "Backend unavailable"},
		{"deadline", withCause(deadline, readErr), -32002, "Backend timeout"},
		{"cancelled", withCause(cancelled, readErr), -32002, "Request cancelled"},
		{"internal", errors.New("boom"), -32603, "Internal error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := rpcErrorFor(tc.err)
			if got.Code != tc.wantCode || got.Message != tc.wantMsg {
				t.Errorf("got %+v, want {%d %q}", got, tc.wantCode, tc.wantMsg)
			}
		})
	}
}

func TestWithCause_liveContextUnchanged(t *testing.T) {
	err := errors.New("x")
	if got := withCause(context.Background(), err); got != err {
		t.Errorf("got %v, want original error", got)
	}
	if withCause(context.Background(), nil) != nil {
		t.Error("nil error should stay nil")
	}
}

func TestOutcome(t *testing.T) {
	cases := map[string]error{
		"ok":                  nil,
		"client_gone":         fmt.Errorf("%w: broken pipe", errClientGone),
		"method_not_found":    methodNotFoundf("x"),
		"invalid_params":      invalidParamsf("x"),
		"backend_unavailable": upstream.ErrUnavailable,
		"internal_error":      errors.New("x"),
	}
	for want, err := range cases {
		if got := outcome(err); got != want {
			t.Errorf("outcome(%v): got %q, want %q", err, got, want)
		}
	}
}
