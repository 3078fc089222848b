package mcpbridge

import (
	"bytes"
	"encoding/json"
	"fmt"
)

var (
	nullID      = json.RawMessage(`null`)
	emptyParams = json.RawMessage(`{}`)
)

// request is an inbound JSON-RPC 2.0 message.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// response is an outbound JSON-RPC 2.0 message. ID is always present so
// that a null id is echoed as null.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// decodeRequest parses a request body. Anything that is not a JSON object
// with an optional string method is ErrParse; no other schema is enforced.
func decodeRequest(body []byte) (*request, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: body is not a JSON object", ErrParse)
	}

	var req request
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if len(req.ID) == 0 {
		req.ID = nullID
	}
	if len(req.Params) == 0 || bytes.Equal(req.Params, nullID) {
		req.Params = emptyParams
	}
	return &req, nil
}

// decodeParams unmarshals params into v, reporting failures as invalid params.
func decodeParams(params json.RawMessage, v any) error {
	if err := json.Unmarshal(params, v); err != nil {
		return invalidParamsf("Invalid params: %v", err)
	}
	return nil
}

func resultResponse(id json.RawMessage, result any) response {
	return response{JSONRPC: "2.0", ID: id, Result: result}
}

func errorResponse(id json.RawMessage, err error) response {
	return response{JSONRPC: "2.0", ID: id, Error: rpcErrorFor(err)}
}
