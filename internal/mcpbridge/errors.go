package mcpbridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmerrifield20/devops-mcp-gateway/internal/upstream"
)

// Errors surfaced to clients. ErrParse is reported as HTTP 400; the rest are
// recovered into JSON-RPC error frames.
var (
	ErrParse          = errors.New("parse error")
	ErrMethodNotFound = errors.New("method not found")
	ErrInvalidParams  = errors.New("invalid params")
)

// JSON-RPC error codes used by the gateway.
const (
	codeMethodNotFound     = -32601
	codeInvalidParams      = -32602
	codeInternalError      = -32603
	codeBackendUnavailable = -32002
)

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// clientError is an error whose message is safe to show to the client.
type clientError struct {
	kind error
	msg  string
}

func (e *clientError) Error() string { return e.msg }
func (e *clientError) Unwrap() error { return e.kind }

func methodNotFoundf(format string, a ...any) error {
	return &clientError{kind: ErrMethodNotFound, msg: fmt.Sprintf(format, a...)}
}

func invalidParamsf(format string, a ...any) error {
	return &clientError{kind: ErrInvalidParams, msg: fmt.Sprintf(format, a...)}
}

// rpcErrorFor maps an error to its wire representation. Only messages the
// gateway wrote itself reach the client; upstream and internal detail stays
// in the logs.
func rpcErrorFor(err error) *rpcError {
	var ce *clientError
	switch {
	case errors.Is(err, ErrMethodNotFound):
		if errors.As(err, &ce) {
			return &rpcError{Code: codeMethodNotFound, Message: ce.msg}
		}
		return &rpcError{Code: codeMethodNotFound, Message: "Method not found"}
	case errors.Is(err, ErrInvalidParams):
		if errors.As(err, &ce) {
			return &rpcError{Code: codeInvalidParams, Message: ce.msg}
		}
		return &rpcError{Code: codeInvalidParams, Message: "Invalid params"}
	case errors.Is(err, context.DeadlineExceeded):
		return &rpcError{Code: codeBackendUnavailable, Message: "Backend timeout"}
	case errors.Is(err, context.Canceled):
		return &rpcError{Code: codeBackendUnavailable, Message: "Request cancelled"}
	case errors.Is(err, upstream.ErrUnavailable):
		return &rpcError{Code: codeBackendUnavailable, Message: "Backend unavailable"}
	default:
		return &rpcError{Code: codeInternalError, Message: "Internal error"}
	}
}

// outcome is the metrics label for a call result.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if errors.Is(err, errClientGone) {
		return "client_gone"
	}
	switch rpcErrorFor(err).Code {
	case codeMethodNotFound:
		return "method_not_found"
	case codeInvalidParams:
		return "invalid_params"
	case codeBackendUnavailable:
		return "backend_unavailable"
	default:
		return "internal_error"
	}
}

// errClientGone reports that the client stopped reading the response.
var errClientGone = errors.New("client went away")

// withCause attaches the call context's error so that deadline expiry and
// cancellation are reported as such rather than as a generic read failure.
func withCause(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	return err
}
