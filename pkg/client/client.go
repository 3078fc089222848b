package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Error codes the gateway reports in JSON-RPC error frames.
const (
	CodeMethodNotFound     = -32601
	CodeInvalidParams      = -32602
	CodeInternalError      = -32603
	CodeBackendUnavailable = -32002
)

// AskToolName is the tool invoked by Ask.
const AskToolName = "ask_devops_question"

// ErrMalformedRequest is returned when the gateway rejects a request body
// as invalid JSON (HTTP 400).
var ErrMalformedRequest = errors.New("gateway rejected request body")

// RPCError is a JSON-RPC error returned by the gateway.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// IsBackendUnavailable reports whether err is a gateway-side upstream
// failure: unreachable, timed out, or cancelled.
func IsBackendUnavailable(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == CodeBackendUnavailable
}

// InitializeResult is the result of the initialize handshake.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo"`
}

// Tool describes a tool advertised by tools/list.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// PartialFunc receives the cumulative answer text of each partial frame.
type PartialFunc func(text string)

// Client is the gateway SDK entry point.
type Client struct {
	base       string
	httpClient *http.Client
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client. No timeout is applied by
// default since answers can stream for minutes; bound calls with ctx.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithCAFile trusts the PEM-encoded CA certificate at path, for gateways
// served behind a TLS terminator with a private CA.
func WithCAFile(path string) Option {
	return func(c *Client) error {
		pem, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return fmt.Errorf("no certificates found in %s", path)
		}
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12},
			},
		}
		return nil
	}
}

// New creates a client for the gateway at base, e.g. http://localhost:7373.
func New(base string, opts ...Option) (*Client, error) {
	if base == "" {
		return nil, errors.New("gateway URL is empty")
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Initialize performs the MCP initialize handshake.
func (c *Client) Initialize(ctx context.Context) (*InitializeResult, error) {
	var out InitializeResult
	if err := c.call(ctx, c.nextID(), "initialize", struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTools returns the tools the gateway exposes.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	var out struct {
		Tools []Tool `json:"tools"`
	}
	if err := c.call(ctx, c.nextID(), "tools/list", struct{}{}, &out); err != nil {
		return nil, err
	}
	return out.Tools, nil
}

// Ask sends question to the ask_devops_question tool and returns the final
// answer. onPartial, if non-nil, is called for every partial frame.
func (c *Client) Ask(ctx context.Context, question string, onPartial PartialFunc) (string, error) {
	return c.AskWithID(ctx, c.nextID(), question, onPartial)
}

// AskWithID is Ask with a caller-chosen request id, which Cancel can target.
// id must marshal to a JSON string or number.
func (c *Client) AskWithID(ctx context.Context, id any, question string, onPartial PartialFunc) (string, error) {
	params := map[string]any{
		"name":      AskToolName,
		"arguments": map[string]string{"question": question},
	}

	resp, err := c.post(ctx, id, "tools/call", params)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	for {
		var f frame
		if err := dec.Decode(&f); err != nil {
			if errors.Is(err, io.EOF) {
				return "", errors.New("response ended without a final frame")
			}
			return "", fmt.Errorf("read frame: %w", err)
		}
		if f.Error != nil {
			return "", f.Error
		}

		var result struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(f.Result, &result); err != nil {
			return "", fmt.Errorf("decode result: %w", err)
		}
		switch result.Type {
		case "partial":
			if onPartial != nil {
				onPartial(result.Text)
			}
		case "text":
			return result.Text, nil
		default:
			return "", fmt.Errorf("unexpected result type %q", result.Type)
		}
	}
}

// Cancel asks the gateway to abort the in-flight tools/call with the given
// id. Cancelling an unknown or finished call is not an error.
func (c *Client) Cancel(ctx context.Context, id any) error {
	return c.call(ctx, c.nextID(), "tools/cancel", map[string]any{"id": id}, nil)
}

// ── Internal helpers ─────────────────────────────────────────────────────

type frame struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

func (c *Client) nextID() string {
	return uuid.NewString()
}

// call performs a request that is answered with a single frame and decodes
// its result into out, if non-nil.
func (c *Client) call(ctx context.Context, id any, method string, params, out any) error {
	resp, err := c.post(ctx, id, method, params)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var f frame
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&f); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if f.Error != nil {
		return f.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(f.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// post sends one JSON-RPC request and returns the open response on 200.
func (c *Client) post(ctx context.Context, id any, method string, params any) (*http.Response, error) {
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/mcp", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, application/json-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}

	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
	if resp.StatusCode == http.StatusBadRequest {
		return nil, fmt.Errorf("%w: %s", ErrMalformedRequest, strings.TrimSpace(string(snippet)))
	}
	return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
}
