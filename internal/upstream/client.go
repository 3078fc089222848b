// Package upstream talks to the OpenAI-compatible text-generation service
// behind the gateway.
//
// The service may honour a streaming request with a text/event-stream
// response or ignore it and answer with one buffered JSON document. Client.Open
// detects which transport was actually used and returns a Stream that yields
// the answer as an ordered sequence of text deltas either way.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrUnavailable is returned when the upstream service cannot be reached,
// answers with a non-success status, or sends a response that cannot be read.
var ErrUnavailable = errors.New("upstream unavailable")

const (
	completionsPath = "/v1/chat/completions"

	// maxBufferedBytes bounds a non-streamed completion document.
	maxBufferedBytes = 8 << 20

	// DefaultMaxLineBytes bounds a single event-stream line.
	DefaultMaxLineBytes = 1 << 20
)

// Transport identifies how the upstream delivered a completion.
type Transport string

const (
	TransportEventStream Transport = "event-stream"
	TransportBuffered    Transport = "buffered"
)

// Message is one entry of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of POST /v1/chat/completions.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream"`
}

// Recorder receives transport-level events. All methods must be safe for
// concurrent use.
type Recorder interface {
	Transport(t Transport)
	Delta()
	SkippedLine()
}

type nopRecorder struct{}

func (nopRecorder) Transport(Transport) {}
func (nopRecorder) Delta()              {}
func (nopRecorder) SkippedLine()        {}

// Config holds upstream client configuration.
type Config struct {
	BaseURL      string        // e.g. "http://localhost:8000"
	MaxIdleConns int           // default 32
	DialTimeout  time.Duration // default 10s
	MaxLineBytes int           // default DefaultMaxLineBytes
}

// Client is a pooled HTTP client for the upstream service. It holds no
// per-request state and is safe for concurrent use.
type Client struct {
	baseURL    string
	maxLine    int
	httpClient *http.Client
	extractors []Extractor
	recorder   Recorder
	logger     *zap.Logger
}

// New creates an upstream Client.
//
// No overall timeout is set on the underlying http.Client: streamed answers
// can legitimately run for minutes, so callers bound each call with a context
// deadline instead.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 32
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = DefaultMaxLineBytes
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConns,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 0,
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		maxLine:    cfg.MaxLineBytes,
		httpClient: &http.Client{Transport: transport},
		extractors: DefaultExtractors(),
		recorder:   nopRecorder{},
		logger:     logger,
	}
}

// SetRecorder configures the transport event recorder.
func (c *Client) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	c.recorder = r
}

// SetExtractors replaces the ordered list of delta extraction strategies.
func (c *Client) SetExtractors(exts ...Extractor) {
	c.extractors = exts
}

// Close releases idle pooled connections. In-flight streams are unaffected.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// Open issues the completion request and returns a Stream over its answer.
//
// The request is bound to ctx for its whole lifetime: cancelling ctx aborts
// the connection, including while the returned Stream is being read.
func (c *Client) Open(ctx context.Context, req ChatRequest) (*Stream, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream, application/json")
	} else {
		httpReq.Header.Set("Accept", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn("upstream request failed",
			zap.String("url", httpReq.URL.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		c.logger.Warn("upstream returned error status",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(snippet)),
		)
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	if req.Stream && isEventStream(resp.Header.Get("Content-Type")) {
		c.recorder.Transport(TransportEventStream)
		return newEventStream(resp.Body, c.maxLine, c.extractors, c.recorder, c.logger), nil
	}

	if req.Stream {
		c.logger.Debug("upstream ignored stream preference, reading buffered response",
			zap.String("content_type", resp.Header.Get("Content-Type")),
		)
	}
	c.recorder.Transport(TransportBuffered)

	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBufferedBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrUnavailable, err)
	}
	text, err := decodeBuffered(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return newBufferedStream(text, c.recorder), nil
}

// decodeBuffered extracts the answer from a complete completion document.
func decodeBuffered(raw []byte) (string, error) {
	var doc Completion
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(doc.Choices) == 0 || doc.Choices[0].Message == nil {
		return "", errors.New("malformed completion: no choices[0].message")
	}
	return doc.Choices[0].Message.Content, nil
}

// isEventStream reports whether a Content-Type header declares an SSE body.
func isEventStream(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "text/event-stream")
	}
	return mediaType == "text/event-stream"
}
