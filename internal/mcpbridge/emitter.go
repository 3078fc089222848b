package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/jmerrifield20/devops-mcp-gateway/internal/upstream"
)

const (
	frameTypePartial = "partial"
	frameTypeText    = "text"

	// streamContentType marks a body of newline-delimited JSON-RPC frames.
	streamContentType = "application/json-stream"
)

// textResult is the result object of a tools/call frame.
type textResult struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// frameEmitter writes the frames of one tools/call to the client.
//
// The response shape is fixed per call from the upstream transport before
// anything is written: an event-stream upstream produces a stream of
// partial frames followed by one final frame, a buffered upstream produces
// one ordinary JSON document holding the final frame.
type frameEmitter struct {
	ctx context.Context
	w   http.ResponseWriter
	id  json.RawMessage
}

func newFrameEmitter(ctx context.Context, w http.ResponseWriter, id json.RawMessage) *frameEmitter {
	return &frameEmitter{ctx: ctx, w: w, id: id}
}

// emit drains s into frames and returns the error that ended the call.
// The caller owns s and must close it.
func (e *frameEmitter) emit(s *upstream.Stream) error {
	if s.Streaming() {
		return e.stream(s)
	}
	return e.single(s)
}

func (e *frameEmitter) stream(s *upstream.Stream) error {
	h := e.w.Header()
	h.Set("Content-Type", streamContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	e.w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(e.w)
	enc.SetEscapeHTML(false)

	var buf strings.Builder
	for s.Next() {
		buf.WriteString(s.Text())
		frame := resultResponse(e.id, textResult{Type: frameTypePartial, Text: buf.String()})
		if err := e.writeFrame(enc, frame); err != nil {
			return err
		}
	}

	if err := withCause(e.ctx, s.Err()); err != nil {
		// Frames are already on the wire; an error frame terminates the call
		// in place of the final frame.
		if werr := e.writeFrame(enc, errorResponse(e.id, err)); werr != nil {
			return fmt.Errorf("%w (after %w)", werr, err)
		}
		return err
	}

	return e.writeFrame(enc, resultResponse(e.id, textResult{Type: frameTypeText, Text: buf.String()}))
}

func (e *frameEmitter) single(s *upstream.Stream) error {
	var buf strings.Builder
	for s.Next() {
		buf.WriteString(s.Text())
	}
	if err := withCause(e.ctx, s.Err()); err != nil {
		e.writeDocument(errorResponse(e.id, err)) //nolint:errcheck
		return err
	}
	return e.writeDocument(resultResponse(e.id, textResult{Type: frameTypeText, Text: buf.String()}))
}

func (e *frameEmitter) writeFrame(enc *json.Encoder, frame response) error {
	if err := enc.Encode(frame); err != nil {
		return fmt.Errorf("%w: %w", errClientGone, err)
	}
	if f, ok := e.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

func (e *frameEmitter) writeDocument(resp response) error {
	e.w.Header().Set("Content-Type", "application/json; charset=utf-8")
	e.w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(e.w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(resp); err != nil {
		return fmt.Errorf("%w: %w", errClientGone, err)
	}
	return nil
}
