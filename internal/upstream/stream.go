package upstream

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
)

const doneSentinel = "[DONE]"

var errNoText = errors.New("chunk carries no text")

// Stream is a pull iterator over the text deltas of one completion.
//
//	for s.Next() {
//		buf.WriteString(s.Text())
//	}
//	if err := s.Err(); err != nil { ... }
//
// The consumer drives every read from the upstream connection; a Stream
// that is no longer read holds no goroutine. Close must be called once the
// consumer is done and is safe to call more than once.
type Stream struct {
	transport  Transport
	body       io.ReadCloser
	lines      *bufio.Scanner
	maxLine    int
	extractors []Extractor
	recorder   Recorder
	logger     *zap.Logger

	pending *string // buffered transport: the single delta not yet yielded
	text    string
	err     error
	done    bool
}

func newEventStream(body io.ReadCloser, maxLine int, exts []Extractor, rec Recorder, logger *zap.Logger) *Stream {
	lines := bufio.NewScanner(body)
	lines.Buffer(make([]byte, 0, min(64*1024, maxLine)), maxLine)
	return &Stream{
		transport:  TransportEventStream,
		body:       body,
		lines:      lines,
		maxLine:    maxLine,
		extractors: exts,
		recorder:   rec,
		logger:     logger,
	}
}

func newBufferedStream(text string, rec Recorder) *Stream {
	return &Stream{
		transport: TransportBuffered,
		recorder:  rec,
		pending:   &text,
	}
}

// Transport reports how the upstream delivered this completion.
func (s *Stream) Transport() Transport {
	return s.transport
}

// Streaming reports whether the upstream answered with an event stream, i.e.
// whether more than one delta is possible.
func (s *Stream) Streaming() bool {
	return s.transport == TransportEventStream
}

// Next advances to the next delta. It returns false at the end of the
// answer or on error; Err distinguishes the two.
func (s *Stream) Next() bool {
	if s.done {
		return false
	}

	if s.transport == TransportBuffered {
		if s.pending == nil {
			s.finish(nil)
			return false
		}
		s.text = *s.pending
		s.pending = nil
		s.recorder.Delta()
		return true
	}

	for s.lines.Scan() {
		line := strings.TrimRight(s.lines.Text(), "\r")
		payload, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		payload = strings.TrimSpace(payload)
		if payload == "" {
			continue
		}
		if payload == doneSentinel {
			s.finish(nil)
			return false
		}

		text, err := s.decode(payload)
		if err != nil {
			s.recorder.SkippedLine()
			s.logger.Debug("skipping malformed stream line",
				zap.String("line", line),
				zap.Error(err),
			)
			continue
		}

		s.text = text
		s.recorder.Delta()
		return true
	}

	if err := s.lines.Err(); err != nil {
		// The scanner cannot resync after an oversized line, so it ends the
		// stream rather than being skipped like a malformed one.
		if errors.Is(err, bufio.ErrTooLong) {
			s.logger.Warn("stream line exceeds limit", zap.Int("max_line_bytes", s.maxLine))
		}
		s.finish(fmt.Errorf("%w: read stream: %w", ErrUnavailable, err))
		return false
	}
	// Upstream closed the stream without a [DONE] line; everything it sent
	// has been yielded, so treat it as a normal end.
	s.finish(nil)
	return false
}

// Text returns the delta produced by the last successful call to Next.
func (s *Stream) Text() string {
	return s.text
}

// Err returns the error that ended the stream, if any.
func (s *Stream) Err() error {
	return s.err
}

// Close stops the stream and releases the upstream connection.
func (s *Stream) Close() error {
	s.done = true
	s.pending = nil
	if s.body == nil {
		return nil
	}
	body := s.body
	s.body = nil
	return body.Close()
}

func (s *Stream) decode(payload string) (string, error) {
	var chunk Completion
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return "", err
	}
	text, ok := extract(&chunk, s.extractors)
	if !ok {
		return "", errNoText
	}
	return text, nil
}

func (s *Stream) finish(err error) {
	s.err = err
	s.text = ""
	s.Close() //nolint:errcheck
}
