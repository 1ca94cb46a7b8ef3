package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// FrameReader yields one decoded JSON-RPC message per call until EOF.
type FrameReader interface {
	ReadMessage() (json.RawMessage, error)
}

// FrameWriter writes one JSON-RPC message per call. Writes are atomic per
// message.
type FrameWriter interface {
	WriteMessage(v any) error
}

// Stream frames a bidirectional byte channel into bare JSON messages: one
// top-level JSON value per message, inter-message whitespace skipped. The
// read and write halves are independent. Stream satisfies FrameReader and
// FrameWriter, but Client is built on a concrete *Stream, so it only
// speaks this bare framing.
type Stream struct {
	dec *json.Decoder

	writeMu sync.Mutex
	enc     *json.Encoder

	closeMu sync.Mutex
	closed  bool
	r       io.Reader
	w       io.Writer
}

// NewStream wraps the given reader/writer pair (typically the child
// process's stdout/stdin).
func NewStream(r io.Reader, w io.Writer) *Stream {
	return &Stream{
		dec: json.NewDecoder(r),
		enc: json.NewEncoder(w),
		r:   r,
		w:   w,
	}
}

// ReadMessage returns the next JSON value from the stream. It returns
// io.EOF at end of input, and an error wrapping ErrFraming on malformed
// input — after which the stream is closed and no further reads succeed.
func (s *Stream) ReadMessage() (json.RawMessage, error) {
	var raw json.RawMessage
	if err := s.dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
			return nil, io.EOF
		}
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			s.Close()
			return nil, fmt.Errorf("%w: %v", ErrFraming, err)
		}
		return nil, fmt.Errorf("jsonrpc: read frame: %w", err)
	}
	return raw, nil
}

// WriteMessage encodes v as a single JSON value followed by a newline.
// Concurrent writers are serialised; a message is never interleaved with
// another.
func (s *Stream) WriteMessage(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.enc.Encode(v); err != nil {
		return fmt.Errorf("jsonrpc: write frame: %w", err)
	}
	return nil
}

// Close closes whichever halves of the underlying pair are closable. It
// is safe to call more than once.
func (s *Stream) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var firstErr error
	if c, ok := s.r.(io.Closer); ok {
		if err := c.Close(); err != nil {
			firstErr = err
		}
	}
	if c, ok := s.w.(io.Closer); ok {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
