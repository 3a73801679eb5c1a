// Package stream implements a sink that writes one event per line to an
// io.Writer.
package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/goibibo/beatshim/internal/envelope"
)

// ErrClosed is returned by Deliver after Close.
var ErrClosed = errors.New("stream sink closed")

// Config holds stream sink configuration.
type Config struct {
	// Envelope writes each event as an envelope line carrying its headers.
	// Otherwise only the body is written.
	Envelope bool
	// FlushEach flushes after every event, for interactive output.
	FlushEach bool
}

// Sink writes events to w. Safe for concurrent use.
type Sink struct {
	mu     sync.Mutex
	w      io.Writer
	buf    *bufio.Writer
	cfg    Config
	closed bool
}

// NewSink creates a stream sink. If w is an io.Closer, Close closes it after
// flushing.
func NewSink(w io.Writer, cfg Config) (*Sink, error) {
	if w == nil {
		return nil, fmt.Errorf("stream sink writer is required")
	}
	return &Sink{w: w, buf: bufio.NewWriter(w), cfg: cfg}, nil
}

// Deliver writes the event followed by a newline.
func (s *Sink) Deliver(_ context.Context, event []byte, headers map[string]string) error {
	line := event
	if s.cfg.Envelope {
		encoded, err := envelope.Encode(event, headers)
		if err != nil {
			return err
		}
		line = encoded
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, err := s.buf.Write(line); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if err := s.buf.WriteByte('\n'); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if s.cfg.FlushEach {
		if err := s.buf.Flush(); err != nil {
			return fmt.Errorf("flush: %w", err)
		}
	}
	return nil
}

// Flush writes any buffered events to the underlying writer.
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Flush()
}

// Close flushes buffered output and closes the writer when it is closable.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if err := s.buf.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("flush: %w", err))
	}
	if c, ok := s.w.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close writer: %w", err))
		}
	}
	return errors.Join(errs...)
}
