// Package lines implements a source that reads newline-delimited events from
// an io.Reader, such as a log file or stdin.
package lines

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/goibibo/beatshim/internal/envelope"
	"github.com/goibibo/beatshim/internal/source"
)

// DefaultMaxLineBytes bounds a single input line.
const DefaultMaxLineBytes = 1 << 20

// Config holds line source configuration.
type Config struct {
	// Envelope reads each line as an envelope.Envelope instead of a bare body.
	Envelope bool
	// MaxLineBytes bounds a line. Zero means DefaultMaxLineBytes.
	MaxLineBytes int
}

// Source reads one event per line.
type Source struct {
	r      io.Reader
	cfg    Config
	logger *slog.Logger
}

// NewSource creates a line source over r. If r is an io.Closer, Close closes it.
func NewSource(r io.Reader, cfg Config, logger *slog.Logger) (*Source, error) {
	if r == nil {
		return nil, fmt.Errorf("line source reader is required")
	}
	if cfg.MaxLineBytes < 0 {
		return nil, fmt.Errorf("max line bytes must not be negative, got %d", cfg.MaxLineBytes)
	}
	if cfg.MaxLineBytes == 0 {
		cfg.MaxLineBytes = DefaultMaxLineBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{r: r, cfg: cfg, logger: logger}, nil
}

// Start reads lines until EOF or until ctx is cancelled, dispatching each to
// handler. A trailing '\r' is stripped. Undecodable envelope lines are logged
// and skipped. A handler error stops the source and is returned.
//
// Reads happen on a separate goroutine so an idle reader does not hold Start
// past cancellation. That goroutine exits once its pending Read returns.
func (s *Source) Start(ctx context.Context, handler func(context.Context, source.Event) error) error {
	lines := make(chan []byte)
	errc := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)
	go s.scan(lines, errc, stop)

	var line int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var raw []byte
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r, ok := <-lines:
			if !ok {
				if err := <-errc; err != nil {
					return fmt.Errorf("read input after line %d: %w", line, err)
				}
				s.logger.Debug("line source exhausted", "lines", line)
				return nil
			}
			raw = r
		}
		line++

		evt, err := s.decode(raw)
		if err != nil {
			s.logger.Warn("skipping input line", "line", line, "error", err)
			continue
		}
		evt.Line = line

		if err := handler(ctx, evt); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
}

// scan feeds lines until EOF, a read error or stop. It sends exactly one
// value on errc before closing lines.
func (s *Source) scan(lines chan<- []byte, errc chan<- error, stop <-chan struct{}) {
	defer close(lines)

	scanner := bufio.NewScanner(s.r)
	scanner.Buffer(make([]byte, 0, min(64*1024, s.cfg.MaxLineBytes)), s.cfg.MaxLineBytes)
	for scanner.Scan() {
		// The scanner reuses its buffer.
		raw := bytes.Clone(scanner.Bytes())
		select {
		case lines <- raw:
		case <-stop:
			errc <- nil
			return
		}
	}
	errc <- scanner.Err()
}

func (s *Source) decode(raw []byte) (source.Event, error) {
	if n := len(raw); n > 0 && raw[n-1] == '\r' {
		raw = raw[:n-1]
	}

	if !s.cfg.Envelope {
		return source.Event{Body: raw}, nil
	}

	env, err := envelope.Decode(raw)
	if err != nil {
		return source.Event{}, err
	}
	return source.Event{Body: []byte(env.Body), Headers: env.Headers}, nil
}

// Close closes the underlying reader when it is closable.
func (s *Source) Close() error {
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
