package source

import "context"

// Event represents a raw event read from a source.
type Event struct {
	Body    []byte
	Headers map[string]string
	// Line is the 1-based input position, for diagnostics.
	Line int64
}

// Source produces events from an external input.
type Source interface {
	// Start begins reading events. Blocks until the input is exhausted or
	// ctx is cancelled. Events are delivered to the handler function.
	Start(ctx context.Context, handler func(context.Context, Event) error) error

	// Close performs graceful shutdown.
	Close() error
}
