package sink

import "context"

// Sink delivers processed events to a destination.
type Sink interface {
	// Deliver writes one processed event. Returns nil on success.
	Deliver(ctx context.Context, event []byte, headers map[string]string) error

	// Close flushes pending output and performs graceful shutdown.
	Close() error
}
