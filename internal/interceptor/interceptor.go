package interceptor

import (
	"context"
	"errors"
)

// ErrDropped is returned by an interceptor that decided the event must not
// be forwarded. It is an outcome, not a failure: hosts exclude the event and
// move on.
var ErrDropped = errors.New("event dropped by interceptor")

// Request is one event passing through the interceptor chain.
type Request struct {
	// Payload is the raw event body.
	Payload []byte
	// Headers are key-value metadata.
	Headers map[string]string
}

// Header returns the value stored under key and whether it was present.
func (r *Request) Header(key string) (string, bool) {
	if r.Headers == nil {
		return "", false
	}
	v, ok := r.Headers[key]
	return v, ok
}

// SetHeader stores value under key, allocating the map if needed.
func (r *Request) SetHeader(key, value string) {
	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	r.Headers[key] = value
}

// Interceptor processes events in the interceptor chain.
type Interceptor interface {
	// Process inspects a request and returns the (possibly modified) request.
	// Returning ErrDropped tells the caller not to forward the event.
	Process(ctx context.Context, req *Request) (*Request, error)
	// Close performs cleanup.
	Close() error
}
