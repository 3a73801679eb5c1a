package interceptor

import (
	"context"
	"errors"
	"fmt"
)

// Chain executes a sequence of interceptors in order.
type Chain struct {
	interceptors []Interceptor
}

// NewChain creates a new interceptor chain.
func NewChain(interceptors ...Interceptor) *Chain {
	return &Chain{interceptors: interceptors}
}

// Process runs all interceptors in order, passing the output of each to the next.
// A drop stops the chain; the returned error matches ErrDropped.
func (c *Chain) Process(ctx context.Context, req *Request) (*Request, error) {
	current := req
	for i, ic := range c.interceptors {
		result, err := ic.Process(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("interceptor %d: %w", i, err)
		}
		if result == nil {
			return nil, fmt.Errorf("interceptor %d: %w", i, ErrDropped)
		}
		current = result
	}
	return current, nil
}

// ProcessBatch runs the chain over each request in order. The returned slice
// shares the backing array of reqs and holds only the forwarded requests, in
// their original order. Any error other than a drop aborts the batch.
func (c *Chain) ProcessBatch(ctx context.Context, reqs []*Request) ([]*Request, error) {
	kept := reqs[:0]
	for i, req := range reqs {
		result, err := c.Process(ctx, req)
		if errors.Is(err, ErrDropped) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("batch entry %d: %w", i, err)
		}
		kept = append(kept, result)
	}
	// Clear the tail so dropped requests are not retained by the array.
	for i := len(kept); i < len(reqs); i++ {
		reqs[i] = nil
	}
	return kept, nil
}

// Close closes all interceptors in the chain.
func (c *Chain) Close() error {
	var firstErr error
	for _, ic := range c.interceptors {
		if err := ic.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Len returns the number of interceptors in the chain.
func (c *Chain) Len() int {
	return len(c.interceptors)
}
