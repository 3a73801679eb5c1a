// Package registry builds and holds one interceptor chain per configured flow.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/goibibo/beatshim/internal/config"
	"github.com/goibibo/beatshim/internal/filebeat"
	"github.com/goibibo/beatshim/internal/interceptor"
	"github.com/goibibo/beatshim/internal/tracing"
)

// MetricsRecorder records interceptor metrics.
type MetricsRecorder interface {
	RecordInterceptorOutcome(interceptor, outcome string)
	ObserveInterceptor(interceptor string, start time.Time)
}

// Registry manages interceptor chains per flow.
type Registry struct {
	mu      sync.RWMutex
	chains  map[string]*interceptor.Chain // flow name -> chain
	metrics MetricsRecorder
	tracer  trace.Tracer
	logger  *slog.Logger
}

// NewRegistry creates a new interceptor registry. metrics and tracer may be nil.
func NewRegistry(metrics MetricsRecorder, tracer trace.Tracer, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		chains:  make(map[string]*interceptor.Chain),
		metrics: metrics,
		tracer:  tracer,
		logger:  logger,
	}
}

// Load builds chains for every flow and swaps them in. If any flow fails to
// build, the previous chains stay in place.
func (r *Registry) Load(flows map[string]*config.FlowDefinition) error {
	built := make(map[string]*interceptor.Chain, len(flows))
	for name, flow := range flows {
		chain, err := r.buildChain(flow)
		if err != nil {
			for _, c := range built {
				_ = c.Close()
			}
			return fmt.Errorf("flow %q: %w", name, err)
		}
		built[name] = chain
		r.logger.Info("loaded interceptor chain for flow", "flow", name, "interceptors", chain.Len())
	}

	r.mu.Lock()
	old := r.chains
	r.chains = built
	r.mu.Unlock()

	for name, c := range old {
		if err := c.Close(); err != nil {
			r.logger.Warn("failed to close interceptor chain", "flow", name, "error", err)
		}
	}
	return nil
}

func (r *Registry) buildChain(flow *config.FlowDefinition) (*interceptor.Chain, error) {
	var interceptors []interceptor.Interceptor
	for i, ic := range flow.Interceptors {
		inner, err := r.createInterceptor(flow.Name, ic, i)
		if err != nil {
			for _, built := range interceptors {
				_ = built.Close()
			}
			return nil, err
		}
		interceptors = append(interceptors, &InterceptorWrapper{
			Interceptor: inner,
			name:        ic.Type,
			flow:        flow.Name,
			metrics:     r.metrics,
			tracer:      r.tracer,
		})
	}
	return interceptor.NewChain(interceptors...), nil
}

// createInterceptor creates an interceptor from configuration.
func (r *Registry) createInterceptor(flow string, ic config.InterceptorConfig, index int) (interceptor.Interceptor, error) {
	switch ic.Type {
	case filebeat.Type:
		preserve, err := config.GetBool(ic.Config, "preserveExisting", false)
		if err != nil {
			return nil, fmt.Errorf("interceptor[%d]: preserveExisting: %w", index, err)
		}
		opts := []filebeat.Option{
			filebeat.WithLogger(r.logger.With("flow", flow)),
			filebeat.WithName(ic.Type),
		}
		if r.metrics != nil {
			opts = append(opts, filebeat.WithRecorder(r.metrics))
		}
		return filebeat.New(filebeat.Config{PreserveExisting: preserve}, opts...), nil
	default:
		return nil, fmt.Errorf("interceptor[%d]: unknown type %q", index, ic.Type)
	}
}

// GetChain returns the chain for a flow, or nil if the flow is not loaded.
func (r *Registry) GetChain(flow string) *interceptor.Chain {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.chains[flow]
}

// Flows returns the loaded flow names in sorted order.
func (r *Registry) Flows() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.chains))
	for name := range r.chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Process runs the chain for flow. Events for unknown flows are returned
// unchanged. Drops surface as interceptor.ErrDropped.
func (r *Registry) Process(ctx context.Context, flow string, req *interceptor.Request) (*interceptor.Request, error) {
	chain := r.GetChain(flow)
	if chain == nil || chain.Len() == 0 {
		return req, nil
	}
	return chain.Process(ctx, req)
}

// Close closes all chains.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, c := range r.chains {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.chains = make(map[string]*interceptor.Chain)
	return firstErr
}

// InterceptorWrapper wraps an interceptor with a span and a duration metric.
type InterceptorWrapper struct {
	interceptor.Interceptor
	name    string
	flow    string
	metrics MetricsRecorder
	tracer  trace.Tracer
}

// Process invokes the wrapped interceptor.
func (w *InterceptorWrapper) Process(ctx context.Context, req *interceptor.Request) (*interceptor.Request, error) {
	size := 0
	if req != nil {
		size = len(req.Payload)
	}
	ctx, span := tracing.StartSpan(ctx, w.tracer, tracing.SpanIntercept,
		trace.WithAttributes(
			tracing.FlowAttr(w.flow),
			tracing.InterceptorAttr(w.name),
			tracing.PayloadSizeAttr(size),
		),
	)
	defer span.End()

	start := time.Now()
	result, err := w.Interceptor.Process(ctx, req)
	if w.metrics != nil {
		w.metrics.ObserveInterceptor(w.name, start)
	}

	switch {
	case errors.Is(err, interceptor.ErrDropped):
		span.SetAttributes(tracing.OutcomeAttr("dropped"))
		tracing.SetSpanOKWithMessage(span, "dropped")
	case err != nil:
		tracing.SetSpanError(span, err)
	default:
		tracing.SetSpanOK(span)
	}
	return result, err
}

// Name returns the interceptor name used for metrics.
func (w *InterceptorWrapper) Name() string {
	return w.name
}
