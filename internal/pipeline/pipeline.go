package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/goibibo/beatshim/internal/interceptor"
	"github.com/goibibo/beatshim/internal/observability"
	"github.com/goibibo/beatshim/internal/sink"
	"github.com/goibibo/beatshim/internal/source"
	"github.com/goibibo/beatshim/internal/tracing"
)

// Processor applies a flow's interceptors to one event. Drops are reported
// as interceptor.ErrDropped.
type Processor interface {
	Process(ctx context.Context, flow string, req *interceptor.Request) (*interceptor.Request, error)
}

// Config holds pipeline configuration.
type Config struct {
	FlowName        string
	PropagateErrors bool // When true, return processing errors to the source handler.
	// MaxRate caps events per second. Zero means unlimited.
	MaxRate float64
	// Burst is the limiter burst size. Defaults to 1 when MaxRate is set.
	Burst int
}

// Stats counts events handled by a pipeline.
type Stats struct {
	Forwarded int64
	Dropped   int64
	Errors    int64
}

// Pipeline orchestrates the source → interceptors → sink flow.
type Pipeline struct {
	config    Config
	source    source.Source
	processor Processor
	sink      sink.Sink
	metrics   *observability.Metrics
	tracer    trace.Tracer
	logger    *slog.Logger
	limiter   *rate.Limiter

	forwarded atomic.Int64
	dropped   atomic.Int64
	errored   atomic.Int64
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics records event counts and phase durations.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithTracer starts a span per event.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// WithLogger sets the pipeline logger. Entries carry the flow name and the
// trace identifiers of the event being processed.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = observability.WithTraceContext(l)
		}
	}
}

// New creates a new Pipeline.
func New(cfg Config, src source.Source, proc Processor, sk sink.Sink, opts ...Option) *Pipeline {
	p := &Pipeline{
		config:    cfg,
		source:    src,
		processor: proc,
		sink:      sk,
		logger:    observability.WithTraceContext(slog.Default()),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("flow", cfg.FlowName)
	if cfg.MaxRate > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.MaxRate), burst)
	}
	return p
}

// Run starts the pipeline. Blocks until the source is exhausted or ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.InfoContext(ctx, "starting pipeline")

	err := p.source.Start(ctx, func(ctx context.Context, evt source.Event) error {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		if err := p.processEvent(ctx, evt); err != nil {
			p.errored.Add(1)
			p.record(observability.StatusError)
			p.logger.ErrorContext(ctx, "event processing failed",
				"line", evt.Line,
				"error", err,
			)
			if p.config.PropagateErrors {
				return err
			}
		}
		return nil
	})

	stats := p.Stats()
	p.logger.InfoContext(ctx, "pipeline stopped",
		"forwarded", stats.Forwarded,
		"dropped", stats.Dropped,
		"errors", stats.Errors,
	)
	return err
}

func (p *Pipeline) processEvent(ctx context.Context, evt source.Event) error {
	ctx = tracing.Extract(ctx, evt.Headers)
	ctx, span := tracing.StartSpan(ctx, p.tracer, tracing.SpanEventReceived,
		trace.WithAttributes(
			tracing.FlowAttr(p.config.FlowName),
			tracing.PayloadSizeAttr(len(evt.Body)),
		),
	)
	defer span.End()

	req := &interceptor.Request{
		Payload: evt.Body,
		Headers: evt.Headers,
	}

	start := time.Now()
	out, err := p.processor.Process(ctx, p.config.FlowName, req)
	p.observe(observability.PhaseIntercept, start)
	if errors.Is(err, interceptor.ErrDropped) {
		p.dropped.Add(1)
		p.record(observability.StatusDropped)
		span.SetAttributes(tracing.OutcomeAttr(observability.StatusDropped))
		tracing.SetSpanOKWithMessage(span, "dropped")
		p.logger.DebugContext(ctx, "event dropped", "line", evt.Line)
		return nil
	}
	if err != nil {
		tracing.SetSpanError(span, err)
		return fmt.Errorf("intercept: %w", err)
	}

	ctx, deliverSpan := tracing.StartSpan(ctx, p.tracer, tracing.SpanDeliver,
		trace.WithAttributes(tracing.FlowAttr(p.config.FlowName)))
	start = time.Now()
	err = p.sink.Deliver(ctx, out.Payload, out.Headers)
	p.observe(observability.PhaseDeliver, start)
	if err != nil {
		tracing.SetSpanError(deliverSpan, err)
		deliverSpan.End()
		tracing.SetSpanError(span, err)
		return fmt.Errorf("deliver: %w", err)
	}
	deliverSpan.End()

	p.forwarded.Add(1)
	p.record(observability.StatusForwarded)
	span.SetAttributes(tracing.OutcomeAttr(observability.StatusForwarded))
	tracing.SetSpanOK(span)
	return nil
}

func (p *Pipeline) record(status string) {
	if p.metrics != nil {
		p.metrics.RecordEvent(p.config.FlowName, status)
	}
}

func (p *Pipeline) observe(phase string, start time.Time) {
	if p.metrics != nil {
		p.metrics.ObservePhase(p.config.FlowName, phase, start)
	}
}

// Stats returns the counts so far.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Forwarded: p.forwarded.Load(),
		Dropped:   p.dropped.Load(),
		Errors:    p.errored.Load(),
	}
}

// Shutdown performs graceful shutdown of the pipeline components.
// Closes source then sink. Returns all errors joined. The processor is owned
// by the caller and left open.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.logger.InfoContext(ctx, "shutting down pipeline")

	var errs []error

	if err := p.source.Close(); err != nil {
		p.logger.ErrorContext(ctx, "source close error", "error", err)
		errs = append(errs, fmt.Errorf("source close: %w", err))
	}
	if err := p.sink.Close(); err != nil {
		p.logger.ErrorContext(ctx, "sink close error", "error", err)
		errs = append(errs, fmt.Errorf("sink close: %w", err))
	}

	p.logger.InfoContext(ctx, "pipeline shutdown complete")
	return errors.Join(errs...)
}
