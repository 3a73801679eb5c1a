// Package filebeat converts Filebeat JSON events into the tab-delimited line
// format consumed by the tailer, stamping each converted event with a
// millisecond timestamp header.
//
// Payloads that do not start with '{' are assumed to be in tailer shape
// already and pass through untouched. A payload that starts with '{' but does
// not decode is forwarded unchanged; a record whose @timestamp cannot be
// parsed is dropped.
package filebeat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/goibibo/beatshim/internal/interceptor"
)

// TimestampHeader is the header key holding the event time in epoch millis.
const TimestampHeader = "timestamp"

// Type is the interceptor type name used in flow definitions.
const Type = "filebeat"

// errPanic marks a recovered panic.
var errPanic = errors.New("filebeat interceptor panic")

// Outcome is the result of intercepting one event.
type Outcome string

const (
	// OutcomePassthrough: payload was not record-shaped and was left alone.
	OutcomePassthrough Outcome = "passthrough"
	// OutcomeConverted: payload rewritten and timestamp header reconciled.
	OutcomeConverted Outcome = "converted"
	// OutcomeMalformed: payload did not decode; forwarded unchanged.
	OutcomeMalformed Outcome = "malformed"
	// OutcomeDropped: @timestamp did not parse; event must not be forwarded.
	OutcomeDropped Outcome = "dropped"
	// OutcomeFailed: any other failure; forwarded unchanged.
	OutcomeFailed Outcome = "failed"
)

// Recorder receives one outcome per intercepted event.
type Recorder interface {
	RecordInterceptorOutcome(interceptor, outcome string)
}

// Config holds the interceptor options.
type Config struct {
	// PreserveExisting keeps a timestamp header that is already present
	// instead of overwriting it with the value derived from @timestamp.
	PreserveExisting bool `yaml:"preserveExisting"`
}

// Interceptor rewrites Filebeat events in place. It holds no mutable state
// and is safe for concurrent use on distinct events.
type Interceptor struct {
	cfg      Config
	name     string
	logger   *slog.Logger
	recorder Recorder
}

// Option configures an Interceptor.
type Option func(*Interceptor)

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Interceptor) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithRecorder reports every outcome to r.
func WithRecorder(r Recorder) Option {
	return func(i *Interceptor) {
		i.recorder = r
	}
}

// WithName overrides the name reported to the Recorder.
func WithName(name string) Option {
	return func(i *Interceptor) {
		if name != "" {
			i.name = name
		}
	}
}

// New creates an Interceptor.
func New(cfg Config, opts ...Option) *Interceptor {
	i := &Interceptor{
		cfg:    cfg,
		name:   Type,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Config returns the configuration the interceptor was built with.
func (i *Interceptor) Config() Config {
	return i.cfg
}

// Intercept converts req in place and returns it, or returns nil when the
// event must be dropped. It never panics.
func (i *Interceptor) Intercept(req *interceptor.Request) (out *interceptor.Request) {
	decided := false
	defer func() {
		if r := recover(); r != nil {
			i.logger.Warn("recovered filebeat interceptor panic", "interceptor", i.name, "error", fmt.Errorf("%w: %v", errPanic, r))
			if !decided {
				out = req
			}
		}
	}()

	out, outcome, err := i.intercept(req)
	decided = true
	i.report(req, outcome, err)
	return out
}

// InterceptBatch applies Intercept to each event in order and returns the
// events to forward. Dropped events are removed, so the result can be
// shorter than reqs. It shares the backing array of reqs, whose entries past
// the returned length are set to nil. Callers must use the returned slice
// rather than reqs.
func (i *Interceptor) InterceptBatch(reqs []*interceptor.Request) []*interceptor.Request {
	kept := reqs[:0]
	for _, req := range reqs {
		if out := i.Intercept(req); out != nil {
			kept = append(kept, out)
		}
	}
	for n := len(kept); n < len(reqs); n++ {
		reqs[n] = nil
	}
	return kept
}

// Process implements interceptor.Interceptor. Drops are reported as
// interceptor.ErrDropped; every other outcome forwards the event.
func (i *Interceptor) Process(_ context.Context, req *interceptor.Request) (*interceptor.Request, error) {
	out := i.Intercept(req)
	if out == nil {
		return nil, interceptor.ErrDropped
	}
	return out, nil
}

// Close implements interceptor.Interceptor. There is nothing to release.
func (i *Interceptor) Close() error {
	return nil
}

func (i *Interceptor) intercept(req *interceptor.Request) (*interceptor.Request, Outcome, error) {
	if req == nil {
		return nil, OutcomeFailed, fmt.Errorf("%w: nil request", ErrIncompleteRecord)
	}

	if !IsRecordShaped(req.Payload) {
		return req, OutcomePassthrough, nil
	}

	rec, err := Decode(req.Payload)
	if errors.Is(err, ErrMalformedRecord) {
		return req, OutcomeMalformed, err
	}
	if err != nil {
		return req, OutcomeFailed, err
	}

	// Parse before mutating so a dropped event is never half rewritten.
	millis, err := rec.TimestampMillis()
	if err != nil {
		return nil, OutcomeDropped, err
	}

	req.Payload = []byte(rec.Line())
	if _, exists := req.Header(TimestampHeader); !exists || !i.cfg.PreserveExisting {
		req.SetHeader(TimestampHeader, strconv.FormatInt(millis, 10))
	}
	return req, OutcomeConverted, nil
}

func (i *Interceptor) report(req *interceptor.Request, outcome Outcome, err error) {
	if i.recorder != nil {
		i.recorder.RecordInterceptorOutcome(i.name, string(outcome))
	}

	switch outcome {
	case OutcomePassthrough:
		i.logger.Debug("event not in filebeat shape, passing through", "interceptor", i.name)
	case OutcomeConverted:
		i.logger.Debug("filebeat event converted",
			"interceptor", i.name,
			"payload", string(req.Payload),
			"headers", req.Headers,
		)
	case OutcomeMalformed:
		i.logger.Warn("could not parse filebeat JSON, forwarding unchanged", "interceptor", i.name, "error", err)
	case OutcomeDropped:
		i.logger.Warn("could not parse filebeat timestamp, dropping event", "interceptor", i.name, "error", err)
	default:
		i.logger.Warn("unhandled filebeat interceptor error, forwarding unchanged", "interceptor", i.name, "error", err)
	}
}
