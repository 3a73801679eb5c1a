package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/goibibo/beatshim/internal/config"
	"github.com/goibibo/beatshim/internal/interceptor"
)

const (
	sampleRecord = `{"@timestamp":"2016-07-09T01:01:01.001Z","beat":{"hostname":"nmlgodataplat03","name":"amigo-www"},"message":"128","type":"log"}`
	sampleLine   = "amigo-www\t128\tnmlgodataplat03"
)

type mockMetrics struct {
	mu        sync.Mutex
	outcomes  []string
	durations []string
}

func (m *mockMetrics) RecordInterceptorOutcome(name, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, name+"/"+outcome)
}

func (m *mockMetrics) ObserveInterceptor(name string, _ time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations = append(m.durations, name)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func filebeatFlow(name string, cfg map[string]interface{}) *config.FlowDefinition {
	return &config.FlowDefinition{
		Name:         name,
		Interceptors: []config.InterceptorConfig{{Type: "filebeat", Config: cfg}},
	}
}

func TestRegistry_LoadAndProcess(t *testing.T) {
	metrics := &mockMetrics{}
	r := NewRegistry(metrics, nil, quietLogger())
	defer func() { _ = r.Close() }()

	if err := r.Load(map[string]*config.FlowDefinition{"amigo": filebeatFlow("amigo", nil)}); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	req := &interceptor.Request{Payload: []byte(sampleRecord)}
	out, err := r.Process(context.Background(), "amigo", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out.Payload) != sampleLine {
		t.Errorf("expected %q, got %q", sampleLine, out.Payload)
	}
	if out.Headers["timestamp"] != "1468026061001" {
		t.Errorf("expected timestamp 1468026061001, got %q", out.Headers["timestamp"])
	}

	if len(metrics.outcomes) != 1 || metrics.outcomes[0] != "filebeat/converted" {
		t.Errorf("expected [filebeat/converted], got %v", metrics.outcomes)
	}
	if len(metrics.durations) != 1 || metrics.durations[0] != "filebeat" {
		t.Errorf("expected one filebeat duration, got %v", metrics.durations)
	}
}

func TestRegistry_PreserveExistingFromConfig(t *testing.T) {
	r := NewRegistry(nil, nil, quietLogger())
	flows := map[string]*config.FlowDefinition{
		"keep": filebeatFlow("keep", map[string]interface{}{"preserveExisting": "true"}),
	}
	if err := r.Load(flows); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	req := &interceptor.Request{
		Payload: []byte(sampleRecord),
		Headers: map[string]string{"timestamp": "42"},
	}
	out, err := r.Process(context.Background(), "keep", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Headers["timestamp"] != "42" {
		t.Errorf("expected preserved timestamp 42, got %q", out.Headers["timestamp"])
	}
}

func TestRegistry_DropSurfacesErrDropped(t *testing.T) {
	r := NewRegistry(nil, nil, quietLogger())
	if err := r.Load(map[string]*config.FlowDefinition{"f": filebeatFlow("f", nil)}); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	req := &interceptor.Request{Payload: []byte(`{"@timestamp":"yesterday","beat":{"hostname":"h","name":"n"},"message":"m"}`)}
	_, err := r.Process(context.Background(), "f", req)
	if !errors.Is(err, interceptor.ErrDropped) {
		t.Errorf("expected ErrDropped, got %v", err)
	}
}

func TestRegistry_UnknownFlowPassesThrough(t *testing.T) {
	r := NewRegistry(nil, nil, quietLogger())
	req := &interceptor.Request{Payload: []byte(sampleRecord)}

	out, err := r.Process(context.Background(), "missing", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != req || string(out.Payload) != sampleRecord {
		t.Error("expected unknown flow to return the request unchanged")
	}
}

func TestRegistry_EmptyFlowPassesThrough(t *testing.T) {
	r := NewRegistry(nil, nil, quietLogger())
	if err := r.Load(map[string]*config.FlowDefinition{"bare": {Name: "bare"}}); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	req := &interceptor.Request{Payload: []byte(sampleRecord)}
	out, err := r.Process(context.Background(), "bare", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out.Payload) != sampleRecord {
		t.Error("expected payload unchanged for flow without interceptors")
	}
}

func TestRegistry_LoadFailureKeepsPreviousChains(t *testing.T) {
	r := NewRegistry(nil, nil, quietLogger())
	if err := r.Load(map[string]*config.FlowDefinition{"good": filebeatFlow("good", nil)}); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	bad := map[string]*config.FlowDefinition{
		"bad": {Name: "bad", Interceptors: []config.InterceptorConfig{{Type: "wasm"}}},
	}
	if err := r.Load(bad); err == nil {
		t.Fatal("expected error for unknown interceptor type")
	}
	if r.GetChain("good") == nil {
		t.Error("expected previous chain to survive a failed load")
	}
	if r.GetChain("bad") != nil {
		t.Error("expected failed flow not to be installed")
	}
}

func TestRegistry_InvalidOption(t *testing.T) {
	r := NewRegistry(nil, nil, quietLogger())
	flows := map[string]*config.FlowDefinition{
		"f": filebeatFlow("f", map[string]interface{}{"preserveExisting": 3}),
	}
	if err := r.Load(flows); err == nil {
		t.Fatal("expected error for non-boolean preserveExisting")
	}
}

func TestRegistry_ReloadReplacesFlows(t *testing.T) {
	r := NewRegistry(nil, nil, quietLogger())
	_ = r.Load(map[string]*config.FlowDefinition{"a": filebeatFlow("a", nil)})
	_ = r.Load(map[string]*config.FlowDefinition{"b": filebeatFlow("b", nil), "c": filebeatFlow("c", nil)})

	flows := r.Flows()
	if len(flows) != 2 || flows[0] != "b" || flows[1] != "c" {
		t.Errorf("expected [b c], got %v", flows)
	}
}

func TestRegistry_Close(t *testing.T) {
	r := NewRegistry(nil, nil, quietLogger())
	_ = r.Load(map[string]*config.FlowDefinition{"a": filebeatFlow("a", nil)})
	if err := r.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if len(r.Flows()) != 0 {
		t.Error("expected no flows after close")
	}
}

func TestInterceptorWrapper_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	r := NewRegistry(nil, tp.Tracer("test"), quietLogger())
	_ = r.Load(map[string]*config.FlowDefinition{"f": filebeatFlow("f", nil)})

	_, _ = r.Process(context.Background(), "f", &interceptor.Request{Payload: []byte(sampleRecord)})
	_, _ = r.Process(context.Background(), "f", &interceptor.Request{Payload: []byte(`{"@timestamp":"bad","beat":{"hostname":"h","name":"n"},"message":"m"}`)})

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	for _, s := range spans {
		if s.Name() != "beatshim.intercept" {
			t.Errorf("expected span beatshim.intercept, got %s", s.Name())
		}
	}
	var droppedSeen bool
	for _, kv := range spans[1].Attributes() {
		if string(kv.Key) == "beatshim.outcome" && kv.Value.AsString() == "dropped" {
			droppedSeen = true
		}
	}
	if !droppedSeen {
		t.Error("expected dropped outcome attribute on second span")
	}
}
