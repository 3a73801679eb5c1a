package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goibibo/beatshim/internal/config"
)

func TestParseRunArgs(t *testing.T) {
	opts, err := parseRunArgs([]string{
		"--config", "/etc/flows",
		"--flow=amigo",
		"--input", "in.log",
		"--output=out.log",
		"--envelope",
		"--max-rate", "250.5",
		"--metrics-addr", ":9090",
		"--log-level=debug",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := runOptions{
		configDir:   "/etc/flows",
		flow:        "amigo",
		input:       "in.log",
		output:      "out.log",
		envelope:    true,
		maxRate:     250.5,
		metricsAddr: ":9090",
		logLevel:    "debug",
	}
	if opts != want {
		t.Errorf("expected %+v, got %+v", want, opts)
	}
}

func TestParseRunArgs_Defaults(t *testing.T) {
	opts, err := parseRunArgs([]string{"--config", "dir"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.input != "-" || opts.output != "-" {
		t.Errorf("expected stdin/stdout defaults, got input=%q output=%q", opts.input, opts.output)
	}
	if opts.envelope {
		t.Error("expected envelope off by default")
	}
}

func TestParseRunArgs_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing config", []string{"--flow", "x"}, "--config is required"},
		{"missing value", []string{"--config"}, "--config requires a value"},
		{"bad rate", []string{"--config", "d", "--max-rate", "fast"}, "--max-rate"},
		{"negative rate", []string{"--config", "d", "--max-rate=-1"}, "must not be negative"},
		{"bad envelope", []string{"--config", "d", "--envelope=sometimes"}, "invalid syntax"},
		{"unknown", []string{"--config", "d", "--verbose"}, "unknown argument"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseRunArgs(tt.args)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestSelectFlow(t *testing.T) {
	single := map[string]*config.FlowDefinition{"a": {Name: "a"}}
	multi := map[string]*config.FlowDefinition{"b": {Name: "b"}, "a": {Name: "a"}}

	tests := []struct {
		name    string
		flows   map[string]*config.FlowDefinition
		want    string
		got     string
		wantErr string
	}{
		{name: "only flow", flows: single, got: "a"},
		{name: "explicit", flows: multi, want: "b", got: "b"},
		{name: "none", flows: nil, wantErr: "no flow definitions"},
		{name: "ambiguous", flows: multi, wantErr: "2 flows in dir, choose one with --flow: a, b"},
		{name: "unknown", flows: single, want: "z", wantErr: `flow "z" not found in dir`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := selectFlow(tt.flows, tt.want, "dir")
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.got {
				t.Errorf("expected %q, got %q", tt.got, got)
			}
		})
	}
}

func TestRunFlow_StreamsFileThroughFlow(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "amigo.yaml", `
name: amigo
interceptors:
  - type: filebeat
`)
	input := filepath.Join(t.TempDir(), "events.log")
	content := sampleEvent + "\n" +
		"amigo-www\t121\tnmlgodataplat03\n" +
		`{"@timestamp":"garbage","beat":{"hostname":"h","name":"n"},"message":"m"}` + "\n"
	if err := os.WriteFile(input, []byte(content), 0644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	output := filepath.Join(t.TempDir(), "out.log")

	opts := runOptions{configDir: dir, input: input, output: output}
	var stderr bytes.Buffer
	if err := runFlow(context.Background(), opts, nil, io.Discard, &stderr); err != nil {
		t.Fatalf("unexpected error: %v\nlogs:\n%s", err, stderr.String())
	}

	got, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	want := "amigo-www\t128\tnmlgodataplat03\namigo-www\t121\tnmlgodataplat03\n"
	if string(got) != want {
		t.Errorf("expected %q, got %q", want, got)
	}
	if !strings.Contains(stderr.String(), `"dropped":1`) {
		t.Errorf("expected stats with one drop in logs, got:\n%s", stderr.String())
	}
}

func TestRunFlow_EnvelopeStdio(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "amigo.yaml", `
name: amigo
interceptors:
  - type: filebeat
    config:
      preserveExisting: true
`)
	stdin := strings.NewReader(
		`{"headers":{"timestamp":"99"},"body":"{\"@timestamp\":\"2016-07-09T01:01:01.001Z\",\"beat\":{\"hostname\":\"h\",\"name\":\"n\"},\"message\":\"m\"}"}` + "\n",
	)
	var stdout bytes.Buffer

	opts := runOptions{configDir: dir, input: "-", output: "-", envelope: true}
	if err := runFlow(context.Background(), opts, stdin, &stdout, io.Discard); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := `{"headers":{"timestamp":"99"},"body":"n\tm\th"}` + "\n"
	if stdout.String() != want {
		t.Errorf("expected %q, got %q", want, stdout.String())
	}
}

func TestRunFlow_Errors(t *testing.T) {
	multi := t.TempDir()
	writeTestFile(t, multi, "a.yaml", "name: a\n")
	writeTestFile(t, multi, "b.yaml", "name: b\n")

	tests := []struct {
		name string
		opts runOptions
		want string
	}{
		{"missing dir", runOptions{configDir: "/nonexistent/flows"}, "load config"},
		{"empty dir", runOptions{configDir: t.TempDir()}, "no flow definitions"},
		{"ambiguous flow", runOptions{configDir: multi}, "choose one with --flow: a, b"},
		{"unknown flow", runOptions{configDir: multi, flow: "c"}, `flow "c" not found`},
		{"missing input", runOptions{configDir: multi, flow: "a", input: "/nonexistent/in.log"}, "open input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runFlow(context.Background(), tt.opts, strings.NewReader(""), io.Discard, io.Discard)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestRunFlow_CancelledContextIsClean(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.yaml", "name: a\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := runFlow(ctx, runOptions{configDir: dir, input: "-", output: "-"}, strings.NewReader("x\n"), io.Discard, io.Discard)
	if err != nil {
		t.Errorf("expected cancellation to be a clean exit, got %v", err)
	}
}

func TestRunFlow_StopsOnCancelWhileStdinIdle(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.yaml", "name: a\ninterceptors:\n  - type: filebeat\n")

	pr, pw := io.Pipe()
	defer func() { _ = pw.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- runFlow(ctx, runOptions{configDir: dir, input: "-", output: "-"}, pr, io.Discard, io.Discard)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("expected clean exit on cancel, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel while stdin was idle")
	}
}
