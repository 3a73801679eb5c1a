package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/term"

	"github.com/goibibo/beatshim/internal/config"
	"github.com/goibibo/beatshim/internal/observability"
	"github.com/goibibo/beatshim/internal/pipeline"
	"github.com/goibibo/beatshim/internal/registry"
	"github.com/goibibo/beatshim/internal/sink/stream"
	"github.com/goibibo/beatshim/internal/source/lines"
	"github.com/goibibo/beatshim/internal/tracing"
)

const runUsage = `Usage: beatshim run --config <dir> [options]

Stream newline-delimited events through a flow's interceptors.

Options:
  --config <dir>          Flow definition directory (required)
  --flow <name>           Flow to run (default: the only flow in --config)
  --input <path>          Input file, or - for stdin (default: -)
  --output <path>         Output file, or - for stdout (default: -)
  --envelope              Read and write {"headers":{...},"body":"..."} lines
  --max-rate <n>          Limit to n events per second (default: unlimited)
  --metrics-addr <addr>   Serve /metrics, /healthz and /readyz on addr
  --log-level <level>     debug, info, warn or error (default: BEATSHIM_LOG_LEVEL or info)

Flow files are watched and reloaded on change.
Set BEATSHIM_OTEL_ENABLED=true and OTEL_EXPORTER_OTLP_ENDPOINT to export traces,
and BEATSHIM_OTEL_SAMPLE_RATIO to sample a fraction of events.`

type runOptions struct {
	configDir   string
	flow        string
	input       string
	output      string
	envelope    bool
	maxRate     float64
	metricsAddr string
	logLevel    string
}

// RunRun streams events through a configured flow until input ends or a
// shutdown signal arrives.
func RunRun(args []string) error {
	if len(args) > 0 && (args[0] == "-h" || args[0] == "--help") {
		fmt.Println(runUsage)
		return nil
	}

	opts, err := parseRunArgs(args)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), shutdownSignals...)
	defer cancel()

	return runFlow(ctx, opts, os.Stdin, os.Stdout, os.Stderr)
}

func parseRunArgs(args []string) (runOptions, error) {
	opts := runOptions{input: "-", output: "-"}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, inline := strings.Cut(arg, "=")
		takeValue := func() (string, error) {
			if inline {
				return value, nil
			}
			if i+1 >= len(args) {
				return "", fmt.Errorf("%s requires a value", name)
			}
			i++
			return args[i], nil
		}

		var err error
		switch name {
		case "--config":
			opts.configDir, err = takeValue()
		case "--flow":
			opts.flow, err = takeValue()
		case "--input":
			opts.input, err = takeValue()
		case "--output":
			opts.output, err = takeValue()
		case "--metrics-addr":
			opts.metricsAddr, err = takeValue()
		case "--log-level":
			opts.logLevel, err = takeValue()
		case "--max-rate":
			var raw string
			if raw, err = takeValue(); err == nil {
				opts.maxRate, err = strconv.ParseFloat(raw, 64)
				if err == nil && opts.maxRate < 0 {
					err = fmt.Errorf("must not be negative")
				}
				if err != nil {
					err = fmt.Errorf("--max-rate %q: %w", raw, err)
				}
			}
		case "--envelope":
			if inline {
				opts.envelope, err = strconv.ParseBool(value)
			} else {
				opts.envelope = true
			}
		default:
			return opts, fmt.Errorf("unknown argument %q\nRun 'beatshim run -h' for usage", arg)
		}
		if err != nil {
			return opts, err
		}
	}

	if opts.configDir == "" {
		return opts, fmt.Errorf("--config is required")
	}
	return opts, nil
}

func runFlow(ctx context.Context, opts runOptions, stdin io.Reader, stdout, stderr io.Writer) error {
	logger := observability.NewLogger(stderr, "beatshim", observability.GetLogLevel(opts.logLevel))
	slog.SetDefault(logger)

	loader := config.NewLoader(opts.configDir, logger)
	flows, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	flowName, err := selectFlow(flows, opts.flow, opts.configDir)
	if err != nil {
		return err
	}

	tracer, shutdownTracing, err := tracing.Initialize(tracing.GetConfig("beatshim", flowName), logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Error("tracer shutdown error", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	metrics := observability.NewMetrics(reg)
	health := observability.NewHealthServer()

	interceptors := registry.NewRegistry(metrics, tracer, logger)
	defer func() { _ = interceptors.Close() }()
	if err := interceptors.Load(flows); err != nil {
		return fmt.Errorf("build interceptors: %w", err)
	}
	metrics.FlowsLoaded.Set(float64(len(flows)))
	health.SetFlows(len(flows))

	loader.OnChange(func(updated map[string]*config.FlowDefinition) {
		if _, ok := updated[flowName]; !ok {
			logger.Warn("running flow no longer defined, keeping previous interceptors", "flow", flowName)
			return
		}
		if err := interceptors.Load(updated); err != nil {
			logger.Error("config reload rejected", "error", err)
			return
		}
		metrics.FlowsLoaded.Set(float64(len(updated)))
		health.SetFlows(len(updated))
		logger.Info("config reloaded", "flows", len(updated))
	})
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		if err := loader.Watch(watchDone); err != nil {
			logger.Error("config watcher error", "error", err)
		}
	}()

	var httpServer *http.Server
	if opts.metricsAddr != "" {
		lis, err := net.Listen("tcp", opts.metricsAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", opts.metricsAddr, err)
		}
		httpServer = &http.Server{
			Handler:           otelhttp.NewHandler(health.Handler(reg), "beatshim.admin"),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("metrics server starting", "addr", lis.Addr().String())
			if err := httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	in, err := openInput(opts.input, stdin, stderr)
	if err != nil {
		return err
	}
	out, flushEach, err := openOutput(opts.output, stdout)
	if err != nil {
		_ = in.Close()
		return err
	}

	src, err := lines.NewSource(in, lines.Config{Envelope: opts.envelope}, logger.With("flow", flowName))
	if err != nil {
		return err
	}
	sk, err := stream.NewSink(out, stream.Config{Envelope: opts.envelope, FlushEach: flushEach})
	if err != nil {
		return err
	}

	p := pipeline.New(
		pipeline.Config{FlowName: flowName, MaxRate: opts.maxRate},
		src, interceptors, sk,
		pipeline.WithMetrics(metrics),
		pipeline.WithTracer(tracer),
		pipeline.WithLogger(logger),
	)

	health.SetReady(true)
	pipelineErr := p.Run(ctx)
	health.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := p.Shutdown(shutdownCtx); err != nil {
		logger.Error("pipeline shutdown error", "error", err)
	}
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
	}

	logger.Info("shutdown complete")
	if errors.Is(pipelineErr, context.Canceled) {
		return nil
	}
	return pipelineErr
}

func selectFlow(flows map[string]*config.FlowDefinition, want, dir string) (string, error) {
	if want != "" {
		if _, ok := flows[want]; !ok {
			return "", fmt.Errorf("flow %q not found in %s", want, dir)
		}
		return want, nil
	}
	switch len(flows) {
	case 0:
		return "", fmt.Errorf("no flow definitions found in %s", dir)
	case 1:
		for name := range flows {
			return name, nil
		}
	}
	names := make([]string, 0, len(flows))
	for name := range flows {
		names = append(names, name)
	}
	sort.Strings(names)
	return "", fmt.Errorf("%d flows in %s, choose one with --flow: %s", len(flows), dir, strings.Join(names, ", "))
}

// openInput returns the event reader. A nop closer wraps stdin.
func openInput(path string, stdin io.Reader, stderr io.Writer) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			_, _ = fmt.Fprintln(stderr, "reading events from terminal, one per line; press Ctrl+D to finish")
		}
		return io.NopCloser(stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	return f, nil
}

// openOutput returns the event writer and whether each event should be
// flushed immediately. Stdout is never closed by the sink.
func openOutput(path string, stdout io.Writer) (io.Writer, bool, error) {
	if path == "" || path == "-" {
		return struct{ io.Writer }{stdout}, true, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("open output: %w", err)
	}
	return f, false, nil
}
