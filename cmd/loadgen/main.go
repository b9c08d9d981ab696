package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/bc-dunia/httpdrill/internal/config"
	"github.com/bc-dunia/httpdrill/internal/engine"
	"github.com/bc-dunia/httpdrill/internal/facade"
	"github.com/bc-dunia/httpdrill/internal/httpapi"
	"github.com/bc-dunia/httpdrill/internal/otelinst"
	"github.com/bc-dunia/httpdrill/internal/runmanager"
	"github.com/bc-dunia/httpdrill/internal/store"
	"github.com/bc-dunia/httpdrill/internal/streamhub"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: loadgen <run|server> [flags]")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		os.Exit(runCommand(os.Args[2:]))
	case "server":
		os.Exit(serverCommand(os.Args[2:]))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q: want run or server\n", os.Args[1])
		os.Exit(2)
	}
}

func runCommand(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	url := fs.String("url", "", "target URL (required)")
	method := fs.String("method", "GET", "HTTP method")
	users := fs.Int("users", 10, "number of concurrent virtual users")
	requests := fs.Int64("requests", config.DefaultRequestBudget, "total requests (Budget mode); ignored if --duration is set")
	duration := fs.Int64("duration", 0, "run duration in seconds (Duration mode)")
	body := fs.String("body", "", "request body")
	contentType := fs.String("content-type", "application/json", "request Content-Type")
	insecure := fs.Bool("insecure", false, "skip TLS certificate verification")
	fs.Parse(args)

	if *url == "" {
		fmt.Fprintln(os.Stderr, "--url is required")
		return 2
	}

	m, err := engine.ParseMethod(*method)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	cfg := engine.Config{
		RunToken: uuid.NewString(), URL: *url, Method: m, Users: *users,
		Body: []byte(*body), ContentType: *contentType, InsecureTLS: *insecure,
	}

	if *duration > 0 {
		stop, err := engine.NewDuration(time.Duration(*duration) * time.Second)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		cfg.Stop = stop
	} else {
		stop, err := engine.NewBudget(*requests)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		cfg.Stop = stop
	}

	eng, err := engine.New(cfg, nil, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	eng.SetInstrumentation(otelinst.Noop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	result := eng.Run(ctx)
	writeResults(os.Stdout, result)

	if ctx.Err() != nil || (result.Total > 0 && result.Failed == result.Total) {
		return 1
	}
	return 0
}

// writeResults prints an aggregate to the terminal. A different
// implementation could target JSON or a dashboard; this one is plain text.
func writeResults(w *os.File, result engine.Result) {
	fmt.Fprintf(w, "Total requests:     %d\n", result.Total)
	fmt.Fprintf(w, "Successful:         %d\n", result.Successful)
	fmt.Fprintf(w, "Failed:             %d\n", result.Failed)
	fmt.Fprintf(w, "Elapsed:            %dms\n", result.ElapsedMs)
	fmt.Fprintf(w, "Peak RPS:           %.2f\n", result.PeakRPS)
	fmt.Fprintf(w, "Avg latency:        %.2fms\n", result.Latency.Avg)
	fmt.Fprintf(w, "Min/Max latency:    %d/%dms\n", result.Latency.Min, result.Latency.Max)
	fmt.Fprintf(w, "P50/P75/P90/P95/P99: %d/%d/%d/%d/%dms\n",
		result.Latency.P50, result.Latency.P75, result.Latency.P90, result.Latency.P95, result.Latency.P99)
	for code, agg := range result.PerStatus {
		fmt.Fprintf(w, "  status %d: %d\n", code, agg.Count)
	}
}

func serverCommand(args []string) int {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	addr := fs.String("addr", config.DefaultHTTPServerAddr, "HTTP server address")
	dbPath := fs.String("db", "httpdrill.db", "SQLite database path")
	otelEnabled := fs.Bool("otel", false, "enable OpenTelemetry metrics/tracing")
	otelExporter := fs.String("otel-exporter", "stdout", "exporter: stdout, otlp-grpc, otlp-http")
	otelEndpoint := fs.String("otel-endpoint", "", "OTLP collector endpoint")
	fs.Parse(args)

	log := slog.Default()

	st, err := store.New(store.Config{Path: *dbPath, WAL: true}, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening store: %v\n", err)
		return 1
	}
	defer st.Close()

	ctx := context.Background()
	inst, err := otelinst.New(ctx, otelinst.Config{
		Enabled: *otelEnabled, ServiceName: "httpdrill",
		ExporterType: otelinst.ExporterType(*otelExporter), OTLPEndpoint: *otelEndpoint,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error configuring instrumentation: %v\n", err)
		return 1
	}
	defer inst.Shutdown(context.Background())

	hub := streamhub.New()
	mgr := runmanager.New(st, hub, log, inst)
	svc := facade.New(mgr, st, hub)

	server := httpapi.NewServer(*addr, svc)
	if err := server.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "error starting server: %v\n", err)
		return 1
	}

	fmt.Printf("httpdrill listening on %s\n", server.URL())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "error during shutdown: %v\n", err)
	}
	return 0
}
