// Package otelinst wires OpenTelemetry metrics and tracing into the load
// engine: a request-latency histogram, an error counter, an active-worker
// gauge, and a span per request carrying run token and status code. The
// span's worker id attribute is not set by the engine and is always 0.
package otelinst

// ExporterType selects where metrics and traces are sent.
type ExporterType string

const (
	ExporterNone     ExporterType = "none"
	ExporterStdout   ExporterType = "stdout"
	ExporterOTLPGRPC ExporterType = "otlp-grpc"
	ExporterOTLPHTTP ExporterType = "otlp-http"
)

// Config configures the Instrumentation.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	ExporterType   ExporterType
	OTLPEndpoint   string
	OTLPInsecure   bool
}

// DefaultConfig returns a disabled configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:      false,
		ServiceName:  "httpdrill",
		ExporterType: ExporterNone,
	}
}
