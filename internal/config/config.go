// Package config loads catalogjobsd's daemon configuration from
// command-line flags with environment-variable fallbacks, grounded in
// master/cmd/master/main.go's flag.String(..., os.Getenv(...), ...)
// pattern — this repo has no TLS/auth surface to carry over (out of
// scope), so only the DB DSN, worker-pool size, logging/tracing knobs and
// the Prometheus metrics listen address remain.
package config

import (
	"flag"
	"os"
	"strconv"

	"github.com/lumina-project/catalogjobs/internal/logging"
)

// Config holds catalogjobsd's start-up configuration.
type Config struct {
	// DBDSN is the backing store's data source name. An empty string
	// selects the in-memory store (used by tests and local smoke runs).
	DBDSN string

	// MaxConcurrentJobs bounds pkg/controller's executor pool.
	MaxConcurrentJobs int

	// LogLevel and LogJSON configure internal/logging's package logger.
	LogLevel Level
	LogJSON  bool

	// TracingEnabled/OTLPEndpoint configure internal/tracing.
	TracingEnabled bool
	OTLPEndpoint   string

	// MetricsAddr is the listen address for the Prometheus /metrics
	// endpoint served by internal/metrics. Empty disables it.
	MetricsAddr string
}

// Level mirrors logging.Level's string vocabulary without importing
// internal/logging's numeric representation into flag parsing.
type Level = logging.Level

// Load parses flags from args (pass os.Args[1:] in production, a fixed
// slice in tests) with environment-variable fallbacks, mirroring the
// teacher's "flag default already reads the env var" idiom from
// master/cmd/master/main.go.
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("catalogjobsd", flag.ContinueOnError)

	dbDSN := fs.String("db", envOr("CATALOG_DB_DSN", ""), "backing store DSN (empty for in-memory)")
	maxConcurrent := fs.Int("max-concurrent-jobs", envIntOr("CATALOG_MAX_CONCURRENT_JOBS", 2), "max jobs executed concurrently")
	logLevel := fs.String("log-level", envOr("CATALOG_LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	logJSON := fs.Bool("log-json", envBoolOr("CATALOG_LOG_JSON", false), "emit structured JSON logs")
	tracingEnabled := fs.Bool("tracing", envBoolOr("CATALOG_TRACING_ENABLED", false), "enable OTLP tracing export")
	otlpEndpoint := fs.String("otlp-endpoint", envOr("CATALOG_OTLP_ENDPOINT", "localhost:4318"), "OTLP HTTP collector endpoint")
	metricsAddr := fs.String("metrics-addr", envOr("CATALOG_METRICS_ADDR", ":9090"), "Prometheus metrics listen address (empty disables)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	return Config{
		DBDSN:             *dbDSN,
		MaxConcurrentJobs: *maxConcurrent,
		LogLevel:          logging.ParseLevel(*logLevel),
		LogJSON:           *logJSON,
		TracingEnabled:    *tracingEnabled,
		OTLPEndpoint:      *otlpEndpoint,
		MetricsAddr:       *metricsAddr,
	}, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBoolOr(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
