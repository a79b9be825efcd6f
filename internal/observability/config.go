package observability

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/fieldops/internal/config"
)

// Config holds the logging, query logging and OTLP settings of one process.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	// SQLLogLevel is one of silent, error, warn or info.
	SQLLogLevel  string
	SlowQuery    time.Duration
	LogLockWaits bool

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

// LoadConfig overlays observability environment variables on the
// application config.
func LoadConfig(cfg config.Config) Config {
	env := envReader(os.Getenv)

	out := Config{
		ServiceName:          firstNonEmpty(cfg.AppName, "fieldops"),
		Environment:          env.str("DEPLOYMENT_ENV", cfg.Environment),
		Version:              env.str("SERVICE_VERSION", cfg.AppVersion),
		LogLevel:             strings.ToLower(env.str("LOG_LEVEL", "info")),
		LogFormat:            strings.ToLower(env.str("LOG_FORMAT", "json")),
		SQLLogLevel:          strings.ToLower(env.str("DB_LOG_LEVEL", "warn")),
		SlowQuery:            time.Duration(env.int("DB_SLOW_QUERY_MS", 500)) * time.Millisecond,
		LogLockWaits:         env.bool("DB_LOG_LOCK_WAITS", true),
		OtelEnabled:          env.bool("OTEL_ENABLED", false),
		OtelExporterEndpoint: env.str("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint),
		OtelExporterProtocol: strings.ToLower(env.str("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", env.str("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
		OtelSamplingRatio:    env.float("OTEL_SAMPLING_RATIO", 0.1),
	}
	if out.Debug() && out.SQLLogLevel == "warn" {
		out.SQLLogLevel = "info"
	}
	return out
}

// Debug reports whether verbose logging is wanted: an explicit debug level
// or a non-production environment.
func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

type envReader func(string) string

func (e envReader) str(key, def string) string {
	if v := strings.TrimSpace(e(key)); v != "" {
		return v
	}
	return strings.TrimSpace(def)
}

func (e envReader) bool(key string, def bool) bool {
	switch strings.ToLower(e.str(key, "")) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	return def
}

func (e envReader) int(key string, def int) int {
	v, err := strconv.Atoi(e.str(key, ""))
	if err != nil {
		return def
	}
	return v
}

func (e envReader) float(key string, def float64) float64 {
	v, err := strconv.ParseFloat(e.str(key, ""), 64)
	if err != nil {
		return def
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
