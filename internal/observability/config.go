package observability

import (
	"strings"

	"github.com/smallbiznis/campaigncredit/internal/config"
	"github.com/smallbiznis/campaigncredit/internal/observability/logger"
	"github.com/smallbiznis/campaigncredit/internal/observability/metrics"
	"github.com/smallbiznis/campaigncredit/internal/observability/tracing"
)

// Config is the resolved observability setup shared by the logger, tracer
// and meter providers.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	obs := cfg.Observability

	out := Config{
		ServiceName:          firstNonEmpty(cfg.AppName, "campaigncredit"),
		Environment:          firstNonEmpty(obs.Environment, cfg.Environment),
		Version:              firstNonEmpty(obs.Version, cfg.AppVersion),
		LogLevel:             firstNonEmpty(obs.LogLevel, "info"),
		LogFormat:            firstNonEmpty(obs.LogFormat, "json"),
		OtelEnabled:          obs.OtelEnabled,
		OtelExporterEndpoint: firstNonEmpty(obs.OtelEndpoint, cfg.OTLPEndpoint),
		OtelExporterProtocol: normalizeProtocol(firstNonEmpty(obs.TraceProtocol, obs.OtelProtocol)),
		OtelSamplingRatio:    clampRatio(obs.OtelSampling),
	}
	// console output breaks log shipping in production
	if cfg.IsProduction() {
		out.LogFormat = "json"
	}
	return out
}

func (c Config) Debug() bool {
	if strings.EqualFold(c.LogLevel, "debug") {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func (c Config) LoggerConfig() logger.Config {
	return logger.Config{
		ServiceName:         c.ServiceName,
		Environment:         c.Environment,
		Version:             c.Version,
		Level:               c.LogLevel,
		Format:              c.LogFormat,
		Debug:               c.Debug(),
		IncludeCaller:       true,
		IncludeStackOnError: c.Debug(),
	}
}

func (c Config) TracingConfig() tracing.Config {
	return tracing.Config{
		Enabled:          c.OtelEnabled,
		ServiceName:      c.ServiceName,
		ServiceVersion:   c.Version,
		Environment:      c.Environment,
		ExporterEndpoint: c.OtelExporterEndpoint,
		ExporterProtocol: c.OtelExporterProtocol,
		SamplingRatio:    c.OtelSamplingRatio,
	}
}

func (c Config) MetricsConfig() metrics.Config {
	return metrics.Config{
		Enabled:          c.OtelEnabled,
		ExporterEndpoint: c.OtelExporterEndpoint,
		ExporterProtocol: c.OtelExporterProtocol,
		ServiceName:      c.ServiceName,
		Environment:      c.Environment,
	}
}

func normalizeProtocol(p string) string {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "http", "http/protobuf":
		return "http/protobuf"
	default:
		return "grpc"
	}
}

func clampRatio(r float64) float64 {
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	default:
		return r
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
