package observability

import (
	"testing"

	"github.com/smallbiznis/campaigncredit/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigFallsBackToAppSettings(t *testing.T) {
	cfg := LoadConfig(config.Config{
		AppVersion:   "1.2.3",
		Environment:  "development",
		OTLPEndpoint: "collector:4317",
		Observability: config.ObservabilityConfig{
			LogFormat:    "console",
			OtelEnabled:  true,
			OtelSampling: 0.25,
		},
	})

	assert.Equal(t, "campaigncredit", cfg.ServiceName)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "1.2.3", cfg.Version)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, "collector:4317", cfg.OtelExporterEndpoint)
	assert.Equal(t, "grpc", cfg.OtelExporterProtocol)
	assert.Equal(t, 0.25, cfg.OtelSamplingRatio)
	assert.True(t, cfg.Debug())
}

func TestLoadConfigProductionOverrides(t *testing.T) {
	cfg := LoadConfig(config.Config{
		AppName:     "credits-api",
		Environment: "production",
		Observability: config.ObservabilityConfig{
			Environment:   "production",
			LogLevel:      "warn",
			LogFormat:     "console",
			OtelProtocol:  "grpc",
			TraceProtocol: "http",
			OtelSampling:  3,
		},
	})

	assert.Equal(t, "credits-api", cfg.ServiceName)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "http/protobuf", cfg.OtelExporterProtocol)
	assert.Equal(t, 1.0, cfg.OtelSamplingRatio)
	assert.False(t, cfg.Debug())

	lc := cfg.LoggerConfig()
	assert.Equal(t, "warn", lc.Level)
	assert.False(t, lc.IncludeStackOnError)
	assert.Equal(t, cfg.OtelExporterProtocol, cfg.TracingConfig().ExporterProtocol)
	assert.Equal(t, cfg.ServiceName, cfg.MetricsConfig().ServiceName)
}

func TestDebugFromLevel(t *testing.T) {
	assert.True(t, Config{LogLevel: "DEBUG", Environment: "production"}.Debug())
	assert.False(t, Config{LogLevel: "info", Environment: "staging"}.Debug())
}
