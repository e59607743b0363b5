package observability

import (
	"testing"

	"github.com/smallbiznis/photoledger/internal/config"
)

func TestLoadConfigUsesAppDefaults(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("OTEL_ENABLED", "")
	t.Setenv("DEPLOYMENT_ENV", "")

	cfg := LoadConfig(config.Config{AppName: "photoledger", Environment: "production", AppVersion: "1.2.3"})
	if cfg.ServiceName != "photoledger" || cfg.Version != "1.2.3" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.OtelEnabled {
		t.Fatalf("expected otel disabled by default")
	}
	if cfg.Debug() {
		t.Fatalf("production info logging must not be debug")
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("OTEL_SAMPLING_RATIO", "0.5")

	cfg := LoadConfig(config.Config{Environment: "production"})
	if !cfg.Debug() || !cfg.OtelEnabled || cfg.OtelSamplingRatio != 0.5 {
		t.Fatalf("unexpected config %+v", cfg)
	}
}
