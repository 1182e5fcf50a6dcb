package telemetry

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func TestOTLPSmoke(t *testing.T) {
	if os.Getenv("WEBRANA_OTLP_SMOKE_TEST") != "1" {
		t.Skip("set WEBRANA_OTLP_SMOKE_TEST=1 to run")
	}

	endpoint := os.Getenv("WEBRANA_TELEMETRY_OTLP_ENDPOINT")
	if endpoint == "" {
		t.Skip("set WEBRANA_TELEMETRY_OTLP_ENDPOINT for OTLP smoke test")
	}

	cfg := Config{Exporter: "otlp", OTLPEndpoint: endpoint}
	if os.Getenv("WEBRANA_TELEMETRY_OTLP_INSECURE") == "true" {
		cfg.OTLPInsecure = true
	}
	if raw := os.Getenv("WEBRANA_TELEMETRY_OTLP_TIMEOUT_SECONDS"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			cfg.OTLPTimeoutSeconds = parsed
		}
	}

	shutdown, err := InitWithConfig("telemetry-smoke-test", "dev", cfg)
	if err != nil {
		t.Fatalf("failed to init telemetry: %v", err)
	}

	ctx, span := Tracer().Start(context.Background(), "smoke.span")
	span.SetAttributes(attribute.String("smoke.test", "otlp"))
	span.End()

	counter, err := otel.Meter(InstrumentationName).Int64Counter("webrana.telemetry.smoke.counter")
	if err == nil {
		counter.Add(ctx, 1, metric.WithAttributes(attribute.String("smoke.test", "otlp")))
	}

	time.Sleep(2 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("telemetry shutdown failed: %v", err)
	}
}
