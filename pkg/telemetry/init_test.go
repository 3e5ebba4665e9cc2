package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

func TestInit_ExportsSpans(t *testing.T) {
	ctx := context.Background()
	exp := tracetest.NewInMemoryExporter()
	shutdown, err := Init(ctx, Options{ServiceName: "grandiso-test", ServiceVersion: "dev", Exporter: exp})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	_, span := Tracer("grandiso/test").Start(ctx, "Worker.Process")
	span.End()

	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "Worker.Process" {
		t.Fatalf("exported spans = %v", spans)
	}
	res := spans[0].Resource
	if res.SchemaURL() != semconv.SchemaURL {
		t.Fatalf("resource schema = %q, want %q", res.SchemaURL(), semconv.SchemaURL)
	}
	if v, ok := res.Set().Value(semconv.ServiceNameKey); !ok || v.AsString() != "grandiso-test" {
		t.Fatalf("service.name = %v", v)
	}
}

func TestInit_DiscardsWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	shutdown, err := Init(context.Background(), Options{ServiceName: "grandiso-test", SampleRatio: 0.5})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}
