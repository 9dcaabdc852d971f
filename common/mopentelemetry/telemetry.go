package mopentelemetry

import (
	"context"
	"encoding/json"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry keeps the telemetry providers for a service instance.
type Telemetry struct {
	LibraryName               string
	ServiceName               string
	ServiceVersion            string
	DeploymentEnv             string
	CollectorExporterEndpoint string
	EnableTelemetry           bool
	TracerProvider            *sdktrace.TracerProvider
	shutdown                  func()
}

func (tl *Telemetry) newResource() (*sdkresource.Resource, error) {
	return sdkresource.Merge(
		sdkresource.Default(),
		sdkresource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(tl.ServiceName),
			semconv.ServiceVersion(tl.ServiceVersion),
			semconv.DeploymentEnvironment(tl.DeploymentEnv),
		),
	)
}

func (tl *Telemetry) newTracerExporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	return otlptracegrpc.New(ctx,
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithEndpoint(tl.CollectorExporterEndpoint))
}

// InitializeTelemetry initializes the telemetry providers and sets them globally.
func (tl *Telemetry) InitializeTelemetry() *Telemetry {
	if !tl.EnableTelemetry {
		return tl
	}

	ctx := context.Background()

	rsc, err := tl.newResource()
	if err != nil {
		log.Fatalf("can't initialize resource: %v", err)
	}

	exp, err := tl.newTracerExporter(ctx)
	if err != nil {
		log.Fatalf("can't initialize tracer exporter: %v", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(rsc),
	)

	otel.SetTracerProvider(tp)

	tl.TracerProvider = tp
	tl.shutdown = func() {
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("can't shutdown tracer provider: %v", err)
		}
	}

	return tl
}

// ShutdownTelemetry flushes and stops the configured providers.
func (tl *Telemetry) ShutdownTelemetry() {
	if tl.shutdown != nil {
		tl.shutdown()
	}
}

// SetSpanAttributesFromStruct converts a struct to JSON string and sets it as a span attribute.
func SetSpanAttributesFromStruct(span *trace.Span, key string, valueStruct any) error {
	vStr, err := json.Marshal(valueStruct)
	if err != nil {
		return err
	}

	(*span).SetAttributes(attribute.KeyValue{
		Key:   attribute.Key(key),
		Value: attribute.StringValue(string(vStr)),
	})

	return nil
}

// HandleSpanError records an error on the span and marks its status.
func HandleSpanError(span *trace.Span, message string, err error) {
	(*span).SetStatus(codes.Error, message+": "+err.Error())
	(*span).RecordError(err)
}
