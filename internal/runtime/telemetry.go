package runtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/mohammad-safakhou/wayfarer/config"
	"github.com/mohammad-safakhou/wayfarer/internal/pipeline"
	"github.com/mohammad-safakhou/wayfarer/session/session_models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry owns the tracer and meter providers plus the pipeline instruments.
// Metrics are always collected into Registry; OTLP export only happens when
// telemetry is enabled and an endpoint is configured.
type Telemetry struct {
	Registry *prometheus.Registry
	Tracer   trace.Tracer

	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider

	stageDuration otelmetric.Float64Histogram
	transitions   otelmetric.Int64Counter
	stageErrors   otelmetric.Int64Counter
	metricsServer *http.Server
}

// TelemetryOptions configures telemetry initialization.
type TelemetryOptions struct {
	ServiceName    string
	ServiceVersion string
	Logger         *log.Logger
}

// SetupTelemetry initializes tracing and metrics for a process.
func SetupTelemetry(ctx context.Context, cfg config.TelemetryConfig, opts TelemetryOptions) (*Telemetry, error) {
	if opts.ServiceName == "" {
		opts.ServiceName = "wayfarer"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(opts.ServiceName),
			attribute.String("service.namespace", "wayfarer"),
			attribute.String("service.version", opts.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("resource init: %w", err)
	}

	t := &Telemetry{Registry: prometheus.NewRegistry()}
	promExporter, err := promexporter.New(promexporter.WithRegisterer(t.Registry))
	if err != nil {
		return nil, fmt.Errorf("prom exporter: %w", err)
	}
	readers := []sdkmetric.Option{sdkmetric.WithReader(promExporter), sdkmetric.WithResource(res)}

	export := cfg.Enabled && cfg.OTLPEndpoint != ""
	if export {
		traceExporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("otlp init: %w", err)
		}
		t.tp = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(traceExporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(t.tp)

		metricExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("otlp metric init: %w", err)
		}
		readers = append(readers, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(15*time.Second))))
	}
	t.Tracer = otel.Tracer(opts.ServiceName)
	if t.tp != nil {
		t.Tracer = t.tp.Tracer(opts.ServiceName)
	}

	t.mp = sdkmetric.NewMeterProvider(readers...)
	meter := t.mp.Meter(opts.ServiceName)
	if t.stageDuration, err = meter.Float64Histogram("wayfarer.stage.duration",
		otelmetric.WithUnit("s"), otelmetric.WithDescription("Time spent in a pipeline stage")); err != nil {
		return nil, err
	}
	if t.transitions, err = meter.Int64Counter("wayfarer.stage.transitions",
		otelmetric.WithDescription("Sessions entering a stage")); err != nil {
		return nil, err
	}
	if t.stageErrors, err = meter.Int64Counter("wayfarer.stage.errors",
		otelmetric.WithDescription("Pipeline stages that returned an error")); err != nil {
		return nil, err
	}

	if cfg.Enabled && cfg.MetricsPort > 0 {
		logger := opts.Logger
		if logger == nil {
			logger = log.Default()
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", t.Handler())
		t.metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := t.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("metrics server error: %v", err)
			}
		}()
	}
	return t, nil
}

// Handler exposes the registry in the Prometheus text format.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.Registry, promhttp.HandlerOpts{})
}

// ObserveStage records one stage execution.
func (t *Telemetry) ObserveStage(stage session_models.Stage, d time.Duration, err error) {
	attrs := otelmetric.WithAttributes(attribute.String("stage", string(stage)))
	t.stageDuration.Record(context.Background(), d.Seconds(), attrs)
	if err != nil {
		t.stageErrors.Add(context.Background(), 1, attrs)
	}
}

// Transition counts a session entering stage.
func (t *Telemetry) Transition(stage session_models.Stage) {
	t.transitions.Add(context.Background(), 1, otelmetric.WithAttributes(attribute.String("stage", string(stage))))
}

// PipelineMetrics adapts the instruments to the engine's callbacks.
func (t *Telemetry) PipelineMetrics() pipeline.Metrics {
	return pipeline.Metrics{StageDuration: t.ObserveStage, Transition: t.Transition}
}

// Shutdown flushes providers and stops the metrics listener.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var errs []error
	if t.metricsServer != nil {
		if e := t.metricsServer.Shutdown(ctx); e != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", e))
		}
	}
	if t.tp != nil {
		if e := t.tp.Shutdown(ctx); e != nil {
			errs = append(errs, fmt.Errorf("trace shutdown: %w", e))
		}
	}
	if t.mp != nil {
		if e := t.mp.Shutdown(ctx); e != nil {
			errs = append(errs, fmt.Errorf("metric shutdown: %w", e))
		}
	}
	return errors.Join(errs...)
}
