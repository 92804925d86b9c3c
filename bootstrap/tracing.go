package bootstrap

import (
	"context"

	"guardian/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// zapSpanExporter writes finished spans to the debug log. Stage spans are
// few and coarse, so the log is a usable trace sink without a collector.
type zapSpanExporter struct {
	logger *zap.SugaredLogger
}

func (e *zapSpanExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		fields := []interface{}{
			"span", span.Name(),
			"trace_id", span.SpanContext().TraceID().String(),
			"duration", span.EndTime().Sub(span.StartTime()),
		}
		for _, attr := range span.Attributes() {
			fields = append(fields, string(attr.Key), attr.Value.Emit())
		}
		if span.Status().Code == codes.Error {
			e.logger.Warnw("Span failed", append(fields, "status", span.Status().Description)...)
			continue
		}
		e.logger.Debugw("Span finished", fields...)
	}
	return nil
}

func (e *zapSpanExporter) Shutdown(ctx context.Context) error {
	return nil
}

// InitTracing installs a global SDK tracer provider when tracing is enabled.
// The returned function flushes and stops it. With tracing disabled the
// global no-op provider stays in place.
func InitTracing(cfg config.TracingConfig, sugar *zap.SugaredLogger) func(context.Context) error {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithBatcher(&zapSpanExporter{logger: sugar.Named(cfg.ServiceName)}),
	)
	otel.SetTracerProvider(tp)
	sugar.Infow("Tracing enabled", "service", cfg.ServiceName, "sample_ratio", ratio)
	return tp.Shutdown
}
