package xmetrics

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/omeyang/xjob/pkg/context/xctx"
)

const (
	defaultInstrumentationName = "github.com/omeyang/xjob"
	unknownName                = "unknown"

	metricOperationTotal    = "xjob.operation.total"
	metricOperationDuration = "xjob.operation.duration"
)

type otelConfig struct {
	instrumentationName string
	tracerProvider      trace.TracerProvider
	meterProvider       metric.MeterProvider
}

// Option 定义 OTel Observer 的配置选项。
type Option func(*otelConfig)

// WithInstrumentationName 设置 instrumentation 名称。
func WithInstrumentationName(name string) Option {
	return func(cfg *otelConfig) {
		if name != "" {
			cfg.instrumentationName = name
		}
	}
}

// WithTracerProvider 设置 TracerProvider，默认使用全局 provider。
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(cfg *otelConfig) {
		if provider != nil {
			cfg.tracerProvider = provider
		}
	}
}

// WithMeterProvider 设置 MeterProvider，默认使用全局 provider。
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(cfg *otelConfig) {
		if provider != nil {
			cfg.meterProvider = provider
		}
	}
}

// NewOTelObserver 创建基于 OpenTelemetry 的 Observer。
func NewOTelObserver(opts ...Option) (Observer, error) {
	cfg := &otelConfig{
		instrumentationName: defaultInstrumentationName,
		tracerProvider:      otel.GetTracerProvider(),
		meterProvider:       otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}

	meter := cfg.meterProvider.Meter(cfg.instrumentationName)
	total, err := meter.Int64Counter(metricOperationTotal,
		metric.WithDescription("total operations"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, fmt.Errorf("xmetrics: create counter: %w", err)
	}
	duration, err := meter.Float64Histogram(metricOperationDuration,
		metric.WithDescription("operation duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("xmetrics: create histogram: %w", err)
	}

	return &otelObserver{
		tracer:   cfg.tracerProvider.Tracer(cfg.instrumentationName),
		total:    total,
		duration: duration,
	}, nil
}

type otelObserver struct {
	tracer   trace.Tracer
	total    metric.Int64Counter
	duration metric.Float64Histogram
}

func (o *otelObserver) Start(ctx context.Context, opts SpanOptions) (context.Context, Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = ensureParentSpan(ctx)

	component := nonEmpty(opts.Component)
	operation := nonEmpty(opts.Operation)

	attrs := make([]attribute.KeyValue, 0, 2+len(opts.Attrs))
	attrs = append(attrs,
		attribute.String("component", component),
		attribute.String("operation", operation))
	attrs = append(attrs, attrsToOTel(opts.Attrs)...)

	kind := trace.SpanKindInternal
	if opts.Kind == KindClient {
		kind = trace.SpanKindClient
	}
	ctx, span := o.tracer.Start(ctx, component+"."+operation,
		trace.WithSpanKind(kind),
		trace.WithAttributes(attrs...))
	ctx = syncXctx(ctx, span.SpanContext())

	return ctx, &otelSpan{
		span:      span,
		observer:  o,
		ctx:       ctx,
		component: component,
		operation: operation,
		start:     time.Now(),
	}
}

type otelSpan struct {
	span      trace.Span
	observer  *otelObserver
	ctx       context.Context
	component string
	operation string
	start     time.Time
	endOnce   sync.Once
}

// End 幂等，多次调用只记录一次 metrics。
func (s *otelSpan) End(result Result) {
	s.endOnce.Do(func() {
		status := resolveStatus(result)
		if result.Err != nil {
			s.span.RecordError(result.Err)
		}
		if status == StatusError {
			msg := "operation failed"
			if result.Err != nil {
				msg = result.Err.Error()
			}
			s.span.SetStatus(codes.Error, msg)
		} else {
			s.span.SetStatus(codes.Ok, "")
		}
		if len(result.Attrs) > 0 {
			s.span.SetAttributes(attrsToOTel(result.Attrs)...)
		}
		s.span.End()

		// 调用方 context 可能已取消，指标仍需记录
		metricsCtx := context.WithoutCancel(s.ctx)
		attrs := metric.WithAttributes(
			attribute.String("component", s.component),
			attribute.String("operation", s.operation),
			attribute.String("status", string(status)))
		s.observer.total.Add(metricsCtx, 1, attrs)
		s.observer.duration.Record(metricsCtx, time.Since(s.start).Seconds(), attrs)
	})
}

func resolveStatus(result Result) Status {
	if result.Status != "" {
		return result.Status
	}
	if result.Err != nil {
		return StatusError
	}
	return StatusOK
}

func nonEmpty(s string) string {
	if s == "" {
		return unknownName
	}
	return s
}

func attrsToOTel(attrs []Attr) []attribute.KeyValue {
	if len(attrs) == 0 {
		return nil
	}
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, a := range attrs {
		if a.Key == "" || a.Value == nil {
			continue
		}
		switch v := a.Value.(type) {
		case string:
			out = append(out, attribute.String(a.Key, v))
		case bool:
			out = append(out, attribute.Bool(a.Key, v))
		case int:
			out = append(out, attribute.Int(a.Key, v))
		case int64:
			out = append(out, attribute.Int64(a.Key, v))
		case time.Duration:
			out = append(out, attribute.Int64(a.Key, v.Nanoseconds()))
		default:
			out = append(out, attribute.String(a.Key, fmt.Sprint(v)))
		}
	}
	return out
}

// ensureParentSpan 把 xctx 中的 trace 信息恢复为远程父 span。
func ensureParentSpan(ctx context.Context) context.Context {
	if trace.SpanFromContext(ctx).SpanContext().IsValid() {
		return ctx
	}
	traceID, err := trace.TraceIDFromHex(xctx.TraceID(ctx))
	if err != nil {
		return ctx
	}
	spanID, err := trace.SpanIDFromHex(xctx.SpanID(ctx))
	if err != nil {
		return ctx
	}
	var flags trace.TraceFlags
	if s := xctx.TraceFlags(ctx); s != "" {
		if parsed, err := strconv.ParseUint(s, 16, 8); err == nil {
			flags = trace.TraceFlags(parsed)
		}
	}
	parent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	})
	return trace.ContextWithSpanContext(ctx, parent)
}

// syncXctx 把新 span 的标识写回 xctx，使日志携带相同的 trace_id。
func syncXctx(ctx context.Context, sc trace.SpanContext) context.Context {
	if !sc.IsValid() {
		return ctx
	}
	if c, err := xctx.WithTraceID(ctx, sc.TraceID().String()); err == nil {
		ctx = c
	}
	if c, err := xctx.WithSpanID(ctx, sc.SpanID().String()); err == nil {
		ctx = c
	}
	if c, err := xctx.WithTraceFlags(ctx, fmt.Sprintf("%02x", sc.TraceFlags())); err == nil {
		ctx = c
	}
	return ctx
}
