// Package telemetry 提供 OpenTelemetry 分布式追踪功能的封装。
// 进程事件的每次发送、大载荷上传以及接收端的处理都会创建 Span，
// 追踪数据通过 OTLP gRPC 导出到兼容后端（如 Tempo、Jaeger 等）。
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/oriys/nimbus-cargo/internal/config"
	"github.com/oriys/nimbus-cargo/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// TracerName 是 SDK 内部 Span 使用的追踪器名称
const TracerName = "nimbus-cargo"

// Telemetry 封装了 OpenTelemetry 的追踪提供者。
type Telemetry struct {
	config         config.TelemetryConfig
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
}

// New 根据给定配置创建新的 Telemetry 实例。
// 未启用时返回仅包含全局（空操作）追踪器的实例；
// 启用时建立到 OTLP 接收器的 gRPC 连接并设置全局追踪提供者和传播器。
func New(ctx context.Context, cfg config.TelemetryConfig) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{
			config: cfg,
			tracer: otel.Tracer(TracerName),
		}, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "nimbus-cargo"
	}
	if cfg.SampleRate > 1 {
		cfg.SampleRate = 1.0
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "tempo:4317"
	}

	// 限制 gRPC 连接建立时间为 10 秒
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(ctx, cfg.Endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to %s: %w", cfg.Endpoint, err)
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("1.0.0"),
			attribute.String("environment", cfg.Environment),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(Sampler(cfg.SampleRate))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Telemetry{
		config:         cfg,
		tracerProvider: tp,
		tracer:         tp.Tracer(TracerName),
	}, nil
}

// Sampler 根据采样率选择采样器。
// 采样率 >= 1 时全量采样，<= 0 时不采样，其余按 TraceID 比率采样。
func Sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Tracer 返回用于创建 Span 的追踪器实例。
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// Shutdown 刷新所有待发送的追踪数据并释放资源。
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.tracerProvider == nil {
		return nil
	}
	return t.tracerProvider.Shutdown(ctx)
}

// IsEnabled 返回遥测功能是否已启用。
func (t *Telemetry) IsEnabled() bool {
	return t.config.Enabled
}

// TraceIDFromContext 从上下文中提取 Trace ID，上下文无效时返回空字符串。
func TraceIDFromContext(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

// StartSpan 使用全局追踪提供者创建新的 Span。
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, name, opts...)
}

// StartEventSpan 为一次进程事件处理创建 Span，附加序列号、序号与阶段属性，
// 并把信封身份放入返回的上下文，之后带该上下文的日志会带上 series 与 sequence。
// name 通常为 "cargo.send"、"cargo.upload" 或 "cargo.receive"；
// sender 为空时不附加 cargo.sender 属性。
func StartEventSpan(ctx context.Context, name, sender string, ev *domain.ProcessEvent) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{}
	if sender != "" {
		attrs = append(attrs, attribute.String("cargo.sender", sender))
	}
	if ev != nil {
		id := IdentityOf(ev)
		attrs = append(attrs, id.attributes()...)
		attrs = append(attrs, attribute.Bool("cargo.large", ev.IsLargeCommand()))
		ctx = ContextWithEvent(ctx, id)
	}
	return StartSpan(ctx, name, trace.WithAttributes(attrs...))
}

// RecordError 在当前 Span 上记录错误并把状态置为 Error，err 为 nil 时忽略。
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
