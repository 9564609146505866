package telemetry

import (
	"context"

	"github.com/oriys/nimbus-cargo/internal/domain"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// EventIdentity 标识一个进程事件信封：所属 series、序号与阶段。
type EventIdentity struct {
	Series   string
	Sequence int64
	Phase    domain.Phase
}

// IdentityOf 提取信封的身份，ev 为 nil 时返回零值。
func IdentityOf(ev *domain.ProcessEvent) EventIdentity {
	if ev == nil {
		return EventIdentity{Sequence: -1}
	}
	return EventIdentity{Series: ev.Series(), Sequence: ev.Sequence(), Phase: ev.Phase()}
}

func (id EventIdentity) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String("cargo.series", id.Series)}
	if id.Sequence >= 0 {
		attrs = append(attrs, attribute.Int64("cargo.sequence", id.Sequence))
	}
	if id.Phase != "" {
		attrs = append(attrs, attribute.String("cargo.phase", string(id.Phase)))
	}
	return attrs
}

func (id EventIdentity) fields() logrus.Fields {
	f := logrus.Fields{"series": id.Series}
	if id.Sequence >= 0 {
		f["sequence"] = id.Sequence
	}
	if id.Phase != "" {
		f["phase"] = string(id.Phase)
	}
	return f
}

type eventKey struct{}

// ContextWithEvent 把信封身份放入上下文，series 为空时原样返回。
func ContextWithEvent(ctx context.Context, id EventIdentity) context.Context {
	if id.Series == "" {
		return ctx
	}
	return context.WithValue(ctx, eventKey{}, id)
}

// EventFromContext 取出 ContextWithEvent 放入的信封身份。
func EventFromContext(ctx context.Context) (EventIdentity, bool) {
	if ctx == nil {
		return EventIdentity{}, false
	}
	id, ok := ctx.Value(eventKey{}).(EventIdentity)
	return id, ok
}

// LogrusHook 为带上下文的日志条目补充信封身份（series、sequence、phase）
// 和追踪字段，使发送失败、序号缺口等日志能按 series 检索并与 Span 关联。
// 条目上已有的同名字段不会被覆盖。
//
//	logger := logrus.New()
//	logger.AddHook(telemetry.NewLogrusHook())
//	logger.WithContext(ctx).Warn("Send failed")
type LogrusHook struct{}

// NewLogrusHook 创建一个新的 LogrusHook 实例。
func NewLogrusHook() *LogrusHook {
	return &LogrusHook{}
}

// Levels 在所有日志级别触发。
func (h *LogrusHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire 写入信封身份与 trace_id、span_id 字段。
func (h *LogrusHook) Fire(entry *logrus.Entry) error {
	if entry.Context == nil {
		return nil
	}
	for k, v := range contextFields(entry.Context) {
		if _, ok := entry.Data[k]; !ok {
			entry.Data[k] = v
		}
	}
	return nil
}

// EntryWithTraceContext 向现有日志条目添加信封身份与追踪字段。
// 上下文中两者都没有时原样返回。
func EntryWithTraceContext(ctx context.Context, entry *logrus.Entry) *logrus.Entry {
	fields := contextFields(ctx)
	if len(fields) == 0 {
		return entry
	}
	return entry.WithFields(fields)
}

func contextFields(ctx context.Context) logrus.Fields {
	fields := logrus.Fields{}
	if id, ok := EventFromContext(ctx); ok {
		fields = id.fields()
	}
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if spanCtx.IsValid() {
		fields["trace_id"] = spanCtx.TraceID().String()
		fields["span_id"] = spanCtx.SpanID().String()
		if spanCtx.IsSampled() {
			fields["trace_sampled"] = true
		}
	}
	return fields
}
