package runnable

import (
	"context"

	"github.com/oriys/nimbus-cargo/internal/domain"
)

// Logger 把日志条目写入调用的缓冲区。
type Logger struct {
	r *Runnable
}

// Log 返回日志写入器。
func (r *Runnable) Log() Logger {
	return Logger{r: r}
}

func (l Logger) Emergency(ctx context.Context, msg string, data any) error {
	return l.r.container.Log(ctx, domain.LevelEmergency, msg, data)
}

func (l Logger) Alert(ctx context.Context, msg string, data any) error {
	return l.r.container.Log(ctx, domain.LevelAlert, msg, data)
}

func (l Logger) Critical(ctx context.Context, msg string, data any) error {
	return l.r.container.Log(ctx, domain.LevelCritical, msg, data)
}

func (l Logger) Error(ctx context.Context, msg string, data any) error {
	return l.r.container.Log(ctx, domain.LevelError, msg, data)
}

func (l Logger) Warning(ctx context.Context, msg string, data any) error {
	return l.r.container.Log(ctx, domain.LevelWarning, msg, data)
}

func (l Logger) Notice(ctx context.Context, msg string, data any) error {
	return l.r.container.Log(ctx, domain.LevelNotice, msg, data)
}

func (l Logger) Info(ctx context.Context, msg string, data any) error {
	return l.r.container.Log(ctx, domain.LevelInfo, msg, data)
}

// Debug 仅在长时会话（或显式配置 debug 级别）时记录
func (l Logger) Debug(ctx context.Context, msg string, data any) error {
	return l.r.container.Log(ctx, domain.LevelDebug, msg, data)
}
