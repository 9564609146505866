// Package sender 提供进程事件的传输实现。
// 各发送器实现 cargo.Sender：NATS JetStream、HTTP 回调、PostgreSQL 发件箱、
// WebSocket 推送与 NDJSON 输出，并可通过 Multi 组合。每次发送都会创建 cargo.send Span。
package sender

import (
	"context"
	"errors"
	"fmt"

	"github.com/oriys/nimbus-cargo/internal/cargo"
	"github.com/oriys/nimbus-cargo/internal/domain"
	"github.com/oriys/nimbus-cargo/internal/telemetry"
)

// 发送器名称，同时用作日志字段与指标标签
const (
	NameNATS      = "nats"
	NameHTTP      = "http"
	NameOutbox    = "outbox"
	NameWebSocket = "websocket"
	NameStdout    = "stdout"
	NameMulti     = "multi"
)

// traced 在 cargo.send Span 中执行一次发送
func traced(ctx context.Context, name string, ev *domain.ProcessEvent, send func(ctx context.Context) error) error {
	ctx, span := telemetry.StartEventSpan(ctx, "cargo.send", name, ev)
	defer span.End()

	err := send(ctx)
	telemetry.RecordError(ctx, err)
	return err
}

// Multi 把信封依次交给多个发送器，所有失败合并为一个错误返回。
type Multi []cargo.Sender

var _ cargo.Sender = Multi(nil)

// Name 返回发送器名称。
func (m Multi) Name() string {
	return NameMulti
}

// Send 发送到全部目标，单个目标失败不影响其余目标。
func (m Multi) Send(ctx context.Context, ev *domain.ProcessEvent, opts domain.SendOptions) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, ev, opts); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", nameOf(s), err))
		}
	}
	return errors.Join(errs...)
}

func nameOf(s cargo.Sender) string {
	if n, ok := s.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", s)
}
