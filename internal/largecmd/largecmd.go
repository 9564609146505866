// Package largecmd 负责大载荷模式下的带外投递。
// Sender 装饰一个普通发送器：终结信封携带 LargePayload 时，先把完整载荷
// 上传到带外存储，再把不含 log / commands 的指针信封交给下游发送器。
package largecmd

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"

	"github.com/oriys/nimbus-cargo/internal/cargo"
	"github.com/oriys/nimbus-cargo/internal/domain"
	"github.com/oriys/nimbus-cargo/internal/telemetry"
	"github.com/sirupsen/logrus"
)

// Uploader 把序列化后的完整载荷写入带外存储。
// 返回的 meta 会合并到转发的信封 meta 中（例如存储键）。
type Uploader interface {
	Upload(ctx context.Context, ev *domain.ProcessEvent, payload []byte) (map[string]any, error)
}

// Sender 是带外投递装饰器。
type Sender struct {
	next     cargo.Sender
	uploader Uploader
	logger   logrus.FieldLogger
}

var _ cargo.Sender = (*Sender)(nil)

// NewSender 创建装饰器。
func NewSender(next cargo.Sender, uploader Uploader, logger logrus.FieldLogger) *Sender {
	return &Sender{next: next, uploader: uploader, logger: logger}
}

// Name 返回下游发送器的名称，使指标标签保持不变。
func (s *Sender) Name() string {
	if n, ok := s.next.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "largecmd"
}

// Send 没有大载荷时直接转发；否则上传成功后再转发指针信封。
// 大载荷中既无日志也无命令时（例如大载荷模式下的第二次终结刷新只剩 nextRun）
// 不上传，直接转发信封。上传失败时不转发，避免平台收到指向不存在内容的信封。
func (s *Sender) Send(ctx context.Context, ev *domain.ProcessEvent, opts domain.SendOptions) error {
	if opts.LargePayload == nil {
		return s.next.Send(ctx, ev, opts)
	}
	if len(opts.LargePayload.Log) == 0 && len(opts.LargePayload.Commands) == 0 {
		return s.next.Send(ctx, ev, domain.SendOptions{})
	}

	data, err := json.Marshal(opts.LargePayload)
	if err != nil {
		return fmt.Errorf("marshal large payload: %w", err)
	}

	uctx, span := telemetry.StartEventSpan(ctx, "cargo.upload", "", ev)
	extra, err := s.uploader.Upload(uctx, ev, data)
	telemetry.RecordError(uctx, err)
	span.End()
	if err != nil {
		return fmt.Errorf("upload large payload: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"series":   ev.Series(),
		"sequence": ev.Sequence(),
		"bytes":    len(data),
	}).Info("Large payload uploaded")

	forwarded := &domain.ProcessEvent{
		Meta:    make(map[string]any, len(ev.Meta)+len(extra)),
		Type:    ev.Type,
		Payload: ev.Payload,
	}
	maps.Copy(forwarded.Meta, ev.Meta)
	maps.Copy(forwarded.Meta, extra)
	return s.next.Send(ctx, forwarded, domain.SendOptions{})
}
