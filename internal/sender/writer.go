package sender

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/oriys/nimbus-cargo/internal/domain"
)

// WriterSender 把每个信封写成一行 JSON（NDJSON）。
type WriterSender struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewWriterSender 创建写入 w 的发送器。
func NewWriterSender(w io.Writer) *WriterSender {
	return &WriterSender{enc: json.NewEncoder(w)}
}

// Name 返回发送器名称。
func (s *WriterSender) Name() string {
	return NameStdout
}

// Send 写出信封。大载荷内容不会写出，需要由 largecmd 装饰器带外投递。
func (s *WriterSender) Send(ctx context.Context, ev *domain.ProcessEvent, _ domain.SendOptions) error {
	return traced(ctx, NameStdout, ev, func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.enc.Encode(ev)
	})
}
