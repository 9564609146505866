package sender

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oriys/nimbus-cargo/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// WebSocketSender 通过一条长连接逐个推送信封。
// 连接在首次发送时建立；写入失败后关闭连接，下一次发送重新拨号。
type WebSocketSender struct {
	url    string
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWebSocketSender 创建 WebSocket 发送器。
func NewWebSocketSender(url string) *WebSocketSender {
	return &WebSocketSender{
		url: url,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Name 返回发送器名称。
func (s *WebSocketSender) Name() string {
	return NameWebSocket
}

// Send 推送信封。
func (s *WebSocketSender) Send(ctx context.Context, ev *domain.ProcessEvent, _ domain.SendOptions) error {
	return traced(ctx, NameWebSocket, ev, func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.conn == nil {
			header := http.Header{}
			otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(header))
			conn, _, err := s.dialer.DialContext(ctx, s.url, header)
			if err != nil {
				return fmt.Errorf("websocket dial %s: %w", s.url, err)
			}
			s.conn = conn
		}

		if deadline, ok := ctx.Deadline(); ok {
			s.conn.SetWriteDeadline(deadline)
		} else {
			s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		}
		if err := s.conn.WriteJSON(ev); err != nil {
			s.conn.Close()
			s.conn = nil
			return fmt.Errorf("websocket write: %w", err)
		}
		return nil
	})
}

// Close 发送关闭帧并断开连接。
func (s *WebSocketSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	err := s.conn.Close()
	s.conn = nil
	return err
}
