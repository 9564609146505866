package sender

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/oriys/nimbus-cargo/internal/config"
	"github.com/oriys/nimbus-cargo/internal/domain"
	"github.com/sirupsen/logrus"
)

// NATSSender 通过 JetStream 发布进程事件，subject 为 <prefix>.<series>。
// 消息头 Nats-Msg-Id 取 series 与序号，JetStream 据此去除重复发布。
type NATSSender struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	prefix string
	logger logrus.FieldLogger
}

// NewNATSSender 连接 NATS 并确保进程事件 Stream 存在。
func NewNATSSender(cfg config.NATSConfig, logger logrus.FieldLogger) (*NATSSender, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	stream := &nats.StreamConfig{
		Name:       cfg.Stream,
		Subjects:   []string{cfg.SubjectPrefix + ".>"},
		Storage:    nats.FileStorage,
		MaxAge:     24 * time.Hour,
		Duplicates: 10 * time.Minute,
	}
	if _, err := js.AddStream(stream); err != nil && err != nats.ErrStreamNameAlreadyInUse {
		// Stream 已存在但配置不同时尝试更新
		if _, uerr := js.UpdateStream(stream); uerr != nil {
			logger.WithError(uerr).WithField("stream", cfg.Stream).Warn("Failed to ensure JetStream stream")
		}
	}

	return &NATSSender{
		conn:   nc,
		js:     js,
		prefix: cfg.SubjectPrefix,
		logger: logger,
	}, nil
}

// Name 返回发送器名称。
func (s *NATSSender) Name() string {
	return NameNATS
}

// Subject 返回某个 series 的发布 subject。
func (s *NATSSender) Subject(series string) string {
	return Subject(s.prefix, series)
}

// Subject 拼接 subject；series 为空时使用 unknown，避免生成以点结尾的非法 subject。
func Subject(prefix, series string) string {
	if series == "" {
		series = "unknown"
	}
	return prefix + "." + series
}

// Send 发布信封。
func (s *NATSSender) Send(ctx context.Context, ev *domain.ProcessEvent, _ domain.SendOptions) error {
	return traced(ctx, NameNATS, ev, func(ctx context.Context) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}

		msg := nats.NewMsg(s.Subject(ev.Series()))
		msg.Data = data
		msg.Header.Set(nats.MsgIdHdr, MessageID(ev))

		if _, err := s.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
			return fmt.Errorf("failed to publish process event: %w", err)
		}

		s.logger.WithFields(logrus.Fields{
			"subject":  msg.Subject,
			"sequence": ev.Sequence(),
			"type":     ev.Type,
		}).Debug("Process event published")
		return nil
	})
}

// MessageID 返回信封的去重标识 <series>:<sequence>。
func MessageID(ev *domain.ProcessEvent) string {
	return ev.Series() + ":" + strconv.FormatInt(ev.Sequence(), 10)
}

// Close 排空并关闭底层 NATS 连接。
func (s *NATSSender) Close() error {
	return s.conn.Drain()
}
