package sender

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/oriys/nimbus-cargo/internal/cargo"
	"github.com/oriys/nimbus-cargo/internal/config"
	"github.com/sirupsen/logrus"
)

// Build 按配置中的 kinds 创建发送器。
// 没有配置任何发送器时返回 nil（演练模式）；多个发送器组合为 Multi。
// 返回的 closer 关闭所有持有连接的发送器。
func Build(ctx context.Context, cfg config.SenderConfig, stdout io.Writer, logger logrus.FieldLogger) (cargo.Sender, func() error, error) {
	var (
		senders []cargo.Sender
		closers []io.Closer
	)
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i].Close())
		}
		return errors.Join(errs...)
	}

	for _, kind := range cfg.Kinds {
		switch kind {
		case NameStdout:
			senders = append(senders, NewWriterSender(stdout))
		case NameHTTP:
			senders = append(senders, NewHTTPSender(cfg.HTTP.URL, cfg.HTTP.Timeout))
		case NameWebSocket:
			ws := NewWebSocketSender(cfg.WebSocket.URL)
			senders = append(senders, ws)
			closers = append(closers, ws)
		case NameNATS:
			ns, err := NewNATSSender(cfg.NATS, logger)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			senders = append(senders, ns)
			closers = append(closers, ns)
		case NameOutbox:
			ob, err := OpenOutbox(ctx, cfg.Postgres.DSN(), cfg.Postgres.Table, logger)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			senders = append(senders, ob)
			closers = append(closers, ob)
		default:
			closeAll()
			return nil, nil, fmt.Errorf("unknown sender kind %q", kind)
		}
	}

	switch len(senders) {
	case 0:
		return nil, closeAll, nil
	case 1:
		return senders[0], closeAll, nil
	default:
		return Multi(senders), closeAll, nil
	}
}
