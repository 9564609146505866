package largecmd

import (
	"fmt"

	"github.com/oriys/nimbus-cargo/internal/cargo"
	"github.com/oriys/nimbus-cargo/internal/config"
	"github.com/sirupsen/logrus"
)

// Wrap 按配置为发送器加上带外投递装饰。backend 为 none 或 next 为 nil 时原样返回。
// 返回的 closer 释放上传器持有的连接。
func Wrap(next cargo.Sender, cfg config.LargeCommandConfig, logger logrus.FieldLogger) (cargo.Sender, func() error, error) {
	noop := func() error { return nil }
	if next == nil {
		return nil, noop, nil
	}

	switch cfg.Backend {
	case "", "none":
		return next, noop, nil
	case "presigned":
		up := NewPresignedUploader(cfg.URLMetaKey, cfg.UploadTimeout)
		return NewSender(next, up, logger), noop, nil
	case "redis":
		client := NewRedisClient(cfg.Redis)
		up := NewRedisUploader(client, cfg.Redis.KeyPrefix, cfg.Redis.TTL)
		return NewSender(next, up, logger), client.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown large command backend %q", cfg.Backend)
	}
}
