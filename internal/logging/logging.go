// Package logging 构建 SDK 与命令行工具共用的 logrus 日志记录器。
package logging

import (
	"io"
	"os"

	"github.com/oriys/nimbus-cargo/internal/config"
	"github.com/sirupsen/logrus"
)

// New 根据日志配置创建日志记录器。
// 无法识别的级别回退到 info；format 为 text 时使用文本格式，其余使用 JSON。
// out 为 nil 时输出到标准错误，标准输出留给 NDJSON 事件流。
func New(cfg config.LoggingConfig, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	if out == nil {
		out = os.Stderr
	}
	logger.SetOutput(out)

	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// Discard 返回丢弃所有输出的日志记录器，用于未注入日志的组件
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
