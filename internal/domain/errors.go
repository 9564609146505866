// Package domain 定义了函数运行期 SDK 的核心领域模型。
package domain

import "errors"

// 领域错误定义
// 调用方通过 errors.Is 判断错误类别，具体信息（大小、ID 等）由包装层附加。

var (
	// ========== 载荷大小相关错误 ==========

	// ErrPayloadTooLarge 表示单条命令超过硬上限（1 MiB），属于上游编程错误
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrInlinePayloadTooLarge 表示内联模式下缓冲区需要刷新但没有可用的通道
	ErrInlinePayloadTooLarge = errors.New("inline payload too large")

	// ========== 请求相关错误 ==========

	// ErrBadRequest 表示调用方请求不合法（例如修改已删除的资源）
	ErrBadRequest = errors.New("bad request")
	// ErrInvalidLevel 表示日志级别无效
	ErrInvalidLevel = errors.New("invalid log level")
	// ErrInvalidCron 表示下一次运行的 cron 表达式无效
	ErrInvalidCron = errors.New("invalid cron expression")
	// ErrInvalidRunnableType 表示可运行单元类型无效
	ErrInvalidRunnableType = errors.New("invalid runnable type")

	// ========== 传输相关错误 ==========

	// ErrNoUploadURL 表示大载荷模式下缺少带外上传地址
	ErrNoUploadURL = errors.New("no large command upload url")
	// ErrSenderClosed 表示发送器已关闭
	ErrSenderClosed = errors.New("sender closed")
	// ErrFlushDeferred 表示大载荷模式下的非终结刷新被推迟，内容保留到终结刷新
	ErrFlushDeferred = errors.New("flush deferred until final send")
)
