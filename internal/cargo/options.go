package cargo

import (
	"context"
	"fmt"
	"time"

	"github.com/oriys/nimbus-cargo/internal/config"
	"github.com/oriys/nimbus-cargo/internal/domain"
	"github.com/oriys/nimbus-cargo/internal/metrics"
	"github.com/sirupsen/logrus"
)

// Sender 把组装好的进程事件交给传输层。
// 缓冲区不解释发送失败，错误只会传给 Options.OnSent 和 FlushFinal 的调用方。
type Sender interface {
	Send(ctx context.Context, ev *domain.ProcessEvent, opts domain.SendOptions) error
}

// Sanitizer 在日志数据进入缓冲区前做脱敏。
type Sanitizer interface {
	Sanitize(v any) any
	SanitizeMap(m map[string]any) map[string]any
}

// Kind 区分准入条目的种类，同时用作指标标签。
type Kind string

const (
	KindLog     Kind = "log"
	KindCommand Kind = "command"
)

// Admission 描述一次待准入的条目，交给 Veto 检查。
// Log 与 Command 二者只有一个非空。
type Admission struct {
	Kind    Kind
	Log     *domain.LogEntry
	Command *domain.Command
}

// Veto 是准入前的否决钩子，返回错误即拒绝本次准入且缓冲区不发生任何变化。
type Veto func(a Admission) error

// OverflowPolicy 决定累计大小越过软上限时的处理方式。
type OverflowPolicy int

const (
	// OverflowAuto 长时会话刷新，非长时会话切换到大载荷模式
	OverflowAuto OverflowPolicy = iota
	// OverflowFlush 先刷新再追加
	OverflowFlush
	// OverflowLargePayload 切换到大载荷模式并追加
	OverflowLargePayload
)

func (p OverflowPolicy) String() string {
	switch p {
	case OverflowFlush:
		return config.OverflowFlush
	case OverflowLargePayload:
		return config.OverflowLargePayload
	default:
		return config.OverflowAuto
	}
}

// ParseOverflowPolicy 解析配置中的策略名称。
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "", config.OverflowAuto:
		return OverflowAuto, nil
	case config.OverflowFlush:
		return OverflowFlush, nil
	case config.OverflowLargePayload:
		return OverflowLargePayload, nil
	}
	return OverflowAuto, fmt.Errorf("unknown overflow policy %q", s)
}

// Options 是缓冲区的不可变配置，在调用上下文创建时确定。
type Options struct {
	// Namespace 进程事件类型的命名空间，默认 turbot.com
	Namespace string
	// Meta 调用元数据，每个信封的 meta 都以它为基础
	Meta map[string]any
	// Live 长时会话：启用流式刷新，溢出时默认刷新
	Live bool
	// Inline 严格内联模式：没有中途刷新的通道
	Inline bool
	// Delay 流式刷新间隔
	Delay time.Duration

	MaxItemBytes     int
	SoftLimitBytes   int
	HardCommandBytes int
	Overflow         OverflowPolicy

	// LogLevel 记录日志的最低级别，为空时长时会话取 debug，其余取 info
	LogLevel string

	Sanitizer Sanitizer
	Vetoes    []Veto
	// OnSent 在每次发送完成后由发送协程调用，不要在其中同步等待本缓冲区的刷新
	OnSent func(ev *domain.ProcessEvent, err error)

	Logger  logrus.FieldLogger
	Metrics *metrics.Metrics
	// Now 用于命令时间戳，测试中可替换
	Now func() time.Time
}

// OptionsFromConfig 把配置文件中的 cargo 段转换为缓冲区选项。
func OptionsFromConfig(cfg config.CargoConfig, meta map[string]any) (Options, error) {
	policy, err := ParseOverflowPolicy(cfg.OverflowPolicy)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Namespace:        cfg.Namespace,
		Meta:             meta,
		Live:             cfg.Live,
		Inline:           cfg.Inline,
		Delay:            cfg.Delay,
		MaxItemBytes:     cfg.MaxItemBytes,
		SoftLimitBytes:   cfg.SoftLimitBytes,
		HardCommandBytes: cfg.HardCommandBytes,
		Overflow:         policy,
		LogLevel:         cfg.LogLevel,
	}, nil
}

func (o Options) withDefaults() Options {
	if o.Namespace == "" {
		o.Namespace = domain.DefaultNamespace
	}
	if o.Delay <= 0 {
		o.Delay = config.DefaultDelay
	}
	if o.MaxItemBytes <= 0 {
		o.MaxItemBytes = config.DefaultMaxItemBytes
	}
	if o.SoftLimitBytes <= 0 {
		o.SoftLimitBytes = config.DefaultSoftLimitBytes
	}
	if o.HardCommandBytes <= 0 {
		o.HardCommandBytes = config.DefaultHardCommandBytes
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// minLevel 解析日志级别阈值
func (o Options) minLevel() (domain.Level, error) {
	if o.LogLevel == "" {
		if o.Live {
			return domain.LevelDebug, nil
		}
		return domain.LevelInfo, nil
	}
	return domain.ParseLevel(o.LogLevel)
}

// overflowFlushes 判断累计溢出时是否刷新（否则进入大载荷模式）
func (o Options) overflowFlushes() bool {
	switch o.Overflow {
	case OverflowFlush:
		return true
	case OverflowLargePayload:
		return false
	default:
		return o.Live
	}
}

// streams 判断是否运行流式调度器
func (o Options) streams() bool {
	return o.Live && !o.Inline
}
