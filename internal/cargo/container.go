// Package cargo 实现调用期间的出站消息批处理与背压控制。
//
// Container 累积一次调用产生的日志条目与命令，在准入时按序列化大小
// 决定直接追加、先刷新再追加，或切换到大载荷模式；长时会话由 Streamer
// 周期刷新。每次组装的信封都带有相同的 series 与严格递增的 messageSequence。
package cargo

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/oriys/nimbus-cargo/internal/domain"
	"github.com/oriys/nimbus-cargo/internal/logging"
	"github.com/oriys/nimbus-cargo/internal/metrics"
	"github.com/oriys/nimbus-cargo/internal/sanitize"
	"github.com/sirupsen/logrus"
)

// 拒绝原因标签取值
const (
	rejectTooLarge       = "too_large"
	rejectInlineOverflow = "inline_overflow"
	rejectVeto           = "veto"
	rejectInvalid        = "invalid"
)

// Container 是一次调用的条目缓冲区。
// 互斥锁保护准入与大小记账，以及刷新中的“读取-清空-交出”序列，
// 因为流式调度器的协程会与调用方自己的刷新并发。
type Container struct {
	opts      Options
	minLevel  domain.Level
	sanitizer Sanitizer
	logger    logrus.FieldLogger
	metrics   *metrics.Metrics
	streamer  *Streamer
	dispatch  *dispatcher

	mu          sync.Mutex
	logEntries  []domain.LogEntry
	commands    []*domain.Command
	currentSize int
	largeMode   bool
	sequence    int64
	series      string
	phase       domain.Phase
	nextRun     any
}

// New 创建缓冲区。sender 为 nil 时为演练模式：刷新只组装并返回信封。
func New(opts Options, sender Sender) (*Container, error) {
	opts = opts.withDefaults()

	minLevel, err := opts.minLevel()
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	sanitizer := opts.Sanitizer
	if sanitizer == nil {
		sanitizer = sanitize.New(sanitize.Options{BreakCircular: true})
	}

	c := &Container{
		opts:      opts,
		minLevel:  minLevel,
		sanitizer: sanitizer,
		metrics:   opts.Metrics,
		series:    uuid.NewString(),
		phase:     domain.PhaseUpdate,
	}
	c.logger = logger.WithField("series", c.series)
	c.streamer = NewStreamer(opts.Delay, c.tick)
	if sender != nil {
		c.dispatch = newDispatcher(sender, opts.OnSent, c.logger, opts.Metrics)
	}
	return c, nil
}

// Series 返回本次调用的 series 标识。
func (c *Container) Series() string {
	return c.series
}

// Sequence 返回下一个信封将使用的序号。
func (c *Container) Sequence() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sequence
}

// CurrentSize 返回当前缓冲条目的序列化字节总数。
func (c *Container) CurrentSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentSize
}

// Len 返回当前缓冲的日志条目数与命令数。
func (c *Container) Len() (logs, commands int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.logEntries), len(c.commands)
}

// LargeMode 报告是否已进入大载荷模式。
func (c *Container) LargeMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.largeMode
}

// Streamer 返回流式调度器。
func (c *Container) Streamer() *Streamer {
	return c.streamer
}

// Phase 返回当前阶段。
func (c *Container) Phase() domain.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// SetPhase 设置后续信封的阶段。
func (c *Container) SetPhase(p domain.Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

// SetNextRun 设置下一次运行的调度提示，刷新后仍保留。
func (c *Container) SetNextRun(v any) {
	c.mu.Lock()
	c.nextRun = v
	c.mu.Unlock()
}

// Log 创建日志条目并准入。data 先脱敏再规整，
// 脱敏后仍不是对象的值包装为 {"data": value}。
func (c *Container) Log(ctx context.Context, level domain.Level, message string, data any) error {
	return c.AdmitLog(ctx, domain.NewLogEntry(level, message, c.sanitizer.Sanitize(data)))
}

// AdmitLog 准入一条日志条目。
// 低于阈值级别的条目被丢弃；超过单条上限的条目被截断而不是报错；
// 累计越过软上限时按溢出策略刷新或切换到大载荷模式。
func (c *Container) AdmitLog(ctx context.Context, entry domain.LogEntry) error {
	if !entry.Level.Enabled(c.minLevel) {
		return nil
	}
	entry.Data = c.sanitizer.SanitizeMap(entry.Data)

	if err := c.veto(Admission{Kind: KindLog, Log: &entry}); err != nil {
		return err
	}

	size, err := Size(entry)
	if err != nil {
		c.metrics.RecordReject(string(KindLog), rejectInvalid)
		return fmt.Errorf("measure log entry: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	overhead := c.metaOverheadLocked()
	if size+overhead > c.opts.MaxItemBytes {
		c.logger.WithFields(logrus.Fields{
			"bytes": size,
			"limit": c.opts.MaxItemBytes,
		}).Warn("Log entry too large, truncating data")
		entry = truncateLog(entry, size)
		if size, err = Size(entry); err != nil {
			return fmt.Errorf("measure log entry: %w", err)
		}
		c.metrics.RecordTruncation()
	}

	if !c.largeMode && overhead+size+c.currentSize > c.opts.SoftLimitBytes {
		if err := c.overflowLocked(ctx, KindLog, size); err != nil {
			return err
		}
	}

	c.logEntries = append(c.logEntries, entry)
	c.currentSize += size
	c.metrics.RecordAdmit(string(KindLog), size, c.currentSize)
	return nil
}

// AdmitCommand 准入一条命令。
// 命令在缺失时获得 ID 与时间戳；超过硬上限返回 ErrPayloadTooLarge，
// 缓冲区保持不变。命令从不截断。
func (c *Container) AdmitCommand(ctx context.Context, cmd *domain.Command) error {
	if cmd == nil {
		return fmt.Errorf("%w: nil command", domain.ErrBadRequest)
	}
	cmd.Stamp(c.opts.Now())

	if err := c.veto(Admission{Kind: KindCommand, Command: cmd}); err != nil {
		return err
	}

	size, err := Size(cmd)
	if err != nil {
		c.metrics.RecordReject(string(KindCommand), rejectInvalid)
		return fmt.Errorf("measure command %s: %w", cmd.Type, err)
	}
	if size > c.opts.HardCommandBytes {
		c.metrics.RecordReject(string(KindCommand), rejectTooLarge)
		return fmt.Errorf("%w: command %s is %d bytes (limit %d)",
			domain.ErrPayloadTooLarge, cmd.Type, size, c.opts.HardCommandBytes)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.largeMode {
		overhead := c.metaOverheadLocked()
		switch {
		case size+overhead > c.opts.SoftLimitBytes:
			// 即使刷新后也无法放进任何内联信封
			c.enterLargeModeLocked("command exceeds soft limit", size)
		case overhead+size+c.currentSize > c.opts.SoftLimitBytes:
			if err := c.overflowLocked(ctx, KindCommand, size); err != nil {
				return err
			}
		}
	}

	c.commands = append(c.commands, cmd)
	c.currentSize += size
	c.metrics.RecordAdmit(string(KindCommand), size, c.currentSize)
	return nil
}

func (c *Container) veto(a Admission) error {
	for _, v := range c.opts.Vetoes {
		if err := v(a); err != nil {
			c.metrics.RecordReject(string(a.Kind), rejectVeto)
			return err
		}
	}
	return nil
}

// overflowLocked 处理累计溢出：内联模式报错，否则按策略刷新或进入大载荷模式。
func (c *Container) overflowLocked(ctx context.Context, kind Kind, size int) error {
	if c.opts.Inline {
		c.metrics.RecordReject(string(kind), rejectInlineOverflow)
		return fmt.Errorf("%w: %s of %d bytes with %d bytes buffered (soft limit %d)",
			domain.ErrInlinePayloadTooLarge, kind, size, c.currentSize, c.opts.SoftLimitBytes)
	}
	if c.opts.overflowFlushes() {
		c.flushLocked(ctx, metrics.FlushReasonOverflow, false)
		return nil
	}
	c.enterLargeModeLocked("buffer exceeds soft limit", size)
	return nil
}

// enterLargeModeLocked 切换到大载荷模式（单向），并停止流式调度器。
func (c *Container) enterLargeModeLocked(reason string, size int) {
	if c.largeMode {
		return
	}
	c.largeMode = true
	c.streamer.Stop()
	c.metrics.RecordLargeMode()
	c.logger.WithFields(logrus.Fields{
		"reason":   reason,
		"bytes":    size,
		"buffered": c.currentSize,
	}).Info("Switching to large payload mode")
}

func (c *Container) emptyLocked() bool {
	return len(c.logEntries) == 0 && len(c.commands) == 0
}
