package cargo

import (
	"context"

	"github.com/oriys/nimbus-cargo/internal/domain"
	"github.com/oriys/nimbus-cargo/internal/metrics"
	"github.com/sirupsen/logrus"
)

// Start 在长时且非内联的会话中启动流式调度器，其余情况不做任何事。
func (c *Container) Start(ctx context.Context) {
	if c.opts.streams() {
		c.streamer.Start(ctx)
	}
}

// Stop 停止流式调度器，不影响已经交出的发送。
func (c *Container) Stop() {
	c.streamer.Stop()
}

// Flush 组装信封、清空缓冲区并把信封交给发送器，返回组装的信封。
// 发送是异步的，按序号顺序进行。大载荷模式下非终结刷新被推迟，返回 nil。
func (c *Container) Flush(ctx context.Context) *domain.ProcessEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev, _ := c.flushLocked(ctx, metrics.FlushReasonExplicit, false)
	return ev
}

// FlushFinal 执行终结刷新：阶段置为 terminate、停止流式调度器后再组装，
// 并等待本次发送完成，返回发送器的错误。
// 大载荷模式下信封不再内联 log / commands，完整内容通过 SendOptions.LargePayload 交给发送器。
func (c *Container) FlushFinal(ctx context.Context) (*domain.ProcessEvent, error) {
	c.streamer.Stop()

	c.mu.Lock()
	c.phase = domain.PhaseTerminate
	ev, job := c.flushLocked(ctx, metrics.FlushReasonFinal, true)
	c.mu.Unlock()

	if job == nil {
		return ev, nil
	}
	select {
	case <-job.done:
		return ev, job.err
	case <-ctx.Done():
		return ev, ctx.Err()
	}
}

// Wait 等待所有已交出的发送完成。
func (c *Container) Wait() {
	if c.dispatch != nil {
		c.dispatch.wait()
	}
}

// Close 停止流式调度器并发送完队列中剩余的信封，之后的刷新将以 ErrSenderClosed 失败。
func (c *Container) Close() {
	c.streamer.Stop()
	if c.dispatch != nil {
		c.dispatch.close()
	}
}

// tick 是流式调度器的回调：缓冲区非空且未进入大载荷模式时刷新。
func (c *Container) tick(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streamer.Stopped() || c.largeMode || c.emptyLocked() {
		return
	}
	c.flushLocked(ctx, metrics.FlushReasonTick, false)
}

// flushLocked 按“组装 → 清空 → 交出”的顺序刷新。
// 先清空再交出，发送过程中新产生的条目不会丢失也不会重复发送。
func (c *Container) flushLocked(ctx context.Context, reason string, final bool) (*domain.ProcessEvent, *sendJob) {
	if c.largeMode && !final {
		c.logger.WithField("reason", reason).Debug("Flush deferred in large payload mode")
		return nil, nil
	}

	ev := c.assembleLocked()
	var opts domain.SendOptions
	if c.largeMode {
		opts.LargePayload = ev.Payload
		ev.Payload = nil
		if c.nextRun != nil {
			ev.Payload = &domain.Payload{NextRun: c.nextRun}
		}
	}

	buffered := c.currentSize
	c.logEntries = nil
	c.commands = nil
	c.currentSize = 0

	if c.metrics != nil {
		n, _ := Size(ev)
		c.metrics.RecordFlush(reason, n)
	}
	c.logger.WithFields(logrus.Fields{
		"sequence": ev.Sequence(),
		"reason":   reason,
		"bytes":    buffered,
		"large":    c.largeMode,
	}).Debug("Flushing process event")

	if c.dispatch == nil {
		return ev, nil
	}
	return ev, c.dispatch.enqueue(ctx, ev, opts)
}
