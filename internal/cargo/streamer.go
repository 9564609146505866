package cargo

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Streamer 是长时会话的周期刷新调度器。
// 循环顺序：检查停止 → 等待 delay → 再次检查停止 → 调用 tick。
// 停止是协作式的，已经交给发送器的发送不会被取消。
type Streamer struct {
	delay time.Duration
	tick  func(ctx context.Context)

	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	stops     atomic.Int32
}

// NewStreamer 创建调度器，tick 在每次唤醒且未停止时调用。
func NewStreamer(delay time.Duration, tick func(ctx context.Context)) *Streamer {
	return &Streamer{
		delay: delay,
		tick:  tick,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start 启动调度循环，重复调用或 Stop 之后调用均无效果。
func (s *Streamer) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		go s.run(ctx)
	})
}

// Stop 停止调度循环。幂等，且可以在 Start 之前调用。
func (s *Streamer) Stop() {
	s.stopOnce.Do(func() {
		s.stops.Add(1)
		close(s.stop)
	})
	// 从未启动的循环视为已结束
	s.startOnce.Do(func() {
		close(s.done)
	})
}

// Stopped 报告是否已经调用过 Stop。
func (s *Streamer) Stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// Done 在调度循环退出后关闭。
func (s *Streamer) Done() <-chan struct{} {
	return s.done
}

func (s *Streamer) run(ctx context.Context) {
	defer close(s.done)

	timer := time.NewTimer(s.delay)
	defer timer.Stop()

	for {
		if s.Stopped() {
			return
		}
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if s.Stopped() {
			return
		}
		s.tick(ctx)
		timer.Reset(s.delay)
	}
}
