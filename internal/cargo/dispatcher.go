package cargo

import (
	"context"
	"sync"

	"github.com/oriys/nimbus-cargo/internal/domain"
	"github.com/oriys/nimbus-cargo/internal/metrics"
	"github.com/sirupsen/logrus"
)

// sendJob 是一次待发送的信封
type sendJob struct {
	ctx  context.Context
	ev   *domain.ProcessEvent
	opts domain.SendOptions
	done chan struct{}
	err  error
}

// dispatcher 用单个协程按入队顺序调用发送器。
// 入队不会阻塞，因此可以在持有缓冲区锁时调用；
// 信封在线路上的顺序与 messageSequence 一致。
type dispatcher struct {
	sender  Sender
	name    string
	onSent  func(ev *domain.ProcessEvent, err error)
	logger  logrus.FieldLogger
	metrics *metrics.Metrics

	mu       sync.Mutex
	idle     *sync.Cond
	queue    []*sendJob
	inflight int
	closed   bool
	wake     chan struct{}
	loop     sync.WaitGroup
}

func newDispatcher(sender Sender, onSent func(*domain.ProcessEvent, error), logger logrus.FieldLogger, m *metrics.Metrics) *dispatcher {
	d := &dispatcher{
		sender:  sender,
		name:    senderName(sender),
		onSent:  onSent,
		logger:  logger,
		metrics: m,
		wake:    make(chan struct{}, 1),
	}
	d.idle = sync.NewCond(&d.mu)
	d.loop.Add(1)
	go d.run()
	return d
}

// senderName 返回发送器名称，用于日志和指标标签
func senderName(s Sender) string {
	if n, ok := s.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "default"
}

// enqueue 把信封加入发送队列。发送使用脱离取消的上下文，
// 调用方上下文结束不会中断已经交出的发送。
func (d *dispatcher) enqueue(ctx context.Context, ev *domain.ProcessEvent, opts domain.SendOptions) *sendJob {
	job := &sendJob{
		ctx:  context.WithoutCancel(ctx),
		ev:   ev,
		opts: opts,
		done: make(chan struct{}),
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		job.err = domain.ErrSenderClosed
		close(job.done)
		return job
	}
	d.queue = append(d.queue, job)
	d.inflight++
	d.mu.Unlock()

	d.signal()
	return job
}

func (d *dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer d.loop.Done()
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			closed := d.closed
			d.mu.Unlock()
			if closed {
				return
			}
			<-d.wake
			continue
		}
		job := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.send(job)
	}
}

func (d *dispatcher) send(job *sendJob) {
	defer func() {
		close(job.done)
		d.mu.Lock()
		d.inflight--
		if d.inflight == 0 {
			d.idle.Broadcast()
		}
		d.mu.Unlock()
	}()

	job.err = d.sender.Send(job.ctx, job.ev, job.opts)

	entry := d.logger.WithFields(logrus.Fields{
		"series":   job.ev.Series(),
		"sequence": job.ev.Sequence(),
		"sender":   d.name,
	})
	if job.err != nil {
		d.metrics.RecordSendError(d.name)
		entry.WithError(job.err).Warn("Failed to send process event")
	} else {
		entry.Debug("Process event sent")
	}

	if d.onSent != nil {
		d.onSent(job.ev, job.err)
	}
}

// wait 等待所有已入队的发送完成
func (d *dispatcher) wait() {
	d.mu.Lock()
	for d.inflight > 0 {
		d.idle.Wait()
	}
	d.mu.Unlock()
}

// close 停止接收新任务，发送完队列中剩余的信封后返回
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.signal()
	d.loop.Wait()
}
