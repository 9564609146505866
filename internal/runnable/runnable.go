// Package runnable 是一次调用的上下文对象。
// 它在调用开始时创建一次，持有调用元数据与批处理缓冲区，
// 并提供日志、资源、策略、控制状态、动作、事件等命令的构造方法。
// 每个操作使用具名的选项结构体，不根据参数的运行时类型重新解释参数位置。
package runnable

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oriys/nimbus-cargo/internal/cargo"
	"github.com/oriys/nimbus-cargo/internal/config"
	"github.com/oriys/nimbus-cargo/internal/domain"
	"github.com/oriys/nimbus-cargo/internal/logging"
	"github.com/oriys/nimbus-cargo/internal/metrics"
	"github.com/oriys/nimbus-cargo/internal/sanitize"
	"github.com/sirupsen/logrus"
)

// MetaResourceID 是调用元数据中当前资源 ID 的键
const MetaResourceID = "resourceId"

// Deps 是调用上下文的外部依赖。
type Deps struct {
	// Sender 为 nil 时为演练模式
	Sender    cargo.Sender
	Logger    logrus.FieldLogger
	Metrics   *metrics.Metrics
	Sanitizer *sanitize.Sanitizer
	OnSent    func(ev *domain.ProcessEvent, err error)
}

// Runnable 是一次调用的上下文。
type Runnable struct {
	typ       domain.RunnableType
	meta      map[string]any
	container *cargo.Container
	logger    logrus.FieldLogger
	now       func() time.Time

	mu          sync.Mutex
	deleted     map[string]bool
	process     domain.Phase
	hadCommands bool
}

// New 创建调用上下文。meta 是平台传入的调用元数据，会原样带回每个信封。
func New(meta map[string]any, cfg config.CargoConfig, deps Deps) (*Runnable, error) {
	typ := domain.RunnableType(cfg.Type)
	if typ == "" {
		typ = domain.RunnableControl
	}
	if err := typ.Validate(); err != nil {
		return nil, err
	}
	if meta == nil {
		meta = map[string]any{}
	}

	opts, err := cargo.OptionsFromConfig(cfg, meta)
	if err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	r := &Runnable{
		typ:     typ,
		meta:    meta,
		logger:  logger.WithField("runnable", string(typ)),
		now:     time.Now,
		deleted: make(map[string]bool),
	}

	if deps.Sanitizer != nil {
		opts.Sanitizer = deps.Sanitizer
	} else {
		opts.Sanitizer = sanitize.New(sanitize.Options{
			BreakCircular: true,
			Exceptions:    cfg.SensitiveExceptions,
			SensitiveKeys: cfg.SensitiveKeys,
		})
	}
	opts.Logger = logger
	opts.Metrics = deps.Metrics
	opts.OnSent = deps.OnSent
	opts.Vetoes = append(opts.Vetoes, r.rejectDeleted)

	c, err := cargo.New(opts, deps.Sender)
	if err != nil {
		return nil, err
	}
	r.container = c
	return r, nil
}

// Type 返回可运行单元类型。
func (r *Runnable) Type() domain.RunnableType {
	return r.typ
}

// Meta 返回调用元数据。
func (r *Runnable) Meta() map[string]any {
	return r.meta
}

// Container 返回底层缓冲区。
func (r *Runnable) Container() *cargo.Container {
	return r.container
}

func (r *Runnable) metaString(key string) string {
	s, _ := r.meta[key].(string)
	return s
}

// orMeta 在 id 为空时回退到调用元数据中的同名字段
func (r *Runnable) orMeta(id, key string) string {
	if id != "" {
		return id
	}
	return r.metaString(key)
}

// Command 准入任意命令（graphql、input_set、grant_delete 等没有专门构造方法的类型）。
func (r *Runnable) Command(ctx context.Context, cmd *domain.Command) error {
	if err := r.container.AdmitCommand(ctx, cmd); err != nil {
		return err
	}

	r.mu.Lock()
	r.hadCommands = true
	if cmd.Type == domain.CommandResourceDelete {
		if id, _ := cmd.Meta[MetaResourceID].(string); id != "" {
			r.deleted[id] = true
		}
	}
	r.mu.Unlock()
	return nil
}

// logCommand 写一条 info 日志后准入命令。
// 删除跟踪检查在写日志之前进行，被拒绝的命令不会在缓冲区留下日志。
func (r *Runnable) logCommand(ctx context.Context, msg string, data any, cmd *domain.Command) error {
	if err := r.checkDeleted(cmd); err != nil {
		return err
	}
	if err := r.Log().Info(ctx, msg, data); err != nil {
		return err
	}
	return r.Command(ctx, cmd)
}

// rejectDeleted 是容器的准入否决钩子
func (r *Runnable) rejectDeleted(a cargo.Admission) error {
	if a.Kind != cargo.KindCommand {
		return nil
	}
	return r.checkDeleted(a.Command)
}

// checkDeleted 拒绝对本次调用中已删除资源的任何修改或再次删除
func (r *Runnable) checkDeleted(cmd *domain.Command) error {
	var key string
	switch cmd.Type {
	case domain.CommandResourceCreate, domain.CommandResourceUpsert:
		key = "parentId"
	case domain.CommandResourcePut, domain.CommandResourceUpdate, domain.CommandResourceDelete,
		domain.CommandResourceNotify, domain.CommandPolicyCreate, domain.CommandPolicyPut,
		domain.CommandPolicyUpdate, domain.CommandPolicyDelete:
		key = MetaResourceID
	default:
		return nil
	}

	id, _ := cmd.Meta[key].(string)
	r.mu.Lock()
	deleted := r.deleted[id]
	r.mu.Unlock()
	if id != "" && deleted {
		return fmt.Errorf("%w: resource %s was deleted in this invocation, cannot %s", domain.ErrBadRequest, id, cmd.Type)
	}
	return nil
}

// Update 显式把进程状态设为 update。
func (r *Runnable) Update(ctx context.Context) error {
	return r.setProcess(ctx, domain.PhaseUpdate)
}

// Terminate 显式把进程状态设为 terminate。
func (r *Runnable) Terminate(ctx context.Context) error {
	return r.setProcess(ctx, domain.PhaseTerminate)
}

func (r *Runnable) setProcess(ctx context.Context, phase domain.Phase) error {
	r.mu.Lock()
	prev := r.process
	r.process = phase
	r.mu.Unlock()

	state := map[string]any{"state": string(phase), "timestamp": r.now().UTC().Format(domain.TimestampLayout)}
	if prev != "" {
		if err := r.Log().Warning(ctx, fmt.Sprintf("Process state previously set to: %s. Resetting.", prev), state); err != nil {
			return err
		}
	}
	r.container.SetPhase(phase)
	return r.Log().Info(ctx, fmt.Sprintf("Setting process state: %s.", phase), state)
}

// Send 发送当前缓冲内容。
// 显式设置了 terminate 时按终结刷新发送；未显式设置状态但本次调用产生过命令时，
// 先把进程状态置为 terminate 再终结刷新；
// 其余情况发送 update 信封。
//
// 大载荷模式下 update 刷新被推迟，缓冲内容保留到终结刷新，
// 此时返回 (nil, domain.ErrFlushDeferred)。返回的信封只在 err 为 nil 时非空。
func (r *Runnable) Send(ctx context.Context) (*domain.ProcessEvent, error) {
	r.mu.Lock()
	implicit := r.process == "" && r.hadCommands
	final := implicit || r.process == domain.PhaseTerminate
	r.mu.Unlock()

	if implicit {
		if err := r.Terminate(ctx); err != nil {
			return nil, err
		}
	}
	if final {
		return r.container.FlushFinal(ctx)
	}
	ev := r.container.Flush(ctx)
	if ev == nil {
		return nil, domain.ErrFlushDeferred
	}
	return ev, nil
}

// SendFinal 执行终结刷新并等待发送完成。
func (r *Runnable) SendFinal(ctx context.Context) (*domain.ProcessEvent, error) {
	return r.container.FlushFinal(ctx)
}

// Start 在长时会话中启动流式刷新。
func (r *Runnable) Start(ctx context.Context) {
	r.container.Start(ctx)
}

// Stop 停止流式刷新。
func (r *Runnable) Stop() {
	r.container.Stop()
}

// Close 停止流式刷新并等待所有发送完成。
func (r *Runnable) Close() {
	r.container.Close()
}
