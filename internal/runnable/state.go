package runnable

import (
	"context"
	"fmt"

	"github.com/oriys/nimbus-cargo/internal/domain"
)

// 控制状态取值
const (
	StateOK               = "ok"
	StateAlarm            = "alarm"
	StateError            = "error"
	StateSkipped          = "skipped"
	StateInvalid          = "invalid"
	StateTBD              = "tbd"
	StateInsufficientData = "insufficient_data"
)

// StateOptions 描述一次状态更新。
// TargetID 为空时使用调用元数据中的 <runnable>Id（例如 controlId）。
type StateOptions struct {
	TargetID string
	Reason   string
	Data     any
}

func (r *Runnable) OK(ctx context.Context, opts StateOptions) error {
	return r.SetState(ctx, StateOK, opts)
}

func (r *Runnable) Alarm(ctx context.Context, opts StateOptions) error {
	return r.SetState(ctx, StateAlarm, opts)
}

func (r *Runnable) Error(ctx context.Context, opts StateOptions) error {
	return r.SetState(ctx, StateError, opts)
}

func (r *Runnable) Skipped(ctx context.Context, opts StateOptions) error {
	return r.SetState(ctx, StateSkipped, opts)
}

func (r *Runnable) Invalid(ctx context.Context, opts StateOptions) error {
	return r.SetState(ctx, StateInvalid, opts)
}

func (r *Runnable) TBD(ctx context.Context, opts StateOptions) error {
	return r.SetState(ctx, StateTBD, opts)
}

func (r *Runnable) InsufficientData(ctx context.Context, opts StateOptions) error {
	return r.SetState(ctx, StateInsufficientData, opts)
}

// SetState 生成 <runnable>_update 命令，载荷为 {state, timestamp, reason?, data?}。
func (r *Runnable) SetState(ctx context.Context, state string, opts StateOptions) error {
	idKey := r.typ.IDKey()
	payload := map[string]any{
		"state":     state,
		"timestamp": r.now().UTC().Format(domain.TimestampLayout),
	}
	if opts.Reason != "" {
		payload["reason"] = opts.Reason
	}
	if opts.Data != nil {
		payload["data"] = opts.Data
	}

	meta := map[string]any{idKey: r.orMeta(opts.TargetID, idKey)}
	return r.logCommand(ctx, fmt.Sprintf("Update state: %s.", state), payload, domain.NewCommand(r.typ.UpdateCommand(), meta, payload))
}

// NotifyOptions 描述一条通知。TargetID 为空时使用调用元数据中的对应 ID。
type NotifyOptions struct {
	TargetID string
	Icon     string
	Message  string
	Data     any
}

func notifyPayload(opts NotifyOptions) map[string]any {
	payload := map[string]any{
		"icon":    opts.Icon,
		"message": opts.Message,
	}
	if opts.Data != nil {
		payload["data"] = opts.Data
	}
	return payload
}

// Notify 生成 <runnable>_notify 命令。
func (r *Runnable) Notify(ctx context.Context, opts NotifyOptions) error {
	idKey := r.typ.IDKey()
	meta := map[string]any{idKey: r.orMeta(opts.TargetID, idKey)}
	return r.Command(ctx, domain.NewCommand(r.typ.NotifyCommand(), meta, notifyPayload(opts)))
}
