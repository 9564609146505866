package runnable

import (
	"context"
	"fmt"
	"strings"

	"github.com/oriys/nimbus-cargo/internal/domain"
)

// ExternalEventType 是 Event.Raise 生成的事件类型
const ExternalEventType = "event.turbot.com:External"

// Actions 构造 action_run 命令。
type Actions struct {
	r *Runnable
}

// ActionRun 描述在资源上运行一个动作。
type ActionRun struct {
	ResourceID string
	ActionType string
	Data       any
}

// Action 返回动作命令构造器。
func (r *Runnable) Action() Actions {
	return Actions{r: r}
}

func (as Actions) Run(ctx context.Context, opts ActionRun) error {
	id := as.r.orMeta(opts.ResourceID, MetaResourceID)
	meta := map[string]any{MetaResourceID: id, "actionTypeId": opts.ActionType}

	msg := fmt.Sprintf("Run action %s for resource: %s.", opts.ActionType, id)
	return as.r.logCommand(ctx, msg, opts.Data, domain.NewCommand(domain.CommandActionRun, meta, opts.Data))
}

// Controls 构造 control_run 命令。
type Controls struct {
	r *Runnable
}

// ControlRun 描述在资源上运行一个控制。
type ControlRun struct {
	ResourceID  string
	ControlType string
	Data        any
}

// Control 返回控制命令构造器。
func (r *Runnable) Control() Controls {
	return Controls{r: r}
}

func (cs Controls) Run(ctx context.Context, opts ControlRun) error {
	id := cs.r.orMeta(opts.ResourceID, MetaResourceID)
	meta := map[string]any{MetaResourceID: id, "controlTypeId": opts.ControlType}

	msg := fmt.Sprintf("Run control %s for resource: %s.", opts.ControlType, id)
	return cs.r.logCommand(ctx, msg, opts.Data, domain.NewCommand(domain.CommandControlRun, meta, opts.Data))
}

// Events 构造 event_raise 命令。
type Events struct {
	r *Runnable
}

// Event 返回外部事件构造器。
func (r *Runnable) Event() Events {
	return Events{r: r}
}

// Raise 以外部事件的形式上报 event，aka 标识事件所属资源。
func (es Events) Raise(ctx context.Context, aka, eventType string, event any) error {
	meta := map[string]any{
		"aka":       aka,
		"eventType": ExternalEventType,
		"eventRaw":  eventType,
	}
	msg := fmt.Sprintf("Raise event for aka %s.", aka)
	return es.r.logCommand(ctx, msg, event, domain.NewCommand(domain.CommandEventRaise, meta, event))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
