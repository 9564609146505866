// Package domain 定义了函数运行期 SDK 的核心领域模型。
package domain

import (
	"time"

	"github.com/google/uuid"
)

// 命令类型常量定义
// 与平台侧的命令目录一一对应；<runnable>_update / <runnable>_notify 由 RunnableType 生成。
const (
	CommandResourceCreate        = "resource_create"
	CommandResourceUpsert        = "resource_upsert"
	CommandResourcePut           = "resource_put"
	CommandResourceUpdate        = "resource_update"
	CommandResourceDelete        = "resource_delete"
	CommandResourceNotify        = "resource_notify"
	CommandPolicyCreate          = "policy_create"
	CommandPolicyPut             = "policy_put"
	CommandPolicyUpdate          = "policy_update"
	CommandPolicyDelete          = "policy_delete"
	CommandActionRun             = "action_run"
	CommandControlRun            = "control_run"
	CommandEventRaise            = "event_raise"
	CommandGraphQL               = "graphql"
	CommandLargeCommand          = "large_command"
	CommandInputSet              = "input_set"
	CommandGrantDelete           = "grant_delete"
	CommandGrantActivationDelete = "grantActivation_delete"
)

// Command 表示一次调用中产生的状态变更指令。
// 对缓冲区而言命令是不透明的：只关心其序列化大小与顺序。
type Command struct {
	Type    string         `json:"type"`
	Meta    map[string]any `json:"meta"`
	Payload any            `json:"payload,omitempty"`
}

// NewCommand 创建命令，meta 为空时初始化为空对象。
func NewCommand(commandType string, meta map[string]any, payload any) *Command {
	if meta == nil {
		meta = map[string]any{}
	}
	return &Command{Type: commandType, Meta: meta, Payload: payload}
}

// Stamp 在缺失时为命令分配唯一 ID 与时间戳。
func (c *Command) Stamp(now time.Time) {
	if c.Meta == nil {
		c.Meta = map[string]any{}
	}
	if id, ok := c.Meta["id"].(string); !ok || id == "" {
		c.Meta["id"] = uuid.NewString()
	}
	if ts, ok := c.Meta["timestamp"].(string); !ok || ts == "" {
		c.Meta["timestamp"] = now.UTC().Format(TimestampLayout)
	}
}

// ID 返回命令 ID（未分配时为空字符串）。
func (c *Command) ID() string {
	id, _ := c.Meta["id"].(string)
	return id
}
