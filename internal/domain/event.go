// Package domain 定义了函数运行期 SDK 的核心领域模型。
package domain

import "strings"

// Phase 表示进程事件所处的阶段。
type Phase string

// 阶段常量定义
const (
	// PhaseUpdate 表示进程仍在运行（默认）
	PhaseUpdate Phase = "update"
	// PhaseTerminate 表示进程已结束
	PhaseTerminate Phase = "terminate"
)

// DefaultNamespace 是进程事件类型的默认命名空间。
const DefaultNamespace = "turbot.com"

// 进程事件元数据中由 SDK 写入的键
const (
	MetaSeries          = "series"
	MetaMessageSequence = "messageSequence"
	MetaMode            = "mode"
	MetaLargeCommandV2  = "largeCommandV2"
	// ModeLargeCommandV2 是大载荷模式下 meta.mode 的取值
	ModeLargeCommandV2 = "largeCommandV2"
)

// EventType 根据命名空间与阶段生成进程事件类型，例如 "process.turbot.com:update"。
func EventType(namespace string, phase Phase) string {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return "process." + namespace + ":" + string(phase)
}

// Payload 是进程事件的载荷。
// log / commands 为空时省略键本身，以区分“无事发生”与“空列表”。
type Payload struct {
	Log      []LogEntry `json:"log,omitempty"`
	Commands []*Command `json:"commands,omitempty"`
	NextRun  any        `json:"nextRun,omitempty"`
}

// IsEmpty 判断载荷是否没有任何键。
func (p *Payload) IsEmpty() bool {
	return p == nil || (len(p.Log) == 0 && len(p.Commands) == 0 && p.NextRun == nil)
}

// ProcessEvent 是发往平台的进程事件信封。
type ProcessEvent struct {
	Meta    map[string]any `json:"meta"`
	Type    string         `json:"type"`
	Payload *Payload       `json:"payload,omitempty"`
}

// Series 返回信封所属的 series。
func (e *ProcessEvent) Series() string {
	s, _ := e.Meta[MetaSeries].(string)
	return s
}

// Sequence 返回信封的消息序号。
// 经过 JSON 往返后数值会变为 float64，这里统一处理。
func (e *ProcessEvent) Sequence() int64 {
	switch v := e.Meta[MetaMessageSequence].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return -1
	}
}

// Phase 从事件类型中解析阶段。
func (e *ProcessEvent) Phase() Phase {
	if i := strings.LastIndexByte(e.Type, ':'); i >= 0 {
		return Phase(e.Type[i+1:])
	}
	return ""
}

// IsLargeCommand 判断信封是否以大载荷模式发送。
func (e *ProcessEvent) IsLargeCommand() bool {
	v, _ := e.Meta[MetaLargeCommandV2].(bool)
	return v
}

// SendOptions 是交给发送器的附加选项。
type SendOptions struct {
	// LargePayload 在大载荷模式的终结发送中携带完整内容，
	// 由传输层负责带外投递；信封本身不再内联 log / commands。
	LargePayload *Payload
}
