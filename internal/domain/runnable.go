// Package domain 定义了函数运行期 SDK 的核心领域模型。
package domain

import "fmt"

// RunnableType 表示正在执行的单元类型，决定命令类型与元数据字段的命名。
type RunnableType string

// 可运行单元类型常量定义
const (
	RunnableControl         RunnableType = "control"
	RunnableAction          RunnableType = "action"
	RunnablePolicy          RunnableType = "policy"
	RunnableReport          RunnableType = "report"
	RunnableScheduledAction RunnableType = "scheduledAction"
)

// Validate 检查可运行单元类型是否受支持。
func (t RunnableType) Validate() error {
	switch t {
	case RunnableControl, RunnableAction, RunnablePolicy, RunnableReport, RunnableScheduledAction:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidRunnableType, string(t))
}

// UpdateCommand 返回该单元的状态更新命令类型，例如 "control_update"。
func (t RunnableType) UpdateCommand() string {
	return string(t) + "_update"
}

// NotifyCommand 返回该单元的通知命令类型，例如 "control_notify"。
func (t RunnableType) NotifyCommand() string {
	return string(t) + "_notify"
}

// IDKey 返回元数据中标识该单元的键，例如 "controlId"。
func (t RunnableType) IDKey() string {
	return string(t) + "Id"
}
