// Package domain 定义了函数运行期 SDK 的核心领域模型。
package domain

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// TimestampLayout 是日志条目与命令元数据使用的时间格式（UTC，毫秒精度）。
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Level 表示日志条目的级别。
// 数值越小越严重，仅用于级别过滤，从不用于重新排序。
type Level int

// 日志级别常量定义（参考 syslog 严重性）
const (
	// LevelEmergency 平台不可用且不太可能自动恢复
	LevelEmergency Level = iota
	// LevelAlert 关键组件告警，平台不可用但可能自动恢复
	LevelAlert
	// LevelCritical 严重错误，平台可能不可用或性能严重下降
	LevelCritical
	// LevelError 对当前操作有意义的错误，需要排查
	LevelError
	// LevelWarning 警告，不处理可能导致错误
	LevelWarning
	// LevelNotice 重要但正常的事件，例如自动化动作
	LevelNotice
	// LevelInfo 决策过程与中间数据
	LevelInfo
	// LevelDebug 仅用于开发调试
	LevelDebug
)

var levelNames = [...]string{
	LevelEmergency: "emergency",
	LevelAlert:     "alert",
	LevelCritical:  "critical",
	LevelError:     "error",
	LevelWarning:   "warning",
	LevelNotice:    "notice",
	LevelInfo:      "info",
	LevelDebug:     "debug",
}

var levelAliases = map[string]Level{
	"emerg": LevelEmergency,
	"crit":  LevelCritical,
	"err":   LevelError,
}

// String 返回级别名称。
func (l Level) String() string {
	if l < LevelEmergency || l > LevelDebug {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// Rank 返回级别的数值（0 为最严重）。
func (l Level) Rank() int {
	return int(l)
}

// Enabled 判断当前级别在给定阈值下是否应被记录。
func (l Level) Enabled(threshold Level) bool {
	return l <= threshold
}

// ParseLevel 解析级别名称或别名（大小写不敏感）。
func ParseLevel(s string) (Level, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range levelNames {
		if n == name {
			return Level(i), nil
		}
	}
	if l, ok := levelAliases[name]; ok {
		return l, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidLevel, s)
}

// MarshalJSON 将级别序列化为名称字符串。
func (l Level) MarshalJSON() ([]byte, error) {
	if l < LevelEmergency || l > LevelDebug {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLevel, int(l))
	}
	return json.Marshal(levelNames[l])
}

// UnmarshalJSON 从名称字符串解析级别。
func (l *Level) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// LogEntry 表示一次调用中产生的一条日志记录。
// 创建后不再修改（截断时会生成新的条目）。
type LogEntry struct {
	Timestamp string         `json:"timestamp"`
	Level     Level          `json:"level"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewLogEntry 创建日志条目。
// data 为对象时直接使用；其他非空值被包装为 {"data": value}。
func NewLogEntry(level Level, message string, data any) LogEntry {
	return LogEntry{
		Timestamp: time.Now().UTC().Format(TimestampLayout),
		Level:     level,
		Message:   message,
		Data:      WrapData(data),
	}
}

// WrapData 将任意数据规整为对象形式。
// 序列化为 JSON 对象的值（结构体、任意键为字符串的 map）按对象处理，
// 标量与数组被包装为 {"data": value}。
func WrapData(data any) map[string]any {
	switch v := data.(type) {
	case nil:
		return nil
	case map[string]any:
		return v
	}

	rv := reflect.ValueOf(data)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Struct || rv.Kind() == reflect.Map {
		if obj, ok := asObject(data); ok {
			return obj
		}
	}
	return map[string]any{"data": data}
}

// asObject 通过 JSON 往返把值转换为对象；编码结果不是对象时返回 false
// （例如 time.Time 或自定义 MarshalJSON 输出字符串）。
func asObject(v any) (map[string]any, bool) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}
