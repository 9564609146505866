package cargo

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/oriys/nimbus-cargo/internal/domain"
)

// errorExcerptRunes 截断提示中错误摘录的最大长度
const errorExcerptRunes = 200

// Size 返回值的规范序列化（JSON）字节数。
func Size(v any) (int, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

// truncateLog 丢弃日志条目的数据，把消息改写为包含原始大小的诊断信息。
// 数据中带有 error.message 或 error 字符串时附加一段摘录。
func truncateLog(e domain.LogEntry, size int) domain.LogEntry {
	msg := fmt.Sprintf("Log entry too large (%d bytes), data truncated.", size)
	if excerpt := errorExcerpt(e.Data); excerpt != "" {
		msg += " Error: " + excerpt
	}
	return domain.LogEntry{
		Timestamp: e.Timestamp,
		Level:     e.Level,
		Message:   msg,
	}
}

func errorExcerpt(data map[string]any) string {
	var s string
	switch v := data["error"].(type) {
	case string:
		s = v
	case map[string]any:
		s, _ = v["message"].(string)
	}
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= errorExcerptRunes {
		return s
	}
	r := []rune(s)
	return string(r[:errorExcerptRunes])
}
