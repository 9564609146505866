// Package sanitize 在日志数据进入缓冲区之前对其进行脱敏。
// 键名以 "$" 开头（或出现在敏感键列表中）的字段会被替换为固定标记，
// 调用方可以通过例外列表放行特定键；同时将任意 Go 值规整为可序列化的通用结构，
// 并打断指针/映射/切片形成的循环引用。
package sanitize

import (
	"encoding"
	"encoding/json"
	"reflect"
	"strings"
	"sync"
	"time"
)

const (
	// Redacted 是敏感字段被替换后的取值
	Redacted = "<sensitive>"
	// Circular 是循环引用被打断后的取值
	Circular = "[Circular]"
	// SensitivePrefix 是敏感字段的键名前缀约定
	SensitivePrefix = "$"
)

// Options 控制一次脱敏调用的行为。
type Options struct {
	// BreakCircular 为 true 时循环引用替换为 Circular，否则替换为 nil
	BreakCircular bool
	// Exceptions 中的键即使满足敏感规则也不会被脱敏
	Exceptions []string
	// SensitiveKeys 是额外视为敏感的键名（不区分大小写）
	SensitiveKeys []string
}

// Sanitize 返回 v 的脱敏副本，v 本身不会被修改。
func Sanitize(v any, opts Options) any {
	w := &walker{
		opts:       opts,
		exceptions: toSet(opts.Exceptions, false),
		sensitive:  toSet(opts.SensitiveKeys, true),
		visiting:   make(map[uintptr]bool),
	}
	return w.walk(reflect.ValueOf(v))
}

// Sanitizer 持有可在调用过程中修改的例外列表，供日志门面复用。
type Sanitizer struct {
	mu   sync.RWMutex
	opts Options
}

// New 创建 Sanitizer。
func New(opts Options) *Sanitizer {
	return &Sanitizer{opts: opts}
}

// SetExceptions 替换例外列表，对之后写入的日志生效。
func (s *Sanitizer) SetExceptions(keys []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.Exceptions = append([]string(nil), keys...)
}

// Sanitize 使用当前选项脱敏 v。
func (s *Sanitizer) Sanitize(v any) any {
	s.mu.RLock()
	opts := s.opts
	s.mu.RUnlock()
	return Sanitize(v, opts)
}

// SanitizeMap 脱敏对象形式的数据。
func (s *Sanitizer) SanitizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out, _ := s.Sanitize(m).(map[string]any)
	return out
}

func toSet(keys []string, fold bool) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		if fold {
			k = strings.ToLower(k)
		}
		set[k] = true
	}
	return set
}

type walker struct {
	opts       Options
	exceptions map[string]bool
	sensitive  map[string]bool
	// visiting 记录当前递归路径上的引用，仅路径上的重复才视为循环
	visiting map[uintptr]bool
}

var (
	timeType          = reflect.TypeOf(time.Time{})
	errorType         = reflect.TypeOf((*error)(nil)).Elem()
	jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

func (w *walker) isSensitive(key string) bool {
	if w.exceptions[key] {
		return false
	}
	return strings.HasPrefix(key, SensitivePrefix) || w.sensitive[strings.ToLower(key)]
}

func (w *walker) circular() any {
	if w.opts.BreakCircular {
		return Circular
	}
	return nil
}

func (w *walker) enter(v reflect.Value) (leave func(), cyclic bool) {
	ptr := v.Pointer()
	if ptr == 0 {
		return func() {}, false
	}
	if w.visiting[ptr] {
		return nil, true
	}
	w.visiting[ptr] = true
	return func() { delete(w.visiting, ptr) }, false
}

func (w *walker) walk(v reflect.Value) any {
	if !v.IsValid() {
		return nil
	}

	if v.Type() == timeType {
		return v.Interface().(time.Time).UTC().Format(time.RFC3339Nano)
	}
	if v.Kind() != reflect.Interface && v.Type().Implements(errorType) {
		if v.Kind() == reflect.Pointer && v.IsNil() {
			return nil
		}
		return map[string]any{"message": v.Interface().(error).Error()}
	}
	if v.Kind() != reflect.Interface && v.Type().Implements(jsonMarshalerType) {
		if v.Kind() == reflect.Pointer && v.IsNil() {
			return nil
		}
		return w.viaJSON(v.Interface())
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return w.walk(v.Elem())
	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		leave, cyclic := w.enter(v)
		if cyclic {
			return w.circular()
		}
		defer leave()
		return w.walk(v.Elem())
	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		leave, cyclic := w.enter(v)
		if cyclic {
			return w.circular()
		}
		defer leave()
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			key := mapKey(iter.Key())
			if w.isSensitive(key) {
				out[key] = Redacted
				continue
			}
			out[key] = w.walk(iter.Value())
		}
		return out
	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			// []byte 与 encoding/json 一致，按 base64 字符串输出
			return w.viaJSON(v.Interface())
		}
		leave, cyclic := w.enter(v)
		if cyclic {
			return w.circular()
		}
		defer leave()
		return w.walkList(v)
	case reflect.Array:
		return w.walkList(v)
	case reflect.Struct:
		return w.walkStruct(v)
	case reflect.Bool:
		return v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint()
	case reflect.Float32, reflect.Float64:
		return v.Float()
	case reflect.String:
		return v.String()
	default:
		// chan / func / complex 等无法序列化的值直接丢弃
		return nil
	}
}

func (w *walker) walkList(v reflect.Value) []any {
	out := make([]any, v.Len())
	for i := 0; i < v.Len(); i++ {
		out[i] = w.walk(v.Index(i))
	}
	return out
}

func (w *walker) walkStruct(v reflect.Value) map[string]any {
	t := v.Type()
	out := make(map[string]any, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name, omitEmpty, skip := jsonField(field)
		if skip {
			continue
		}
		fv := v.Field(i)
		if omitEmpty && fv.IsZero() {
			continue
		}
		if w.isSensitive(name) {
			out[name] = Redacted
			continue
		}
		out[name] = w.walk(fv)
	}
	return out
}

// viaJSON 让自定义序列化的类型按其 JSON 形式参与脱敏。
func (w *walker) viaJSON(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil
	}
	if _, isMap := generic.(map[string]any); isMap {
		return w.walk(reflect.ValueOf(generic))
	}
	return generic
}

func jsonField(f reflect.StructField) (name string, omitEmpty, skip bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	name = f.Name
	parts := strings.Split(tag, ",")
	if parts[0] != "" {
		name = parts[0]
	}
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitEmpty = true
		}
	}
	return name, omitEmpty, false
}

func mapKey(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	if k.Type().Implements(textMarshalerType) {
		if b, err := k.Interface().(encoding.TextMarshaler).MarshalText(); err == nil {
			return string(b)
		}
	}
	data, err := json.Marshal(k.Interface())
	if err != nil {
		return ""
	}
	return strings.Trim(string(data), `"`)
}
