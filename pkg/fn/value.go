package fn

import (
	"encoding/json"
	"math"
	"sort"
)

// Value 是 JSON 值的只读视图。
// 对不存在的键、越界的下标或类型不匹配的访问都返回"无值"，
// 因此可以安全地链式访问任意深度的输入，例如 args.Input.Get("user").Get("tags").Index(0)。
type Value struct {
	v any
}

// NewValue 基于已解码的 JSON 数据构造 Value。
// 内部会深拷贝 map 与 slice，调用方后续修改原数据不会影响视图。
func NewValue(v any) Value {
	return Value{v: freeze(v)}
}

// ParseValue 解析 JSON 文本并构造 Value。
func ParseValue(data []byte) (Value, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return Value{}, err
	}
	return Value{v: v}, nil
}

func freeze(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = freeze(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = freeze(e)
		}
		return out
	default:
		return v
	}
}

// IsNull 表示该值缺失或为 JSON null。
func (v Value) IsNull() bool {
	return v.v == nil
}

// Exists 表示该值存在且非 null。
func (v Value) Exists() bool {
	return v.v != nil
}

// Get 读取对象字段，非对象或字段不存在时返回空值。
func (v Value) Get(key string) Value {
	if m, ok := v.v.(map[string]any); ok {
		return Value{v: m[key]}
	}
	return Value{}
}

// Index 读取数组元素，非数组或越界时返回空值。
func (v Value) Index(i int) Value {
	if s, ok := v.v.([]any); ok && i >= 0 && i < len(s) {
		return Value{v: s[i]}
	}
	return Value{}
}

// Len 返回数组或对象的元素个数，其他类型返回 0。
func (v Value) Len() int {
	switch t := v.v.(type) {
	case []any:
		return len(t)
	case map[string]any:
		return len(t)
	}
	return 0
}

// Keys 返回对象的键（已排序），非对象返回 nil。
func (v Value) Keys() []string {
	m, ok := v.v.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Items 返回数组的全部元素，非数组返回 nil。
func (v Value) Items() []Value {
	s, ok := v.v.([]any)
	if !ok {
		return nil
	}
	out := make([]Value, len(s))
	for i, e := range s {
		out[i] = Value{v: e}
	}
	return out
}

// String 返回字符串值。
func (v Value) String() (string, bool) {
	s, ok := v.v.(string)
	return s, ok
}

// StringOr 返回字符串值，不是字符串时返回 def。
func (v Value) StringOr(def string) string {
	if s, ok := v.String(); ok {
		return s
	}
	return def
}

// Float 返回数值。
func (v Value) Float() (float64, bool) {
	f, ok := v.v.(float64)
	return f, ok
}

// Int 返回整数值，数值带小数部分或超出范围时返回 false。
func (v Value) Int() (int64, bool) {
	f, ok := v.v.(float64)
	if !ok || f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

// Bool 返回布尔值。
func (v Value) Bool() (bool, bool) {
	b, ok := v.v.(bool)
	return b, ok
}

// Interface 返回底层数据的副本，适合交给 json 或其他库继续处理。
func (v Value) Interface() any {
	return freeze(v.v)
}

// MarshalJSON 实现 json.Marshaler，空值编码为 null。
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.v)
}
