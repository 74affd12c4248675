package kernel

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// maxBodyBytes 限制回调请求体大小。
const maxBodyBytes = 4 << 20

// Field 为消息中的一个字段（按出现顺序保存）。
type Field struct {
	Name  string
	Value string
}

// Message 表示一次回调推送的消息（必要时已解密）。
// 字段集合创建后只读；访问不存在的字段返回空值而不是错误。
// XML 中的嵌套元素与 JSON 中的嵌套对象以 "Parent.Child" 形式展开。
type Message struct {
	fields []Field
	index  map[string]int
	raw    string
}

// NewMessage 根据字段列表与原始请求体构造消息。
// 重复字段保留首次出现的值用于 Get，其余仍保留在 Fields 中。
func NewMessage(fields []Field, raw string) *Message {
	m := &Message{
		fields: append([]Field(nil), fields...),
		index:  make(map[string]int, len(fields)),
		raw:    raw,
	}
	for i, f := range m.fields {
		if _, ok := m.index[f.Name]; !ok {
			m.index[f.Name] = i
		}
	}
	return m
}

// CreateFromRequest 读取请求体并解析为 Message。
// Returns:
//   - *Message: 解析后的消息
//   - error: 请求体为空或格式错误时返回 ErrBadRequest
func CreateFromRequest(r *http.Request) (*Message, error) {
	if r == nil || r.Body == nil {
		return nil, badRequest("empty body")
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, badRequest("read body: %v", err)
	}
	// 回写请求体，便于上层再次读取（如 GetDecryptedMessage）。
	r.Body = io.NopCloser(bytes.NewReader(body))
	return ParseMessage(body)
}

// ParseMessage 根据内容判断编码（XML 或 JSON）并解析。
func ParseMessage(body []byte) (*Message, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, badRequest("empty body")
	}
	switch trimmed[0] {
	case '<':
		return ParseXML(body)
	case '{':
		return ParseJSON(body)
	default:
		return nil, badRequest("unsupported body format")
	}
}

// ParseXML 将 XML 文档解析为扁平字段。
// 根元素下的叶子元素按名称保存；含子元素的节点以点号路径展开。
//
// 流程图：
//
//	[XML文本] -> [逐个Token读取] -> [维护元素路径栈] -> [叶子文本写入字段]
func ParseXML(body []byte) (*Message, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))

	var (
		fields   []Field
		path     []string
		text     strings.Builder
		hasChild []bool
		rooted   bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, badRequest("malformed xml: %v", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if len(path) == 0 && rooted {
				return nil, badRequest("malformed xml: multiple root elements")
			}
			rooted = true
			if n := len(hasChild); n > 0 {
				hasChild[n-1] = true
			}
			path = append(path, t.Name.Local)
			hasChild = append(hasChild, false)
			text.Reset()
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			depth := len(path)
			// 根元素以外的叶子节点写入字段。
			if depth > 1 && !hasChild[depth-1] {
				name := strings.Join(path[1:], ".")
				fields = append(fields, Field{Name: name, Value: strings.TrimSpace(text.String())})
			}
			path = path[:depth-1]
			hasChild = hasChild[:depth-1]
			text.Reset()
		}
	}
	if !rooted || len(path) != 0 {
		return nil, badRequest("malformed xml: unexpected end of document")
	}

	return NewMessage(fields, string(body)), nil
}

// ParseJSON 将 JSON 对象解析为扁平字段。
// 字符串值保存原文；其它值（数字、布尔、对象、数组）保存 JSON 原始文本；
// 嵌套对象额外以点号路径展开其成员。
func ParseJSON(body []byte) (*Message, error) {
	if !gjson.ValidBytes(body) {
		return nil, badRequest("malformed json")
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, badRequest("json body is not an object")
	}

	var fields []Field
	flattenJSON("", root, &fields)
	return NewMessage(fields, string(body)), nil
}

// flattenJSON 递归展开 JSON 对象。
func flattenJSON(prefix string, obj gjson.Result, fields *[]Field) {
	obj.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if prefix != "" {
			name = prefix + "." + name
		}
		*fields = append(*fields, Field{Name: name, Value: jsonValue(value)})
		if value.IsObject() {
			flattenJSON(name, value, fields)
		}
		return true
	})
}

// jsonValue 将 gjson 值转换为字段字符串。
func jsonValue(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return v.Str
	case gjson.Null:
		return ""
	default:
		return v.Raw
	}
}

// Get 返回指定字段的值，字段不存在时第二个返回值为 false。
func (m *Message) Get(name string) (string, bool) {
	if m == nil {
		return "", false
	}
	i, ok := m.index[name]
	if !ok {
		return "", false
	}
	return m.fields[i].Value, true
}

// Value 返回指定字段的值，不存在时返回空字符串。
func (m *Message) Value(name string) string {
	v, _ := m.Get(name)
	return v
}

// Has 判断字段是否存在。
func (m *Message) Has(name string) bool {
	_, ok := m.Get(name)
	return ok
}

// Fields 返回字段列表的副本。
func (m *Message) Fields() []Field {
	if m == nil {
		return nil
	}
	return append([]Field(nil), m.fields...)
}

// Raw 返回原始请求体。
func (m *Message) Raw() string {
	if m == nil {
		return ""
	}
	return m.raw
}

// WithFields 返回字段集合被替换后的新消息，原始请求体保持不变。
func (m *Message) WithFields(fields []Field) *Message {
	return NewMessage(fields, m.Raw())
}

// MsgType 消息类型。
func (m *Message) MsgType() string { return m.Value("MsgType") }

// Event 事件类型。
func (m *Message) Event() string { return m.Value("Event") }

// InfoType 第三方平台推送类型。
func (m *Message) InfoType() string { return m.Value("InfoType") }

// ChangeType 通讯录变更类型。
func (m *Message) ChangeType() string { return m.Value("ChangeType") }

func (m *Message) SuiteID() string               { return m.Value("SuiteId") }
func (m *Message) SuiteTicket() string           { return m.Value("SuiteTicket") }
func (m *Message) ComponentVerifyTicket() string { return m.Value("ComponentVerifyTicket") }
func (m *Message) FromUserName() string          { return m.Value("FromUserName") }
func (m *Message) ToUserName() string            { return m.Value("ToUserName") }

// EventType 返回支付回调的事件类型。
// 支付消息的字段为解密后的 resource，event_type 位于原始请求体外层。
func (m *Message) EventType() string {
	if v, ok := m.Get("event_type"); ok {
		return v
	}
	return gjson.Get(m.Raw(), "event_type").String()
}

// MarshalJSON 以对象形式输出字段（用于日志与监控推送）。
func (m *Message) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range m.Fields() {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// String 便于调试输出。
func (m *Message) String() string {
	b, err := m.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("message(%d fields)", len(m.fields))
	}
	return string(b)
}
