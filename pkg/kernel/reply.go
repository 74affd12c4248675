package kernel

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Reply 描述结构化的被动回复，必须包含 MsgType。
// 值为 string 时以 CDATA 输出，数字原样输出；嵌套 Reply/map 输出为子元素，切片的每一项输出为 <item>。
type Reply map[string]any

// TextReply 构造文本回复。
func TextReply(content string) Reply {
	return Reply{"MsgType": "text", "Content": content}
}

// ImageReply 构造图片回复。
func ImageReply(mediaID string) Reply {
	return Reply{"MsgType": "image", "Image": Reply{"MediaId": mediaID}}
}

// replyHead 为回复 XML 中固定排在最前面的字段。
var replyHead = []string{"ToUserName", "FromUserName", "CreateTime", "MsgType"}

// nowFunc 与 nonceFunc 抽象为变量便于测试时固定时间戳与随机串。
var (
	nowFunc   = time.Now
	nonceFunc = NewNonce
)

// NewNonce 返回 16 位随机串，用于回复加密、JS-SDK 与支付签名。
func NewNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// TransformToReply 将处理器返回值转换为平台要求的回复。
// Parameters:
//   - value: 处理器返回值（nil、string、数字、Reply、map[string]any、*Response 或返回上述类型的 func() any）
//   - msg: 原始消息，用于确定回复的收发方
//   - enc: 加密器；非 nil 时回复 XML 会被加密并封装为加密信封
//
// Returns:
//   - *Response: 最终响应
//   - error: 结构化回复缺少 MsgType 或类型不支持时返回 ErrInvalidReply
//
// 流程图：
//
//	[返回值] --nil/空串/nil *Response--> ["success"]
//	    |
//	    +--*Response--> [原样返回]
//	    +--XML字符串--> [原样输出（按需加密）]
//	    +--其它字符串/数字--> [text 回复]
//	    +--Reply--> [校验 MsgType]
//	    |
//	    v
//	[补齐 ToUserName/FromUserName/CreateTime] -> [构建XML] -> [按需加密]
func TransformToReply(value any, msg *Message, enc *Encryptor) (*Response, error) {
	if fn, ok := value.(func() any); ok {
		value = fn()
	}

	var attrs Reply
	switch v := value.(type) {
	case nil:
		return TextResponse("success"), nil
	case *Response:
		if v == nil {
			return TextResponse("success"), nil
		}
		return v, nil
	case string:
		if v == "" {
			return TextResponse("success"), nil
		}
		if isXMLDocument(v) {
			return xmlReply(v, enc)
		}
		attrs = Reply{"MsgType": "text", "Content": v}
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		attrs = Reply{"MsgType": "text", "Content": v}
	case Reply:
		attrs = v
	case map[string]any:
		attrs = Reply(v)
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrInvalidReply, value)
	}
	if t, _ := attrs["MsgType"].(string); t == "" {
		return nil, fmt.Errorf("%w: MsgType cannot be empty", ErrInvalidReply)
	}

	// 关键步骤：回复方向与原消息相反，用户字段可覆盖默认值。
	merged := Reply{
		"ToUserName":   msg.FromUserName(),
		"FromUserName": msg.ToUserName(),
		"CreateTime":   nowFunc().Unix(),
	}
	for k, v := range attrs {
		merged[k] = v
	}
	return xmlReply(BuildXML(merged), enc)
}

// xmlReply 输出 XML 回复，存在加密器时封装加密信封。
func xmlReply(body string, enc *Encryptor) (*Response, error) {
	if enc == nil {
		return XMLResponse(body), nil
	}
	ts := strconv.FormatInt(nowFunc().Unix(), 10)
	envelope, err := enc.EncryptXML(body, nonceFunc(), ts)
	if err != nil {
		return nil, err
	}
	return XMLResponse(envelope), nil
}

// isXMLDocument 判断字符串是否为完整的 XML 文档。
func isXMLDocument(s string) bool {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "<") {
		return false
	}
	_, err := ParseXML([]byte(trimmed))
	return err == nil
}

// BuildXML 将回复字段构建为 <xml>...</xml> 文档，空值字段被忽略。
func BuildXML(attrs Reply) string {
	var b strings.Builder
	b.WriteString("<xml>")
	writeXMLFields(&b, attrs, true)
	b.WriteString("</xml>")
	return b.String()
}

func writeXMLFields(b *strings.Builder, attrs map[string]any, top bool) {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if top {
		ordered := make([]string, 0, len(keys))
		for _, k := range replyHead {
			if _, ok := attrs[k]; ok {
				ordered = append(ordered, k)
			}
		}
		for _, k := range keys {
			if !isReplyHead(k) {
				ordered = append(ordered, k)
			}
		}
		keys = ordered
	}

	for _, k := range keys {
		v := attrs[k]
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		b.WriteString("<" + k + ">")
		writeXMLValue(b, v)
		b.WriteString("</" + k + ">")
	}
}

func writeXMLValue(b *strings.Builder, v any) {
	switch t := v.(type) {
	case string:
		b.WriteString(cdata(t))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, bool:
		b.WriteString(fmt.Sprint(t))
	case Reply:
		writeXMLFields(b, t, false)
	case map[string]any:
		writeXMLFields(b, t, false)
	case []Reply:
		for _, item := range t {
			b.WriteString("<item>")
			writeXMLFields(b, item, false)
			b.WriteString("</item>")
		}
	case []map[string]any:
		for _, item := range t {
			b.WriteString("<item>")
			writeXMLFields(b, item, false)
			b.WriteString("</item>")
		}
	case []any:
		for _, item := range t {
			b.WriteString("<item>")
			writeXMLValue(b, item)
			b.WriteString("</item>")
		}
	case []string:
		for _, item := range t {
			b.WriteString("<item>" + cdata(item) + "</item>")
		}
	case fmt.Stringer:
		b.WriteString(cdata(t.String()))
	default:
		b.WriteString(cdata(fmt.Sprint(t)))
	}
}

func isReplyHead(k string) bool {
	for _, h := range replyHead {
		if h == k {
			return true
		}
	}
	return false
}

// cdata 以 CDATA 包裹文本，内部的 "]]>" 会被拆分。
func cdata(s string) string {
	return "<![CDATA[" + strings.ReplaceAll(s, "]]>", "]]]]><![CDATA[>") + "]]>"
}
