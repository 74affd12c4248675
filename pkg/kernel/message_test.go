package kernel

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseXMLFlat 验证常见事件消息的字段解析。
func TestParseXMLFlat(t *testing.T) {
	body := `<xml>
  <ToUserName><![CDATA[gh_123]]></ToUserName>
  <FromUserName><![CDATA[openid-1]]></FromUserName>
  <CreateTime>1700000000</CreateTime>
  <MsgType><![CDATA[event]]></MsgType>
  <Event><![CDATA[subscribe]]></Event>
</xml>`
	msg, err := ParseMessage([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, "gh_123", msg.ToUserName())
	assert.Equal(t, "openid-1", msg.FromUserName())
	assert.Equal(t, "event", msg.MsgType())
	assert.Equal(t, "subscribe", msg.Event())
	assert.Equal(t, "1700000000", msg.Value("CreateTime"))
	assert.Equal(t, body, msg.Raw())

	// 访问不存在的字段返回空值。
	v, ok := msg.Get("Missing")
	assert.False(t, ok)
	assert.Empty(t, v)
	assert.Empty(t, msg.InfoType())
}

// TestParseXMLNested 验证嵌套元素以点号路径展开。
func TestParseXMLNested(t *testing.T) {
	body := `<xml><MsgType>event</MsgType><ScanCodeInfo><ScanType>qrcode</ScanType><ScanResult>abc</ScanResult></ScanCodeInfo></xml>`
	msg, err := ParseXML([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, "qrcode", msg.Value("ScanCodeInfo.ScanType"))
	assert.Equal(t, "abc", msg.Value("ScanCodeInfo.ScanResult"))
	assert.False(t, msg.Has("ScanCodeInfo"))
	assert.Len(t, msg.Fields(), 3)
}

// TestParseMessageRejectsMalformed 验证非法请求体返回 ErrBadRequest。
func TestParseMessageRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"empty":        "",
		"blank":        "   \n",
		"plain text":   "hello",
		"truncated":    "<xml><A>1</A>",
		"two roots":    "<a>1</a><b>2</b>",
		"bad json":     `{"a":`,
		"json array":   `[1,2]`,
		"broken close": "<xml><A>1</B></xml>",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseMessage([]byte(body))
			require.ErrorIs(t, err, ErrBadRequest)
		})
	}
}

// TestParseJSONFlatten 验证 JSON 消息的扁平化规则。
func TestParseJSONFlatten(t *testing.T) {
	body := `{"id":"EV-1","event_type":"TRANSACTION.SUCCESS","amount":{"total":100,"currency":"CNY"},"paid":true,"note":null}`
	msg, err := ParseMessage([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, "EV-1", msg.Value("id"))
	assert.Equal(t, "TRANSACTION.SUCCESS", msg.EventType())
	assert.Equal(t, "100", msg.Value("amount.total"))
	assert.Equal(t, "CNY", msg.Value("amount.currency"))
	assert.JSONEq(t, `{"total":100,"currency":"CNY"}`, msg.Value("amount"))
	assert.Equal(t, "true", msg.Value("paid"))
	assert.True(t, msg.Has("note"))
	assert.Empty(t, msg.Value("note"))
}

// TestMessageEventTypeFromRaw 验证字段被替换后 EventType 仍从原始请求体读取。
func TestMessageEventTypeFromRaw(t *testing.T) {
	msg, err := ParseJSON([]byte(`{"event_type":"REFUND.SUCCESS","resource":{}}`))
	require.NoError(t, err)

	replaced := msg.WithFields([]Field{{Name: "refund_status", Value: "SUCCESS"}})
	assert.Equal(t, "REFUND.SUCCESS", replaced.EventType())
	assert.Equal(t, msg.Raw(), replaced.Raw())
	assert.False(t, replaced.Has("resource"))
}

// TestCreateFromRequestRewindsBody 验证读取请求体后可再次读取。
func TestCreateFromRequestRewindsBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/callback", strings.NewReader(`<xml><A>1</A></xml>`))
	msg, err := CreateFromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "1", msg.Value("A"))

	again, err := CreateFromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, msg.Fields(), again.Fields())
}

// TestMessageMarshalJSON 验证消息按字段顺序输出 JSON。
func TestMessageMarshalJSON(t *testing.T) {
	msg := NewMessage([]Field{{"B", "2"}, {"A", "1"}, {"B", "dup"}}, "")
	assert.Equal(t, "2", msg.Value("B"))

	b, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Equal(t, `{"B":"2","A":"1","B":"dup"}`, string(b))
	assert.Equal(t, string(b), msg.String())
}

// TestNilMessageAccessors 验证 nil 消息的访问器不会 panic。
func TestNilMessageAccessors(t *testing.T) {
	var msg *Message
	assert.Empty(t, msg.Value("A"))
	assert.Empty(t, msg.Raw())
	assert.Nil(t, msg.Fields())
}
