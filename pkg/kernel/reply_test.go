package kernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixClock 固定回复中的时间戳与随机串。
func fixClock(t *testing.T) {
	t.Helper()
	origNow, origNonce := nowFunc, nonceFunc
	nowFunc = func() time.Time { return time.Unix(1700000000, 0) }
	nonceFunc = func() string { return "fixednonce000000" }
	t.Cleanup(func() {
		nowFunc, nonceFunc = origNow, origNonce
	})
}

func inbound() *Message {
	return NewMessage([]Field{
		{Name: "ToUserName", Value: "gh_app"},
		{Name: "FromUserName", Value: "user-1"},
		{Name: "MsgType", Value: "text"},
	}, "")
}

// TestTransformToReplyDefaults 验证空返回值（含 nil *Response）输出 "success"。
func TestTransformToReplyDefaults(t *testing.T) {
	for _, v := range []any{nil, "", (*Response)(nil)} {
		resp, err := TransformToReply(v, inbound(), nil)
		require.NoError(t, err)
		assert.Equal(t, "success", resp.String())
		assert.Equal(t, contentTypeText, resp.Header.Get("Content-Type"))
	}
}

// TestTransformToReplyText 验证字符串与数字被转换为文本回复，收发方与原消息相反。
func TestTransformToReplyText(t *testing.T) {
	fixClock(t)

	resp, err := TransformToReply("hello", inbound(), nil)
	require.NoError(t, err)
	assert.Equal(t,
		"<xml><ToUserName><![CDATA[user-1]]></ToUserName><FromUserName><![CDATA[gh_app]]></FromUserName>"+
			"<CreateTime>1700000000</CreateTime><MsgType><![CDATA[text]]></MsgType><Content><![CDATA[hello]]></Content></xml>",
		resp.String())

	resp, err = TransformToReply(42, inbound(), nil)
	require.NoError(t, err)
	assert.Contains(t, resp.String(), "<Content>42</Content>")

	resp, err = TransformToReply(func() any { return "lazy" }, inbound(), nil)
	require.NoError(t, err)
	assert.Contains(t, resp.String(), "<Content><![CDATA[lazy]]></Content>")
}

// TestTransformToReplyStructured 验证结构化回复的字段顺序与嵌套输出。
func TestTransformToReplyStructured(t *testing.T) {
	fixClock(t)

	resp, err := TransformToReply(Reply{
		"MsgType": "news",
		"Articles": []Reply{
			{"Title": "t1", "Url": "https://a"},
		},
		"ArticleCount": 1,
		"Empty":        "",
	}, inbound(), nil)
	require.NoError(t, err)
	assert.Equal(t,
		"<xml><ToUserName><![CDATA[user-1]]></ToUserName><FromUserName><![CDATA[gh_app]]></FromUserName>"+
			"<CreateTime>1700000000</CreateTime><MsgType><![CDATA[news]]></MsgType><ArticleCount>1</ArticleCount>"+
			"<Articles><item><Title><![CDATA[t1]]></Title><Url><![CDATA[https://a]]></Url></item></Articles></xml>",
		resp.String())

	resp, err = TransformToReply(ImageReply("media-1"), inbound(), nil)
	require.NoError(t, err)
	assert.Contains(t, resp.String(), "<Image><MediaId><![CDATA[media-1]]></MediaId></Image>")
}

// TestTransformToReplyOverridesHead 验证用户字段可覆盖默认的收发方。
func TestTransformToReplyOverridesHead(t *testing.T) {
	resp, err := TransformToReply(map[string]any{"MsgType": "text", "Content": "x", "ToUserName": "other"}, inbound(), nil)
	require.NoError(t, err)
	assert.Contains(t, resp.String(), "<ToUserName><![CDATA[other]]></ToUserName>")
}

// TestTransformToReplyInvalid 验证缺少 MsgType 或类型不支持时返回 ErrInvalidReply。
func TestTransformToReplyInvalid(t *testing.T) {
	_, err := TransformToReply(Reply{"Content": "x"}, inbound(), nil)
	require.ErrorIs(t, err, ErrInvalidReply)

	_, err = TransformToReply(struct{}{}, inbound(), nil)
	require.ErrorIs(t, err, ErrInvalidReply)
}

// TestTransformToReplyPassThrough 验证 *Response 与完整 XML 字符串原样输出。
func TestTransformToReplyPassThrough(t *testing.T) {
	custom := JSONResponse(201, []byte(`{}`))
	resp, err := TransformToReply(custom, inbound(), nil)
	require.NoError(t, err)
	assert.Same(t, custom, resp)

	const raw = `<xml><MsgType>transfer_customer_service</MsgType></xml>`
	resp, err = TransformToReply(raw, inbound(), nil)
	require.NoError(t, err)
	assert.Equal(t, raw, resp.String())
	assert.Equal(t, contentTypeXML, resp.Header.Get("Content-Type"))

	// 非完整 XML 的字符串按文本回复处理。
	resp, err = TransformToReply("<b>bold", inbound(), nil)
	require.NoError(t, err)
	assert.Contains(t, resp.String(), "<Content><![CDATA[<b>bold]]></Content>")
}

// TestTransformToReplyEncrypted 验证存在加密器时输出可解密的加密信封。
func TestTransformToReplyEncrypted(t *testing.T) {
	fixClock(t)
	enc, err := NewEncryptor("gh_app", "tok", testAESKey(0x66))
	require.NoError(t, err)

	resp, err := TransformToReply("hello", inbound(), enc)
	require.NoError(t, err)

	envelope, err := ParseXML(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "1700000000", envelope.Value("TimeStamp"))
	assert.Equal(t, "fixednonce000000", envelope.Value("Nonce"))

	plain, err := enc.Decrypt(envelope.Value("Encrypt"), envelope.Value("MsgSignature"), "fixednonce000000", "1700000000")
	require.NoError(t, err)
	inner, err := ParseXML([]byte(plain))
	require.NoError(t, err)
	assert.Equal(t, "hello", inner.Value("Content"))
	assert.Equal(t, "user-1", inner.Value("ToUserName"))
}

// TestCDATAEscapesTerminator 验证内容中的 "]]>" 被拆分后仍能正确解析。
func TestCDATAEscapesTerminator(t *testing.T) {
	xmlDoc := BuildXML(Reply{"MsgType": "text", "Content": "a]]>b"})
	msg, err := ParseXML([]byte(xmlDoc))
	require.NoError(t, err)
	assert.Equal(t, "a]]>b", msg.Value("Content"))
}
