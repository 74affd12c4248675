package work

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IMBotPlatform/wechat-opensdk/pkg/kernel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURI string) Config {
	return Config{
		CorpID: "ww-corp",
		Secret: "sec",
		Token:  "tok",
		AESKey: strings.TrimRight(base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x12}, 32)), "="),
		HTTP:   kernel.HTTPConfig{BaseURI: baseURI},
	}
}

// encryptedPost 构造企业微信加密回调请求。
func encryptedPost(t *testing.T, enc *kernel.Encryptor, plain string) *http.Request {
	t.Helper()
	cipher, sig, err := enc.Encrypt(plain, "nonce", "1700000000")
	require.NoError(t, err)
	q := url.Values{}
	q.Set("msg_signature", sig)
	q.Set("timestamp", "1700000000")
	q.Set("nonce", "nonce")
	body := "<xml><ToUserName><![CDATA[ww-corp]]></ToUserName><AgentID><![CDATA[1000002]]></AgentID><Encrypt><![CDATA[" + cipher + "]]></Encrypt></xml>"
	return httptest.NewRequest(http.MethodPost, "/callback?"+q.Encode(), strings.NewReader(body))
}

// TestNewApplicationRequiredKeys 验证企业微信必填配置。
func TestNewApplicationRequiredKeys(t *testing.T) {
	_, err := NewApplication(Config{CorpID: "ww"})
	require.ErrorIs(t, err, kernel.ErrInvalidConfig)
	for _, key := range []string{"secret", "token", "aes_key"} {
		assert.Contains(t, err.Error(), key)
	}
}

// TestServerVerifyURL 验证企业微信 URL 校验需解密 echostr。
func TestServerVerifyURL(t *testing.T) {
	app, err := NewApplication(testConfig(""))
	require.NoError(t, err)
	srv, err := app.Server()
	require.NoError(t, err)

	echostr, sig, err := srv.Encryptor().Encrypt("1616140317555161061", "n", "1")
	require.NoError(t, err)
	q := url.Values{}
	q.Set("echostr", echostr)
	q.Set("msg_signature", sig)
	q.Set("timestamp", "1")
	q.Set("nonce", "n")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?"+q.Encode(), nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1616140317555161061", rec.Body.String())
}

// TestServerContactHandlers 验证通讯录事件按 ChangeType 路由。
func TestServerContactHandlers(t *testing.T) {
	app, err := NewApplication(testConfig(""))
	require.NoError(t, err)
	srv, err := app.Server()
	require.NoError(t, err)

	var created, partyDeleted atomic.Int32
	srv.HandleUserCreated(kernel.HandlerFunc(func(ctx context.Context, msg *kernel.Message, next kernel.Next) (any, error) {
		created.Add(1)
		assert.Equal(t, "zhangsan", msg.Value("UserID"))
		return next(ctx, msg)
	}))
	srv.HandlePartyDeleted(kernel.HandlerFunc(func(ctx context.Context, msg *kernel.Message, next kernel.Next) (any, error) {
		partyDeleted.Add(1)
		return next(ctx, msg)
	}))

	userCreated := `<xml><ToUserName><![CDATA[ww-corp]]></ToUserName><FromUserName><![CDATA[sys]]></FromUserName><CreateTime>1</CreateTime><MsgType><![CDATA[event]]></MsgType><Event><![CDATA[change_contact]]></Event><ChangeType>create_user</ChangeType><UserID><![CDATA[zhangsan]]></UserID></xml>`
	resp, err := srv.Serve(context.Background(), encryptedPost(t, srv.Encryptor(), userCreated))
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS", resp.String())

	partyDel := `<xml><ToUserName><![CDATA[ww-corp]]></ToUserName><MsgType><![CDATA[event]]></MsgType><Event><![CDATA[change_contact]]></Event><ChangeType>delete_party</ChangeType><Id>2</Id></xml>`
	_, err = srv.Serve(context.Background(), encryptedPost(t, srv.Encryptor(), partyDel))
	require.NoError(t, err)

	assert.Equal(t, int32(1), created.Load())
	assert.Equal(t, int32(1), partyDeleted.Load())
}

// TestServerMessageReplyEncrypted 验证企业微信的被动回复被加密。
func TestServerMessageReplyEncrypted(t *testing.T) {
	app, err := NewApplication(testConfig(""))
	require.NoError(t, err)
	srv, err := app.Server()
	require.NoError(t, err)
	srv.AddMessageListener("text", kernel.HandlerFunc(func(ctx context.Context, msg *kernel.Message, next kernel.Next) (any, error) {
		return "收到: " + msg.Value("Content"), nil
	}))

	text := `<xml><ToUserName><![CDATA[ww-corp]]></ToUserName><FromUserName><![CDATA[lisi]]></FromUserName><CreateTime>1</CreateTime><MsgType><![CDATA[text]]></MsgType><Content><![CDATA[你好]]></Content><AgentID>1000002</AgentID></xml>`
	resp, err := srv.Serve(context.Background(), encryptedPost(t, srv.Encryptor(), text))
	require.NoError(t, err)

	envelope, err := kernel.ParseXML(resp.Body)
	require.NoError(t, err)
	plain, err := srv.Encryptor().Decrypt(envelope.Value("Encrypt"), envelope.Value("MsgSignature"), envelope.Value("Nonce"), envelope.Value("TimeStamp"))
	require.NoError(t, err)
	assert.Contains(t, plain, "<Content><![CDATA[收到: 你好]]></Content>")
	assert.Contains(t, plain, "<ToUserName><![CDATA[lisi]]></ToUserName>")
}

// TestJSSDKConfigs 验证企业与应用 JS-SDK 签名。
func TestJSSDKConfigs(t *testing.T) {
	var tokenCalls atomic.Int32
	platform := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch r.URL.Path {
		case "/cgi-bin/gettoken":
			tokenCalls.Add(1)
			assert.Equal(t, "ww-corp", q.Get("corpid"))
			assert.Equal(t, "sec", q.Get("corpsecret"))
			_, _ = w.Write([]byte(`{"errcode":0,"access_token":"AT","expires_in":7200}`))
		case "/cgi-bin/get_jsapi_ticket":
			assert.Equal(t, "AT", q.Get("access_token"))
			_, _ = w.Write([]byte(`{"errcode":0,"ticket":"corp-ticket","expires_in":7200}`))
		case "/cgi-bin/ticket/get":
			assert.Equal(t, "agent_config", q.Get("type"))
			_, _ = w.Write([]byte(`{"errcode":0,"ticket":"agent-ticket","expires_in":7200}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer platform.Close()

	orig := nowFunc
	nowFunc = func() time.Time { return time.Unix(1700000000, 0) }
	t.Cleanup(func() { nowFunc = orig })

	app, err := NewApplication(testConfig(platform.URL))
	require.NoError(t, err)

	cfg, err := app.Utils().BuildJSSDKConfig(context.Background(), "https://a.example/page", []string{"selectEnterpriseContact"}, nil, false, true)
	require.NoError(t, err)
	assert.Equal(t, "ww-corp", cfg.AppID)
	assert.True(t, cfg.Beta)
	assert.Equal(t, int64(1700000000), cfg.Timestamp)

	agent, err := app.Utils().BuildJSSDKAgentConfig(context.Background(), 1000002, "https://a.example/page", nil, nil, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1000002), agent.AgentID)
	assert.Equal(t, "ww-corp", agent.CorpID)
	assert.NotEqual(t, cfg.Signature, agent.Signature)
	assert.Equal(t, "work.jsapi_ticket.ww-corp.1000002", app.Ticket().AgentKey(1000002))

	assert.Equal(t, int32(1), tokenCalls.Load())
}
