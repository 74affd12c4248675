package officialaccount

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
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

func testAESKey() string {
	return strings.TrimRight(base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x7a}, 32)), "=")
}

const subscribeEvent = `<xml><ToUserName><![CDATA[gh_1]]></ToUserName><FromUserName><![CDATA[openid]]></FromUserName><CreateTime>1</CreateTime><MsgType><![CDATA[event]]></MsgType><Event><![CDATA[subscribe]]></Event></xml>`

// fakePlatform 模拟公众号接口。
func fakePlatform(t *testing.T, tokenCalls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cgi-bin/token":
			tokenCalls.Add(1)
			assert.Equal(t, "client_credential", r.URL.Query().Get("grant_type"))
			assert.Equal(t, "wx-oa", r.URL.Query().Get("appid"))
			assert.Equal(t, "sec", r.URL.Query().Get("secret"))
			_, _ = w.Write([]byte(`{"access_token":"AT","expires_in":7200}`))
		case "/cgi-bin/ticket/getticket":
			assert.Equal(t, "AT", r.URL.Query().Get("access_token"))
			assert.Equal(t, "jsapi", r.URL.Query().Get("type"))
			_, _ = w.Write([]byte(`{"errcode":0,"errmsg":"ok","ticket":"sM4AOVdWfPE4DxkXGEs8VMCPGGVi4C3VM0P37wVUCFvkVAy_90u5h9nbSlYy3-Sl-HhTdfl2fzFy1AOcHKP7qg","expires_in":7200}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// TestNewApplicationRequiresAppID 验证缺少 app_id 时创建失败。
func TestNewApplicationRequiresAppID(t *testing.T) {
	_, err := NewApplication(Config{})
	require.ErrorIs(t, err, kernel.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "app_id")
}

// TestLoadConfig 验证从环境变量加载公众号配置。
func TestLoadConfig(t *testing.T) {
	t.Setenv("WECHAT_OFFICIAL_ACCOUNT_APP_ID", "wx-env")
	t.Setenv("WECHAT_OFFICIAL_ACCOUNT_AES_KEY", "key")
	t.Setenv("WECHAT_OFFICIAL_ACCOUNT_HTTP_NO_THROW", "true")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "wx-env", cfg.Get("app_id"))
	assert.Equal(t, "key", cfg.Get("aes_key"))
	assert.True(t, cfg.HTTPOptions().NoThrow)
}

// TestEncryptorRequiresTokenAndKey 验证缺少 token 或 aes_key 时无法创建加密器。
func TestEncryptorRequiresTokenAndKey(t *testing.T) {
	app, err := NewApplication(Config{AppID: "wx-oa", Token: "tok"})
	require.NoError(t, err)

	_, err = app.Encryptor()
	require.ErrorIs(t, err, kernel.ErrInvalidConfig)

	// 明文模式下回调服务无加密器。
	srv, err := app.Server()
	require.NoError(t, err)
	assert.Nil(t, srv.Encryptor())
}

// TestServerPlainListeners 验证明文模式下的消息与事件监听器。
func TestServerPlainListeners(t *testing.T) {
	app, err := NewApplication(Config{AppID: "wx-oa", Token: "tok"})
	require.NoError(t, err)
	srv, err := app.Server()
	require.NoError(t, err)

	srv.AddMessageListener("text", kernel.HandlerFunc(func(ctx context.Context, msg *kernel.Message, next kernel.Next) (any, error) {
		return "text reply", nil
	}))
	srv.AddEventListener("subscribe", kernel.HandlerFunc(func(ctx context.Context, msg *kernel.Message, next kernel.Next) (any, error) {
		return kernel.TextReply("welcome"), nil
	}))

	q := url.Values{}
	q.Set("timestamp", "1")
	q.Set("nonce", "n")
	q.Set("signature", kernel.CalcSignature("tok", "1", "n"))
	req := httptest.NewRequest(http.MethodPost, "/callback?"+q.Encode(), strings.NewReader(subscribeEvent))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Content><![CDATA[welcome]]></Content>")
	assert.Contains(t, rec.Body.String(), "<ToUserName><![CDATA[openid]]></ToUserName>")

	// 签名错误时拒绝。
	q.Set("signature", "bad")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/callback?"+q.Encode(), strings.NewReader(subscribeEvent)))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

// TestServerEchoPlain 验证公众号 echostr 原样回显。
func TestServerEchoPlain(t *testing.T) {
	app, err := NewApplication(Config{AppID: "wx-oa", Token: "tok", AESKey: testAESKey()})
	require.NoError(t, err)
	srv, err := app.Server()
	require.NoError(t, err)
	require.NotNil(t, srv.Encryptor())

	q := url.Values{}
	q.Set("echostr", "hello-echo")
	q.Set("timestamp", "1")
	q.Set("nonce", "n")
	q.Set("signature", kernel.CalcSignature("tok", "1", "n"))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?"+q.Encode(), nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello-echo", rec.Body.String())
}

// TestServerSafeMode 验证安全模式下消息被解密、回复被加密。
func TestServerSafeMode(t *testing.T) {
	app, err := NewApplication(Config{AppID: "wx-oa", Token: "tok", AESKey: testAESKey()})
	require.NoError(t, err)
	srv, err := app.Server()
	require.NoError(t, err)
	enc := srv.Encryptor()

	srv.AddEventListener("subscribe", kernel.HandlerFunc(func(ctx context.Context, msg *kernel.Message, next kernel.Next) (any, error) {
		return "hi " + msg.FromUserName(), nil
	}))

	cipher, sig, err := enc.Encrypt(subscribeEvent, "n1", "100")
	require.NoError(t, err)
	q := url.Values{}
	q.Set("msg_signature", sig)
	q.Set("timestamp", "100")
	q.Set("nonce", "n1")
	body := "<xml><ToUserName><![CDATA[gh_1]]></ToUserName><Encrypt><![CDATA[" + cipher + "]]></Encrypt></xml>"

	resp, err := srv.Serve(context.Background(), httptest.NewRequest(http.MethodPost, "/callback?"+q.Encode(), strings.NewReader(body)))
	require.NoError(t, err)

	envelope, err := kernel.ParseXML(resp.Body)
	require.NoError(t, err)
	plain, err := enc.Decrypt(envelope.Value("Encrypt"), envelope.Value("MsgSignature"), envelope.Value("Nonce"), envelope.Value("TimeStamp"))
	require.NoError(t, err)
	inner, err := kernel.ParseXML([]byte(plain))
	require.NoError(t, err)
	assert.Equal(t, "hi openid", inner.Value("Content"))
}

// TestAccessTokenAndJSSDK 验证 AccessToken 缓存与 JS-SDK 配置签名。
func TestAccessTokenAndJSSDK(t *testing.T) {
	var tokenCalls atomic.Int32
	platform := fakePlatform(t, &tokenCalls)

	app, err := NewApplication(Config{AppID: "wx-oa", Secret: "sec", HTTP: kernel.HTTPConfig{BaseURI: platform.URL}})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		token, err := app.AccessToken().Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "AT", token)
	}
	assert.Equal(t, int32(1), tokenCalls.Load())

	orig := nowFunc
	nowFunc = func() time.Time { return time.Unix(1414587457, 0) }
	t.Cleanup(func() { nowFunc = orig })

	sig, err := app.Ticket().ConfigSignature(context.Background(), "http://mp.weixin.qq.com?params=value", "Wm3WZYTPz0wzccnW", 1414587457)
	require.NoError(t, err)
	assert.Equal(t, "0f9de62fce790f9a083d5c99e95740ceb90c27ed", sig.Signature)
	assert.Equal(t, "wx-oa", sig.AppID)

	cfg, err := app.Utils().BuildJSSDKConfig(context.Background(), "https://example.com/page", []string{"scanQRCode"}, nil, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1414587457), cfg.Timestamp)
	assert.Len(t, cfg.NonceStr, 16)

	b, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"jsApiList":["scanQRCode"]`)
	assert.Contains(t, string(b), `"openTagList":[]`)
	assert.Contains(t, string(b), `"appId":"wx-oa"`)
	assert.Contains(t, string(b), `"debug":true`)
}

// TestAccessTokenRequiresSecret 验证未配置 secret 时获取凭证失败。
func TestAccessTokenRequiresSecret(t *testing.T) {
	app, err := NewApplication(Config{AppID: "wx-oa"})
	require.NoError(t, err)
	_, err = app.AccessToken().Token(context.Background())
	require.ErrorIs(t, err, kernel.ErrInvalidConfig)
}

// TestSetAccessToken 验证替换凭证后客户端使用新凭证。
func TestSetAccessToken(t *testing.T) {
	var seen atomic.Value
	platform := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.URL.Query().Get("access_token"))
		_, _ = w.Write([]byte(`{"errcode":0}`))
	}))
	defer platform.Close()

	app, err := NewApplication(Config{AppID: "wx-oa", HTTP: kernel.HTTPConfig{BaseURI: platform.URL}})
	require.NoError(t, err)
	app.SetAccessToken(kernel.StaticToken{AppID: "wx-oa", Value: "authorizer-token"})

	_, err = app.Client().Get(context.Background(), "cgi-bin/menu/get", nil)
	require.NoError(t, err)
	assert.Equal(t, "authorizer-token", seen.Load())
}
