package openplatform

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/IMBotPlatform/wechat-opensdk/pkg/kernel"
	"github.com/IMBotPlatform/wechat-opensdk/pkg/miniapp"
	"github.com/IMBotPlatform/wechat-opensdk/pkg/officialaccount"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func testConfig(baseURI string) Config {
	return Config{
		AppID:  "wx-component",
		Secret: "component-sec",
		Token:  "tok",
		AESKey: strings.TrimRight(base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x56}, 32)), "="),
		HTTP:   kernel.HTTPConfig{BaseURI: baseURI},
	}
}

// encryptedPost 构造第三方平台加密推送。
func encryptedPost(t *testing.T, enc *kernel.Encryptor, plain string) *http.Request {
	t.Helper()
	cipher, sig, err := enc.Encrypt(plain, "nonce", "1700000000")
	require.NoError(t, err)
	q := url.Values{}
	q.Set("msg_signature", sig)
	q.Set("timestamp", "1700000000")
	q.Set("nonce", "nonce")
	q.Set("encrypt_type", "aes")
	body := "<xml><AppId><![CDATA[wx-component]]></AppId><Encrypt><![CDATA[" + cipher + "]]></Encrypt></xml>"
	return httptest.NewRequest(http.MethodPost, "/open-platform?"+q.Encode(), strings.NewReader(body))
}

func verifyTicketXML(ticket string) string {
	return "<xml><AppId><![CDATA[wx-component]]></AppId><CreateTime>1413192605</CreateTime><InfoType><![CDATA[component_verify_ticket]]></InfoType><ComponentVerifyTicket><![CDATA[" + ticket + "]]></ComponentVerifyTicket></xml>"
}

// platformStub 模拟第三方平台接口。
type platformStub struct {
	componentCalls  atomic.Int32
	authorizerCalls atomic.Int32
}

func (p *platformStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	q := r.URL.Query()
	switch r.URL.Path {
	case "/cgi-bin/component/api_component_token":
		p.componentCalls.Add(1)
		if gjson.GetBytes(body, "component_verify_ticket").String() != "ticket@1" {
			_, _ = w.Write([]byte(`{"errcode":61006,"errmsg":"component ticket is invalid"}`))
			return
		}
		_, _ = w.Write([]byte(`{"component_access_token":"CAT","expires_in":7200}`))
	case "/cgi-bin/component/api_query_auth":
		if q.Get("component_access_token") != "CAT" {
			_, _ = w.Write([]byte(`{"errcode":40001,"errmsg":"invalid credential"}`))
			return
		}
		_, _ = w.Write([]byte(`{"authorization_info":{"authorizer_appid":"wx-authorizer","authorizer_access_token":"AAT","expires_in":7200,"authorizer_refresh_token":"RT"}}`))
	case "/cgi-bin/component/api_authorizer_token":
		p.authorizerCalls.Add(1)
		if gjson.GetBytes(body, "authorizer_refresh_token").String() != "RT" {
			_, _ = w.Write([]byte(`{"errcode":61023,"errmsg":"refresh_token is invalid"}`))
			return
		}
		_, _ = w.Write([]byte(`{"authorizer_access_token":"AAT2","expires_in":7200,"authorizer_refresh_token":"RT"}`))
	case "/cgi-bin/component/api_create_preauthcode":
		_, _ = w.Write([]byte(`{"pre_auth_code":"PRE","expires_in":600}`))
	case "/cgi-bin/menu/get":
		if q.Get("access_token") != "AAT2" {
			_, _ = w.Write([]byte(`{"errcode":40014,"errmsg":"invalid access_token"}`))
			return
		}
		_, _ = w.Write([]byte(`{"menu":{"button":[]}}`))
	default:
		http.NotFound(w, r)
	}
}

// TestServerEchoIsPlain 验证 echostr 原样回显。
func TestServerEchoIsPlain(t *testing.T) {
	app, err := NewApplication(testConfig(""))
	require.NoError(t, err)
	srv, err := app.Server()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/open-platform?echostr=hello", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())
}

// TestDefaultVerifyTicketHandler 验证推送的 component_verify_ticket 被写入缓存。
func TestDefaultVerifyTicketHandler(t *testing.T) {
	app, err := NewApplication(testConfig(""))
	require.NoError(t, err)
	srv, err := app.Server()
	require.NoError(t, err)

	resp, err := srv.Serve(context.Background(), encryptedPost(t, srv.Encryptor(), verifyTicketXML("ticket@1")))
	require.NoError(t, err)
	assert.Equal(t, "success", resp.String())

	ticket, err := app.VerifyTicket().GetTicket(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ticket@1", ticket)
	assert.Equal(t, "wechat.open_platform.verify_ticket.wx-component", app.VerifyTicket().Key())
}

// TestHandleVerifyTicketRefreshedReplacesDefault 验证用户处理器替换默认处理器。
func TestHandleVerifyTicketRefreshedReplacesDefault(t *testing.T) {
	app, err := NewApplication(testConfig(""))
	require.NoError(t, err)
	srv, err := app.Server()
	require.NoError(t, err)

	var calls atomic.Int32
	srv.HandleVerifyTicketRefreshed(kernel.HandlerFunc(func(ctx context.Context, msg *kernel.Message, next kernel.Next) (any, error) {
		calls.Add(1)
		return next(ctx, msg)
	}))
	assert.Equal(t, 1, srv.Len())

	_, err = srv.Serve(context.Background(), encryptedPost(t, srv.Encryptor(), verifyTicketXML("ticket@2")))
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	_, err = app.VerifyTicket().GetTicket(context.Background())
	require.ErrorIs(t, err, kernel.ErrTicketNotFound)
}

// TestServerAuthorizationEvents 验证授权事件按 InfoType 路由。
func TestServerAuthorizationEvents(t *testing.T) {
	app, err := NewApplication(testConfig(""))
	require.NoError(t, err)
	srv, err := app.Server()
	require.NoError(t, err)

	var authorized, unauthorized atomic.Int32
	srv.HandleAuthorized(kernel.HandlerFunc(func(ctx context.Context, msg *kernel.Message, next kernel.Next) (any, error) {
		authorized.Add(1)
		assert.Equal(t, "wx-authorizer", msg.Value("AuthorizerAppid"))
		return next(ctx, msg)
	}))
	srv.HandleUnauthorized(kernel.HandlerFunc(func(ctx context.Context, msg *kernel.Message, next kernel.Next) (any, error) {
		unauthorized.Add(1)
		return next(ctx, msg)
	}))

	plain := `<xml><AppId><![CDATA[wx-component]]></AppId><CreateTime>1413192760</CreateTime><InfoType><![CDATA[authorized]]></InfoType><AuthorizerAppid><![CDATA[wx-authorizer]]></AuthorizerAppid><AuthorizationCode><![CDATA[code]]></AuthorizationCode></xml>`
	_, err = srv.Serve(context.Background(), encryptedPost(t, srv.Encryptor(), plain))
	require.NoError(t, err)
	assert.Equal(t, int32(1), authorized.Load())
	assert.Equal(t, int32(0), unauthorized.Load())

	// 缺少 Encrypt 字段的推送被拒绝。
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/open-platform?msg_signature=x&timestamp=1&nonce=n", strings.NewReader(plain)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestAuthorizationFlow 验证凭证、授权信息与授权页面地址。
func TestAuthorizationFlow(t *testing.T) {
	stub := &platformStub{}
	platform := httptest.NewServer(stub)
	defer platform.Close()

	app, err := NewApplication(testConfig(platform.URL))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = app.ComponentAccessToken().Token(ctx)
	require.ErrorIs(t, err, kernel.ErrTicketNotFound)
	require.NoError(t, app.VerifyTicket().SetTicket(ctx, "ticket@1"))

	auth, err := app.GetAuthorization(ctx, "code")
	require.NoError(t, err)
	assert.Equal(t, "wx-authorizer", auth.AppID())
	assert.Equal(t, "AAT", auth.AccessToken())
	assert.Equal(t, "RT", auth.RefreshToken())

	link, err := app.CreatePreAuthorizationURL(ctx, "https://example.com/callback", PreAuthorizationOptions{AuthType: 3})
	require.NoError(t, err)
	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "mp.weixin.qq.com", u.Host)
	assert.Equal(t, "PRE", u.Query().Get("pre_auth_code"))
	assert.Equal(t, "3", u.Query().Get("auth_type"))
	assert.Equal(t, "wx-component", u.Query().Get("component_appid"))
	assert.Equal(t, "https://example.com/callback", u.Query().Get("redirect_uri"))
	assert.False(t, u.Query().Has("biz_appid"))

	link, err = app.CreatePreAuthorizationURL(ctx, "https://example.com/cb", PreAuthorizationOptions{PreAuthCode: "given"})
	require.NoError(t, err)
	assert.Contains(t, link, "pre_auth_code=given")

	assert.Equal(t, int32(1), stub.componentCalls.Load())
}

// TestAuthorizerAccessTokenCached 验证 authorizer_access_token 按刷新令牌缓存。
func TestAuthorizerAccessTokenCached(t *testing.T) {
	stub := &platformStub{}
	platform := httptest.NewServer(stub)
	defer platform.Close()

	app, err := NewApplication(testConfig(platform.URL))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, app.VerifyTicket().SetTicket(ctx, "ticket@1"))

	for i := 0; i < 3; i++ {
		token, err := app.GetAuthorizerAccessToken(ctx, "wx-authorizer", "RT")
		require.NoError(t, err)
		assert.Equal(t, "AAT2", token)
	}
	assert.Equal(t, int32(1), stub.authorizerCalls.Load())

	_, err = app.GetAuthorizerAccessToken(ctx, "wx-authorizer", "expired")
	var apiErr *kernel.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, int64(61023), apiErr.Code)
}

// TestAuthorizerFactories 验证代授权账号继承平台配置与加密器。
func TestAuthorizerFactories(t *testing.T) {
	stub := &platformStub{}
	platform := httptest.NewServer(stub)
	defer platform.Close()

	app, err := NewApplication(testConfig(platform.URL))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, app.VerifyTicket().SetTicket(ctx, "ticket@1"))

	oa, err := app.GetOfficialAccountWithRefreshToken(ctx, "wx-authorizer", "RT", officialaccount.Config{})
	require.NoError(t, err)
	assert.Equal(t, "wx-authorizer", oa.Config().AppID)
	assert.Equal(t, "tok", oa.Config().Token)

	componentEnc, err := app.Encryptor()
	require.NoError(t, err)
	oaEnc, err := oa.Encryptor()
	require.NoError(t, err)
	assert.Same(t, componentEnc, oaEnc)

	resp, err := oa.Client().Get(ctx, "cgi-bin/menu/get", nil)
	require.NoError(t, err)
	assert.True(t, resp.Get("menu").Exists())

	mini, err := app.GetMiniAppWithAccessToken("wx-mini", "MAT", miniapp.Config{Token: "mini-tok"})
	require.NoError(t, err)
	assert.Equal(t, "wx-mini", mini.Config().AppID)
	assert.Equal(t, "mini-tok", mini.Config().Token)
	token, err := mini.AccessToken().Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "MAT", token)
	srv, err := mini.Server()
	require.NoError(t, err)
	assert.Equal(t, miniapp.Product, srv.Product())
}

// TestNewApplicationRequiredKeys 验证第三方平台必填配置。
func TestNewApplicationRequiredKeys(t *testing.T) {
	_, err := NewApplication(Config{AppID: "wx"})
	require.ErrorIs(t, err, kernel.ErrInvalidConfig)
}
