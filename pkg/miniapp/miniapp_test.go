package miniapp

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/IMBotPlatform/wechat-opensdk/pkg/kernel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCodeToSession 验证 code 换取会话。
func TestCodeToSession(t *testing.T) {
	platform := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sns/jscode2session", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "wx-mini", q.Get("appid"))
		assert.Equal(t, "sec", q.Get("secret"))
		assert.Equal(t, "authorization_code", q.Get("grant_type"))
		if q.Get("js_code") == "bad" {
			_, _ = w.Write([]byte(`{"errcode":40029,"errmsg":"invalid code"}`))
			return
		}
		_, _ = w.Write([]byte(`{"openid":"o-1","session_key":"sk","unionid":"u-1"}`))
	}))
	defer platform.Close()

	app, err := NewApplication(Config{AppID: "wx-mini", Secret: "sec", HTTP: kernel.HTTPConfig{BaseURI: platform.URL}})
	require.NoError(t, err)

	session, err := app.Utils().CodeToSession(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, &Session{OpenID: "o-1", SessionKey: "sk", UnionID: "u-1"}, session)

	_, err = app.Utils().CodeToSession(context.Background(), "bad")
	require.ErrorIs(t, err, kernel.ErrHTTP)
	assert.Contains(t, err.Error(), "invalid code")
}

// TestDecryptSession 验证开放数据解密。
func TestDecryptSession(t *testing.T) {
	key := []byte("0123456789abcdef")
	iv := []byte("fedcba9876543210")
	cipher, err := kernel.EncryptCBC(key, iv, []byte(`{"phoneNumber":"13800000000","watermark":{"appid":"wx-mini"}}`))
	require.NoError(t, err)

	enc := base64.StdEncoding.EncodeToString
	out, err := DecryptSession(enc(key), enc(iv), enc(cipher))
	require.NoError(t, err)
	assert.Equal(t, "13800000000", out["phoneNumber"])
	assert.Equal(t, map[string]any{"appid": "wx-mini"}, out["watermark"])

	// 错误的 IV 导致 JSON 无法解析。
	_, err = DecryptSession(enc(key), enc([]byte("0000000000000000")), enc(cipher))
	require.Error(t, err)

	_, err = DecryptSession("!!", enc(iv), enc(cipher))
	require.ErrorIs(t, err, kernel.ErrDecryption)

	_, err = DecryptSession(enc([]byte("short")), enc(iv), enc(cipher))
	require.ErrorIs(t, err, kernel.ErrInvalidAESKey)
}

// TestMiniAppFailureJudge 验证小程序接口把 error 字段视为失败。
func TestMiniAppFailureJudge(t *testing.T) {
	platform := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"quota exceeded"}`))
	}))
	defer platform.Close()

	app, err := NewApplication(Config{AppID: "wx-mini", HTTP: kernel.HTTPConfig{BaseURI: platform.URL}})
	require.NoError(t, err)
	app.SetAccessToken(kernel.StaticToken{AppID: "wx-mini", Value: "AT"})

	_, err = app.Client().Get(context.Background(), "wxa/getwxacode", nil)
	var apiErr *kernel.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "quota exceeded", apiErr.Message)
}

// TestMiniAppServerProduct 验证小程序回调服务使用自己的产品名。
func TestMiniAppServerProduct(t *testing.T) {
	app, err := NewApplication(Config{AppID: "wx-mini", Token: "tok"})
	require.NoError(t, err)
	srv, err := app.Server()
	require.NoError(t, err)
	assert.Equal(t, Product, srv.Product())
}
