package miniapp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/IMBotPlatform/wechat-opensdk/pkg/kernel"
)

// Session 为 jscode2session 的返回结果。
type Session struct {
	OpenID     string `json:"openid"`
	SessionKey string `json:"session_key"`
	UnionID    string `json:"unionid,omitempty"`
}

// Utils 为小程序工具方法。
type Utils struct {
	app *Application
}

// CodeToSession 使用 wx.login 返回的 code 换取 openid 与 session_key。
// Returns:
//   - *Session: 会话信息
//   - error: 响应中缺少 openid 时返回 ErrHTTP（携带原始响应）
func (u *Utils) CodeToSession(ctx context.Context, code string) (*Session, error) {
	account := u.app.Account()
	secret, err := account.Secret()
	if err != nil {
		return nil, err
	}

	resp, err := u.app.HTTPClient().Get(ctx, "sns/jscode2session", map[string]string{
		"appid":      account.AppID(),
		"secret":     secret,
		"js_code":    code,
		"grant_type": "authorization_code",
	})
	if err != nil {
		return nil, err
	}
	if resp.Get("openid").String() == "" {
		return nil, fmt.Errorf("%w: code2Session error: %s", kernel.ErrHTTP, string(resp.Body))
	}

	var session Session
	if err := resp.Unmarshal(&session); err != nil {
		return nil, fmt.Errorf("%w: decode session: %v", kernel.ErrHTTP, err)
	}
	return &session, nil
}

// DecryptSession 解密 wx.getUserInfo、手机号等开放数据。
// Parameters:
//   - sessionKey: Base64 编码的 session_key
//   - iv: Base64 编码的初始向量
//   - ciphertext: Base64 编码的 encryptedData
//
// Returns:
//   - map[string]any: 解密后的 JSON 对象
//   - error: Base64、填充或 JSON 非法时返回 ErrDecryption
func (u *Utils) DecryptSession(sessionKey, iv, ciphertext string) (map[string]any, error) {
	return DecryptSession(sessionKey, iv, ciphertext)
}

// DecryptSession 见 Utils.DecryptSession。
func DecryptSession(sessionKey, iv, ciphertext string) (map[string]any, error) {
	key, err := base64.StdEncoding.DecodeString(sessionKey)
	if err != nil {
		return nil, fmt.Errorf("%w: session_key: %v", kernel.ErrDecryption, err)
	}
	ivBytes, err := base64.StdEncoding.DecodeString(iv)
	if err != nil {
		return nil, fmt.Errorf("%w: iv: %v", kernel.ErrDecryption, err)
	}
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: encrypted data: %v", kernel.ErrDecryption, err)
	}

	plain, err := kernel.DecryptCBC(key, ivBytes, data)
	if err != nil {
		return nil, err
	}

	var out map[string]any
	if err := json.Unmarshal(plain, &out); err != nil || out == nil {
		return nil, fmt.Errorf("%w: the given payload is invalid", kernel.ErrDecryption)
	}
	return out, nil
}
