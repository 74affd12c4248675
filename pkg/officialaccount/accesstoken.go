package officialaccount

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"

	"github.com/IMBotPlatform/wechat-opensdk/pkg/kernel"
	"github.com/rs/zerolog"
)

// NewAccessToken 创建公众号/小程序 AccessToken（cgi-bin/token，client_credential 模式）。
// 缓存键为 wechat.official_account.access_token.{appid}.{md5(secret)}。
func NewAccessToken(account *Account, cache kernel.Cache, httpClient *kernel.HTTPClient, logger zerolog.Logger) *kernel.CachedToken {
	return kernel.NewCachedToken(kernel.TokenSpec{
		Key:       fmt.Sprintf("wechat.official_account.access_token.%s.%s", account.AppID(), kernel.HashKey(account.secret)),
		QueryName: "access_token",
		Fetch: func(ctx context.Context) (string, int64, error) {
			secret, err := account.Secret()
			if err != nil {
				return "", 0, err
			}
			resp, err := httpClient.Get(ctx, "cgi-bin/token", map[string]string{
				"grant_type": "client_credential",
				"appid":      account.AppID(),
				"secret":     secret,
			})
			if err != nil {
				return "", 0, err
			}
			return kernel.FetchField(resp, "access_token")
		},
	}, cache, logger)
}

// JSSDKSignature 为 wx.config 所需的签名参数。
type JSSDKSignature struct {
	URL       string `json:"url"`
	NonceStr  string `json:"nonceStr"`
	Timestamp int64  `json:"timestamp"`
	AppID     string `json:"appId"`
	Signature string `json:"signature"`
}

// JSAPITicket 为 JS-SDK 使用的 jsapi_ticket，通过携带 AccessToken 的客户端获取。
type JSAPITicket struct {
	appID string
	token *kernel.CachedToken
}

// NewJSAPITicket 创建 jsapi_ticket。
// Parameters:
//   - appID: 公众号 AppID
//   - client: 自动注入 AccessToken 的接口客户端
//   - cache: 票据缓存
//   - logger: 日志记录器
func NewJSAPITicket(appID string, client *kernel.Client, cache kernel.Cache, logger zerolog.Logger) *JSAPITicket {
	return &JSAPITicket{
		appID: appID,
		token: kernel.NewCachedToken(kernel.TokenSpec{
			Key:       fmt.Sprintf("official_account.jsapi_ticket.%s", appID),
			QueryName: "jsapi_ticket",
			Fetch: func(ctx context.Context) (string, int64, error) {
				resp, err := client.Get(ctx, "cgi-bin/ticket/getticket", map[string]string{"type": "jsapi"})
				if err != nil {
					return "", 0, err
				}
				return kernel.FetchField(resp, "ticket")
			},
		}, cache, logger),
	}
}

// Key 返回缓存键。
func (t *JSAPITicket) Key() string { return t.token.Key() }

// Ticket 返回有效的 jsapi_ticket。
func (t *JSAPITicket) Ticket(ctx context.Context) (string, error) {
	return t.token.Token(ctx)
}

// ConfigSignature 计算 wx.config 签名：sha1("jsapi_ticket=..&noncestr=..&timestamp=..&url=..")。
func (t *JSAPITicket) ConfigSignature(ctx context.Context, url, nonce string, timestamp int64) (*JSSDKSignature, error) {
	ticket, err := t.Ticket(ctx)
	if err != nil {
		return nil, err
	}
	return &JSSDKSignature{
		URL:       url,
		NonceStr:  nonce,
		Timestamp: timestamp,
		AppID:     t.appID,
		Signature: SignJSSDK(ticket, nonce, timestamp, url),
	}, nil
}

// SignJSSDK 返回 JS-SDK 权限签名。
func SignJSSDK(ticket, nonce string, timestamp int64, url string) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("jsapi_ticket=%s&noncestr=%s&timestamp=%d&url=%s", ticket, nonce, timestamp, url)))
	return hex.EncodeToString(sum[:])
}
