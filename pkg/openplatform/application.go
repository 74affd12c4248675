package openplatform

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IMBotPlatform/wechat-opensdk/pkg/kernel"
	"github.com/google/go-querystring/query"
	"github.com/tidwall/gjson"
)

const (
	// Product 为产品名。
	Product = "open_platform"
	// BaseURI 为第三方平台接口根地址。
	BaseURI = "https://api.weixin.qq.com/"
	// PreAuthorizationURL 为授权注册页面地址。
	PreAuthorizationURL = "https://mp.weixin.qq.com/cgi-bin/componentloginpage"
)

// DefaultPolicy 为第三方平台的产品策略。
var DefaultPolicy = kernel.Policy{
	Name:         Product,
	BaseURI:      BaseURI,
	RequiredKeys: []string{"app_id", "secret", "token", "aes_key"},
	Judge:        kernel.ErrcodeJudge,
}

// Application 为微信开放平台第三方平台。
type Application struct {
	*kernel.Application[Config]

	mu          sync.Mutex
	encryptor   *kernel.Encryptor
	server      *Server
	ticket      *kernel.Ticket
	accessToken kernel.TokenSource
	client      *kernel.Client
}

// NewApplication 创建第三方平台应用。
func NewApplication(cfg Config, opts ...kernel.Option) (*Application, error) {
	base, err := kernel.NewApplication(cfg, DefaultPolicy, opts...)
	if err != nil {
		return nil, err
	}
	return &Application{Application: base}, nil
}

// Encryptor 返回以 component_appid 为 ReceiveId 的加密器，代授权账号共用该加密器。
func (a *Application) Encryptor() (*kernel.Encryptor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.encryptorLocked()
}

func (a *Application) encryptorLocked() (*kernel.Encryptor, error) {
	if a.encryptor == nil {
		cfg := a.Config()
		enc, err := kernel.NewEncryptor(cfg.AppID, cfg.Token, cfg.AESKey)
		if err != nil {
			return nil, err
		}
		a.encryptor = enc
	}
	return a.encryptor, nil
}

// SetEncryptor 替换加密器。
func (a *Application) SetEncryptor(enc *kernel.Encryptor) *Application {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.encryptor = enc
	return a
}

// Server 返回授权事件回调服务，首次创建时安装默认 component_verify_ticket 处理器。
func (a *Application) Server() (*Server, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil {
		enc, err := a.encryptorLocked()
		if err != nil {
			return nil, err
		}
		a.server = NewServer(enc, kernel.ServerOptions{Token: a.Config().Token, Logger: a.Logger()})
		a.server.WithDefaultVerifyTicketHandler(kernel.HandlerFunc(a.refreshVerifyTicket))
	}
	return a.server, nil
}

func (a *Application) refreshVerifyTicket(ctx context.Context, msg *kernel.Message, next kernel.Next) (any, error) {
	if err := a.VerifyTicket().SetTicket(ctx, msg.ComponentVerifyTicket()); err != nil {
		return nil, err
	}
	logger := a.Logger()
	logger.Debug().Str("app_id", a.Config().AppID).Msg("component_verify_ticket refreshed")
	return next(ctx, msg)
}

// VerifyTicket 返回 component_verify_ticket 存储。
func (a *Application) VerifyTicket() *kernel.Ticket {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.verifyTicketLocked()
}

func (a *Application) verifyTicketLocked() *kernel.Ticket {
	if a.ticket == nil {
		a.ticket = NewVerifyTicket(a.Config().AppID, a.Cache())
	}
	return a.ticket
}

// SetVerifyTicket 替换 component_verify_ticket 存储。
func (a *Application) SetVerifyTicket(t *kernel.Ticket) *Application {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ticket = t
	a.accessToken = nil
	a.client = nil
	return a
}

// ComponentAccessToken 返回第三方平台凭证。
func (a *Application) ComponentAccessToken() kernel.TokenSource {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.componentAccessTokenLocked()
}

// AccessToken 等同于 ComponentAccessToken。
func (a *Application) AccessToken() kernel.TokenSource {
	return a.ComponentAccessToken()
}

func (a *Application) componentAccessTokenLocked() kernel.TokenSource {
	if a.accessToken == nil {
		cfg := a.Config()
		a.accessToken = NewComponentAccessToken(cfg.AppID, cfg.Secret, a.verifyTicketLocked(), a.Cache(), a.HTTPClient(), a.Logger())
	}
	return a.accessToken
}

// SetComponentAccessToken 替换第三方平台凭证。
func (a *Application) SetComponentAccessToken(token kernel.TokenSource) *Application {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accessToken = token
	a.client = nil
	return a
}

// Client 返回注入 component_access_token 的接口客户端。
func (a *Application) Client() *kernel.Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		a.client = a.NewClient(a.componentAccessTokenLocked())
	}
	return a.client
}

// Authorization 为授权信息（api_query_auth 响应）。
type Authorization struct {
	body []byte
}

// AppID 返回授权方 AppID。
func (a *Authorization) AppID() string {
	return gjson.GetBytes(a.body, "authorization_info.authorizer_appid").String()
}

// AccessToken 返回授权方 authorizer_access_token。
func (a *Authorization) AccessToken() string {
	return gjson.GetBytes(a.body, "authorization_info.authorizer_access_token").String()
}

// RefreshToken 返回授权方 authorizer_refresh_token。
func (a *Authorization) RefreshToken() string {
	return gjson.GetBytes(a.body, "authorization_info.authorizer_refresh_token").String()
}

// Get 按 gjson 路径读取授权信息字段。
func (a *Authorization) Get(path string) gjson.Result {
	return gjson.GetBytes(a.body, path)
}

// MarshalJSON 返回原始授权信息。
func (a *Authorization) MarshalJSON() ([]byte, error) {
	return a.body, nil
}

// GetAuthorization 使用授权码换取授权信息。
func (a *Application) GetAuthorization(ctx context.Context, authorizationCode string) (*Authorization, error) {
	resp, err := a.Client().PostJSON(ctx, "cgi-bin/component/api_query_auth", map[string]string{
		"component_appid":    a.Config().AppID,
		"authorization_code": authorizationCode,
	})
	if err != nil {
		return nil, err
	}
	if !resp.Get("authorization_info").Exists() {
		return nil, fmt.Errorf("%w: failed to get authorization_info: %s", kernel.ErrHTTP, string(resp.Body))
	}
	return &Authorization{body: resp.Body}, nil
}

// AuthorizerToken 为 api_authorizer_token 的响应。
type AuthorizerToken struct {
	AccessToken  string `json:"authorizer_access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"authorizer_refresh_token"`
}

// RefreshAuthorizerToken 使用刷新令牌获取授权方 authorizer_access_token。
func (a *Application) RefreshAuthorizerToken(ctx context.Context, authorizerAppID, refreshToken string) (*AuthorizerToken, error) {
	resp, err := a.Client().PostJSON(ctx, "cgi-bin/component/api_authorizer_token", map[string]string{
		"component_appid":          a.Config().AppID,
		"authorizer_appid":         authorizerAppID,
		"authorizer_refresh_token": refreshToken,
	})
	if err != nil {
		return nil, err
	}
	var token AuthorizerToken
	if err := resp.Unmarshal(&token); err != nil {
		return nil, fmt.Errorf("%w: decode authorizer token: %v", kernel.ErrHTTP, err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("%w: failed to get authorizer_access_token: %s", kernel.ErrHTTP, string(resp.Body))
	}
	return &token, nil
}

// CreatePreAuthorizationCode 获取预授权码。
func (a *Application) CreatePreAuthorizationCode(ctx context.Context) (string, error) {
	resp, err := a.Client().PostJSON(ctx, "cgi-bin/component/api_create_preauthcode", map[string]string{
		"component_appid": a.Config().AppID,
	})
	if err != nil {
		return "", err
	}
	code := resp.Get("pre_auth_code").String()
	if code == "" {
		return "", fmt.Errorf("%w: failed to get pre_auth_code: %s", kernel.ErrHTTP, string(resp.Body))
	}
	return code, nil
}

// PreAuthorizationOptions 为授权页面的可选参数。
type PreAuthorizationOptions struct {
	// PreAuthCode 为空时自动获取。
	PreAuthCode    string `url:"pre_auth_code,omitempty"`
	AuthType       int    `url:"auth_type,omitempty"`
	BizAppID       string `url:"biz_appid,omitempty"`
	CategoryIDList string `url:"category_id_list,omitempty"`
}

// CreatePreAuthorizationURL 生成授权注册页面地址。
// Parameters:
//   - ctx: 请求上下文
//   - callbackURL: 授权回调地址
//   - opts: 可选参数，PreAuthCode 为空时调用 api_create_preauthcode 获取
//
// Returns:
//   - string: 授权页面地址
//   - error: 获取预授权码失败时返回
func (a *Application) CreatePreAuthorizationURL(ctx context.Context, callbackURL string, opts PreAuthorizationOptions) (string, error) {
	if opts.PreAuthCode == "" {
		code, err := a.CreatePreAuthorizationCode(ctx)
		if err != nil {
			return "", err
		}
		opts.PreAuthCode = code
	}
	values, err := query.Values(opts)
	if err != nil {
		return "", err
	}
	values.Set("component_appid", a.Config().AppID)
	values.Set("redirect_uri", callbackURL)
	return PreAuthorizationURL + "?" + values.Encode(), nil
}

// GetAuthorizerAccessToken 返回授权方 authorizer_access_token，
// 缓存键包含刷新令牌的摘要，过期前 AuthorizerTokenMargin 失效。
func (a *Application) GetAuthorizerAccessToken(ctx context.Context, appID, refreshToken string) (string, error) {
	key := fmt.Sprintf("wechat.open-platform.authorizer_access_token.%s.%s", appID, kernel.HashKey(refreshToken))
	if cached, ok, err := a.Cache().Get(ctx, key); err == nil && ok && cached != "" {
		return cached, nil
	}
	token, err := a.RefreshAuthorizerToken(ctx, appID, refreshToken)
	if err != nil {
		return "", err
	}
	expiresIn := token.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 7200
	}
	ttl := time.Duration(expiresIn)*time.Second - AuthorizerTokenMargin
	if ttl > 0 {
		if err := a.Cache().Set(ctx, key, token.AccessToken, ttl); err != nil {
			logger := a.Logger()
			logger.Warn().Err(err).Str("key", key).Msg("cache authorizer token failed")
		}
	}
	return token.AccessToken, nil
}
