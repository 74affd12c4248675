package openwork

import (
	"context"
	"fmt"
	"sync"

	"github.com/IMBotPlatform/wechat-opensdk/pkg/kernel"
	"github.com/tidwall/gjson"
)

const (
	// Product 为产品名。
	Product = "open_work"
	// BaseURI 为企业微信接口根地址。
	BaseURI = "https://qyapi.weixin.qq.com/"
)

// DefaultPolicy 为企业微信第三方应用的产品策略。
var DefaultPolicy = kernel.Policy{
	Name:         Product,
	BaseURI:      BaseURI,
	RequiredKeys: []string{"corp_id", "suite_id", "token", "aes_key"},
	Judge:        kernel.ErrcodeJudge,
}

// Application 为企业微信第三方应用（服务商）。
type Application struct {
	*kernel.Application[Config]

	mu               sync.Mutex
	encryptor        *kernel.Encryptor
	suiteEncryptor   *kernel.Encryptor
	server           *Server
	suiteTicket      *kernel.Ticket
	accessToken      kernel.TokenSource
	suiteAccessToken kernel.TokenSource
	client           *kernel.Client
}

// NewApplication 创建企业微信第三方应用。
func NewApplication(cfg Config, opts ...kernel.Option) (*Application, error) {
	base, err := kernel.NewApplication(cfg, DefaultPolicy, opts...)
	if err != nil {
		return nil, err
	}
	return &Application{Application: base}, nil
}

// Account 返回服务商账号。
func (a *Application) Account() Account {
	cfg := a.Config()
	return Account{
		CorpID:         cfg.CorpID,
		ProviderSecret: cfg.ProviderSecret,
		SuiteID:        cfg.SuiteID,
		SuiteSecret:    cfg.SuiteSecret,
		Token:          cfg.Token,
		AESKey:         cfg.AESKey,
	}
}

// Encryptor 返回以服务商 CorpID 为 ReceiveId 的加密器。
func (a *Application) Encryptor() (*kernel.Encryptor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.encryptor == nil {
		account := a.Account()
		enc, err := kernel.NewEncryptor(account.CorpID, account.Token, account.AESKey)
		if err != nil {
			return nil, err
		}
		a.encryptor = enc
	}
	return a.encryptor, nil
}

// SuiteEncryptor 返回以 SuiteID 为 ReceiveId 的加密器。
func (a *Application) SuiteEncryptor() (*kernel.Encryptor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.suiteEncryptor == nil {
		account := a.Account()
		enc, err := kernel.NewEncryptor(account.SuiteID, account.Token, account.AESKey)
		if err != nil {
			return nil, err
		}
		a.suiteEncryptor = enc
	}
	return a.suiteEncryptor, nil
}

// Server 返回回调服务，首次创建时安装默认 suite_ticket 处理器：
// SuiteId 与本应用一致时写入票据，然后继续处理链。
func (a *Application) Server() (*Server, error) {
	suiteEnc, err := a.SuiteEncryptor()
	if err != nil {
		return nil, err
	}
	providerEnc, err := a.Encryptor()
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil {
		a.server = NewServer(suiteEnc, providerEnc, kernel.ServerOptions{Logger: a.Logger()})
		a.server.WithDefaultSuiteTicketHandler(kernel.HandlerFunc(a.refreshSuiteTicket))
	}
	return a.server, nil
}

func (a *Application) refreshSuiteTicket(ctx context.Context, msg *kernel.Message, next kernel.Next) (any, error) {
	if msg.SuiteID() == a.Config().SuiteID {
		if err := a.SuiteTicket().SetTicket(ctx, msg.SuiteTicket()); err != nil {
			return nil, err
		}
		logger := a.Logger()
		logger.Debug().Str("suite_id", msg.SuiteID()).Msg("suite_ticket refreshed")
	}
	return next(ctx, msg)
}

// SuiteTicket 返回 suite_ticket 存储。
func (a *Application) SuiteTicket() *kernel.Ticket {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.suiteTicketLocked()
}

func (a *Application) suiteTicketLocked() *kernel.Ticket {
	if a.suiteTicket == nil {
		a.suiteTicket = NewSuiteTicket(a.Config().SuiteID, a.Cache())
	}
	return a.suiteTicket
}

// SetSuiteTicket 替换 suite_ticket 存储。
func (a *Application) SetSuiteTicket(t *kernel.Ticket) *Application {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.suiteTicket = t
	a.suiteAccessToken = nil
	return a
}

// ProviderAccessToken 返回服务商凭证。
func (a *Application) ProviderAccessToken() kernel.TokenSource {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.providerAccessTokenLocked()
}

func (a *Application) providerAccessTokenLocked() kernel.TokenSource {
	if a.accessToken == nil {
		cfg := a.Config()
		a.accessToken = NewProviderAccessToken(cfg.CorpID, cfg.ProviderSecret, a.Cache(), a.HTTPClient(), a.Logger())
	}
	return a.accessToken
}

// SetProviderAccessToken 替换服务商凭证。
func (a *Application) SetProviderAccessToken(token kernel.TokenSource) *Application {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accessToken = token
	a.client = nil
	return a
}

// SuiteAccessToken 返回第三方应用凭证。
func (a *Application) SuiteAccessToken() kernel.TokenSource {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.suiteAccessToken == nil {
		cfg := a.Config()
		a.suiteAccessToken = NewSuiteAccessToken(cfg.SuiteID, cfg.SuiteSecret, a.suiteTicketLocked(), a.Cache(), a.HTTPClient(), a.Logger())
	}
	return a.suiteAccessToken
}

// SetSuiteAccessToken 替换第三方应用凭证。
func (a *Application) SetSuiteAccessToken(token kernel.TokenSource) *Application {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.suiteAccessToken = token
	return a
}

// Client 返回注入服务商凭证的接口客户端。
func (a *Application) Client() *kernel.Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		a.client = a.NewClient(a.providerAccessTokenLocked())
	}
	return a.client
}

// Authorization 为企业授权信息（get_auth_info 响应）。
type Authorization struct {
	body []byte
}

// CorpID 返回授权企业的 CorpID。
func (a *Authorization) CorpID() string {
	return gjson.GetBytes(a.body, "auth_corp_info.corpid").String()
}

// Get 按 gjson 路径读取授权信息字段。
func (a *Authorization) Get(path string) gjson.Result {
	return gjson.GetBytes(a.body, path)
}

// MarshalJSON 返回原始授权信息。
func (a *Authorization) MarshalJSON() ([]byte, error) {
	return a.body, nil
}

// suiteClient 返回注入第三方应用凭证的客户端，suiteToken 为 nil 时使用本应用凭证。
func (a *Application) suiteClient(suiteToken kernel.TokenSource) *kernel.Client {
	if suiteToken == nil {
		suiteToken = a.SuiteAccessToken()
	}
	return kernel.NewClient(a.HTTPClient(), suiteToken, a.Policy().Judge, false)
}

// GetAuthorization 获取企业授权信息。
// Parameters:
//   - ctx: 请求上下文
//   - corpID: 授权企业 CorpID
//   - permanentCode: 永久授权码
//   - suiteToken: 第三方应用凭证，nil 时使用本应用凭证
//
// Returns:
//   - *Authorization: 授权信息
//   - error: 响应缺少 auth_corp_info 时返回 ErrHTTP
func (a *Application) GetAuthorization(ctx context.Context, corpID, permanentCode string, suiteToken kernel.TokenSource) (*Authorization, error) {
	resp, err := a.suiteClient(suiteToken).PostJSON(ctx, "cgi-bin/service/get_auth_info", map[string]string{
		"auth_corpid":    corpID,
		"permanent_code": permanentCode,
	})
	if err != nil {
		return nil, err
	}
	if !resp.Get("auth_corp_info").Exists() {
		return nil, fmt.Errorf("%w: failed to get auth_corp_info: %s", kernel.ErrHTTP, string(resp.Body))
	}
	return &Authorization{body: resp.Body}, nil
}

// GetAuthorizerAccessToken 获取授权企业的 access_token。
func (a *Application) GetAuthorizerAccessToken(ctx context.Context, corpID, permanentCode string, suiteToken kernel.TokenSource) (kernel.StaticToken, error) {
	resp, err := a.suiteClient(suiteToken).PostJSON(ctx, "cgi-bin/service/get_corp_token", map[string]string{
		"auth_corpid":    corpID,
		"permanent_code": permanentCode,
	})
	if err != nil {
		return kernel.StaticToken{}, err
	}
	token := resp.Get("access_token").String()
	if token == "" {
		return kernel.StaticToken{}, fmt.Errorf("%w: failed to get access_token: %s", kernel.ErrHTTP, string(resp.Body))
	}
	return kernel.StaticToken{AppID: corpID, Value: token}, nil
}
