package officialaccount

import (
	"fmt"
	"sync"

	"github.com/IMBotPlatform/wechat-opensdk/pkg/kernel"
)

const (
	// Product 为产品名。
	Product = "official_account"
	// BaseURI 为公众号接口根地址。
	BaseURI = "https://api.weixin.qq.com/"
)

// DefaultPolicy 为公众号的产品策略。
var DefaultPolicy = kernel.Policy{
	Name:         Product,
	BaseURI:      BaseURI,
	RequiredKeys: []string{"app_id"},
	Judge:        kernel.ErrcodeJudge,
}

// Application 为公众号应用，按需创建账号、加密器、回调服务、凭证与接口客户端。
type Application struct {
	*kernel.Application[Config]

	mu          sync.Mutex
	account     *Account
	encryptor   *kernel.Encryptor
	server      *Server
	accessToken kernel.TokenSource
	ticket      *JSAPITicket
	client      *kernel.Client
}

// NewApplication 使用默认策略创建公众号应用。
func NewApplication(cfg Config, opts ...kernel.Option) (*Application, error) {
	return New(cfg, DefaultPolicy, opts...)
}

// New 使用指定策略创建应用，小程序等复用公众号能力的产品借此替换产品名与失败判定。
func New(cfg Config, policy kernel.Policy, opts ...kernel.Option) (*Application, error) {
	base, err := kernel.NewApplication(cfg, policy, opts...)
	if err != nil {
		return nil, err
	}
	return &Application{Application: base}, nil
}

// Account 返回账号。
func (a *Application) Account() *Account {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.accountLocked()
}

func (a *Application) accountLocked() *Account {
	if a.account == nil {
		cfg := a.Config()
		a.account = NewAccount(cfg.AppID, cfg.Secret, cfg.Token, cfg.AESKey)
	}
	return a.account
}

// SetAccount 替换账号。
func (a *Application) SetAccount(account *Account) *Application {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.account = account
	return a
}

// Encryptor 返回消息加密器，token 或 aes_key 为空时返回 ErrInvalidConfig。
func (a *Application) Encryptor() (*kernel.Encryptor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.encryptorLocked()
}

func (a *Application) encryptorLocked() (*kernel.Encryptor, error) {
	if a.encryptor != nil {
		return a.encryptor, nil
	}
	account := a.accountLocked()
	if account.Token() == "" || account.AESKey() == "" {
		return nil, fmt.Errorf("%w: token or aes_key cannot be empty", kernel.ErrInvalidConfig)
	}
	enc, err := kernel.NewEncryptor(account.AppID(), account.Token(), account.AESKey())
	if err != nil {
		return nil, err
	}
	a.encryptor = enc
	return enc, nil
}

// SetEncryptor 替换加密器（第三方平台代公众号接收消息时使用平台加密器）。
func (a *Application) SetEncryptor(enc *kernel.Encryptor) *Application {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.encryptor = enc
	return a
}

// Server 返回回调服务；配置了 aes_key 时启用安全模式。
func (a *Application) Server() (*Server, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		return a.server, nil
	}

	account := a.accountLocked()
	var enc *kernel.Encryptor
	if account.AESKey() != "" || a.encryptor != nil {
		var err error
		if enc, err = a.encryptorLocked(); err != nil {
			return nil, err
		}
	}
	a.server = NewServer(enc, kernel.ServerOptions{
		Product: a.Policy().Name,
		Token:   account.Token(),
		Logger:  a.Logger(),
	})
	return a.server, nil
}

// AccessToken 返回接口调用凭证。
func (a *Application) AccessToken() kernel.TokenSource {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.accessTokenLocked()
}

func (a *Application) accessTokenLocked() kernel.TokenSource {
	if a.accessToken == nil {
		a.accessToken = NewAccessToken(a.accountLocked(), a.Cache(), a.HTTPClient(), a.Logger())
	}
	return a.accessToken
}

// SetAccessToken 替换接口调用凭证（如第三方平台代调用时的 authorizer_access_token）。
func (a *Application) SetAccessToken(token kernel.TokenSource) *Application {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accessToken = token
	a.client = nil
	return a
}

// Client 返回自动注入 AccessToken 的接口客户端。
func (a *Application) Client() *kernel.Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.clientLocked()
}

func (a *Application) clientLocked() *kernel.Client {
	if a.client == nil {
		a.client = a.NewClient(a.accessTokenLocked())
	}
	return a.client
}

// Ticket 返回 JS-SDK jsapi_ticket。
func (a *Application) Ticket() *JSAPITicket {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ticket == nil {
		a.ticket = NewJSAPITicket(a.accountLocked().AppID(), a.clientLocked(), a.Cache(), a.Logger())
	}
	return a.ticket
}

// Utils 返回工具方法集合。
func (a *Application) Utils() *Utils {
	return &Utils{app: a}
}
