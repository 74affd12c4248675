package work

import (
	"context"
	"sync"
	"time"

	"github.com/IMBotPlatform/wechat-opensdk/pkg/kernel"
)

const (
	// Product 为产品名。
	Product = "work"
	// BaseURI 为企业微信接口根地址。
	BaseURI = "https://qyapi.weixin.qq.com/"
)

// DefaultPolicy 为企业微信的产品策略。
var DefaultPolicy = kernel.Policy{
	Name:         Product,
	BaseURI:      BaseURI,
	RequiredKeys: []string{"corp_id", "secret", "token", "aes_key"},
	Judge:        kernel.ErrcodeJudge,
}

// nowFunc 便于测试固定时间戳。
var nowFunc = time.Now

// Application 为企业微信应用。
type Application struct {
	*kernel.Application[Config]

	mu          sync.Mutex
	encryptor   *kernel.Encryptor
	server      *Server
	accessToken kernel.TokenSource
	client      *kernel.Client
	ticket      *JSAPITicket
}

// NewApplication 创建企业微信应用。
func NewApplication(cfg Config, opts ...kernel.Option) (*Application, error) {
	base, err := kernel.NewApplication(cfg, DefaultPolicy, opts...)
	if err != nil {
		return nil, err
	}
	return &Application{Application: base}, nil
}

// Account 返回账号。
func (a *Application) Account() Account {
	cfg := a.Config()
	return Account{CorpID: cfg.CorpID, Secret: cfg.Secret, Token: cfg.Token, AESKey: cfg.AESKey}
}

// Encryptor 返回以 CorpID 为 ReceiveId 的消息加密器。
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

// Server 返回回调服务。
func (a *Application) Server() (*Server, error) {
	enc, err := a.Encryptor()
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil {
		a.server = NewServer(enc, kernel.ServerOptions{Logger: a.Logger()})
	}
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
		cfg := a.Config()
		a.accessToken = NewAccessToken(cfg.CorpID, cfg.Secret, a.Cache(), a.HTTPClient(), a.Logger())
	}
	return a.accessToken
}

// SetAccessToken 替换接口调用凭证（如第三方应用代开发时的企业凭证）。
func (a *Application) SetAccessToken(token kernel.TokenSource) *Application {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accessToken = token
	a.client = nil
	a.ticket = nil
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

// Ticket 返回 JS-SDK 票据管理器。
func (a *Application) Ticket() *JSAPITicket {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ticket == nil {
		a.ticket = NewJSAPITicket(a.Config().CorpID, a.clientLocked(), a.Cache(), a.Logger())
	}
	return a.ticket
}

// Utils 返回工具方法集合。
func (a *Application) Utils() *Utils {
	return &Utils{app: a}
}

// JSSDKConfig 为 wx.config 的完整参数。
type JSSDKConfig struct {
	ConfigSignature
	JSAPIList   []string `json:"jsApiList"`
	OpenTagList []string `json:"openTagList"`
	Debug       bool     `json:"debug"`
	Beta        bool     `json:"beta"`
}

// JSSDKAgentConfig 为 wx.agentConfig 的完整参数。
type JSSDKAgentConfig struct {
	AgentConfigSignature
	JSAPIList   []string `json:"jsApiList"`
	OpenTagList []string `json:"openTagList"`
	Debug       bool     `json:"debug"`
}

// Utils 为企业微信工具方法。
type Utils struct {
	app *Application
}

// BuildJSSDKConfig 生成 wx.config 参数，beta 默认开启以便调用 wx.invoke。
func (u *Utils) BuildJSSDKConfig(ctx context.Context, url string, jsAPIList, openTagList []string, debug, beta bool) (*JSSDKConfig, error) {
	sig, err := u.app.Ticket().CreateConfigSignature(ctx, url, kernel.NewNonce(), nowFunc().Unix())
	if err != nil {
		return nil, err
	}
	return &JSSDKConfig{
		ConfigSignature: *sig,
		JSAPIList:       nonNil(jsAPIList),
		OpenTagList:     nonNil(openTagList),
		Debug:           debug,
		Beta:            beta,
	}, nil
}

// BuildJSSDKAgentConfig 生成 wx.agentConfig 参数。
func (u *Utils) BuildJSSDKAgentConfig(ctx context.Context, agentID int64, url string, jsAPIList, openTagList []string, debug bool) (*JSSDKAgentConfig, error) {
	sig, err := u.app.Ticket().CreateAgentConfigSignature(ctx, agentID, url, kernel.NewNonce(), nowFunc().Unix())
	if err != nil {
		return nil, err
	}
	return &JSSDKAgentConfig{
		AgentConfigSignature: *sig,
		JSAPIList:            nonNil(jsAPIList),
		OpenTagList:          nonNil(openTagList),
		Debug:                debug,
	}, nil
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
