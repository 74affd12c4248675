package pay

import (
	"sync"

	"github.com/IMBotPlatform/wechat-opensdk/pkg/kernel"
)

const (
	// Product 为产品名。
	Product = "pay"
	// BaseURI 为微信支付接口根地址。
	BaseURI = "https://api.mch.weixin.qq.com/"
)

// DefaultPolicy 为微信支付的产品策略。
var DefaultPolicy = kernel.Policy{
	Name:         Product,
	BaseURI:      BaseURI,
	RequiredKeys: []string{"mch_id", "private_key", "certificate", "secret_key"},
}

// Application 为微信支付商户应用。
type Application struct {
	*kernel.Application[Config]

	mu        sync.Mutex
	merchant  *Merchant
	server    *Server
	validator *ResponseValidator
}

// NewApplication 创建微信支付应用。
func NewApplication(cfg Config, opts ...kernel.Option) (*Application, error) {
	base, err := kernel.NewApplication(cfg, DefaultPolicy, opts...)
	if err != nil {
		return nil, err
	}
	return &Application{Application: base}, nil
}

// Merchant 返回商户，首次调用时解析密钥与证书。
func (a *Application) Merchant() (*Merchant, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.merchantLocked()
}

func (a *Application) merchantLocked() (*Merchant, error) {
	if a.merchant == nil {
		cfg := a.Config()
		m, err := NewMerchant(cfg.MchID, cfg.PrivateKey, cfg.Certificate, cfg.SecretKey, cfg.V2SecretKey, cfg.PlatformCerts...)
		if err != nil {
			return nil, err
		}
		a.merchant = m
	}
	return a.merchant, nil
}

// SetMerchant 替换商户。
func (a *Application) SetMerchant(m *Merchant) *Application {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.merchant = m
	a.server = nil
	a.validator = nil
	return a
}

// Server 返回支付回调服务。
func (a *Application) Server() (*Server, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil {
		m, err := a.merchantLocked()
		if err != nil {
			return nil, err
		}
		a.server = NewServer(m, a.Logger())
	}
	return a.server, nil
}

// Validator 返回平台应答验签器。
func (a *Application) Validator() (*ResponseValidator, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.validator == nil {
		m, err := a.merchantLocked()
		if err != nil {
			return nil, err
		}
		a.validator = NewResponseValidator(m)
	}
	return a.validator, nil
}

// Utils 返回调起支付参数生成工具。
func (a *Application) Utils() (*Utils, error) {
	m, err := a.Merchant()
	if err != nil {
		return nil, err
	}
	return NewUtils(m), nil
}
