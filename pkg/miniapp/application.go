// Package miniapp 提供微信小程序应用：复用公众号的回调服务、账号与 AccessToken，
// 并补充登录凭证校验与开放数据解密。
package miniapp

import (
	"github.com/IMBotPlatform/wechat-opensdk/pkg/kernel"
	"github.com/IMBotPlatform/wechat-opensdk/pkg/officialaccount"
)

const (
	// Product 为产品名。
	Product = "mini_app"
	// EnvPrefix 为小程序配置的环境变量前缀。
	EnvPrefix = "WECHAT_MINI_APP_"
)

// Config 与公众号配置结构相同。
type Config = officialaccount.Config

// DefaultPolicy 为小程序的产品策略：errcode 非零或存在 error 字段均视为失败。
var DefaultPolicy = kernel.Policy{
	Name:         Product,
	BaseURI:      officialaccount.BaseURI,
	RequiredKeys: []string{"app_id"},
	Judge:        kernel.ErrcodeOrErrorJudge,
}

// LoadConfig 从带前缀的环境变量加载配置，prefix 为空时使用 EnvPrefix。
func LoadConfig(prefix string) (Config, error) {
	if prefix == "" {
		prefix = EnvPrefix
	}
	return officialaccount.LoadConfig(prefix)
}

// Application 为小程序应用。
type Application struct {
	*officialaccount.Application
}

// NewApplication 创建小程序应用。
func NewApplication(cfg Config, opts ...kernel.Option) (*Application, error) {
	app, err := officialaccount.New(cfg, DefaultPolicy, opts...)
	if err != nil {
		return nil, err
	}
	return &Application{Application: app}, nil
}

// Utils 返回小程序工具方法。
func (a *Application) Utils() *Utils {
	return &Utils{app: a}
}
