// Package openwork 提供企业微信第三方应用（服务商）的回调服务、suite_ticket、
// 服务商凭证、第三方应用凭证与企业授权接口。
package openwork

import (
	"github.com/IMBotPlatform/wechat-opensdk/pkg/kernel"
)

// EnvPrefix 为企业微信第三方应用配置的环境变量前缀。
const EnvPrefix = "WECHAT_OPEN_WORK_"

// Config 为服务商与第三方应用配置。
type Config struct {
	CorpID         string            `env:"CORP_ID"`
	ProviderSecret string            `env:"PROVIDER_SECRET"`
	SuiteID        string            `env:"SUITE_ID"`
	SuiteSecret    string            `env:"SUITE_SECRET"`
	Token          string            `env:"TOKEN"`
	AESKey         string            `env:"AES_KEY"`
	HTTP           kernel.HTTPConfig `envPrefix:"HTTP_"`
}

// LoadConfig 从带前缀的环境变量加载配置，prefix 为空时使用 EnvPrefix。
func LoadConfig(prefix string) (Config, error) {
	if prefix == "" {
		prefix = EnvPrefix
	}
	var cfg Config
	if err := kernel.LoadConfig(prefix, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Get 实现 kernel.ProductConfig 接口。
func (c Config) Get(key string) string {
	switch key {
	case "corp_id":
		return c.CorpID
	case "provider_secret":
		return c.ProviderSecret
	case "suite_id":
		return c.SuiteID
	case "suite_secret":
		return c.SuiteSecret
	case "token":
		return c.Token
	case "aes_key":
		return c.AESKey
	default:
		return ""
	}
}

// HTTPOptions 实现 kernel.ProductConfig 接口。
func (c Config) HTTPOptions() kernel.HTTPConfig { return c.HTTP }

// Account 为服务商账号。
type Account struct {
	CorpID         string
	ProviderSecret string
	SuiteID        string
	SuiteSecret    string
	Token          string
	AESKey         string
}
