// Package work 提供企业微信自建应用的回调服务、AccessToken 与 JS-SDK 票据。
package work

import (
	"github.com/IMBotPlatform/wechat-opensdk/pkg/kernel"
)

// EnvPrefix 为企业微信配置的环境变量前缀。
const EnvPrefix = "WECHAT_WORK_"

// Config 为企业微信应用配置，四项均为必填。
type Config struct {
	CorpID string            `env:"CORP_ID"`
	Secret string            `env:"SECRET"`
	Token  string            `env:"TOKEN"`
	AESKey string            `env:"AES_KEY"`
	HTTP   kernel.HTTPConfig `envPrefix:"HTTP_"`
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
	case "secret":
		return c.Secret
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

// Account 为企业微信账号。
type Account struct {
	CorpID string
	Secret string
	Token  string
	AESKey string
}
