// Package officialaccount 提供微信公众号的回调服务、AccessToken、JS-SDK 票据与应用封装。
package officialaccount

import (
	"github.com/IMBotPlatform/wechat-opensdk/pkg/kernel"
)

// EnvPrefix 为公众号配置的环境变量前缀。
const EnvPrefix = "WECHAT_OFFICIAL_ACCOUNT_"

// Config 为公众号配置。
// Fields:
//   - AppID: 公众号 AppID（必填）
//   - Secret: AppSecret，获取 AccessToken 时必填
//   - Token: 回调 Token
//   - AESKey: 回调 EncodingAESKey，为空表示明文模式
//   - HTTP: 接口客户端配置
type Config struct {
	AppID  string            `env:"APP_ID"`
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
	case "app_id":
		return c.AppID
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
