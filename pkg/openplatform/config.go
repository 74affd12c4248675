// Package openplatform 提供微信开放平台第三方平台（component）的回调服务、
// component_verify_ticket、component_access_token、授权流程与代授权账号工厂。
package openplatform

import (
	"github.com/IMBotPlatform/wechat-opensdk/pkg/kernel"
)

// EnvPrefix 为第三方平台配置的环境变量前缀。
const EnvPrefix = "WECHAT_OPEN_PLATFORM_"

// Config 为第三方平台配置。
// Fields:
//   - AppID: 第三方平台 component_appid
//   - Secret: component_appsecret
//   - Token: 消息校验 Token
//   - AESKey: 消息加解密 Key
//   - HTTP: 接口客户端配置，代授权账号继承该配置
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
