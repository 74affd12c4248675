// Package pay 提供微信支付 APIv3 的回调服务（AES-GCM 解密）、商户密钥材料、
// 平台应答验签与 JSAPI/小程序/APP 调起支付参数生成。
package pay

import (
	"github.com/IMBotPlatform/wechat-opensdk/pkg/kernel"
)

// EnvPrefix 为微信支付配置的环境变量前缀。
const EnvPrefix = "WECHAT_PAY_"

// Config 为商户配置。
// Fields:
//   - MchID: 商户号
//   - PrivateKey: 商户 API 私钥（PEM）
//   - Certificate: 商户 API 证书（PEM）
//   - SecretKey: APIv3 密钥，用于解密回调
//   - V2SecretKey: APIv2 密钥，仅 v2 签名使用
//   - PlatformCerts: 微信支付平台证书（PEM），按证书序列号索引
type Config struct {
	MchID         string            `env:"MCH_ID"`
	PrivateKey    string            `env:"PRIVATE_KEY"`
	Certificate   string            `env:"CERTIFICATE"`
	SecretKey     string            `env:"SECRET_KEY"`
	V2SecretKey   string            `env:"V2_SECRET_KEY"`
	PlatformCerts []string          `env:"PLATFORM_CERTS" envSeparator:";"`
	HTTP          kernel.HTTPConfig `envPrefix:"HTTP_"`
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
	case "mch_id":
		return c.MchID
	case "private_key":
		return c.PrivateKey
	case "certificate":
		return c.Certificate
	case "secret_key":
		return c.SecretKey
	case "v2_secret_key":
		return c.V2SecretKey
	default:
		return ""
	}
}

// HTTPOptions 实现 kernel.ProductConfig 接口。
func (c Config) HTTPOptions() kernel.HTTPConfig { return c.HTTP }
