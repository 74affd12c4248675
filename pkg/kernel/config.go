package kernel

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	// envHTTPTimeout 控制平台接口请求的默认超时时间（秒）。
	envHTTPTimeout = "WECHAT_HTTP_TIMEOUT"
)

// HTTPConfig 为各产品共享的 HTTP 客户端配置。
// Fields:
//   - BaseURI: 接口根地址（为空则使用产品默认值）
//   - Timeout: 请求超时（<=0 时依次回落到环境变量与默认值）
//   - Retries: 网络错误与 5xx 响应的重试次数
//   - NoThrow: 为 true 时平台返回 errcode != 0 也不返回 APIError，由调用方自行判断
type HTTPConfig struct {
	BaseURI string        `env:"BASE_URI"`
	Timeout time.Duration `env:"TIMEOUT"`
	Retries int           `env:"RETRIES" envDefault:"1"`
	NoThrow bool          `env:"NO_THROW"`
}

// ProductConfig 为各产品配置需要实现的最小接口。
type ProductConfig interface {
	// Get 根据配置键（如 app_id、secret）返回配置值。
	Get(key string) string
	// HTTPOptions 返回 HTTP 客户端配置。
	HTTPOptions() HTTPConfig
}

// LoadConfig 从环境变量加载配置，prefix 为变量前缀（如 "WECHAT_OA_"）。
func LoadConfig(prefix string, cfg any) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: prefix}); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// RequireKeys 校验必填配置项，缺失时返回携带键名的 ErrInvalidConfig。
func RequireKeys(cfg ProductConfig, keys ...string) error {
	var missing []string
	for _, k := range keys {
		if strings.TrimSpace(cfg.Get(k)) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing config key(s): %s", ErrInvalidConfig, strings.Join(missing, ", "))
	}
	return nil
}

// resolveDuration 解析时间配置，优先级为：参数值 > 环境变量 > 默认值。
// Parameters:
//   - paramVal: 显式传入的参数值（<=0 表示未设置）
//   - envKey: 环境变量名
//   - defaultVal: 默认值
//
// Returns:
//   - time.Duration: 解析后的时间值
func resolveDuration(paramVal time.Duration, envKey string, defaultVal time.Duration) time.Duration {
	if paramVal > 0 {
		return paramVal
	}

	if envStr := os.Getenv(envKey); envStr != "" {
		if secs, err := strconv.Atoi(envStr); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}

	return defaultVal
}
