package kernel

import (
	"github.com/rs/zerolog"
)

// Policy 描述一个产品线的差异化策略。
// Fields:
//   - Name: 产品名（日志、监控使用）
//   - BaseURI: 默认接口根地址
//   - RequiredKeys: 必填配置键
//   - Judge: 接口业务失败判定
type Policy struct {
	Name         string
	BaseURI      string
	RequiredKeys []string
	Judge        FailureJudge
}

// Options 为 Application 的可选依赖。
type Options struct {
	Cache      Cache
	Logger     zerolog.Logger
	HTTPClient *HTTPClient
}

// Option 修改 Options。
type Option func(*Options)

// WithCache 指定缓存实现（默认进程内缓存）。
func WithCache(c Cache) Option {
	return func(o *Options) { o.Cache = c }
}

// WithLogger 指定日志记录器（默认不输出）。
func WithLogger(l zerolog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithHTTPClient 指定 HTTP 客户端（默认按配置创建）。
func WithHTTPClient(c *HTTPClient) Option {
	return func(o *Options) { o.HTTPClient = c }
}

// Application 为各产品应用共享的基础部分：配置、缓存、HTTP 客户端与日志。
// 产品应用嵌入它并补充账号、加解密器、凭证与回调服务。
type Application[C ProductConfig] struct {
	config C
	policy Policy
	cache  Cache
	http   *HTTPClient
	logger zerolog.Logger
}

// NewApplication 校验配置并创建基础应用。
// Parameters:
//   - cfg: 产品配置
//   - policy: 产品策略
//   - opts: 可选依赖
//
// Returns:
//   - *Application[C]: 基础应用
//   - error: 缺少必填配置时返回 ErrInvalidConfig
func NewApplication[C ProductConfig](cfg C, policy Policy, opts ...Option) (*Application[C], error) {
	if err := RequireKeys(cfg, policy.RequiredKeys...); err != nil {
		return nil, err
	}

	o := Options{Logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Cache == nil {
		o.Cache = NewMemoryCache()
	}
	if policy.Judge == nil {
		policy.Judge = ErrcodeJudge
	}

	logger := o.Logger.With().Str("product", policy.Name).Logger()
	httpClient := o.HTTPClient
	if httpClient == nil {
		httpClient = NewHTTPClient(cfg.HTTPOptions(), policy.BaseURI, logger)
	}

	return &Application[C]{
		config: cfg,
		policy: policy,
		cache:  o.Cache,
		http:   httpClient,
		logger: logger,
	}, nil
}

// Config 返回产品配置。
func (a *Application[C]) Config() C { return a.config }

// Policy 返回产品策略。
func (a *Application[C]) Policy() Policy { return a.policy }

// Cache 返回缓存。
func (a *Application[C]) Cache() Cache { return a.cache }

// HTTPClient 返回基础 HTTP 客户端（不注入凭证）。
func (a *Application[C]) HTTPClient() *HTTPClient { return a.http }

// Logger 返回日志记录器。
func (a *Application[C]) Logger() zerolog.Logger { return a.logger }

// NewClient 创建注入指定凭证的接口客户端，失败判定与抛错策略来自产品策略与配置。
func (a *Application[C]) NewClient(token TokenSource) *Client {
	return NewClient(a.http, token, a.policy.Judge, !a.config.HTTPOptions().NoThrow)
}
