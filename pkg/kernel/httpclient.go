package kernel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// defaultHTTPTimeout 为平台接口请求的默认超时时间。
const defaultHTTPTimeout = 10 * time.Second

// HTTPResponse 为平台接口响应。
type HTTPResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON 返回响应体的 gjson 视图。
func (r *HTTPResponse) JSON() gjson.Result {
	return gjson.ParseBytes(r.Body)
}

// Get 按 gjson 路径读取响应字段。
func (r *HTTPResponse) Get(path string) gjson.Result {
	return gjson.GetBytes(r.Body, path)
}

// Unmarshal 将响应体解码到 v。
func (r *HTTPResponse) Unmarshal(v any) error {
	return json.Unmarshal(r.Body, v)
}

// IsSuccessful 判断状态码是否为 2xx。
func (r *HTTPResponse) IsSuccessful() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// FailureJudge 判断平台响应是否表示业务失败。
type FailureJudge func(resp *HTTPResponse) bool

// ErrcodeJudge 以 errcode != 0 判定失败（公众号、企业微信、第三方平台）。
func ErrcodeJudge(resp *HTTPResponse) bool {
	return resp.Get("errcode").Int() != 0
}

// ErrcodeOrErrorJudge 额外将存在 error 字段视为失败（小程序）。
func ErrcodeOrErrorJudge(resp *HTTPResponse) bool {
	return ErrcodeJudge(resp) || resp.Get("error").Exists()
}

// RequestOptions 描述一次请求的参数。
// Fields:
//   - Query: 查询参数
//   - Header: 额外请求头
//   - JSON: 以 JSON 编码的请求体
//   - Body: 原始请求体（JSON 为空时使用）
type RequestOptions struct {
	Query  map[string]string
	Header map[string]string
	JSON   any
	Body   []byte
}

// HTTPClient 为平台接口的基础 HTTP 能力，基于 resty 实现超时与传输层重试。
type HTTPClient struct {
	client *resty.Client
	logger zerolog.Logger
}

// NewHTTPClient 创建 HTTP 客户端。
// Parameters:
//   - cfg: HTTP 配置（BaseURI 为空时使用 defaultBaseURI）
//   - defaultBaseURI: 产品默认接口根地址
//   - logger: 日志记录器
func NewHTTPClient(cfg HTTPConfig, defaultBaseURI string, logger zerolog.Logger) *HTTPClient {
	base := cfg.BaseURI
	if base == "" {
		base = defaultBaseURI
	}

	client := resty.New().
		SetBaseURL(base).
		SetTimeout(resolveDuration(cfg.Timeout, envHTTPTimeout, defaultHTTPTimeout)).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(200 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// 仅对网络错误与 5xx 做传输层重试。
			return err != nil || (r != nil && r.StatusCode() >= http.StatusInternalServerError)
		})

	return &HTTPClient{
		client: client,
		logger: logger.With().Str("component", "http").Logger(),
	}
}

// BaseURL 返回接口根地址。
func (c *HTTPClient) BaseURL() string { return c.client.BaseURL }

// Request 发送请求。
// Parameters:
//   - ctx: 请求上下文
//   - method: HTTP 方法
//   - path: 相对 BaseURI 的路径或完整 URL
//   - opts: 请求参数
//
// Returns:
//   - *HTTPResponse: 平台响应（不判断业务错误码）
//   - error: 网络错误时返回
func (c *HTTPClient) Request(ctx context.Context, method, path string, opts RequestOptions) (*HTTPResponse, error) {
	req := c.client.R().SetContext(ctx)
	if len(opts.Query) > 0 {
		req.SetQueryParams(opts.Query)
	}
	if len(opts.Header) > 0 {
		req.SetHeaders(opts.Header)
	}
	switch {
	case opts.JSON != nil:
		req.SetHeader("Content-Type", "application/json").SetBody(opts.JSON)
	case opts.Body != nil:
		req.SetBody(opts.Body)
	}

	start := time.Now()
	resp, err := req.Execute(method, path)
	if err != nil {
		c.logger.Error().Err(err).Str("method", method).Str("path", path).Msg("request failed")
		return nil, fmt.Errorf("%w: %s %s: %v", ErrHTTP, method, path, err)
	}
	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode()).
		Dur("elapsed", time.Since(start)).
		Msg("request done")

	return &HTTPResponse{
		StatusCode: resp.StatusCode(),
		Header:     resp.Header(),
		Body:       resp.Body(),
	}, nil
}

// Get 发送 GET 请求。
func (c *HTTPClient) Get(ctx context.Context, path string, query map[string]string) (*HTTPResponse, error) {
	return c.Request(ctx, http.MethodGet, path, RequestOptions{Query: query})
}

// PostJSON 发送 JSON POST 请求。
func (c *HTTPClient) PostJSON(ctx context.Context, path string, query map[string]string, body any) (*HTTPResponse, error) {
	return c.Request(ctx, http.MethodPost, path, RequestOptions{Query: query, JSON: body})
}

// TokenSource 提供接口调用凭证。
type TokenSource interface {
	// Token 返回当前有效凭证（必要时刷新）。
	Token(ctx context.Context) (string, error)
	// QueryName 返回凭证在查询参数中的名称（如 access_token）。
	QueryName() string
}

// Refresher 为可主动刷新的凭证。
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

// tokenExpiredCodes 为凭证失效的错误码（40001 不合法、40014 无效、42001 过期）。
var tokenExpiredCodes = map[int64]bool{40001: true, 40014: true, 42001: true}

// Client 为自动注入 AccessToken 的平台接口客户端。
// Fields:
//   - http: 基础 HTTP 客户端
//   - token: 凭证来源（nil 表示不注入）
//   - judge: 业务失败判定
//   - throw: 业务失败时是否返回 APIError
type Client struct {
	http  *HTTPClient
	token TokenSource
	judge FailureJudge
	throw bool
}

// NewClient 创建 AccessToken 感知的客户端。
func NewClient(httpClient *HTTPClient, token TokenSource, judge FailureJudge, throw bool) *Client {
	if judge == nil {
		judge = ErrcodeJudge
	}
	return &Client{http: httpClient, token: token, judge: judge, throw: throw}
}

// HTTP 返回基础 HTTP 客户端。
func (c *Client) HTTP() *HTTPClient { return c.http }

// Request 发送带凭证的请求。凭证失效时刷新一次并重试。
//
// 流程图：
//
//	[注入凭证] -> [发送请求] -> [凭证失效?] --是--> [刷新凭证并重试一次]
//	                                |
//	                               否
//	                                v
//	                         [业务失败判定] -> [APIError / 响应]
func (c *Client) Request(ctx context.Context, method, path string, opts RequestOptions) (*HTTPResponse, error) {
	resp, err := c.do(ctx, method, path, opts)
	if err != nil {
		return nil, err
	}

	// 关键步骤：凭证失效时强制刷新后重试一次。
	if refresher, ok := c.token.(Refresher); ok && tokenExpiredCodes[resp.Get("errcode").Int()] {
		if _, err := refresher.Refresh(ctx); err != nil {
			return nil, err
		}
		if resp, err = c.do(ctx, method, path, opts); err != nil {
			return nil, err
		}
	}

	if c.throw {
		if !resp.IsSuccessful() {
			return resp, fmt.Errorf("%w: %s %s: status %d", ErrHTTP, method, path, resp.StatusCode)
		}
		if c.judge(resp) {
			return resp, &APIError{
				Code:    resp.Get("errcode").Int(),
				Message: firstNonEmpty(resp.Get("errmsg").String(), resp.Get("error").String()),
				Body:    string(resp.Body),
			}
		}
	}
	return resp, nil
}

// Get 发送带凭证的 GET 请求。
func (c *Client) Get(ctx context.Context, path string, query map[string]string) (*HTTPResponse, error) {
	return c.Request(ctx, http.MethodGet, path, RequestOptions{Query: query})
}

// PostJSON 发送带凭证的 JSON POST 请求。
func (c *Client) PostJSON(ctx context.Context, path string, body any) (*HTTPResponse, error) {
	return c.Request(ctx, http.MethodPost, path, RequestOptions{JSON: body})
}

func (c *Client) do(ctx context.Context, method, path string, opts RequestOptions) (*HTTPResponse, error) {
	if c.token != nil {
		token, err := c.token.Token(ctx)
		if err != nil {
			return nil, err
		}
		query := make(map[string]string, len(opts.Query)+1)
		for k, v := range opts.Query {
			query[k] = v
		}
		query[c.token.QueryName()] = token
		opts.Query = query
	}
	return c.http.Request(ctx, method, path, opts)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
