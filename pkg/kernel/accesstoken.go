package kernel

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// DefaultTokenMargin 为缓存有效期相对平台 expires_in 提前的时间。
const DefaultTokenMargin = 100 * time.Second

// ErrTicketNotFound 在缓存中找不到推送类票据（verify_ticket / suite_ticket）时返回。
var ErrTicketNotFound = errors.New("ticket not found")

// TokenFetcher 向平台获取新凭证，返回凭证与有效期（秒）。
type TokenFetcher func(ctx context.Context) (token string, expiresIn int64, err error)

// TokenSpec 描述一种缓存凭证。
// Fields:
//   - Key: 缓存键
//   - QueryName: 凭证在查询参数中的名称
//   - Margin: 缓存有效期提前量（<=0 时为 DefaultTokenMargin）
//   - Fetch: 获取新凭证的函数
type TokenSpec struct {
	Key       string
	QueryName string
	Margin    time.Duration
	Fetch     TokenFetcher
}

// CachedToken 为基于缓存的可刷新凭证（AccessToken、JsApiTicket 等）。
// 同一实例上的并发刷新通过 singleflight 合并为一次平台调用。
type CachedToken struct {
	spec   TokenSpec
	cache  Cache
	group  singleflight.Group
	logger zerolog.Logger
}

// NewCachedToken 创建缓存凭证。cache 为 nil 时使用进程内缓存。
func NewCachedToken(spec TokenSpec, cache Cache, logger zerolog.Logger) *CachedToken {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if spec.Margin <= 0 {
		spec.Margin = DefaultTokenMargin
	}
	return &CachedToken{
		spec:   spec,
		cache:  cache,
		logger: logger.With().Str("component", "token").Str("key", spec.Key).Logger(),
	}
}

// Key 返回缓存键。
func (t *CachedToken) Key() string { return t.spec.Key }

// QueryName 实现 TokenSource 接口。
func (t *CachedToken) QueryName() string { return t.spec.QueryName }

// Token 返回缓存中的凭证，未命中时刷新。
func (t *CachedToken) Token(ctx context.Context) (string, error) {
	if v, ok, err := t.cache.Get(ctx, t.spec.Key); err == nil && ok && v != "" {
		return v, nil
	} else if err != nil {
		t.logger.Warn().Err(err).Msg("cache get failed, refreshing")
	}
	return t.Refresh(ctx)
}

// Refresh 强制从平台获取新凭证并写入缓存。
//
// 流程图：
//
//	[singleflight合并] -> [Fetch] -> [写缓存(expires_in - margin)] -> [返回凭证]
func (t *CachedToken) Refresh(ctx context.Context) (string, error) {
	v, err, _ := t.group.Do(t.spec.Key, func() (any, error) {
		token, expiresIn, err := t.spec.Fetch(ctx)
		if err != nil {
			return "", err
		}
		if token == "" {
			return "", fmt.Errorf("%w: empty token for %s", ErrHTTP, t.spec.Key)
		}

		ttl := time.Duration(expiresIn)*time.Second - t.spec.Margin
		if ttl <= 0 {
			ttl = time.Duration(expiresIn) * time.Second
		}
		if err := t.cache.Set(ctx, t.spec.Key, token, ttl); err != nil {
			t.logger.Warn().Err(err).Msg("cache set failed")
		}
		t.logger.Debug().Dur("ttl", ttl).Msg("token refreshed")
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// StaticToken 为调用方直接提供的凭证（如第三方平台代授权的 authorizer_access_token）。
type StaticToken struct {
	AppID    string
	Value    string
	QueryKey string
}

// Token 实现 TokenSource 接口。
func (t StaticToken) Token(context.Context) (string, error) {
	if t.Value == "" {
		return "", fmt.Errorf("%w: empty access token for %s", ErrInvalidConfig, t.AppID)
	}
	return t.Value, nil
}

// QueryName 实现 TokenSource 接口。
func (t StaticToken) QueryName() string {
	if t.QueryKey == "" {
		return "access_token"
	}
	return t.QueryKey
}

// Ticket 为平台推送的票据（component_verify_ticket、suite_ticket），由回调写入缓存。
type Ticket struct {
	key   string
	ttl   time.Duration
	cache Cache
}

// NewTicket 创建推送票据存储。
func NewTicket(key string, ttl time.Duration, cache Cache) *Ticket {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Ticket{key: key, ttl: ttl, cache: cache}
}

// Key 返回缓存键。
func (t *Ticket) Key() string { return t.key }

// SetTicket 写入票据。
func (t *Ticket) SetTicket(ctx context.Context, ticket string) error {
	if ticket == "" {
		return badRequest("empty ticket for %s", t.key)
	}
	return t.cache.Set(ctx, t.key, ticket, t.ttl)
}

// GetTicket 读取票据，不存在时返回 ErrTicketNotFound。
func (t *Ticket) GetTicket(ctx context.Context) (string, error) {
	v, ok, err := t.cache.Get(ctx, t.key)
	if err != nil {
		return "", err
	}
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s", ErrTicketNotFound, t.key)
	}
	return v, nil
}

// FetchField 读取平台响应中的凭证字段与 expires_in，字段缺失时返回携带响应体的错误。
func FetchField(resp *HTTPResponse, field string) (string, int64, error) {
	token := resp.Get(field).String()
	if token == "" {
		return "", 0, fmt.Errorf("%w: failed to get %s: %s", ErrHTTP, field, string(resp.Body))
	}
	expiresIn := resp.Get("expires_in").Int()
	if expiresIn <= 0 {
		expiresIn = 7200
	}
	return token, expiresIn, nil
}

// HashKey 返回 s 的 MD5 十六进制摘要，用于避免在缓存键中出现明文密钥。
func HashKey(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
