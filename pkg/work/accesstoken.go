package work

import (
	"context"
	"fmt"
	"sync"

	"github.com/IMBotPlatform/wechat-opensdk/pkg/kernel"
	"github.com/IMBotPlatform/wechat-opensdk/pkg/officialaccount"
	"github.com/rs/zerolog"
)

// NewAccessToken 创建企业微信 AccessToken（cgi-bin/gettoken）。
func NewAccessToken(corpID, secret string, cache kernel.Cache, httpClient *kernel.HTTPClient, logger zerolog.Logger) *kernel.CachedToken {
	return kernel.NewCachedToken(kernel.TokenSpec{
		Key:       fmt.Sprintf("work.access_token.%s.%s", corpID, kernel.HashKey(secret)),
		QueryName: "access_token",
		Fetch: func(ctx context.Context) (string, int64, error) {
			resp, err := httpClient.Get(ctx, "cgi-bin/gettoken", map[string]string{
				"corpid":     corpID,
				"corpsecret": secret,
			})
			if err != nil {
				return "", 0, err
			}
			return kernel.FetchField(resp, "access_token")
		},
	}, cache, logger)
}

// ConfigSignature 为 wx.config 的签名参数。
type ConfigSignature struct {
	AppID     string `json:"appId"`
	NonceStr  string `json:"nonceStr"`
	Timestamp int64  `json:"timestamp"`
	URL       string `json:"url"`
	Signature string `json:"signature"`
}

// AgentConfigSignature 为 wx.agentConfig 的签名参数。
type AgentConfigSignature struct {
	CorpID    string `json:"corpid"`
	AgentID   int64  `json:"agentid"`
	NonceStr  string `json:"nonceStr"`
	Timestamp int64  `json:"timestamp"`
	URL       string `json:"url"`
	Signature string `json:"signature"`
}

// JSAPITicket 管理企业 jsapi_ticket 与各应用的 agent_config 票据。
type JSAPITicket struct {
	corpID string
	client *kernel.Client
	cache  kernel.Cache
	logger zerolog.Logger
	ticket *kernel.CachedToken

	mu     sync.Mutex
	agents map[int64]*kernel.CachedToken
}

// NewJSAPITicket 创建票据管理器，client 需自动注入 AccessToken。
func NewJSAPITicket(corpID string, client *kernel.Client, cache kernel.Cache, logger zerolog.Logger) *JSAPITicket {
	t := &JSAPITicket{
		corpID: corpID,
		client: client,
		cache:  cache,
		logger: logger,
		agents: make(map[int64]*kernel.CachedToken),
	}
	t.ticket = kernel.NewCachedToken(kernel.TokenSpec{
		Key:       fmt.Sprintf("work.jsapi_ticket.%s", corpID),
		QueryName: "jsapi_ticket",
		Fetch:     t.fetch("cgi-bin/get_jsapi_ticket", nil),
	}, cache, logger)
	return t
}

func (t *JSAPITicket) fetch(path string, query map[string]string) kernel.TokenFetcher {
	return func(ctx context.Context) (string, int64, error) {
		resp, err := t.client.Get(ctx, path, query)
		if err != nil {
			return "", 0, err
		}
		return kernel.FetchField(resp, "ticket")
	}
}

// Key 返回企业票据的缓存键。
func (t *JSAPITicket) Key() string { return t.ticket.Key() }

// AgentKey 返回应用票据的缓存键。
func (t *JSAPITicket) AgentKey(agentID int64) string {
	return fmt.Sprintf("%s.%d", t.Key(), agentID)
}

// Ticket 返回企业 jsapi_ticket。
func (t *JSAPITicket) Ticket(ctx context.Context) (string, error) {
	return t.ticket.Token(ctx)
}

// AgentTicket 返回应用的 agent_config 票据。
func (t *JSAPITicket) AgentTicket(ctx context.Context, agentID int64) (string, error) {
	t.mu.Lock()
	tok, ok := t.agents[agentID]
	if !ok {
		tok = kernel.NewCachedToken(kernel.TokenSpec{
			Key:       t.AgentKey(agentID),
			QueryName: "ticket",
			Fetch:     t.fetch("cgi-bin/ticket/get", map[string]string{"type": "agent_config"}),
		}, t.cache, t.logger)
		t.agents[agentID] = tok
	}
	t.mu.Unlock()
	return tok.Token(ctx)
}

// CreateConfigSignature 生成 wx.config 签名。
func (t *JSAPITicket) CreateConfigSignature(ctx context.Context, url, nonce string, timestamp int64) (*ConfigSignature, error) {
	ticket, err := t.Ticket(ctx)
	if err != nil {
		return nil, err
	}
	return &ConfigSignature{
		AppID:     t.corpID,
		NonceStr:  nonce,
		Timestamp: timestamp,
		URL:       url,
		Signature: officialaccount.SignJSSDK(ticket, nonce, timestamp, url),
	}, nil
}

// CreateAgentConfigSignature 生成 wx.agentConfig 签名。
func (t *JSAPITicket) CreateAgentConfigSignature(ctx context.Context, agentID int64, url, nonce string, timestamp int64) (*AgentConfigSignature, error) {
	ticket, err := t.AgentTicket(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return &AgentConfigSignature{
		CorpID:    t.corpID,
		AgentID:   agentID,
		NonceStr:  nonce,
		Timestamp: timestamp,
		URL:       url,
		Signature: officialaccount.SignJSSDK(ticket, nonce, timestamp, url),
	}, nil
}
