package openwork

import (
	"context"
	"fmt"
	"time"

	"github.com/IMBotPlatform/wechat-opensdk/pkg/kernel"
	"github.com/rs/zerolog"
)

// SuiteTicketTTL 为 suite_ticket 的缓存时长，平台每十分钟推送一次。
const SuiteTicketTTL = 6000 * time.Second

// NewSuiteTicket 创建 suite_ticket 存储。
func NewSuiteTicket(suiteID string, cache kernel.Cache) *kernel.Ticket {
	return kernel.NewTicket(fmt.Sprintf("wechat.open_work.suite_ticket.%s", suiteID), SuiteTicketTTL, cache)
}

// NewProviderAccessToken 创建服务商凭证（cgi-bin/service/get_provider_token）。
func NewProviderAccessToken(corpID, providerSecret string, cache kernel.Cache, httpClient *kernel.HTTPClient, logger zerolog.Logger) *kernel.CachedToken {
	return kernel.NewCachedToken(kernel.TokenSpec{
		Key:       fmt.Sprintf("wechat.open_work.access_token.%s.%s", corpID, kernel.HashKey(providerSecret)),
		QueryName: "provider_access_token",
		Fetch: func(ctx context.Context) (string, int64, error) {
			resp, err := httpClient.PostJSON(ctx, "cgi-bin/service/get_provider_token", nil, map[string]string{
				"corpid":          corpID,
				"provider_secret": providerSecret,
			})
			if err != nil {
				return "", 0, err
			}
			return kernel.FetchField(resp, "provider_access_token")
		},
	}, cache, logger)
}

// NewSuiteAccessToken 创建第三方应用凭证（cgi-bin/service/get_suite_token），
// 每次刷新都读取最新推送的 suite_ticket。
func NewSuiteAccessToken(suiteID, suiteSecret string, ticket *kernel.Ticket, cache kernel.Cache, httpClient *kernel.HTTPClient, logger zerolog.Logger) *kernel.CachedToken {
	return kernel.NewCachedToken(kernel.TokenSpec{
		Key:       fmt.Sprintf("wechat.open_work.suite_access_token.%s.%s", suiteID, kernel.HashKey(suiteSecret)),
		QueryName: "suite_access_token",
		Fetch: func(ctx context.Context) (string, int64, error) {
			suiteTicket, err := ticket.GetTicket(ctx)
			if err != nil {
				return "", 0, err
			}
			resp, err := httpClient.PostJSON(ctx, "cgi-bin/service/get_suite_token", nil, map[string]string{
				"suite_id":     suiteID,
				"suite_secret": suiteSecret,
				"suite_ticket": suiteTicket,
			})
			if err != nil {
				return "", 0, err
			}
			return kernel.FetchField(resp, "suite_access_token")
		},
	}, cache, logger)
}
