package openplatform

import (
	"context"
	"fmt"
	"time"

	"github.com/IMBotPlatform/wechat-opensdk/pkg/kernel"
	"github.com/rs/zerolog"
)

// VerifyTicketTTL 为 component_verify_ticket 的缓存时长。
const VerifyTicketTTL = (6000 - 100) * time.Second

// AuthorizerTokenMargin 为 authorizer_access_token 的提前过期时长。
const AuthorizerTokenMargin = 500 * time.Second

// NewVerifyTicket 创建 component_verify_ticket 存储。
func NewVerifyTicket(appID string, cache kernel.Cache) *kernel.Ticket {
	return kernel.NewTicket(fmt.Sprintf("wechat.open_platform.verify_ticket.%s", appID), VerifyTicketTTL, cache)
}

// NewComponentAccessToken 创建第三方平台凭证（cgi-bin/component/api_component_token），
// 每次刷新都读取最新推送的 component_verify_ticket。
func NewComponentAccessToken(appID, secret string, ticket *kernel.Ticket, cache kernel.Cache, httpClient *kernel.HTTPClient, logger zerolog.Logger) *kernel.CachedToken {
	return kernel.NewCachedToken(kernel.TokenSpec{
		Key:       fmt.Sprintf("wechat.open_platform.component_access_token.%s", appID),
		QueryName: "component_access_token",
		Fetch: func(ctx context.Context) (string, int64, error) {
			verifyTicket, err := ticket.GetTicket(ctx)
			if err != nil {
				return "", 0, err
			}
			resp, err := httpClient.PostJSON(ctx, "cgi-bin/component/api_component_token", nil, map[string]string{
				"component_appid":         appID,
				"component_appsecret":     secret,
				"component_verify_ticket": verifyTicket,
			})
			if err != nil {
				return "", 0, err
			}
			return kernel.FetchField(resp, "component_access_token")
		},
	}, cache, logger)
}
