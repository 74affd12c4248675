package openplatform

import (
	"context"

	"github.com/IMBotPlatform/wechat-opensdk/pkg/kernel"
	"github.com/IMBotPlatform/wechat-opensdk/pkg/miniapp"
	"github.com/IMBotPlatform/wechat-opensdk/pkg/officialaccount"
)

// authorizerConfig 生成代授权账号配置：AppID 来自凭证，Token、AESKey 与 HTTP 继承第三方平台，
// override 中的非空字段优先。
func (a *Application) authorizerConfig(appID string, override officialaccount.Config) officialaccount.Config {
	parent := a.Config()
	cfg := officialaccount.Config{
		AppID:  appID,
		Token:  parent.Token,
		AESKey: parent.AESKey,
		HTTP:   parent.HTTP,
	}
	if override.AppID != "" {
		cfg.AppID = override.AppID
	}
	if override.Secret != "" {
		cfg.Secret = override.Secret
	}
	if override.Token != "" {
		cfg.Token = override.Token
	}
	if override.AESKey != "" {
		cfg.AESKey = override.AESKey
	}
	if override.HTTP != (kernel.HTTPConfig{}) {
		cfg.HTTP = override.HTTP
	}
	return cfg
}

func (a *Application) childOptions() []kernel.Option {
	return []kernel.Option{kernel.WithCache(a.Cache()), kernel.WithLogger(a.Logger())}
}

// GetOfficialAccount 创建代授权公众号应用，使用第三方平台加密器与给定的授权方凭证。
// Parameters:
//   - token: 授权方 authorizer_access_token
//   - override: 覆盖继承配置的字段（零值表示不覆盖）
//
// Returns:
//   - *officialaccount.Application: 代授权公众号
//   - error: 配置或加密器创建失败时返回
func (a *Application) GetOfficialAccount(token kernel.StaticToken, override officialaccount.Config) (*officialaccount.Application, error) {
	enc, err := a.Encryptor()
	if err != nil {
		return nil, err
	}
	app, err := officialaccount.NewApplication(a.authorizerConfig(token.AppID, override), a.childOptions()...)
	if err != nil {
		return nil, err
	}
	app.SetEncryptor(enc)
	app.SetAccessToken(token)
	return app, nil
}

// GetOfficialAccountWithAccessToken 使用 authorizer_access_token 创建代授权公众号应用。
func (a *Application) GetOfficialAccountWithAccessToken(appID, accessToken string, override officialaccount.Config) (*officialaccount.Application, error) {
	return a.GetOfficialAccount(kernel.StaticToken{AppID: appID, Value: accessToken}, override)
}

// GetOfficialAccountWithRefreshToken 使用 authorizer_refresh_token 创建代授权公众号应用。
func (a *Application) GetOfficialAccountWithRefreshToken(ctx context.Context, appID, refreshToken string, override officialaccount.Config) (*officialaccount.Application, error) {
	accessToken, err := a.GetAuthorizerAccessToken(ctx, appID, refreshToken)
	if err != nil {
		return nil, err
	}
	return a.GetOfficialAccountWithAccessToken(appID, accessToken, override)
}

// GetMiniApp 创建代授权小程序应用。
func (a *Application) GetMiniApp(token kernel.StaticToken, override miniapp.Config) (*miniapp.Application, error) {
	enc, err := a.Encryptor()
	if err != nil {
		return nil, err
	}
	app, err := miniapp.NewApplication(a.authorizerConfig(token.AppID, override), a.childOptions()...)
	if err != nil {
		return nil, err
	}
	app.SetEncryptor(enc)
	app.SetAccessToken(token)
	return app, nil
}

// GetMiniAppWithAccessToken 使用 authorizer_access_token 创建代授权小程序应用。
func (a *Application) GetMiniAppWithAccessToken(appID, accessToken string, override miniapp.Config) (*miniapp.Application, error) {
	return a.GetMiniApp(kernel.StaticToken{AppID: appID, Value: accessToken}, override)
}

// GetMiniAppWithRefreshToken 使用 authorizer_refresh_token 创建代授权小程序应用。
func (a *Application) GetMiniAppWithRefreshToken(ctx context.Context, appID, refreshToken string, override miniapp.Config) (*miniapp.Application, error) {
	accessToken, err := a.GetAuthorizerAccessToken(ctx, appID, refreshToken)
	if err != nil {
		return nil, err
	}
	return a.GetMiniAppWithAccessToken(appID, accessToken, override)
}
