package officialaccount

import (
	"fmt"

	"github.com/IMBotPlatform/wechat-opensdk/pkg/kernel"
)

// Account 为公众号（或小程序）账号，创建后不可变。
type Account struct {
	appID  string
	secret string
	token  string
	aesKey string
}

// NewAccount 创建账号。
func NewAccount(appID, secret, token, aesKey string) *Account {
	return &Account{appID: appID, secret: secret, token: token, aesKey: aesKey}
}

func (a *Account) AppID() string  { return a.appID }
func (a *Account) Token() string  { return a.token }
func (a *Account) AESKey() string { return a.aesKey }

// Secret 返回 AppSecret，未配置时返回 ErrInvalidConfig。
func (a *Account) Secret() (string, error) {
	if a.secret == "" {
		return "", fmt.Errorf("%w: no secret configured for %s", kernel.ErrInvalidConfig, a.appID)
	}
	return a.secret, nil
}
