package officialaccount

import (
	"context"
	"time"

	"github.com/IMBotPlatform/wechat-opensdk/pkg/kernel"
)

// nowFunc 便于测试固定时间戳。
var nowFunc = time.Now

// JSSDKConfig 为前端 wx.config 的完整参数。
type JSSDKConfig struct {
	JSSDKSignature
	JSAPIList   []string `json:"jsApiList"`
	OpenTagList []string `json:"openTagList"`
	Debug       bool     `json:"debug"`
}

// Utils 为公众号工具方法。
type Utils struct {
	app *Application
}

// BuildJSSDKConfig 生成 wx.config 参数。
// Parameters:
//   - ctx: 请求上下文（可能触发 jsapi_ticket 刷新）
//   - url: 当前网页 URL（不含 # 及其后部分）
//   - jsAPIList: 需要使用的 JS 接口列表
//   - openTagList: 需要使用的开放标签列表
//   - debug: 是否开启调试模式
func (u *Utils) BuildJSSDKConfig(ctx context.Context, url string, jsAPIList, openTagList []string, debug bool) (*JSSDKConfig, error) {
	sig, err := u.app.Ticket().ConfigSignature(ctx, url, kernel.NewNonce(), nowFunc().Unix())
	if err != nil {
		return nil, err
	}
	if jsAPIList == nil {
		jsAPIList = []string{}
	}
	if openTagList == nil {
		openTagList = []string{}
	}
	return &JSSDKConfig{
		JSSDKSignature: *sig,
		JSAPIList:      jsAPIList,
		OpenTagList:    openTagList,
		Debug:          debug,
	}, nil
}
