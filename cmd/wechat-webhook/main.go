// Command wechat-webhook 运行公众号、小程序、企业微信、第三方平台与微信支付的回调服务，
// 并提供消息加解密调试命令。
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
