// Command echo 是企业微信自建应用的回显示例：文本原样回复，图片回传同一素材。
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/IMBotPlatform/wechat-opensdk/pkg/kernel"
	"github.com/IMBotPlatform/wechat-opensdk/pkg/work"
)

func main() {
	logger := kernel.NewLogger(os.Getenv("LOG_LEVEL"), true, os.Stderr)

	// 从环境变量读取配置（WECHAT_WORK_CORP_ID / SECRET / TOKEN / AES_KEY）
	cfg, err := work.LoadConfig("")
	if err != nil {
		logger.Fatal().Err(err).Msg("加载配置失败")
	}
	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	app, err := work.NewApplication(cfg, kernel.WithLogger(logger))
	if err != nil {
		logger.Fatal().Err(err).Msg("请设置环境变量: WECHAT_WORK_CORP_ID, WECHAT_WORK_SECRET, WECHAT_WORK_TOKEN, WECHAT_WORK_AES_KEY")
	}
	srv, err := app.Server()
	if err != nil {
		logger.Fatal().Err(err).Msg("创建回调服务失败")
	}

	srv.AddMessageListener("text", kernel.HandlerFunc(func(ctx context.Context, msg *kernel.Message, next kernel.Next) (any, error) {
		return fmt.Sprintf("收到消息: %s", msg.Value("Content")), nil
	}))
	// 图片消息回传同一 MediaId。
	srv.AddMessageListener("image", kernel.HandlerFunc(func(ctx context.Context, msg *kernel.Message, next kernel.Next) (any, error) {
		if mediaID := msg.Value("MediaId"); mediaID != "" {
			return kernel.ImageReply(mediaID), nil
		}
		return next(ctx, msg)
	}))
	srv.HandleUserCreated(kernel.HandlerFunc(func(ctx context.Context, msg *kernel.Message, next kernel.Next) (any, error) {
		logger.Info().Str("user_id", msg.Value("UserID")).Msg("新成员加入")
		return next(ctx, msg)
	}))

	logger.Info().Str("addr", listenAddr).Msg("企业微信回调服务启动中")
	if err := srv.Start(kernel.StartOptions{ListenAddr: listenAddr}); err != nil {
		logger.Fatal().Err(err).Msg("启动失败")
	}
}
