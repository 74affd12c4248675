package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IMBotPlatform/wechat-opensdk/pkg/kernel"
	"github.com/IMBotPlatform/wechat-opensdk/pkg/monitor"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

// serveOptions 为 serve 子命令参数。
type serveOptions struct {
	addr    string
	monitor bool
	echo    bool
}

func newServeCmd(global *globalOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the callback server for every configured product",
		Long: "Products are enabled from environment variables (WECHAT_OFFICIAL_ACCOUNT_APP_ID, " +
			"WECHAT_MINI_APP_APP_ID, WECHAT_WORK_CORP_ID, WECHAT_OPEN_WORK_SUITE_ID, " +
			"WECHAT_OPEN_PLATFORM_APP_ID, WECHAT_PAY_MCH_ID). Setting WECHAT_REDIS_ADDR " +
			"shares tokens and tickets through Redis.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, global, opts)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", ":8080", "listen address")
	cmd.Flags().BoolVar(&opts.monitor, "monitor", true, "expose the /monitor/ws websocket feed")
	cmd.Flags().BoolVar(&opts.echo, "echo", false, "reply to text messages with their own content")
	return cmd
}

// runServe 启动回调服务直到 ctx 取消。
//
// 流程图：
//
//	缓存(Redis 或内存) ──▶ loadProducts ──▶ routes + 监控 Hub ──▶ gin ──▶ ListenAndServe
//	                                                                       │
//	                                             ctx.Done ──▶ Shutdown ◀───┘
func runServe(ctx context.Context, global *globalOptions, opts *serveOptions) error {
	logger := global.logger

	// 第一步：选择缓存
	var appOpts []kernel.Option
	appOpts = append(appOpts, kernel.WithLogger(logger))
	var redisCfg kernel.RedisConfig
	if err := kernel.LoadConfig("WECHAT_REDIS_", &redisCfg); err != nil {
		return err
	}
	if redisCfg.Addr != "" {
		cache, err := kernel.NewRedisCache(ctx, redisCfg, logger)
		if err != nil {
			return err
		}
		defer cache.Close()
		appOpts = append(appOpts, kernel.WithCache(cache))
	}

	// 第二步：按环境变量启用产品
	apps, err := loadProducts(appOpts...)
	if err != nil {
		return err
	}

	var hub *monitor.Hub
	var observer kernel.Observer
	var monitorHandler http.Handler
	if opts.monitor {
		hub = monitor.NewHub(logger)
		observer = hub
		monitorHandler = hub
		go hub.Run(ctx)
	}

	routes, err := apps.routes(observer, logger, opts.echo)
	if err != nil {
		return err
	}
	if len(routes) == 0 {
		return fmt.Errorf("%w: no product configured", kernel.ErrInvalidConfig)
	}

	// 第三步：启动 HTTP 服务
	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              opts.addr,
		Handler:           newRouter(routes, monitorHandler, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		for _, rt := range routes {
			logger.Info().Str("product", rt.product).Str("path", rt.path).Msg("callback mounted")
		}
		logger.Info().Str("addr", opts.addr).Msg("webhook server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
