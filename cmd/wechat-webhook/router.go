package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// newRouter 挂载产品回调、监控 websocket 与健康检查。
//
// Parameters:
//   - routes: 已启用产品的回调路由
//   - monitor: 监控 websocket 处理器，nil 表示不开启
//   - logger: 访问日志
//
// Returns:
//   - *gin.Engine: 可直接作为 http.Server 的 Handler
func newRouter(routes []route, monitor http.Handler, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), accessLog(logger))

	enabled := make([]string, 0, len(routes))
	for _, rt := range routes {
		// 回调地址同时承担 GET 校验与 POST 推送。
		r.Any(rt.path, gin.WrapH(rt.handler))
		enabled = append(enabled, rt.product)
	}

	if monitor != nil {
		r.GET("/monitor/ws", gin.WrapH(monitor))
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "products": enabled})
	})
	return r
}

func accessLog(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := logger.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = logger.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
