package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/IMBotPlatform/wechat-opensdk/pkg/kernel"
	"github.com/IMBotPlatform/wechat-opensdk/pkg/miniapp"
	"github.com/IMBotPlatform/wechat-opensdk/pkg/officialaccount"
	"github.com/IMBotPlatform/wechat-opensdk/pkg/openplatform"
	"github.com/IMBotPlatform/wechat-opensdk/pkg/openwork"
	"github.com/IMBotPlatform/wechat-opensdk/pkg/pay"
	"github.com/IMBotPlatform/wechat-opensdk/pkg/work"
	"github.com/rs/zerolog"
)

// route 为一个产品回调在路由上的挂载点。
type route struct {
	product string
	path    string
	handler http.Handler
}

// products 为从环境变量启用的产品应用，未配置的产品为 nil。
type products struct {
	officialAccount *officialaccount.Application
	miniApp         *miniapp.Application
	work            *work.Application
	openWork        *openwork.Application
	openPlatform    *openplatform.Application
	pay             *pay.Application
}

// loadProducts 读取各产品的环境变量配置，主键存在即启用该产品。
//
// 流程图：
//
//	LoadConfig(prefix) ──▶ 主键为空？──是──▶ 跳过
//	                            │否
//	                            ▼
//	                     NewApplication(cfg, opts...)
func loadProducts(opts ...kernel.Option) (*products, error) {
	p := &products{}

	oa, err := officialaccount.LoadConfig("")
	if err != nil {
		return nil, err
	}
	if oa.AppID != "" {
		if p.officialAccount, err = officialaccount.NewApplication(oa, opts...); err != nil {
			return nil, fmt.Errorf("official account: %w", err)
		}
	}

	mini, err := miniapp.LoadConfig("")
	if err != nil {
		return nil, err
	}
	if mini.AppID != "" {
		if p.miniApp, err = miniapp.NewApplication(mini, opts...); err != nil {
			return nil, fmt.Errorf("mini app: %w", err)
		}
	}

	wk, err := work.LoadConfig("")
	if err != nil {
		return nil, err
	}
	if wk.CorpID != "" {
		if p.work, err = work.NewApplication(wk, opts...); err != nil {
			return nil, fmt.Errorf("work: %w", err)
		}
	}

	ow, err := openwork.LoadConfig("")
	if err != nil {
		return nil, err
	}
	if ow.SuiteID != "" {
		if p.openWork, err = openwork.NewApplication(ow, opts...); err != nil {
			return nil, fmt.Errorf("open work: %w", err)
		}
	}

	op, err := openplatform.LoadConfig("")
	if err != nil {
		return nil, err
	}
	if op.AppID != "" {
		if p.openPlatform, err = openplatform.NewApplication(op, opts...); err != nil {
			return nil, fmt.Errorf("open platform: %w", err)
		}
	}

	pc, err := pay.LoadConfig("")
	if err != nil {
		return nil, err
	}
	if pc.MchID != "" {
		if p.pay, err = pay.NewApplication(pc, opts...); err != nil {
			return nil, fmt.Errorf("pay: %w", err)
		}
	}

	return p, nil
}

// echoText 原样回复文本消息，用于联调。
func echoText(ctx context.Context, msg *kernel.Message, next kernel.Next) (any, error) {
	if content := msg.Value("Content"); content != "" {
		return content, nil
	}
	return next(ctx, msg)
}

// logMessage 记录每条进入的回调消息后交给后续处理器。
func logMessage(logger zerolog.Logger, product string) kernel.HandlerFunc {
	return func(ctx context.Context, msg *kernel.Message, next kernel.Next) (any, error) {
		logger.Debug().
			Str("product", product).
			Str("msg_type", msg.MsgType()).
			Str("event", msg.Event()).
			Str("info_type", msg.InfoType()).
			Msg("callback received")
		return next(ctx, msg)
	}
}

// routes 构建已启用产品的回调路由，每个服务都挂上观察者与日志处理器。
func (p *products) routes(observer kernel.Observer, logger zerolog.Logger, echo bool) ([]route, error) {
	var routes []route

	if p.officialAccount != nil {
		srv, err := p.officialAccount.Server()
		if err != nil {
			return nil, err
		}
		srv.WithObserver(observer)
		srv.With(logMessage(logger, officialaccount.Product))
		if echo {
			srv.AddMessageListener("text", kernel.HandlerFunc(echoText))
		}
		routes = append(routes, route{officialaccount.Product, "/official-account", srv})
	}

	if p.miniApp != nil {
		srv, err := p.miniApp.Server()
		if err != nil {
			return nil, err
		}
		srv.WithObserver(observer)
		srv.With(logMessage(logger, miniapp.Product))
		if echo {
			srv.AddMessageListener("text", kernel.HandlerFunc(echoText))
		}
		routes = append(routes, route{miniapp.Product, "/mini-app", srv})
	}

	if p.work != nil {
		srv, err := p.work.Server()
		if err != nil {
			return nil, err
		}
		srv.WithObserver(observer)
		srv.With(logMessage(logger, work.Product))
		if echo {
			srv.AddMessageListener("text", kernel.HandlerFunc(echoText))
		}
		routes = append(routes, route{work.Product, "/work", srv})
	}

	if p.openWork != nil {
		srv, err := p.openWork.Server()
		if err != nil {
			return nil, err
		}
		srv.WithObserver(observer)
		srv.With(logMessage(logger, openwork.Product))
		routes = append(routes, route{openwork.Product, "/open-work", srv})
	}

	if p.openPlatform != nil {
		srv, err := p.openPlatform.Server()
		if err != nil {
			return nil, err
		}
		srv.WithObserver(observer)
		srv.With(logMessage(logger, openplatform.Product))
		routes = append(routes, route{openplatform.Product, "/open-platform", srv})
	}

	if p.pay != nil {
		srv, err := p.pay.Server()
		if err != nil {
			return nil, err
		}
		srv.WithObserver(observer)
		srv.With(logMessage(logger, pay.Product))
		routes = append(routes, route{pay.Product, "/pay/notify", srv})
	}

	return routes, nil
}
