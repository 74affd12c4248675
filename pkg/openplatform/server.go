package openplatform

import (
	"github.com/IMBotPlatform/wechat-opensdk/pkg/kernel"
)

// InfoType 取值。
const (
	InfoAuthorized            = "authorized"
	InfoUnauthorized          = "unauthorized"
	InfoUpdateAuthorized      = "updateauthorized"
	InfoComponentVerifyTicket = "component_verify_ticket"
)

// VerifyTicketSlot 为 component_verify_ticket 处理器的槽位名。
const VerifyTicketSlot = "verify_ticket_refreshed"

// Server 为第三方平台授权事件回调服务：echostr 原样回显，消息始终解密。
type Server struct {
	*kernel.Server
}

// NewServer 创建第三方平台回调服务。
func NewServer(encryptor *kernel.Encryptor, opts kernel.ServerOptions) *Server {
	if opts.Product == "" {
		opts.Product = Product
	}
	opts.Echo = kernel.EchoPlain
	opts.Decrypt = kernel.DecryptAlways
	return &Server{Server: kernel.NewServer(encryptor, opts)}
}

func (s *Server) onInfoType(infoType string, h kernel.Handler) *Server {
	s.With(kernel.When(func(m *kernel.Message) bool { return m.InfoType() == infoType }, h))
	return s
}

// HandleAuthorized 处理授权成功通知。
func (s *Server) HandleAuthorized(h kernel.Handler) *Server {
	return s.onInfoType(InfoAuthorized, h)
}

// HandleUnauthorized 处理取消授权通知。
func (s *Server) HandleUnauthorized(h kernel.Handler) *Server {
	return s.onInfoType(InfoUnauthorized, h)
}

// HandleAuthorizeUpdated 处理授权更新通知。
func (s *Server) HandleAuthorizeUpdated(h kernel.Handler) *Server {
	return s.onInfoType(InfoUpdateAuthorized, h)
}

// WithDefaultVerifyTicketHandler 安装默认的 component_verify_ticket 处理器。
func (s *Server) WithDefaultVerifyTicketHandler(h kernel.Handler) *Server {
	return s.HandleVerifyTicketRefreshed(h)
}

// HandleVerifyTicketRefreshed 注册 component_verify_ticket 推送处理器，替换已安装的默认处理器。
func (s *Server) HandleVerifyTicketRefreshed(h kernel.Handler) *Server {
	s.WithKey(VerifyTicketSlot, kernel.When(func(m *kernel.Message) bool {
		return m.InfoType() == InfoComponentVerifyTicket
	}, h))
	return s
}
