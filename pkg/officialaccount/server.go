package officialaccount

import (
	"github.com/IMBotPlatform/wechat-opensdk/pkg/kernel"
)

// Server 为公众号（小程序同样适用）回调服务。
// echostr 原样回显；仅当配置了加密器且请求携带 msg_signature 时解密消息。
type Server struct {
	*kernel.Server
}

// NewServer 创建回调服务。
// Parameters:
//   - encryptor: 安全模式下的加密器，明文模式传 nil
//   - opts: 服务选项；Product 为空时为 official_account，Echo 与 Decrypt 固定为明文回显与按签名解密
func NewServer(encryptor *kernel.Encryptor, opts kernel.ServerOptions) *Server {
	if opts.Product == "" {
		opts.Product = Product
	}
	opts.Echo = kernel.EchoPlain
	opts.Decrypt = kernel.DecryptWhenSigned
	return &Server{Server: kernel.NewServer(encryptor, opts)}
}

// AddMessageListener 注册指定 MsgType 的处理器（如 text、image）。
func (s *Server) AddMessageListener(msgType string, h kernel.Handler) *Server {
	s.With(kernel.When(func(m *kernel.Message) bool { return m.MsgType() == msgType }, h))
	return s
}

// AddEventListener 注册指定 Event 的处理器（如 subscribe、CLICK）。
func (s *Server) AddEventListener(event string, h kernel.Handler) *Server {
	s.With(kernel.When(func(m *kernel.Message) bool { return m.Event() == event }, h))
	return s
}
