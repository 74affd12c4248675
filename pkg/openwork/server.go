package openwork

import (
	"github.com/IMBotPlatform/wechat-opensdk/pkg/kernel"
)

// InfoType 取值。
const (
	InfoSuiteTicket      = "suite_ticket"
	InfoCreateAuth       = "create_auth"
	InfoChangeAuth       = "change_auth"
	InfoCancelAuth       = "cancel_auth"
	InfoChangeContact    = "change_contact"
	InfoShareAgentChange = "share_agent_change"
)

// SuiteTicketSlot 为 suite_ticket 处理器的槽位名，用户处理器会替换默认处理器。
const SuiteTicketSlot = "suite_ticket_refreshed"

// Server 为第三方应用回调服务：echostr 使用服务商加密器（CorpID）解密，
// 消息使用第三方应用加密器（SuiteID）解密。
type Server struct {
	*kernel.Server
}

// NewServer 创建第三方应用回调服务。
// Parameters:
//   - suiteEncryptor: 以 SuiteID 为 ReceiveId 的消息加密器
//   - providerEncryptor: 以 CorpID 为 ReceiveId 的加密器，用于 URL 校验
//   - opts: 服务选项
func NewServer(suiteEncryptor, providerEncryptor *kernel.Encryptor, opts kernel.ServerOptions) *Server {
	if opts.Product == "" {
		opts.Product = Product
	}
	opts.Echo = kernel.EchoDecrypt
	opts.Decrypt = kernel.DecryptAlways
	opts.EchoEncryptor = providerEncryptor
	return &Server{Server: kernel.NewServer(suiteEncryptor, opts)}
}

func (s *Server) on(match func(m *kernel.Message) bool, h kernel.Handler) *Server {
	s.With(kernel.When(match, h))
	return s
}

func infoType(t string) func(m *kernel.Message) bool {
	return func(m *kernel.Message) bool { return m.InfoType() == t }
}

func contactChange(changeType string) func(m *kernel.Message) bool {
	return func(m *kernel.Message) bool {
		return m.InfoType() == InfoChangeContact && m.ChangeType() == changeType
	}
}

// WithDefaultSuiteTicketHandler 安装默认的 suite_ticket 处理器。
func (s *Server) WithDefaultSuiteTicketHandler(h kernel.Handler) *Server {
	return s.HandleSuiteTicketRefreshed(h)
}

// HandleSuiteTicketRefreshed 注册 suite_ticket 推送处理器，替换已安装的默认处理器。
func (s *Server) HandleSuiteTicketRefreshed(h kernel.Handler) *Server {
	s.WithKey(SuiteTicketSlot, kernel.When(infoType(InfoSuiteTicket), h))
	return s
}

func (s *Server) HandleAuthCreated(h kernel.Handler) *Server {
	return s.on(infoType(InfoCreateAuth), h)
}

func (s *Server) HandleAuthChanged(h kernel.Handler) *Server {
	return s.on(infoType(InfoChangeAuth), h)
}

func (s *Server) HandleAuthCancelled(h kernel.Handler) *Server {
	return s.on(infoType(InfoCancelAuth), h)
}

func (s *Server) HandleUserCreated(h kernel.Handler) *Server {
	return s.on(contactChange("create_user"), h)
}

func (s *Server) HandleUserUpdated(h kernel.Handler) *Server {
	return s.on(contactChange("update_user"), h)
}

func (s *Server) HandleUserDeleted(h kernel.Handler) *Server {
	return s.on(contactChange("delete_user"), h)
}

func (s *Server) HandlePartyCreated(h kernel.Handler) *Server {
	return s.on(contactChange("create_party"), h)
}

func (s *Server) HandlePartyUpdated(h kernel.Handler) *Server {
	return s.on(contactChange("update_party"), h)
}

func (s *Server) HandlePartyDeleted(h kernel.Handler) *Server {
	return s.on(contactChange("delete_party"), h)
}

func (s *Server) HandleUserTagUpdated(h kernel.Handler) *Server {
	return s.on(contactChange("update_tag"), h)
}

// HandleShareAgentChanged 处理共享应用变更事件。
func (s *Server) HandleShareAgentChanged(h kernel.Handler) *Server {
	return s.on(infoType(InfoShareAgentChange), h)
}
