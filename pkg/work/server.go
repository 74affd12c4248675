package work

import (
	"github.com/IMBotPlatform/wechat-opensdk/pkg/kernel"
)

// 通讯录变更事件与 ChangeType 取值。
const (
	EventChangeContact  = "change_contact"
	EventBatchJobResult = "batch_job_result"

	ChangeCreateUser  = "create_user"
	ChangeUpdateUser  = "update_user"
	ChangeDeleteUser  = "delete_user"
	ChangeCreateParty = "create_party"
	ChangeUpdateParty = "update_party"
	ChangeDeleteParty = "delete_party"
	ChangeUpdateTag   = "update_tag"
)

// Server 为企业微信回调服务：echostr 需解密后回显，消息均为加密消息，默认应答 "SUCCESS"。
type Server struct {
	*kernel.Server
}

// NewServer 创建企业微信回调服务。
func NewServer(encryptor *kernel.Encryptor, opts kernel.ServerOptions) *Server {
	if opts.Product == "" {
		opts.Product = Product
	}
	if opts.DefaultBody == "" {
		opts.DefaultBody = "SUCCESS"
	}
	opts.Echo = kernel.EchoDecrypt
	opts.Decrypt = kernel.DecryptAlways
	return &Server{Server: kernel.NewServer(encryptor, opts)}
}

func (s *Server) on(match func(m *kernel.Message) bool, h kernel.Handler) *Server {
	s.With(kernel.When(match, h))
	return s
}

func contactChange(changeType string) func(m *kernel.Message) bool {
	return func(m *kernel.Message) bool {
		return m.Event() == EventChangeContact && m.ChangeType() == changeType
	}
}

// HandleContactChanged 处理所有通讯录变更事件。
func (s *Server) HandleContactChanged(h kernel.Handler) *Server {
	return s.on(func(m *kernel.Message) bool { return m.Event() == EventChangeContact }, h)
}

func (s *Server) HandleUserTagUpdated(h kernel.Handler) *Server {
	return s.on(contactChange(ChangeUpdateTag), h)
}

func (s *Server) HandleUserCreated(h kernel.Handler) *Server {
	return s.on(contactChange(ChangeCreateUser), h)
}

func (s *Server) HandleUserUpdated(h kernel.Handler) *Server {
	return s.on(contactChange(ChangeUpdateUser), h)
}

func (s *Server) HandleUserDeleted(h kernel.Handler) *Server {
	return s.on(contactChange(ChangeDeleteUser), h)
}

func (s *Server) HandlePartyCreated(h kernel.Handler) *Server {
	return s.on(contactChange(ChangeCreateParty), h)
}

func (s *Server) HandlePartyUpdated(h kernel.Handler) *Server {
	return s.on(contactChange(ChangeUpdateParty), h)
}

func (s *Server) HandlePartyDeleted(h kernel.Handler) *Server {
	return s.on(contactChange(ChangeDeleteParty), h)
}

// HandleBatchJobsFinished 处理异步任务完成事件。
func (s *Server) HandleBatchJobsFinished(h kernel.Handler) *Server {
	return s.on(func(m *kernel.Message) bool { return m.Event() == EventBatchJobResult }, h)
}

// AddMessageListener 注册指定 MsgType 的处理器。
func (s *Server) AddMessageListener(msgType string, h kernel.Handler) *Server {
	return s.on(func(m *kernel.Message) bool { return m.MsgType() == msgType }, h)
}

// AddEventListener 注册指定 Event 的处理器。
func (s *Server) AddEventListener(event string, h kernel.Handler) *Server {
	return s.on(func(m *kernel.Message) bool { return m.Event() == event }, h)
}
