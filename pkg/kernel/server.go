package kernel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// EchoMode 决定 URL 校验（echostr）的处理方式。
type EchoMode int

const (
	// EchoPlain 原样回显 echostr（公众号、小程序、开放平台）。
	EchoPlain EchoMode = iota
	// EchoDecrypt 解密 echostr 后回显（企业微信、第三方应用）。
	EchoDecrypt
)

// DecryptMode 决定消息是否需要解密。
type DecryptMode int

const (
	// DecryptWhenSigned 仅当存在加密器且请求携带 msg_signature 时解密。
	DecryptWhenSigned DecryptMode = iota
	// DecryptAlways 所有消息均为加密消息。
	DecryptAlways
)

// ServerOptions 控制通用 XML 回调服务的行为。
// Fields:
//   - Product: 产品名，用于日志与监控推送
//   - Token: 明文模式下校验 signature 所用的 Token（为空则不校验）
//   - DefaultBody: 处理器全部放行时的响应体（默认 "success"）
//   - Echo: echostr 处理方式
//   - Decrypt: 消息解密策略
//   - EchoEncryptor: 解密 echostr 使用的加密器（为空时使用消息加密器）
//   - Logger: 日志记录器
type ServerOptions struct {
	Product       string
	Token         string
	DefaultBody   string
	Echo          EchoMode
	Decrypt       DecryptMode
	EchoEncryptor *Encryptor
	Logger        zerolog.Logger
}

// Observer 在消息进入业务处理器之前收到（已解密的）消息。
type Observer interface {
	Observe(ctx context.Context, product string, msg *Message)
}

// ObserverFunc 便于将函数直接作为 Observer 使用。
type ObserverFunc func(ctx context.Context, product string, msg *Message)

// Observe 实现 Observer 接口。
func (f ObserverFunc) Observe(ctx context.Context, product string, msg *Message) {
	if f != nil {
		f(ctx, product, msg)
	}
}

// Server 为 XML 类产品（公众号、小程序、企业微信、第三方平台）的通用回调服务。
// Fields:
//   - Handlers: 永久注册的处理器链
//   - encryptor: 消息加解密器（明文模式可为 nil）
//   - opts: 服务选项
//   - observers: 消息观察者
type Server struct {
	Handlers

	encryptor *Encryptor
	opts      ServerOptions
	logger    zerolog.Logger

	mu        sync.RWMutex
	observers []Observer
}

// StartOptions 控制 Server 启动 HTTP 服务的参数。
// Fields:
//   - ListenAddr: HTTP 监听地址（当 Server 未提供 Addr 时使用）
//   - CallbackPath: 回调路径（为空则默认 /callback）
//   - Mux: 可选路由复用器（为空则内部创建新的 *http.ServeMux）
//   - Server: 可选 HTTP Server（为空则内部创建并使用 ListenAddr）
type StartOptions struct {
	ListenAddr   string
	CallbackPath string
	Mux          *http.ServeMux
	Server       *http.Server
}

// NewServer 创建通用回调服务。
// Parameters:
//   - encryptor: 消息加解密器，明文模式可传 nil
//   - opts: 服务选项
//
// Returns:
//   - *Server: 回调服务实例
func NewServer(encryptor *Encryptor, opts ServerOptions) *Server {
	if opts.DefaultBody == "" {
		opts.DefaultBody = "success"
	}
	return &Server{
		encryptor: encryptor,
		opts:      opts,
		logger:    opts.Logger.With().Str("component", "server").Str("product", opts.Product).Logger(),
	}
}

// Encryptor 返回消息加解密器。
func (s *Server) Encryptor() *Encryptor { return s.encryptor }

// Product 返回产品名。
func (s *Server) Product() string { return s.opts.Product }

// WithObserver 注册消息观察者。
func (s *Server) WithObserver(o Observer) *Server {
	if o == nil {
		return s
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
	return s
}

// Serve 处理一次回调请求并返回响应。
// 被动回复的收发方取自处理器链最后拿到的消息，处理器交给 next 的替换消息同样生效。
// Parameters:
//   - ctx: 请求上下文
//   - r: 回调 HTTP 请求
//
// Returns:
//   - *Response: 回显、默认应答或编码后的被动回复
//   - error: 签名、解密、解析失败或处理器返回错误时返回
//
// 流程图：
//
//	[收到请求]
//	     |
//	     v
//	[携带echostr?] --是--> [回显/解密回显]（不进入处理器）
//	     |
//	    否
//	     |
//	     v
//	[解析消息] -> [按需插入解密处理器] -> [处理器链] -> [回复编码]
func (s *Server) Serve(ctx context.Context, r *http.Request) (*Response, error) {
	query := r.URL.Query()

	// 第一步：URL 校验握手直接返回，不进入任何处理器。
	if echostr := query.Get("echostr"); echostr != "" {
		return s.handshake(query, echostr)
	}

	// 第二步：解析原始消息。
	msg, err := CreateFromRequest(r)
	if err != nil {
		return nil, err
	}

	// 第三步：构建本次调用的前置处理器（解密、观察者）。
	decrypt := s.shouldDecrypt(query)
	var prepended []Handler
	if decrypt {
		prepended = append(prepended, HandlerFunc(func(ctx context.Context, m *Message, next Next) (any, error) {
			decrypted, err := s.decryptMessage(m, query)
			if err != nil {
				return nil, err
			}
			return next(ctx, decrypted)
		}))
	} else if err := s.verifyPlainSignature(query); err != nil {
		return nil, err
	}
	if observers := s.snapshotObservers(); len(observers) > 0 {
		prepended = append(prepended, HandlerFunc(func(ctx context.Context, m *Message, next Next) (any, error) {
			for _, o := range observers {
				o.Observe(ctx, s.opts.Product, m)
			}
			return next(ctx, m)
		}))
	}

	// 第四步：执行处理器链，末端返回默认应答。
	// 回复的收发方取自链上最后一环拿到的消息（解密后或被处理器替换后的消息）。
	current := msg
	result, err := s.dispatch(ctx, TextResponse(s.opts.DefaultBody), msg, func(m *Message) { current = m }, prepended...)
	if err != nil {
		return nil, err
	}
	s.logger.Debug().Str("msg_type", current.MsgType()).Str("event", current.Event()).Msg("message dispatched")

	// 第五步：编码回复，加密消息的回复同样加密。
	var enc *Encryptor
	if decrypt {
		enc = s.encryptor
	}
	return TransformToReply(result, current, enc)
}

// ServeHTTP 实现 http.Handler 接口。
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodPost:
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp, err := s.Serve(r.Context(), r)
	if err != nil {
		status := StatusForError(err)
		s.logger.Error().Err(err).Int("status", status).Msg("serve callback failed")
		http.Error(w, http.StatusText(status), status)
		return
	}
	if err := resp.Write(w); err != nil {
		s.logger.Warn().Err(err).Msg("write response failed")
	}
}

// GetRequestMessage 解析请求中的原始消息（不解密）。
func (s *Server) GetRequestMessage(r *http.Request) (*Message, error) {
	return CreateFromRequest(r)
}

// GetDecryptedMessage 解析并按服务的解密策略解密消息，不触发处理器。
func (s *Server) GetDecryptedMessage(r *http.Request) (*Message, error) {
	msg, err := CreateFromRequest(r)
	if err != nil {
		return nil, err
	}
	query := r.URL.Query()
	if !s.shouldDecrypt(query) {
		return msg, nil
	}
	return s.decryptMessage(msg, query)
}

// DefaultCallbackPath 为未指定回调路径时的挂载点。
const DefaultCallbackPath = "/callback"

// HTTPServer 按 opts 组装 HTTP 服务，不开始监听。
// Returns:
//   - *http.Server: Addr 为最终生效的监听地址
//   - string: 最终生效的回调路径
//   - error: 缺少监听地址时返回 ErrInvalidConfig
func (s *Server) HTTPServer(opts StartOptions) (*http.Server, string, error) {
	path := strings.TrimSpace(opts.CallbackPath)
	if path == "" {
		path = DefaultCallbackPath
	}

	srv := opts.Server
	if srv == nil {
		srv = &http.Server{}
	}
	if strings.TrimSpace(srv.Addr) == "" {
		srv.Addr = strings.TrimSpace(opts.ListenAddr)
	}
	if srv.Addr == "" {
		return nil, "", fmt.Errorf("%w: listen addr is required", ErrInvalidConfig)
	}

	// 调用方自带 Handler 时只挂到 Mux 上，由调用方决定如何组合。
	mux := opts.Mux
	if mux == nil {
		mux = http.NewServeMux()
	}
	mux.Handle(path, s)
	if srv.Handler == nil {
		srv.Handler = mux
	}
	return srv, path, nil
}

// Start 组装 HTTP 服务并阻塞监听。
func (s *Server) Start(opts StartOptions) error {
	srv, path, err := s.HTTPServer(opts)
	if err != nil {
		return err
	}
	s.logger.Info().Str("product", s.opts.Product).Str("addr", srv.Addr).Str("path", path).Msg("callback server listening")
	return srv.ListenAndServe()
}

// StatusForError 将错误映射为 HTTP 状态码。
func StatusForError(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidSignature), errors.Is(err, ErrInvalidAppID):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// handshake 处理 URL 校验。
func (s *Server) handshake(query url.Values, echostr string) (*Response, error) {
	if s.opts.Echo == EchoPlain {
		if err := s.verifyPlainSignature(query); err != nil {
			return nil, err
		}
		return TextResponse(echostr), nil
	}

	enc := s.opts.EchoEncryptor
	if enc == nil {
		enc = s.encryptor
	}
	if enc == nil {
		return nil, fmt.Errorf("%w: encryptor is required to verify echostr", ErrInvalidConfig)
	}
	plain, err := enc.Decrypt(echostr, query.Get("msg_signature"), query.Get("nonce"), query.Get("timestamp"))
	if err != nil {
		return nil, err
	}
	return TextResponse(plain), nil
}

// verifyPlainSignature 校验明文模式的 signature 参数（存在时）。
func (s *Server) verifyPlainSignature(query url.Values) error {
	signature := query.Get("signature")
	if signature == "" || s.opts.Token == "" {
		return nil
	}
	expected := CalcSignature(s.opts.Token, query.Get("timestamp"), query.Get("nonce"))
	if !strings.EqualFold(expected, signature) {
		return fmt.Errorf("%w: signature", ErrInvalidSignature)
	}
	return nil
}

func (s *Server) shouldDecrypt(query url.Values) bool {
	if s.opts.Decrypt == DecryptAlways {
		return true
	}
	return s.encryptor != nil && query.Get("msg_signature") != ""
}

// decryptMessage 解密消息的 Encrypt 字段，返回字段集合被替换后的消息。
func (s *Server) decryptMessage(msg *Message, query url.Values) (*Message, error) {
	if s.encryptor == nil {
		return nil, fmt.Errorf("%w: encryptor is required to decrypt message", ErrInvalidConfig)
	}
	ciphertext, ok := msg.Get("Encrypt")
	if !ok || ciphertext == "" {
		return nil, badRequest("missing field Encrypt")
	}
	plain, err := s.encryptor.Decrypt(ciphertext, query.Get("msg_signature"), query.Get("nonce"), query.Get("timestamp"))
	if err != nil {
		return nil, err
	}
	decrypted, err := ParseXML([]byte(plain))
	if err != nil {
		return nil, fmt.Errorf("decrypted message: %w", err)
	}
	s.logger.Debug().Str("plaintext", plain).Msg("message decrypted")
	return msg.WithFields(decrypted.Fields()), nil
}

func (s *Server) snapshotObservers() []Observer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Observer(nil), s.observers...)
}
