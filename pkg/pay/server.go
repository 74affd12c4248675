package pay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/IMBotPlatform/wechat-opensdk/pkg/kernel"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// 支付回调事件类型。
const (
	EventTransactionSuccess = "TRANSACTION.SUCCESS"
	EventRefundSuccess      = "REFUND.SUCCESS"
	EventRefundAbnormal     = "REFUND.ABNORMAL"
	EventRefundClosed       = "REFUND.CLOSED"
)

const maxNotifyBytes = 1 << 20

// successBody 为支付平台要求的成功应答。
var successBody = mustJSON(map[string]string{"code": "SUCCESS", "message": "成功"})

// Server 为微信支付回调服务。处理器返回的错误不会向上传播，
// 而是转换为 500 与 {"code":"ERROR","message":...}。
type Server struct {
	kernel.Handlers

	merchant *Merchant
	logger   zerolog.Logger

	mu        sync.RWMutex
	observers []kernel.Observer
}

// NewServer 创建支付回调服务。
func NewServer(merchant *Merchant, logger zerolog.Logger) *Server {
	return &Server{
		merchant: merchant,
		logger:   logger.With().Str("component", "server").Str("product", Product).Logger(),
	}
}

// Product 返回产品名。
func (s *Server) Product() string { return Product }

// WithObserver 注册消息观察者。
func (s *Server) WithObserver(o kernel.Observer) *Server {
	if o == nil {
		return s
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
	return s
}

// HandlePaid 处理支付成功通知（TRANSACTION.SUCCESS 且 trade_state 为 SUCCESS）。
func (s *Server) HandlePaid(h kernel.Handler) *Server {
	s.With(kernel.When(func(m *kernel.Message) bool {
		return m.EventType() == EventTransactionSuccess && m.Value("trade_state") == "SUCCESS"
	}, h))
	return s
}

// HandleRefunded 处理退款结果通知（成功、异常、关闭）。
func (s *Server) HandleRefunded(h kernel.Handler) *Server {
	s.With(kernel.When(func(m *kernel.Message) bool {
		switch m.EventType() {
		case EventRefundSuccess, EventRefundAbnormal, EventRefundClosed:
			return true
		}
		return false
	}, h))
	return s
}

// Serve 处理一次支付回调。
// Parameters:
//   - ctx: 请求上下文
//   - r: 回调 HTTP 请求
//
// Returns:
//   - *kernel.Response: 处理器返回的响应或默认成功应答；处理器出错时为 500 JSON
//   - error: 请求体缺失、格式错误或解密失败时返回
//
// 流程图：
//
//	[读取 JSON] -> [校验 resource.ciphertext] -> [AES-GCM 解密] -> [处理器链]
//	                                                                |
//	                                           出错 -> [500 {"code":"ERROR"}]
func (s *Server) Serve(ctx context.Context, r *http.Request) (*kernel.Response, error) {
	// 第一步：解析并解密，结构错误直接返回给调用方。
	msg, err := s.GetRequestMessage(r)
	if err != nil {
		return nil, err
	}

	var prepended []kernel.Handler
	if observers := s.snapshotObservers(); len(observers) > 0 {
		prepended = append(prepended, kernel.HandlerFunc(func(ctx context.Context, m *kernel.Message, next kernel.Next) (any, error) {
			for _, o := range observers {
				o.Observe(ctx, Product, m)
			}
			return next(ctx, m)
		}))
	}

	// 第二步：处理器链，任何错误都转换为平台要求的错误应答。
	defaultResp := kernel.JSONResponse(http.StatusOK, successBody)
	result, err := s.Dispatch(ctx, defaultResp, msg, prepended...)
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", msg.EventType()).Msg("pay notify handler failed")
		return ErrorResponse(err), nil
	}
	if resp, ok := result.(*kernel.Response); ok && resp != nil {
		return resp, nil
	}
	return defaultResp, nil
}

// ServeHTTP 实现 http.Handler 接口。
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp, err := s.Serve(r.Context(), r)
	if err != nil {
		status := kernel.StatusForError(err)
		s.logger.Error().Err(err).Int("status", status).Msg("serve pay notify failed")
		resp = ErrorResponse(err)
		resp.StatusCode = status
	}
	if err := resp.Write(w); err != nil {
		s.logger.Warn().Err(err).Msg("write response failed")
	}
}

// GetRequestMessage 解析并解密支付回调，消息字段为解密后的 resource，原始请求体保留在 Raw 中。
func (s *Server) GetRequestMessage(r *http.Request) (*kernel.Message, error) {
	if r.Body == nil {
		return nil, fmt.Errorf("%w: empty body", kernel.ErrBadRequest)
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotifyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", kernel.ErrBadRequest, err)
	}
	return s.DecryptNotification(body)
}

// GetDecryptedMessage 等同于 GetRequestMessage。
func (s *Server) GetDecryptedMessage(r *http.Request) (*kernel.Message, error) {
	return s.GetRequestMessage(r)
}

// DecryptNotification 解密回调请求体。
func (s *Server) DecryptNotification(body []byte) (*kernel.Message, error) {
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		return nil, fmt.Errorf("%w: invalid request body", kernel.ErrBadRequest)
	}
	resource := gjson.GetBytes(body, "resource")
	ciphertext := resource.Get("ciphertext").String()
	if ciphertext == "" {
		return nil, fmt.Errorf("%w: missing field resource.ciphertext", kernel.ErrBadRequest)
	}

	plain, err := kernel.DecryptAESGCM(ciphertext, s.merchant.SecretKey(), resource.Get("nonce").String(), resource.Get("associated_data").String())
	if err != nil {
		return nil, err
	}
	decrypted, err := kernel.ParseJSON([]byte(plain))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decrypt request message", kernel.ErrDecryption)
	}
	s.logger.Debug().Str("plaintext", plain).Msg("pay notify decrypted")
	return kernel.NewMessage(decrypted.Fields(), string(body)), nil
}

// ErrorResponse 构造 500 {"code":"ERROR","message":...} 应答。
func ErrorResponse(err error) *kernel.Response {
	return kernel.JSONResponse(http.StatusInternalServerError, mustJSON(map[string]string{
		"code":    "ERROR",
		"message": err.Error(),
	}))
}

func (s *Server) snapshotObservers() []kernel.Observer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]kernel.Observer(nil), s.observers...)
}

func mustJSON(v map[string]string) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
