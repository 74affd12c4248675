package kernel

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSignature 在签名校验失败时返回。
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrInvalidAppID 当解密内容中的 AppID/CorpID 与账号不一致时返回。
	ErrInvalidAppID = errors.New("invalid app id")
	// ErrInvalidAESKey 当 AESKey 长度不符合规范时返回。
	ErrInvalidAESKey = errors.New("invalid aes key length")
	// ErrDecryption 表示 Base64、填充或 GCM 认证标签校验失败。
	ErrDecryption = errors.New("decryption failed")
	// ErrBadRequest 表示回调请求体缺失、格式错误或缺少必要字段。
	ErrBadRequest = errors.New("bad request")
	// ErrInvalidConfig 表示配置缺失或不合法。
	ErrInvalidConfig = errors.New("invalid config")
	// ErrInvalidReply 表示处理器返回了无法编码的回复。
	ErrInvalidReply = errors.New("invalid reply")
	// ErrBadResponse 表示平台响应未通过校验（状态码、签名头、时钟偏移等）。
	ErrBadResponse = errors.New("bad response")
	// ErrHTTP 表示平台接口调用失败。
	ErrHTTP = errors.New("http request failed")
)

// APIError 描述平台接口返回的 errcode/errmsg 错误。
type APIError struct {
	Code    int64  // errcode
	Message string // errmsg
	Body    string // 原始响应体
}

// Error 实现 error 接口。
func (e *APIError) Error() string {
	return fmt.Sprintf("wechat api error: errcode=%d errmsg=%s", e.Code, e.Message)
}

// Unwrap 使 errors.Is(err, ErrHTTP) 成立。
func (e *APIError) Unwrap() error {
	return ErrHTTP
}

// badRequest 构造带字段名的 ErrBadRequest。
func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}
