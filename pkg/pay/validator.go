package pay

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/IMBotPlatform/wechat-opensdk/pkg/kernel"
	"github.com/wechatpay-apiv3/wechatpay-go/core"
	"github.com/wechatpay-apiv3/wechatpay-go/core/auth/verifiers"
)

// 平台应答签名头。
const (
	HeaderTimestamp = "Wechatpay-Timestamp"
	HeaderNonce     = "Wechatpay-Nonce"
	HeaderSerial    = "Wechatpay-Serial"
	HeaderSignature = "Wechatpay-Signature"
)

// MaxAllowedClockOffset 为应答时间戳允许的最大偏移。
const MaxAllowedClockOffset = 300 * time.Second

// ResponseValidator 校验微信支付 API 应答的签名。
type ResponseValidator struct {
	merchant *Merchant
	verifier *verifiers.SHA256WithRSAVerifier
	now      func() time.Time
}

// NewResponseValidator 以商户持有的平台证书创建应答验签器。
func NewResponseValidator(merchant *Merchant) *ResponseValidator {
	return &ResponseValidator{
		merchant: merchant,
		verifier: verifiers.NewSHA256WithRSAVerifier(core.NewCertificateMap(merchant.platformCerts)),
		now:      time.Now,
	}
}

// Validate 校验平台应答。
// Parameters:
//   - ctx: 验签上下文
//   - status: HTTP 状态码，必须为 200
//   - header: 应答头，需包含四个 Wechatpay-* 签名头
//   - body: 应答体
//
// Returns:
//   - error: 校验失败返回 ErrBadResponse；找不到序列号对应的平台证书返回 ErrInvalidConfig
//
// 流程图：
//
//	[状态码] -> [签名头齐全] -> [时钟偏移 <= 300s] -> [按序列号取平台证书] -> [RSA-SHA256 验签]
func (v *ResponseValidator) Validate(ctx context.Context, status int, header http.Header, body []byte) error {
	if status != http.StatusOK {
		return fmt.Errorf("%w: Request Failed", kernel.ErrBadResponse)
	}
	for _, h := range []string{HeaderSignature, HeaderTimestamp, HeaderSerial, HeaderNonce} {
		if header.Get(h) == "" {
			return fmt.Errorf("%w: Missing Header: %s", kernel.ErrBadResponse, h)
		}
	}

	timestamp := header.Get(HeaderTimestamp)
	nonce := header.Get(HeaderNonce)
	serial := header.Get(HeaderSerial)

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid %s %q", kernel.ErrBadResponse, HeaderTimestamp, timestamp)
	}
	offset := v.now().Sub(time.Unix(ts, 0))
	if offset < 0 {
		offset = -offset
	}
	if offset > MaxAllowedClockOffset {
		return fmt.Errorf("%w: Clock Offset Exceeded", kernel.ErrBadResponse)
	}

	if _, ok := v.merchant.PlatformCert(serial); !ok {
		return fmt.Errorf("%w: no platform certs found for serial: %s", kernel.ErrInvalidConfig, serial)
	}

	message := timestamp + "\n" + nonce + "\n" + string(body) + "\n"
	if err := v.verifier.Verify(ctx, serial, message, header.Get(HeaderSignature)); err != nil {
		return fmt.Errorf("%w: Invalid Signature: %v", kernel.ErrBadResponse, err)
	}
	return nil
}

// ValidateResponse 校验 kernel.HTTPClient 返回的应答。
func (v *ResponseValidator) ValidateResponse(ctx context.Context, resp *kernel.HTTPResponse) error {
	return v.Validate(ctx, resp.StatusCode, resp.Header, resp.Body)
}
