package pay

import (
	"crypto/rsa"
	"crypto/x509"
	"fmt"

	"github.com/IMBotPlatform/wechat-opensdk/pkg/kernel"
	"github.com/wechatpay-apiv3/wechatpay-go/utils"
)

// Merchant 为商户密钥材料，创建后只读。
type Merchant struct {
	mchID         string
	privateKey    *rsa.PrivateKey
	certificate   *x509.Certificate
	serial        string
	secretKey     string
	v2SecretKey   string
	platformCerts map[string]*x509.Certificate
}

// NewMerchant 解析 PEM 格式的商户私钥、商户证书与平台证书。
// Parameters:
//   - mchID: 商户号
//   - privateKeyPEM: 商户 API 私钥（PKCS#8）
//   - certificatePEM: 商户 API 证书
//   - secretKey: APIv3 密钥
//   - v2SecretKey: APIv2 密钥，可为空
//   - platformCertPEMs: 平台证书，以证书序列号为索引
//
// Returns:
//   - *Merchant: 商户
//   - error: 密钥或证书解析失败时返回 ErrInvalidConfig
func NewMerchant(mchID, privateKeyPEM, certificatePEM, secretKey, v2SecretKey string, platformCertPEMs ...string) (*Merchant, error) {
	privateKey, err := utils.LoadPrivateKey(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: private_key: %v", kernel.ErrInvalidConfig, err)
	}
	certificate, err := utils.LoadCertificate(certificatePEM)
	if err != nil {
		return nil, fmt.Errorf("%w: certificate: %v", kernel.ErrInvalidConfig, err)
	}
	m := &Merchant{
		mchID:         mchID,
		privateKey:    privateKey,
		certificate:   certificate,
		serial:        utils.GetCertificateSerialNumber(*certificate),
		secretKey:     secretKey,
		v2SecretKey:   v2SecretKey,
		platformCerts: make(map[string]*x509.Certificate, len(platformCertPEMs)),
	}
	for i, p := range platformCertPEMs {
		cert, err := utils.LoadCertificate(p)
		if err != nil {
			return nil, fmt.Errorf("%w: platform_certs[%d]: %v", kernel.ErrInvalidConfig, i, err)
		}
		m.platformCerts[utils.GetCertificateSerialNumber(*cert)] = cert
	}
	return m, nil
}

// MerchantID 返回商户号。
func (m *Merchant) MerchantID() string { return m.mchID }

// PrivateKey 返回商户私钥。
func (m *Merchant) PrivateKey() *rsa.PrivateKey { return m.privateKey }

// Certificate 返回商户证书。
func (m *Merchant) Certificate() *x509.Certificate { return m.certificate }

// CertificateSerial 返回商户证书序列号。
func (m *Merchant) CertificateSerial() string { return m.serial }

// SecretKey 返回 APIv3 密钥。
func (m *Merchant) SecretKey() string { return m.secretKey }

// V2SecretKey 返回 APIv2 密钥。
func (m *Merchant) V2SecretKey() string { return m.v2SecretKey }

// PlatformCert 按序列号查找平台证书。
func (m *Merchant) PlatformCert(serial string) (*x509.Certificate, bool) {
	cert, ok := m.platformCerts[serial]
	return cert, ok
}
