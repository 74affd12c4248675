package kernel

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"

	"github.com/wechatpay-apiv3/wechatpay-go/utils"
)

// gcmKeySize 为微信支付 APIv3 密钥长度（32 字节原始字符串）。
const gcmKeySize = 32

// gcmNonceSize 为回调 resource.nonce 的长度。
const gcmNonceSize = 12

// DecryptAESGCM 解密微信支付回调中的 resource 密文（AEAD_AES_256_GCM）。
// Parameters:
//   - ciphertext: Base64 编码的密文，末尾 16 字节为认证标签
//   - key: 商户 APIv3 密钥
//   - nonce: resource.nonce
//   - associatedData: resource.associated_data
//
// Returns:
//   - string: 解密后的明文（JSON）
//   - error: 密钥长度不合法返回 ErrInvalidAESKey；认证失败返回 ErrDecryption，不返回任何部分明文
func DecryptAESGCM(ciphertext, key, nonce, associatedData string) (string, error) {
	if len(key) != gcmKeySize {
		return "", fmt.Errorf("%w: got %d, want %d", ErrInvalidAESKey, len(key), gcmKeySize)
	}
	if len(nonce) != gcmNonceSize {
		return "", fmt.Errorf("%w: nonce length %d", ErrDecryption, len(nonce))
	}

	plain, err := utils.DecryptAES256GCM(key, associatedData, nonce, ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return plain, nil
}

// EncryptAESGCM 按微信支付回调格式加密明文，返回 Base64(密文+标签)。
// 主要用于本地联调与测试构造回调数据。
func EncryptAESGCM(plaintext, key, nonce, associatedData string) (string, error) {
	if len(key) != gcmKeySize {
		return "", fmt.Errorf("%w: got %d, want %d", ErrInvalidAESKey, len(key), gcmKeySize)
	}

	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return "", err
	}
	if len(nonce) != gcmNonceSize {
		return "", fmt.Errorf("invalid nonce length %d", len(nonce))
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	sealed := gcm.Seal(nil, []byte(nonce), []byte(plaintext), []byte(associatedData))
	return base64.StdEncoding.EncodeToString(sealed), nil
}
