// Package kernel 提供微信/企业微信各产品线共享的核心能力：
// 消息加解密、回调消息模型、处理器链分发、被动回复编码，以及缓存、HTTP 客户端与 AccessToken 刷新等基础设施。
//
// Key components:
//   - Encryptor: AES-CBC 消息加解密与 SHA1 签名校验（公众号、小程序、企业微信、开放平台）
//   - DecryptAESGCM: 微信支付 APIv3 回调资源的 AES-GCM 解密
//   - Message: XML/JSON 回调消息的只读字段视图
//   - Handlers: 带 next 语义的有序处理器链
//   - Server: 通用 XML 回调服务（握手、解密、分发、回复）
package kernel

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// padBlockSize 为微信协议指定的 PKCS#7 填充块大小（32 字节）。
const padBlockSize = 32

// newBlockCipher 抽象为变量便于测试时替换（例如统计 AES 调用次数）。
var newBlockCipher = aes.NewCipher

// randReader 抽象为变量便于测试时固定随机前缀。
var randReader io.Reader = rand.Reader

// Encryptor 封装微信回调消息的加解密逻辑。
type Encryptor struct {
	appID  string // AppID / CorpID / SuiteID（即协议中的 ReceiveId）
	token  string // 回调配置的 Token
	aesKey []byte // 32 字节 AES 密钥
}

// NewEncryptor 创建一个新的 Encryptor 实例。
// Parameters:
//   - appID: 公众号 AppID、企业 CorpID 或第三方应用 SuiteID，用于校验消息归属
//   - token: 回调配置的消息校验 Token
//   - encodingAESKey: 后台生成的 43 字节 Base64 编码字符串
//
// Returns:
//   - *Encryptor: 成功时的加解密器实例
//   - error: 当 EncodingAESKey 无法解码或长度不合法时返回错误
func NewEncryptor(appID, token, encodingAESKey string) (*Encryptor, error) {
	key, err := decodeAESKey(encodingAESKey)
	if err != nil {
		return nil, err
	}
	return &Encryptor{
		appID:  appID,
		token:  token,
		aesKey: key,
	}, nil
}

// AppID 返回加解密器绑定的 ReceiveId。
func (e *Encryptor) AppID() string { return e.appID }

// Token 返回回调 Token。
func (e *Encryptor) Token() string { return e.token }

// Decrypt 校验签名并解密回调密文。
// Parameters:
//   - ciphertext: Base64 表示的密文（Encrypt 字段或 echostr）
//   - msgSignature: 请求携带的 msg_signature
//   - nonce: 随机串
//   - timestamp: 时间戳字符串
//
// Returns:
//   - string: 解密后的明文
//   - error: ErrInvalidSignature / ErrDecryption / ErrInvalidAppID
//
// 流程图：
//
//	[收到密文]
//	     |
//	     v
//	[校验签名] --否--> [返回ErrInvalidSignature]
//	     |
//	    是
//	     |
//	     v
//	[Base64解码+AES-CBC解密]
//	     |
//	     v
//	[校验ReceiveId] --否--> [返回ErrInvalidAppID]
//	     |
//	     v
//	[返回明文]
func (e *Encryptor) Decrypt(ciphertext, msgSignature, nonce, timestamp string) (string, error) {
	// 第一步：校验签名，签名不一致时不做任何 AES 运算。
	if !e.validateSignature(msgSignature, timestamp, nonce, ciphertext) {
		// 查询参数中的 '+' 会被解析为空格，还原后再校验一次。
		repaired := strings.ReplaceAll(ciphertext, " ", "+")
		if repaired == ciphertext || !e.validateSignature(msgSignature, timestamp, nonce, repaired) {
			return "", fmt.Errorf("%w: msg_signature", ErrInvalidSignature)
		}
		ciphertext = repaired
	}

	// 第二步：解密密文并校验 ReceiveId。
	plain, err := e.decrypt(ciphertext)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// Encrypt 加密明文并生成签名。
// Parameters:
//   - plaintext: 待加密的明文（通常为 XML 回复）
//   - nonce: 随机串
//   - timestamp: 时间戳字符串
//
// Returns:
//   - string: Base64 密文
//   - string: 对应的 msg_signature
//   - error: 加密失败时返回
func (e *Encryptor) Encrypt(plaintext, nonce, timestamp string) (string, string, error) {
	encrypted, err := e.encrypt([]byte(plaintext))
	if err != nil {
		return "", "", err
	}
	return encrypted, CalcSignature(e.token, timestamp, nonce, encrypted), nil
}

// EncryptXML 加密明文并封装为被动回复所需的 XML 信封。
//
// 流程图：
//
//	[XML明文] -> [AES组包加密] -> [生成签名] -> [<xml><Encrypt/><MsgSignature/><TimeStamp/><Nonce/></xml>]
func (e *Encryptor) EncryptXML(plaintext, nonce, timestamp string) (string, error) {
	encrypted, signature, err := e.Encrypt(plaintext, nonce, timestamp)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("<xml>")
	b.WriteString("<Encrypt>" + cdata(encrypted) + "</Encrypt>")
	b.WriteString("<MsgSignature>" + cdata(signature) + "</MsgSignature>")
	b.WriteString("<TimeStamp>" + timestamp + "</TimeStamp>")
	b.WriteString("<Nonce>" + cdata(nonce) + "</Nonce>")
	b.WriteString("</xml>")
	return b.String(), nil
}

// validateSignature 校验签名是否匹配。
func (e *Encryptor) validateSignature(msgSignature, timestamp, nonce, data string) bool {
	expected := CalcSignature(e.token, timestamp, nonce, data)
	return strings.EqualFold(expected, msgSignature)
}

// CalcSignature 根据微信规则生成签名：各参数按字典序排序拼接后做 SHA1。
// 明文模式的 URL 校验使用 (token, timestamp, nonce) 三个参数，加密模式额外加入密文。
// Returns:
//   - string: 十六进制的 SHA1 签名
func CalcSignature(parts ...string) string {
	// 第一步：按字典序排列各参数（不修改调用方切片）。
	sorted := append([]string(nil), parts...)
	sort.Strings(sorted)

	// 第二步：拼接后计算 SHA1 摘要并转为十六进制表示。
	h := sha1.Sum([]byte(strings.Join(sorted, "")))
	return hex.EncodeToString(h[:])
}

// decodeAESKey 将 EncodingAESKey 转换为 32 字节 AES 密钥。
// 该密钥使用 Base64 表示，长度固定为 43，需要补齐 '='。
func decodeAESKey(encodingKey string) ([]byte, error) {
	if len(encodingKey) == 0 {
		return nil, ErrInvalidAESKey
	}

	// 第一步：计算需要补充的 '=' 数量，得到有效的 Base64 字符串。
	padding := (4 - len(encodingKey)%4) % 4
	encoded := encodingKey + strings.Repeat("=", padding)

	// 第二步：执行 Base64 解码，将 43 字节编码串还原为 32 字节密钥。
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: decode aes key: %v", ErrInvalidAESKey, err)
	}
	if len(key) != 32 {
		return nil, ErrInvalidAESKey
	}

	return key, nil
}

// pkcs7Pad 按 PKCS#7 规则补齐块长度。
func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	pad := make([]byte, padLen)
	for i := range pad {
		pad[i] = byte(padLen)
	}
	out := make([]byte, 0, len(data)+padLen)
	return append(append(out, data...), pad...)
}

// pkcs7Unpad 去除 PKCS#7 填充，需保障密文长度与填充值合法。
func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padding size")
	}

	// 读取填充长度，并确认其不超过块大小。
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize {
		return nil, errors.New("invalid padding")
	}

	for i := 0; i < padLen; i++ {
		if data[len(data)-1-i] != byte(padLen) {
			return nil, errors.New("invalid padding")
		}
	}

	return data[:len(data)-padLen], nil
}

// decrypt 完成 AES-CBC 解密与 ReceiveId 校验。
//
// 流程图：
//
//	[Base64密文] -> [Base64解码] -> [AES-CBC解密] -> [PKCS7去填充]
//	     |
//	     v
//	[解析随机数|长度|消息|ReceiveId] -> [校验ReceiveId并返回消息体]
func (e *Encryptor) decrypt(cipherText string) ([]byte, error) {
	// 第一步：Base64 解码密文，恢复原始加密字节。
	cipherData, err := base64.StdEncoding.DecodeString(cipherText)
	if err != nil {
		return nil, fmt.Errorf("%w: base64 decode: %v", ErrDecryption, err)
	}

	// 第二步：构造 AES 块密码器，准备执行 CBC 解密。
	block, err := newBlockCipher(e.aesKey)
	if err != nil {
		return nil, err
	}
	if len(cipherData) == 0 || len(cipherData)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("%w: invalid ciphertext length %d", ErrDecryption, len(cipherData))
	}

	// 第三步：按照协议使用 AESKey 前 16 字节作为 IV，进行 CBC 解密。
	iv := e.aesKey[:block.BlockSize()]
	plain := make([]byte, len(cipherData))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, cipherData)

	// 第四步：去除 PKCS#7 填充，得到真实消息体。
	plain, err = pkcs7Unpad(plain, padBlockSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	if len(plain) < 20 {
		return nil, fmt.Errorf("%w: plaintext too short", ErrDecryption)
	}

	// 第五步：解析随机数、长度字段与 ReceiveId，并进行合法性校验。
	content := plain[16:]
	msgLen := binary.BigEndian.Uint32(content[:4])
	if int(msgLen) > len(content[4:]) {
		return nil, fmt.Errorf("%w: invalid message length", ErrDecryption)
	}
	msg := content[4 : 4+msgLen]

	// ReceiveId：公众号/小程序为 AppID，企业应用为 CorpID，第三方事件为 SuiteID。
	receiveID := string(content[4+msgLen:])
	if receiveID != e.appID {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrInvalidAppID, receiveID, e.appID)
	}

	return msg, nil
}

// encrypt 将明文消息封装为 AES-CBC Base64 密文。
//
// 流程图：
//
//	[随机16字节] + [消息长度] + [明文] + [ReceiveId]
//	     |
//	     v
//	[PKCS7填充] -> [AES-CBC加密] -> [Base64编码并返回]
func (e *Encryptor) encrypt(plain []byte) (string, error) {
	block, err := newBlockCipher(e.aesKey)
	if err != nil {
		return "", err
	}

	// 第一步：生成协议要求的 16 字节随机前缀。
	randomBytes := make([]byte, 16)
	if _, err := io.ReadFull(randReader, randomBytes); err != nil {
		return "", err
	}

	// 第二步：拼接随机数、消息长度、明文与 ReceiveId。
	buf := make([]byte, 0, 16+4+len(plain)+len(e.appID)+padBlockSize)
	buf = append(buf, randomBytes...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(plain)))
	buf = append(buf, plain...)
	buf = append(buf, e.appID...)
	buf = pkcs7Pad(buf, padBlockSize)

	// 第三步：使用 AES-CBC 模式加密，并将结果转换为 Base64。
	iv := e.aesKey[:block.BlockSize()]
	cipherData := make([]byte, len(buf))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(cipherData, buf)

	return base64.StdEncoding.EncodeToString(cipherData), nil
}
