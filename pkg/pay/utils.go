package pay

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/IMBotPlatform/wechat-opensdk/pkg/kernel"
	"github.com/wechatpay-apiv3/wechatpay-go/utils"
)

// 签名类型。
const (
	SignTypeRSA        = "RSA"
	SignTypeMD5        = "MD5"
	SignTypeHMACSHA256 = "HMAC-SHA256"
)

// nowFunc 便于测试固定时间戳。
var nowFunc = time.Now

// BridgeConfig 为 WeixinJSBridge / 小程序 requestPayment 参数。
type BridgeConfig struct {
	AppID     string `json:"appId"`
	TimeStamp string `json:"timeStamp"`
	NonceStr  string `json:"nonceStr"`
	Package   string `json:"package"`
	SignType  string `json:"signType"`
	PaySign   string `json:"paySign"`
}

// SDKConfig 为 JS-SDK chooseWXPay 参数，时间戳字段名为 timestamp。
type SDKConfig struct {
	AppID     string `json:"appId"`
	Timestamp string `json:"timestamp"`
	NonceStr  string `json:"nonceStr"`
	Package   string `json:"package"`
	SignType  string `json:"signType"`
	PaySign   string `json:"paySign"`
}

// AppConfig 为 APP 调起支付参数。
type AppConfig struct {
	AppID     string `json:"appid"`
	PartnerID string `json:"partnerid"`
	PrepayID  string `json:"prepayid"`
	NonceStr  string `json:"noncestr"`
	Timestamp int64  `json:"timestamp"`
	Package   string `json:"package"`
	Sign      string `json:"sign"`
}

// Utils 为调起支付的参数生成工具。
type Utils struct {
	merchant *Merchant
}

// NewUtils 创建工具。
func NewUtils(merchant *Merchant) *Utils {
	return &Utils{merchant: merchant}
}

// BuildBridgeConfig 生成 JSAPI 调起支付参数。signType 为 RSA 时使用商户私钥签名，
// 否则使用 v2 签名。
func (u *Utils) BuildBridgeConfig(prepayID, appID, signType string) (*BridgeConfig, error) {
	if signType == "" {
		signType = SignTypeRSA
	}
	cfg := &BridgeConfig{
		AppID:     appID,
		TimeStamp: strconv.FormatInt(nowFunc().Unix(), 10),
		NonceStr:  kernel.NewNonce(),
		Package:   "prepay_id=" + prepayID,
		SignType:  signType,
	}

	var err error
	if signType != SignTypeRSA {
		cfg.PaySign, err = u.CreateV2Signature(map[string]string{
			"appId":     cfg.AppID,
			"timeStamp": cfg.TimeStamp,
			"nonceStr":  cfg.NonceStr,
			"package":   cfg.Package,
			"signType":  cfg.SignType,
		})
	} else {
		cfg.PaySign, err = u.CreateSignature(cfg.AppID + "\n" + cfg.TimeStamp + "\n" + cfg.NonceStr + "\n" + cfg.Package + "\n")
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// BuildSDKConfig 生成 JS-SDK chooseWXPay 参数。
func (u *Utils) BuildSDKConfig(prepayID, appID, signType string) (*SDKConfig, error) {
	b, err := u.BuildBridgeConfig(prepayID, appID, signType)
	if err != nil {
		return nil, err
	}
	return &SDKConfig{
		AppID:     b.AppID,
		Timestamp: b.TimeStamp,
		NonceStr:  b.NonceStr,
		Package:   b.Package,
		SignType:  b.SignType,
		PaySign:   b.PaySign,
	}, nil
}

// BuildMiniAppConfig 生成小程序 requestPayment 参数。
func (u *Utils) BuildMiniAppConfig(prepayID, appID, signType string) (*BridgeConfig, error) {
	return u.BuildBridgeConfig(prepayID, appID, signType)
}

// BuildAppConfig 生成 APP 调起支付参数。
func (u *Utils) BuildAppConfig(prepayID, appID string) (*AppConfig, error) {
	cfg := &AppConfig{
		AppID:     appID,
		PartnerID: u.merchant.MerchantID(),
		PrepayID:  prepayID,
		NonceStr:  kernel.NewNonce(),
		Timestamp: nowFunc().Unix(),
		Package:   "Sign=WXPay",
	}
	sign, err := u.CreateSignature(fmt.Sprintf("%s\n%d\n%s\n%s\n", cfg.AppID, cfg.Timestamp, cfg.NonceStr, cfg.PrepayID))
	if err != nil {
		return nil, err
	}
	cfg.Sign = sign
	return cfg, nil
}

// CreateSignature 使用商户私钥计算 SHA256-RSA 签名（Base64）。
func (u *Utils) CreateSignature(message string) (string, error) {
	return utils.SignSHA256WithRSA(message, u.merchant.PrivateKey())
}

// CreateV2Signature 计算 APIv2 签名：参数按键名排序拼接后追加 key，
// signType 为 HMAC-SHA256 时使用 HMAC，否则使用 MD5，结果转为大写。
func (u *Utils) CreateV2Signature(params map[string]string) (string, error) {
	secretKey := u.merchant.V2SecretKey()
	if secretKey == "" {
		return "", fmt.Errorf("%w: missing v2 secret key", kernel.ErrInvalidConfig)
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params[k])
		sb.WriteByte('&')
	}
	sb.WriteString("key=")
	sb.WriteString(secretKey)

	var h hash.Hash
	if params["signType"] == SignTypeHMACSHA256 {
		h = hmac.New(sha256.New, []byte(secretKey))
	} else {
		h = md5.New()
	}
	h.Write([]byte(sb.String()))
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil))), nil
}
