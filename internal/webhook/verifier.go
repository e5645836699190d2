package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// SignatureVerifier 校验邮件网关的签名三元组。
// 网关对 timestamp+token 的拼接做 HMAC-SHA256，密钥为双方共享的签名密钥。
type SignatureVerifier struct {
	key []byte
}

// NewSignatureVerifier 创建签名校验器
func NewSignatureVerifier(signingKey string) *SignatureVerifier {
	return &SignatureVerifier{key: []byte(signingKey)}
}

// Sign 计算 timestamp+token 的 HMAC-SHA256 十六进制签名。
// 纯函数：相同输入永远得到相同签名。
func (v *SignatureVerifier) Sign(timestamp, token string) string {
	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(timestamp + token))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify 比较签名。使用 hmac.Equal 常数时间比较，避免时序侧信道。
func (v *SignatureVerifier) Verify(timestamp, token, signature string) bool {
	expected := v.Sign(timestamp, token)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Fresh 校验时间戳是否落在重放窗口内（边界含）。
// 时间戳必须是 Unix 秒级整数；解析失败视为不新鲜。
func Fresh(timestamp string, now time.Time, window time.Duration) bool {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	diff := now.Unix() - ts
	if diff < 0 {
		diff = -diff
	}
	return diff <= int64(window.Seconds())
}
