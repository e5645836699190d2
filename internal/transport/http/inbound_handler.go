package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"onetimemail/backend/internal/config"
	"onetimemail/backend/internal/domain"
	"onetimemail/backend/internal/monitoring"
	"onetimemail/backend/internal/webhook"
)

// InboundHandler 入站邮件 Webhook 处理器。
// 网关以 form 编码投递邮件事件，响应状态码决定网关的重试行为，
// 因此这里不使用统一业务响应结构，直接返回网关约定的 JSON。
type InboundHandler struct {
	auth    *webhook.Authenticator
	flood   *rate.Limiter
	metrics *monitoring.Metrics
	log     *zap.Logger
}

// NewInboundHandler 创建入站邮件处理器
func NewInboundHandler(auth *webhook.Authenticator, cfg *config.WebhookConfig, metrics *monitoring.Metrics, log *zap.Logger) *InboundHandler {
	return &InboundHandler{
		auth:    auth,
		flood:   rate.NewLimiter(rate.Limit(cfg.FloodRate), cfg.FloodBurst),
		metrics: metrics,
		log:     log,
	}
}

// Receive godoc
// @Summary 接收入站邮件事件
// @Description 邮件网关投递入站邮件，按签名、新鲜度、限流、格式、大小、内容、归属依次校验
// @Tags Webhooks
// @Accept x-www-form-urlencoded
// @Accept multipart/form-data
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Failure 401 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Failure 410 {object} map[string]interface{}
// @Failure 429 {object} map[string]interface{}
// @Router /v1/webhooks/inbound [post]
func (ih *InboundHandler) Receive(c *gin.Context) {
	// 入站端点整体洪峰保护，独立于发件/收件两路业务限流
	if !ih.flood.Allow() {
		ih.metrics.RecordWebhookRejected("flood")
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": "webhook endpoint overloaded",
		})
		return
	}

	payload := ih.parsePayload(c)

	receipt, failure := ih.auth.Authenticate(payload)
	if failure != nil {
		ih.metrics.RecordWebhookRejected(string(failure.Code))

		body := gin.H{"error": failure.Message}
		for k, v := range failure.Extra {
			body[k] = v
		}
		c.JSON(failure.Status, body)
		return
	}

	ih.metrics.WebhookAccepted.Inc()
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"message":     "email received",
		"email_id":    receipt.MessageID,
		"inbox_id":    receipt.InboxID,
		"recipient":   receipt.Recipient,
		"sender":      receipt.Sender,
		"subject":     receipt.Subject,
		"received_at": receipt.ReceivedAt,
		"size_bytes":  receipt.SizeBytes,
	})
}

// parsePayload 从 form 字段解析网关投递的邮件事件
func (ih *InboundHandler) parsePayload(c *gin.Context) *webhook.Payload {
	payload := &webhook.Payload{
		Timestamp: c.PostForm("timestamp"),
		Token:     c.PostForm("token"),
		Signature: c.PostForm("signature"),

		Recipient: c.PostForm("recipient"),
		Sender:    c.PostForm("sender"),
		Subject:   c.PostForm("subject"),
		BodyPlain: c.PostForm("body-plain"),
		BodyHTML:  c.PostForm("body-html"),
		MessageID: c.PostForm("Message-Id"),
		UserAgent: c.GetHeader("User-Agent"),
	}

	// 附件以 multipart 文件形式投递，只保留元数据
	if form, err := c.MultipartForm(); err == nil && form != nil {
		for _, files := range form.File {
			for _, file := range files {
				payload.Attachments = append(payload.Attachments, domain.Attachment{
					ID:          uuid.NewString(),
					Filename:    file.Filename,
					ContentType: file.Header.Get("Content-Type"),
					Size:        file.Size,
				})
			}
		}
	}

	return payload
}

// Describe godoc
// @Summary 查看入站 Webhook 接入说明
// @Description 返回网关接入所需的字段与校验规则说明
// @Tags Webhooks
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /v1/webhooks/inbound [get]
func (ih *InboundHandler) Describe(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"endpoint": "/v1/webhooks/inbound",
		"method":   "POST",
		"encoding": []string{"application/x-www-form-urlencoded", "multipart/form-data"},
		"fields": gin.H{
			"required":  []string{"timestamp", "token", "signature", "recipient", "sender"},
			"optional":  []string{"subject", "body-plain", "body-html", "Message-Id"},
			"signature": "hex(HMAC-SHA256(signing_key, timestamp + token))",
		},
		"responses": gin.H{
			"200": "accepted and stored",
			"400": "malformed payload, unknown address format or suspicious content",
			"401": "missing or invalid signature, or stale timestamp",
			"404": "no active inbox for recipient",
			"410": "inbox expired",
			"413": "content too large",
			"429": "sender or recipient rate limited",
			"500": "storage failure, safe to retry",
		},
	})
}
