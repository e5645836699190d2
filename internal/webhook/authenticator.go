package webhook

import (
	"errors"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"onetimemail/backend/internal/domain"
	"onetimemail/backend/internal/security"
	"onetimemail/backend/internal/storage"
	"onetimemail/backend/internal/storage/memory"
)

// FailureCode 单次投递被拒绝的原因分类。
type FailureCode string

const (
	FailMissingSignature  FailureCode = "MissingSignature"
	FailInvalidSignature  FailureCode = "InvalidSignature"
	FailStaleRequest      FailureCode = "StaleRequest"
	FailRateLimited       FailureCode = "RateLimited"
	FailMalformedPayload  FailureCode = "MalformedPayload"
	FailUnknownAddress    FailureCode = "UnknownAddressFormat"
	FailPayloadTooLarge   FailureCode = "PayloadTooLarge"
	FailSuspiciousContent FailureCode = "SuspiciousContent"
	FailUnknownInbox      FailureCode = "UnknownOrInactiveResource"
	FailInboxExpired      FailureCode = "ResourceExpired"
	FailStorage           FailureCode = "StorageFailure"
)

// Payload 入站邮件通知的表单载荷。
type Payload struct {
	Timestamp string
	Token     string
	Signature string

	Recipient   string
	Sender      string
	Subject     string
	BodyPlain   string
	BodyHTML    string
	Attachments []domain.Attachment
	MessageID   string
	UserAgent   string
}

// Failure 描述一次被拒绝的投递。每次拒绝对本次投递都是终态，
// 组件内部绝不重试；重投由网关自身的退避策略决定。
type Failure struct {
	Code    FailureCode
	Status  int               // 对应的 HTTP 状态码
	Message string            // 返回给网关的 error 字段
	Extra   map[string]any    // 附加上下文（sender/recipient/size/max/expires_at 等）
}

// Receipt 投递成功后的回执。
type Receipt struct {
	MessageID  string
	InboxID    string
	Recipient  string
	Sender     string
	Subject    string
	ReceivedAt time.Time
	SizeBytes  int
}

// Authenticator 入站邮件 Webhook 验证器。
// 按固定顺序执行签名、新鲜度、限流、格式、大小、内容、归属十道检查，
// 全部通过后构造 Message 并交给存储层。
type Authenticator struct {
	verifier *SignatureVerifier
	limiter  *KeyLimiter
	pattern  *domain.AddressPattern
	filter   *security.ContentFilter
	store    storage.Store
	log      *zap.Logger

	replayWindow   time.Duration
	senderLimit    int
	recipientLimit int
	maxContentSize int

	now func() time.Time // 测试注入
}

// Options Authenticator 依赖与阈值。
type Options struct {
	SigningKey     string
	ReplayWindow   time.Duration
	RateWindow     time.Duration
	SenderLimit    int
	RecipientLimit int
	MaxContentSize int
}

// NewAuthenticator 创建 Webhook 验证器。
// counters 是限流计数器后端，多实例部署时应传入 Redis 客户端。
func NewAuthenticator(store storage.Store, counters storage.RateLimitRepository, pattern *domain.AddressPattern, opts Options, log *zap.Logger) *Authenticator {
	return &Authenticator{
		verifier:       NewSignatureVerifier(opts.SigningKey),
		limiter:        NewKeyLimiter(counters, opts.RateWindow, log),
		pattern:        pattern,
		filter:         security.NewContentFilter(),
		store:          store,
		log:            log,
		replayWindow:   opts.ReplayWindow,
		senderLimit:    opts.SenderLimit,
		recipientLimit: opts.RecipientLimit,
		maxContentSize: opts.MaxContentSize,
		now:            time.Now,
	}
}

// Authenticate 验证一次入站邮件投递，成功时落库并返回回执。
func (a *Authenticator) Authenticate(payload *Payload) (*Receipt, *Failure) {
	// 1. 签名三要素缺一即拒
	if payload.Timestamp == "" || payload.Token == "" || payload.Signature == "" {
		return nil, &Failure{
			Code:    FailMissingSignature,
			Status:  http.StatusUnauthorized,
			Message: "missing signature parameters",
		}
	}

	// 2. HMAC-SHA256(timestamp+token) 常数时间比较
	if !a.verifier.Verify(payload.Timestamp, payload.Token, payload.Signature) {
		a.log.Warn("webhook signature mismatch",
			zap.String("sender", payload.Sender),
			zap.String("recipient", payload.Recipient),
		)
		return nil, &Failure{
			Code:    FailInvalidSignature,
			Status:  http.StatusUnauthorized,
			Message: "invalid signature",
		}
	}

	// 3. 重放窗口（边界含）
	now := a.now()
	if !Fresh(payload.Timestamp, now, a.replayWindow) {
		return nil, &Failure{
			Code:    FailStaleRequest,
			Status:  http.StatusUnauthorized,
			Message: "request timestamp too old",
		}
	}

	// 4. 发件人 / 收件人两路独立窗口限流
	if !a.limiter.Allow("sender", payload.Sender, a.senderLimit) {
		return nil, &Failure{
			Code:    FailRateLimited,
			Status:  http.StatusTooManyRequests,
			Message: "too many emails from this sender",
			Extra:   map[string]any{"sender": payload.Sender},
		}
	}
	if !a.limiter.Allow("recipient", payload.Recipient, a.recipientLimit) {
		return nil, &Failure{
			Code:    FailRateLimited,
			Status:  http.StatusTooManyRequests,
			Message: "too many emails to this recipient",
			Extra:   map[string]any{"recipient": payload.Recipient},
		}
	}

	// 5. 必填字段
	if payload.Recipient == "" || payload.Sender == "" {
		return nil, &Failure{
			Code:    FailMalformedPayload,
			Status:  http.StatusBadRequest,
			Message: "missing recipient or sender",
		}
	}

	// 6. 收件地址必须符合系统签发格式
	if !a.pattern.Match(payload.Recipient) {
		return nil, &Failure{
			Code:    FailUnknownAddress,
			Status:  http.StatusBadRequest,
			Message: "recipient address format not recognized",
			Extra:   map[string]any{"recipient": payload.Recipient},
		}
	}

	// 7. 主题 + 正文 + HTML 的字符总数上限
	chars := utf8.RuneCountInString(payload.Subject) +
		utf8.RuneCountInString(payload.BodyPlain) +
		utf8.RuneCountInString(payload.BodyHTML)
	if chars > a.maxContentSize {
		return nil, &Failure{
			Code:    FailPayloadTooLarge,
			Status:  http.StatusRequestEntityTooLarge,
			Message: "email content too large",
			Extra:   map[string]any{"size": chars, "max": a.maxContentSize},
		}
	}

	// 8. 危险内容筛查（粗防线，下游渲染仍须独立消毒）
	if ok, pattern := a.filter.Screen(payload.Subject + payload.BodyPlain + payload.BodyHTML); !ok {
		a.log.Warn("webhook content screened out",
			zap.String("pattern", pattern),
			zap.String("sender", payload.Sender),
		)
		return nil, &Failure{
			Code:    FailSuspiciousContent,
			Status:  http.StatusBadRequest,
			Message: "content contains suspicious patterns",
		}
	}

	// 9. 收件地址必须对应存在的邮箱。
	// 存储故障与“邮箱不存在”必须区分：故障返回 500，网关会按退避重投。
	inbox, err := a.store.GetInboxByAddress(payload.Recipient)
	if err != nil && !errors.Is(err, memory.ErrInboxNotFound) {
		a.log.Error("inbox lookup failed",
			zap.String("recipient", payload.Recipient),
			zap.Error(err),
		)
		return nil, &Failure{
			Code:    FailStorage,
			Status:  http.StatusInternalServerError,
			Message: "failed to load inbox",
		}
	}
	if err != nil || inbox == nil {
		return nil, &Failure{
			Code:    FailUnknownInbox,
			Status:  http.StatusNotFound,
			Message: "no active inbox for recipient",
			Extra:   map[string]any{"recipient": payload.Recipient},
		}
	}

	// 10. 过期时间优先于激活标志：已过期的邮箱无论激活与否都按过期处理
	if inbox.Expired(now) {
		return nil, &Failure{
			Code:    FailInboxExpired,
			Status:  http.StatusGone,
			Message: "inbox expired",
			Extra:   map[string]any{"expires_at": inbox.ExpiresAt},
		}
	}
	if !inbox.IsActive {
		return nil, &Failure{
			Code:    FailUnknownInbox,
			Status:  http.StatusNotFound,
			Message: "no active inbox for recipient",
			Extra:   map[string]any{"recipient": payload.Recipient},
		}
	}

	// 全部通过：构造邮件记录并落库。
	// 字节大小按 UTF-16 存储估算为字符数的两倍。
	message := &domain.Message{
		ID:          uuid.NewString(),
		InboxID:     inbox.ID,
		From:        payload.Sender,
		To:          payload.Recipient,
		Subject:     payload.Subject,
		Text:        payload.BodyPlain,
		HTML:        payload.BodyHTML,
		ReceivedAt:  now.UTC(),
		SizeBytes:   chars * 2,
		Attachments: payload.Attachments,
		Headers:     a.buildHeaders(payload),
	}

	if err := a.store.SaveMessage(message); err != nil {
		a.log.Error("failed to persist inbound message",
			zap.String("inbox_id", inbox.ID),
			zap.Error(err),
		)
		return nil, &Failure{
			Code:    FailStorage,
			Status:  http.StatusInternalServerError,
			Message: "failed to store message",
		}
	}

	return &Receipt{
		MessageID:  message.ID,
		InboxID:    inbox.ID,
		Recipient:  payload.Recipient,
		Sender:     payload.Sender,
		Subject:    payload.Subject,
		ReceivedAt: message.ReceivedAt,
		SizeBytes:  message.SizeBytes,
	}, nil
}

// buildHeaders 保留有助于排查的原始头字段。
func (a *Authenticator) buildHeaders(payload *Payload) map[string]string {
	headers := make(map[string]string)
	if payload.MessageID != "" {
		headers["Message-Id"] = payload.MessageID
	}
	if payload.UserAgent != "" {
		headers["User-Agent"] = payload.UserAgent
	}
	return headers
}
