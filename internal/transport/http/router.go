package httptransport

import (
	"net/http"
	"sync"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"onetimemail/backend/internal/config"
	"onetimemail/backend/internal/domain"
	"onetimemail/backend/internal/health"
	"onetimemail/backend/internal/middleware"
	"onetimemail/backend/internal/monitoring"
	"onetimemail/backend/internal/service"
)

// Handler 聚合所有 HTTP 处理逻辑。
type Handler struct {
	inboxes  *service.InboxService
	messages *service.MessageService
	metrics  *monitoring.Metrics
	log      *zap.Logger

	// 按指纹记录上次创建时刻，用于计算创建间隔信号。
	// 进程内状态，多实例部署时各实例独立观测。
	// 指纹由客户端提交，必须定期清理陈旧条目防止无限增长。
	mu         sync.Mutex
	lastCreate map[string]time.Time
	lastSweep  time.Time
}

// lastCreate 表的清理参数：超过一小时的记录与首次出现等价
// （返回的间隔都远高于任何触发阈值），可以安全删除。
const (
	lastCreateStaleAfter = time.Hour
	lastCreateSweepEvery = 5 * time.Minute
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config         *config.Config
	InboxService   *service.InboxService
	MessageService *service.MessageService
	InboundHandler *InboundHandler
	Metrics        *monitoring.Metrics
	Health         *health.HealthChecker
	Logger         *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// 使用自定义中间件替代默认中间件
	router.Use(middleware.RecoveryHandler(deps.Logger, deps.Metrics))
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.HTTPMetrics(deps.Metrics))

	// 全局请求体大小限制 10MB
	router.Use(middleware.RequestSizeLimit(10 * 1024 * 1024))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins: deps.Config.CORS.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Inbox-Token", "X-Client-Fingerprint"},
		ExposeHeaders: []string{
			"Content-Length",
		},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	handler := &Handler{
		inboxes:    deps.InboxService,
		messages:   deps.MessageService,
		metrics:    deps.Metrics,
		log:        deps.Logger,
		lastCreate: make(map[string]time.Time),
	}

	inboxAuth := middleware.NewInboxAuth(deps.InboxService, deps.Logger)

	// Swagger 文档
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 健康检查与指标
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, deps.Health.CheckHealth())
	})
	router.GET("/health/live", gin.WrapF(deps.Health.Live()))
	router.GET("/health/ready", gin.WrapF(deps.Health.Ready()))
	router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	// V1 API
	v1 := router.Group("/v1")
	{
		// ========== Inbox Routes ==========
		inboxRoutes := v1.Group("/inboxes")
		{
			inboxRoutes.POST("", handler.createInbox)
			inboxRoutes.GET("", handler.listInboxes)

			// 需要邮箱 Token 的端点
			inboxRoutes.GET("/:id", inboxAuth.RequireInboxToken(), handler.getInbox)
			inboxRoutes.POST("/:id/extend", inboxAuth.RequireInboxToken(), handler.extendInbox)
			inboxRoutes.DELETE("/:id", inboxAuth.RequireInboxToken(), handler.deleteInbox)

			// 邮件相关端点（需要邮箱 Token）
			inboxRoutes.GET("/:id/messages", inboxAuth.RequireInboxToken(), handler.listMessages)
			inboxRoutes.GET("/:id/messages/:messageId", inboxAuth.RequireInboxToken(), handler.getMessage)
			inboxRoutes.POST("/:id/messages/:messageId/read", inboxAuth.RequireInboxToken(), handler.markMessageRead)
		}

		// ========== Webhook Routes ==========
		webhookRoutes := v1.Group("/webhooks")
		{
			webhookRoutes.POST("/inbound", deps.InboundHandler.Receive)
			webhookRoutes.GET("/inbound", deps.InboundHandler.Describe)
		}
	}

	return router
}

type createInboxRequest struct {
	UserID      string `json:"userId"`
	Fingerprint string `json:"fingerprint"`
}

type inboxResponse struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	LocalPart string    `json:"localPart"`
	Domain    string    `json:"domain"`
	Token     string    `json:"token,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	IsActive  bool      `json:"isActive"`
	Unread    int       `json:"unread"`
	Total     int       `json:"total"`
}

type inboxListResponse struct {
	Items []inboxResponse `json:"items"`
	Count int             `json:"count"`
}

// createInbox godoc
// @Summary 创建一次性邮箱
// @Description 创建一个新的一次性邮箱地址，固定 10 分钟有效期
// @Tags Inboxes
// @Accept json
// @Produce json
// @Param request body createInboxRequest true "创建参数"
// @Success 201 {object} inboxResponse
// @Failure 403 {object} Response
// @Failure 500 {object} Response
// @Router /v1/inboxes [post]
func (h *Handler) createInbox(c *gin.Context) {
	var req createInboxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	fingerprint := c.GetHeader("X-Client-Fingerprint")
	if fingerprint == "" {
		fingerprint = req.Fingerprint
	}

	inbox, verdict, err := h.inboxes.Create(c.Request.Context(), service.CreateInboxInput{
		UserID:          req.UserID,
		Fingerprint:     fingerprint,
		IPSource:        c.ClientIP(),
		UserAgent:       c.Request.UserAgent(),
		IntervalSeconds: h.creationInterval(fingerprint),
	})

	h.metrics.RecordVerdict(string(verdict.RiskLevel), verdict.ShouldBlock)

	if err != nil {
		if err == service.ErrCreationBlocked {
			h.log.Warn("inbox creation blocked",
				zap.String("fingerprint", fingerprint),
				zap.String("ip", c.ClientIP()),
				zap.String("reason", verdict.Reason),
			)
			Forbidden(c, MsgCreationBlocked, gin.H{
				"reason":    verdict.Reason,
				"riskLevel": verdict.RiskLevel,
			})
			return
		}
		InternalError(c, MsgInboxCreateFailed)
		return
	}

	h.metrics.InboxesCreated.Inc()
	Created(c, toInboxResponse(inbox, true))
}

// creationInterval 返回该指纹距上次创建的间隔秒数，并刷新记录。
// 首次出现或未提供指纹时返回一个大间隔，不触发频率信号。
func (h *Handler) creationInterval(fingerprint string) float64 {
	now := time.Now()
	h.mu.Lock()
	defer h.mu.Unlock()

	if now.Sub(h.lastSweep) >= lastCreateSweepEvery {
		for key, seen := range h.lastCreate {
			if now.Sub(seen) >= lastCreateStaleAfter {
				delete(h.lastCreate, key)
			}
		}
		h.lastSweep = now
	}

	if fingerprint == "" {
		return 86400
	}

	last, seen := h.lastCreate[fingerprint]
	h.lastCreate[fingerprint] = now
	if !seen {
		return 86400
	}
	return now.Sub(last).Seconds()
}

// listInboxes godoc
// @Summary 获取邮箱列表
// @Description 返回指定用户的未过期邮箱列表
// @Tags Inboxes
// @Produce json
// @Param userId query string true "用户标识"
// @Success 200 {object} inboxListResponse
// @Router /v1/inboxes [get]
func (h *Handler) listInboxes(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	inboxes := h.inboxes.ListByUserID(userID)
	responses := make([]inboxResponse, 0, len(inboxes))
	for i := range inboxes {
		// 列表响应不回传 token
		responses = append(responses, toInboxResponse(&inboxes[i], false))
	}

	Success(c, inboxListResponse{Items: responses, Count: len(responses)})
}

// getInbox godoc
// @Summary 获取邮箱详情
// @Tags Inboxes
// @Produce json
// @Param id path string true "邮箱 ID"
// @Success 200 {object} inboxResponse
// @Failure 404 {object} Response
// @Router /v1/inboxes/{id} [get]
func (h *Handler) getInbox(c *gin.Context) {
	inbox, err := h.inboxes.Get(c.Param("id"))
	if err != nil {
		NotFound(c, GetErrorMessage(err))
		return
	}

	messages, err := h.messages.List(inbox.ID)
	if err == nil {
		inbox.TotalCount = len(messages)
		for i := range messages {
			if !messages[i].IsRead {
				inbox.Unread++
			}
		}
	}

	Success(c, toInboxResponse(inbox, true))
}

type extendInboxRequest struct {
	Duration string `json:"duration"` // Go duration 格式，如 "10m"
}

// extendInbox godoc
// @Summary 延长邮箱有效期
// @Tags Inboxes
// @Accept json
// @Produce json
// @Param id path string true "邮箱 ID"
// @Param request body extendInboxRequest true "延长参数"
// @Success 200 {object} inboxResponse
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Router /v1/inboxes/{id}/extend [post]
func (h *Handler) extendInbox(c *gin.Context) {
	var req extendInboxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	d, err := time.ParseDuration(req.Duration)
	if err != nil || d <= 0 {
		BadRequest(c, MsgInvalidDuration)
		return
	}

	inbox, err := h.inboxes.Extend(c.Param("id"), d)
	if err != nil {
		if err == service.ErrInboxNotFound {
			NotFound(c, GetErrorMessage(err))
			return
		}
		InternalError(c, MsgInboxExtendFailed)
		return
	}

	Success(c, toInboxResponse(inbox, false))
}

// deleteInbox godoc
// @Summary 删除邮箱
// @Tags Inboxes
// @Param id path string true "邮箱 ID"
// @Success 204 {object} Response
// @Failure 404 {object} Response
// @Router /v1/inboxes/{id} [delete]
func (h *Handler) deleteInbox(c *gin.Context) {
	if err := h.inboxes.Delete(c.Param("id")); err != nil {
		if err == service.ErrInboxNotFound {
			NotFound(c, GetErrorMessage(err))
			return
		}
		InternalError(c, MsgInboxDeleteFailed)
		return
	}

	h.metrics.InboxesDeleted.Inc()
	NoContent(c)
}

type messageResponse struct {
	ID          string            `json:"id"`
	InboxID     string            `json:"inboxId"`
	From        string            `json:"from"`
	To          string            `json:"to"`
	Subject     string            `json:"subject"`
	Text        string            `json:"text,omitempty"`
	HTML        string            `json:"html,omitempty"`
	ReceivedAt  time.Time         `json:"receivedAt"`
	IsRead      bool              `json:"isRead"`
	SizeBytes   int               `json:"sizeBytes"`
	Attachments interface{}       `json:"attachments,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

type messageListResponse struct {
	Items []messageResponse `json:"items"`
	Count int               `json:"count"`
}

// listMessages godoc
// @Summary 获取邮件列表
// @Tags Messages
// @Produce json
// @Param id path string true "邮箱 ID"
// @Success 200 {object} messageListResponse
// @Router /v1/inboxes/{id}/messages [get]
func (h *Handler) listMessages(c *gin.Context) {
	messages, err := h.messages.List(c.Param("id"))
	if err != nil {
		InternalError(c, MsgMessageListFailed)
		return
	}

	responses := make([]messageResponse, 0, len(messages))
	for i := range messages {
		responses = append(responses, toMessageResponse(&messages[i]))
	}

	Success(c, messageListResponse{Items: responses, Count: len(responses)})
}

// getMessage godoc
// @Summary 获取邮件详情
// @Tags Messages
// @Produce json
// @Param id path string true "邮箱 ID"
// @Param messageId path string true "邮件 ID"
// @Success 200 {object} messageResponse
// @Failure 404 {object} Response
// @Router /v1/inboxes/{id}/messages/{messageId} [get]
func (h *Handler) getMessage(c *gin.Context) {
	message, err := h.messages.Get(c.Param("id"), c.Param("messageId"))
	if err != nil {
		if err == service.ErrMessageNotFound {
			NotFound(c, GetErrorMessage(err))
			return
		}
		InternalError(c, MsgMessageGetFailed)
		return
	}

	Success(c, toMessageResponse(message))
}

// markMessageRead godoc
// @Summary 标记邮件已读
// @Tags Messages
// @Param id path string true "邮箱 ID"
// @Param messageId path string true "邮件 ID"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Router /v1/inboxes/{id}/messages/{messageId}/read [post]
func (h *Handler) markMessageRead(c *gin.Context) {
	if err := h.messages.MarkRead(c.Param("id"), c.Param("messageId")); err != nil {
		if err == service.ErrMessageNotFound {
			NotFound(c, GetErrorMessage(err))
			return
		}
		InternalError(c, MsgMessageMarkReadFailed)
		return
	}

	Success(c, nil)
}

func toInboxResponse(inbox *domain.Inbox, withToken bool) inboxResponse {
	resp := inboxResponse{
		ID:        inbox.ID,
		Address:   inbox.Address,
		LocalPart: inbox.LocalPart,
		Domain:    inbox.Domain,
		CreatedAt: inbox.CreatedAt,
		ExpiresAt: inbox.ExpiresAt,
		IsActive:  inbox.IsActive,
		Unread:    inbox.Unread,
		Total:     inbox.TotalCount,
	}
	if withToken {
		resp.Token = inbox.Token
	}
	return resp
}

func toMessageResponse(m *domain.Message) messageResponse {
	resp := messageResponse{
		ID:         m.ID,
		InboxID:    m.InboxID,
		From:       m.From,
		To:         m.To,
		Subject:    m.Subject,
		Text:       m.Text,
		HTML:       m.HTML,
		ReceivedAt: m.ReceivedAt,
		IsRead:     m.IsRead,
		SizeBytes:  m.SizeBytes,
		Headers:    m.Headers,
	}
	if len(m.Attachments) > 0 {
		resp.Attachments = m.Attachments
	}
	return resp
}
