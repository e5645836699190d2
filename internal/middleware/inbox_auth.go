package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"onetimemail/backend/internal/service"
)

// InboxAuth 邮箱 Token 认证中间件。
// 邮箱本身就是凭证：创建时返回的 token 是访问该邮箱的唯一钥匙。
type InboxAuth struct {
	inboxService *service.InboxService
	log          *zap.Logger
}

// NewInboxAuth 创建邮箱认证中间件
func NewInboxAuth(inboxService *service.InboxService, log *zap.Logger) *InboxAuth {
	return &InboxAuth{
		inboxService: inboxService,
		log:          log,
	}
}

// RequireInboxToken 要求邮箱 Token 验证
func (ia *InboxAuth) RequireInboxToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		inboxID := c.Param("id")
		if inboxID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "inbox ID required",
			})
			c.Abort()
			return
		}

		token := ia.extractToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "inbox token required",
			})
			c.Abort()
			return
		}

		inbox, err := ia.inboxService.Get(inboxID)
		if err != nil {
			ia.log.Warn("inbox not found",
				zap.String("inbox_id", inboxID),
				zap.Error(err),
			)
			c.JSON(http.StatusNotFound, gin.H{
				"error": "inbox not found",
			})
			c.Abort()
			return
		}

		if inbox.Token != token {
			ia.log.Warn("invalid inbox token",
				zap.String("inbox_id", inboxID),
				zap.String("ip", c.ClientIP()),
			)
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "invalid inbox token",
			})
			c.Abort()
			return
		}

		c.Set("inbox", inbox)
		c.Next()
	}
}

// extractToken 依次从 Authorization 头、X-Inbox-Token 头、query 参数提取 Token
func (ia *InboxAuth) extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
	}

	if token := c.GetHeader("X-Inbox-Token"); token != "" {
		return token
	}

	return c.Query("token")
}
