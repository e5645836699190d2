package webhook

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"onetimemail/backend/internal/storage"
)

// KeyLimiter 基于存储层计数器的按键限流器。
// 计数器走 RateLimitRepository（内存或 Redis 固定窗口自增），
// 接入 Redis 后多实例共享同一计数，水平扩展下语义依然正确。
type KeyLimiter struct {
	counters storage.RateLimitRepository
	window   time.Duration
	log      *zap.Logger
}

// NewKeyLimiter 创建按键限流器
func NewKeyLimiter(counters storage.RateLimitRepository, window time.Duration, log *zap.Logger) *KeyLimiter {
	return &KeyLimiter{
		counters: counters,
		window:   window,
		log:      log,
	}
}

// Allow 在当前窗口内为 kind:value 记一次事件并判断是否超限。
// 计数器不可用时放行并记录告警，避免依赖故障拒绝正常投递。
func (l *KeyLimiter) Allow(kind, value string, limit int) bool {
	key := fmt.Sprintf("webhook:%s:%s", kind, value)
	count, err := l.counters.IncrementRateLimit(key, l.window)
	if err != nil {
		l.log.Warn("rate limit counter unavailable, allowing event",
			zap.String("key", key),
			zap.Error(err),
		)
		return true
	}
	return count <= int64(limit)
}
