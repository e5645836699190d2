package health

import (
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"onetimemail/backend/internal/storage"
)

// HealthChecker 健康检查器
type HealthChecker struct {
	health   healthcheck.Handler
	store    storage.Store
	counters storage.RateLimitRepository
	logger   *zap.Logger
}

// NewHealthChecker 创建健康检查器。
// counters 是限流计数器后端（Redis 或内存），可以与 store 是同一个实例。
func NewHealthChecker(store storage.Store, counters storage.RateLimitRepository, logger *zap.Logger) *HealthChecker {
	hc := &HealthChecker{
		health:   healthcheck.NewHandler(),
		store:    store,
		counters: counters,
		logger:   logger,
	}

	hc.addChecks()
	return hc
}

// addChecks 添加健康检查
func (hc *HealthChecker) addChecks() {
	hc.health.AddLivenessCheck("storage", func() error {
		return hc.store.Health()
	})

	if hc.counters != nil {
		hc.health.AddReadinessCheck("rate_counters", func() error {
			_, err := hc.counters.GetRateLimit("health_check")
			return err
		})
	}
}

// Handler 返回健康检查处理器
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// Live 返回存活探针处理函数
func (hc *HealthChecker) Live() http.HandlerFunc {
	return hc.health.LiveEndpoint
}

// Ready 返回就绪探针处理函数
func (hc *HealthChecker) Ready() http.HandlerFunc {
	return hc.health.ReadyEndpoint
}

// CheckHealth 执行健康检查
func (hc *HealthChecker) CheckHealth() map[string]string {
	results := make(map[string]string)

	if err := hc.store.Health(); err != nil {
		results["storage"] = fmt.Sprintf("ERROR: %v", err)
	} else {
		results["storage"] = "OK"
	}

	if hc.counters != nil {
		if _, err := hc.counters.GetRateLimit("health_check"); err != nil {
			results["rate_counters"] = fmt.Sprintf("ERROR: %v", err)
		} else {
			results["rate_counters"] = "OK"
		}
	} else {
		results["rate_counters"] = "NOT_AVAILABLE"
	}

	results["timestamp"] = time.Now().Format(time.RFC3339)
	return results
}
