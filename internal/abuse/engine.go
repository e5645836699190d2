package abuse

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"onetimemail/backend/internal/config"
	"onetimemail/backend/internal/domain"
	"onetimemail/backend/internal/monitoring"
	"onetimemail/backend/internal/pool"
	"onetimemail/backend/internal/storage"
)

// botUserAgents 机器人 User-Agent 特征子串（小写匹配）
var botUserAgents = []string{
	"bot", "crawler", "spider", "scraper",
	"headless", "selenium", "phantomjs", "puppeteer",
}

// Signals 描述一次邮箱创建请求的风控输入信号。
type Signals struct {
	UserID          string  `json:"user_id"`
	Fingerprint     string  `json:"fingerprint"`
	IPAddress       string  `json:"ip_address"`
	IntervalSeconds float64 `json:"creation_interval"` // 距上次创建的间隔（秒），0 表示未知
	UserAgent       string  `json:"user_agent"`
}

// checkResult 单个信号检查的结果
type checkResult struct {
	level  domain.RiskLevel
	block  bool
	reason string
}

// Engine 风控引擎。对每次创建请求做永久封禁短路检查和五路并发信号评估，
// 聚合出裁决并异步写入分析记录与累犯升级。
type Engine struct {
	store        storage.Store
	cfg          config.AbuseConfig
	queryTimeout time.Duration
	tasks        *pool.WorkerPool
	metrics      *monitoring.Metrics
	log          *zap.Logger

	now func() time.Time // 测试注入
}

// NewEngine 创建风控引擎。
func NewEngine(store storage.Store, cfg config.AbuseConfig, queryTimeout time.Duration, tasks *pool.WorkerPool, metrics *monitoring.Metrics, log *zap.Logger) *Engine {
	return &Engine{
		store:        store,
		cfg:          cfg,
		queryTimeout: queryTimeout,
		tasks:        tasks,
		metrics:      metrics,
		log:          log,
		now:          time.Now,
	}
}

// Evaluate 评估一次创建请求并返回裁决。
// 永不返回错误：任何单个信号的存储故障都降级为 low 非拦截结果，
// 不能因为依赖不可用拒绝正常流量或让端点崩溃。
func (e *Engine) Evaluate(ctx context.Context, signals Signals) domain.Verdict {
	now := e.now().UTC()

	qctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	// 永久封禁短路：三类实体并行查询，任一命中立即判 critical，
	// 跳过全部后续信号检查。
	if blocked, reason := e.checkBlocklist(qctx, signals); blocked {
		verdict := domain.Verdict{
			IsBot:       true,
			Reason:      reason,
			RiskLevel:   domain.RiskCritical,
			ShouldBlock: true,
		}
		e.logDetection(signals, verdict, snapshot{}, false)
		return verdict
	}

	// 五路信号检查并发执行，聚合必须等全部完成：
	// 不做首个高风险提前退出，保证 reason 反映所有触发的信号。
	var (
		wg      sync.WaitGroup
		results [5]checkResult
		snap    snapshot
	)
	wg.Add(5)
	go func() {
		defer wg.Done()
		results[0], snap.fingerprintCount = e.checkFingerprintVolume(qctx, signals.Fingerprint, now)
	}()
	go func() {
		defer wg.Done()
		results[1], snap.ipCount = e.checkIPVolume(qctx, signals.IPAddress, now)
	}()
	go func() {
		defer wg.Done()
		results[2], snap.userCount = e.checkAccountRate(qctx, signals.UserID, now)
	}()
	go func() {
		defer wg.Done()
		results[3] = e.checkCreationSpeed(signals.IntervalSeconds)
	}()
	go func() {
		defer wg.Done()
		results[4] = e.checkUserAgent(signals.UserAgent)
	}()
	wg.Wait()

	verdict := aggregate(results[:])

	// 累犯升级只在 critical 且拦截时检查。升级计数必须发生在本次
	// 分析记录落库之后，否则统计会漏掉当前这次决策：
	// 两步在同一个后台任务内顺序执行。
	escalate := verdict.ShouldBlock && verdict.RiskLevel == domain.RiskCritical
	e.logDetection(signals, verdict, snap, escalate)

	return verdict
}

// snapshot 决策时刻的实体计数快照，随分析记录落库。
type snapshot struct {
	userCount        int
	fingerprintCount int
	ipCount          int
}

// checkBlocklist 查询永久封禁名单。
func (e *Engine) checkBlocklist(ctx context.Context, signals Signals) (bool, string) {
	type hit struct {
		entity domain.BlockEntityType
		value  string
	}
	pairs := []hit{
		{domain.BlockEntityUser, signals.UserID},
		{domain.BlockEntityFingerprint, signals.Fingerprint},
		{domain.BlockEntityIP, signals.IPAddress},
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	reasons := make([]string, 0, 1)
	wg.Add(len(pairs))
	for _, p := range pairs {
		go func(p hit) {
			defer wg.Done()
			if p.value == "" {
				return
			}
			entry, err := e.store.FindBlockEntry(ctx, p.entity, p.value)
			if err != nil {
				e.log.Warn("blocklist lookup failed",
					zap.String("entity", string(p.entity)),
					zap.Error(err),
				)
				return
			}
			if entry != nil {
				mu.Lock()
				reasons = append(reasons, fmt.Sprintf("%s %s is permanently blocked: %s", p.entity, p.value, entry.Reason))
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()

	if len(reasons) == 0 {
		return false, ""
	}
	return true, strings.Join(reasons, "; ")
}

// checkFingerprintVolume 指纹维度的创建量检查。
func (e *Engine) checkFingerprintVolume(ctx context.Context, fingerprint string, now time.Time) (checkResult, int) {
	count, err := e.store.CountInboxesByFingerprint(ctx, fingerprint, now.Add(-e.cfg.Lookback))
	if err != nil {
		return degraded("fingerprint volume", err), 0
	}

	switch {
	case count >= 50:
		return checkResult{domain.RiskCritical, true,
			fmt.Sprintf("fingerprint created %d inboxes in 24h", count)}, count
	case count >= e.cfg.MaxPerFingerprint:
		return checkResult{domain.RiskHigh, true,
			fmt.Sprintf("fingerprint reached limit: %d inboxes in 24h", count)}, count
	case count >= 5:
		return checkResult{domain.RiskMedium, false,
			fmt.Sprintf("elevated fingerprint activity: %d inboxes in 24h", count)}, count
	default:
		return checkResult{level: domain.RiskLow}, count
	}
}

// checkIPVolume IP 维度的创建量检查，同时统计该 IP 下的去重账号数。
func (e *Engine) checkIPVolume(ctx context.Context, ip string, now time.Time) (checkResult, int) {
	total, users, err := e.store.CountInboxesByIP(ctx, ip, now.Add(-e.cfg.Lookback))
	if err != nil {
		return degraded("ip volume", err), 0
	}

	switch {
	case total >= 100:
		return checkResult{domain.RiskCritical, true,
			fmt.Sprintf("ip created %d inboxes across %d accounts in 24h", total, users)}, total
	case total >= e.cfg.MaxPerIP:
		return checkResult{domain.RiskHigh, true,
			fmt.Sprintf("ip reached limit: %d inboxes across %d accounts in 24h", total, users)}, total
	case total >= 20:
		return checkResult{domain.RiskMedium, false,
			fmt.Sprintf("elevated ip activity: %d inboxes in 24h", total)}, total
	default:
		return checkResult{level: domain.RiskLow}, total
	}
}

// checkAccountRate 账号维度的小时 / 天两级限额检查。
// 小时级触发时不再查询天级。
func (e *Engine) checkAccountRate(ctx context.Context, userID string, now time.Time) (checkResult, int) {
	hourly, err := e.store.CountInboxesByUser(ctx, userID, now.Add(-time.Hour))
	if err != nil {
		return degraded("account rate", err), 0
	}
	if hourly >= e.cfg.HourlyCap {
		return checkResult{domain.RiskHigh, true,
			fmt.Sprintf("account hourly limit reached: %d inboxes in 1h", hourly)}, hourly
	}

	daily, err := e.store.CountInboxesByUser(ctx, userID, now.Add(-e.cfg.Lookback))
	if err != nil {
		return degraded("account rate", err), hourly
	}
	if daily >= e.cfg.DailyCap {
		return checkResult{domain.RiskHigh, true,
			fmt.Sprintf("account daily limit reached: %d inboxes in 24h", daily)}, daily
	}
	return checkResult{level: domain.RiskLow}, daily
}

// checkCreationSpeed 创建间隔检查。间隔为 0 表示首次创建或未知，不触发。
func (e *Engine) checkCreationSpeed(interval float64) checkResult {
	switch {
	case interval > 0 && interval < 5:
		return checkResult{domain.RiskCritical, true,
			fmt.Sprintf("creation interval %.1fs is inhumanly fast", interval)}
	case interval > 0 && interval < e.cfg.MinInterval.Seconds():
		return checkResult{domain.RiskHigh, true,
			fmt.Sprintf("creation interval %.1fs below minimum %.0fs", interval, e.cfg.MinInterval.Seconds())}
	default:
		return checkResult{level: domain.RiskLow}
	}
}

// checkUserAgent User-Agent 启发式检查。
// 命中机器人特征直接 high；缺失 / unknown / 过短只是弱信号，
// 单独不拦截（medium）。
func (e *Engine) checkUserAgent(ua string) checkResult {
	lowered := strings.ToLower(ua)
	for _, marker := range botUserAgents {
		if strings.Contains(lowered, marker) {
			return checkResult{domain.RiskHigh, true,
				fmt.Sprintf("bot user-agent detected: %q", marker)}
		}
	}
	if ua == "" || ua == "unknown" || len(ua) < 20 {
		return checkResult{domain.RiskMedium, false, "missing or suspicious user-agent"}
	}
	return checkResult{level: domain.RiskLow}
}

// aggregate 聚合五路结果：
//   - 任一 high/critical → critical 拦截，reason 串联所有强信号；
//   - ≥2 个 medium → high 拦截（弱信号需要互相印证才拦截，
//     避免单一噪声启发式误杀）；
//   - 恰 1 个 medium → medium 不拦截；
//   - 否则 low。
func aggregate(results []checkResult) domain.Verdict {
	var strong, weak []string
	for _, r := range results {
		switch {
		case r.level.AtLeast(domain.RiskHigh):
			strong = append(strong, r.reason)
		case r.level == domain.RiskMedium:
			weak = append(weak, r.reason)
		}
	}

	switch {
	case len(strong) > 0:
		return domain.Verdict{
			IsBot:       true,
			Reason:      strings.Join(strong, "; "),
			RiskLevel:   domain.RiskCritical,
			ShouldBlock: true,
		}
	case len(weak) >= 2:
		return domain.Verdict{
			IsBot:       true,
			Reason:      strings.Join(weak, "; "),
			RiskLevel:   domain.RiskHigh,
			ShouldBlock: true,
		}
	case len(weak) == 1:
		return domain.Verdict{
			IsBot:       false,
			Reason:      weak[0],
			RiskLevel:   domain.RiskMedium,
			ShouldBlock: false,
		}
	default:
		return domain.Verdict{
			IsBot:       false,
			Reason:      "normal usage detected",
			RiskLevel:   domain.RiskLow,
			ShouldBlock: false,
		}
	}
}

// degraded 存储故障降级为 low 非拦截结果，附带诊断原因。
func degraded(check string, err error) checkResult {
	return checkResult{
		level:  domain.RiskLow,
		reason: fmt.Sprintf("%s check unavailable: %v", check, err),
	}
}

// logDetection 异步落库分析记录。写入失败只记日志，绝不影响放行决策。
// escalate 为真时在同一任务内于落库完成后执行累犯升级，
// 保证升级计数包含本次决策。
func (e *Engine) logDetection(signals Signals, verdict domain.Verdict, snap snapshot, escalate bool) {
	detection := &domain.Detection{
		ID:               uuid.NewString(),
		UserID:           signals.UserID,
		Fingerprint:      signals.Fingerprint,
		IPAddress:        signals.IPAddress,
		UserAgent:        signals.UserAgent,
		Reason:           verdict.Reason,
		RiskLevel:        verdict.RiskLevel,
		Blocked:          verdict.ShouldBlock,
		IntervalSeconds:  signals.IntervalSeconds,
		UserCount:        snap.userCount,
		FingerprintCount: snap.fingerprintCount,
		IPCount:          snap.ipCount,
		CreatedAt:        e.now().UTC(),
	}

	submitted := e.tasks.TrySubmit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.queryTimeout)
		defer cancel()
		if err := e.store.SaveDetection(ctx, detection); err != nil {
			e.log.Error("failed to persist detection record", zap.Error(err))
		}
		if escalate {
			e.escalate(signals.Fingerprint)
		}
	})
	if !submitted {
		e.log.Warn("detection log queue full, record dropped",
			zap.String("fingerprint", signals.Fingerprint),
		)
	}
}

// escalate 累犯升级：指纹在回溯窗口内累计 ≥N 次 critical 拦截时自动入封禁名单。
// 只在后台任务内、本次分析记录落库之后调用，计数因此包含当前决策。
func (e *Engine) escalate(fingerprint string) {
	if fingerprint == "" {
		return
	}
	now := e.now().UTC()

	ctx, cancel := context.WithTimeout(context.Background(), e.queryTimeout)
	defer cancel()

	violations, err := e.store.CountCriticalDetections(ctx, fingerprint, now.Add(-e.cfg.Lookback))
	if err != nil {
		e.log.Error("failed to count critical detections", zap.Error(err))
		return
	}
	if violations < e.cfg.BlockViolations {
		return
	}

	entry := &domain.BlockEntry{
		ID:         uuid.NewString(),
		EntityType: domain.BlockEntityFingerprint,
		Value:      fingerprint,
		Reason:     fmt.Sprintf("auto-blocked after %d critical violations in 24h", violations),
		RiskLevel:  domain.RiskCritical,
		CreatedBy:  "system",
		CreatedAt:  now,
	}
	if e.cfg.BlockTTL > 0 {
		expires := now.Add(e.cfg.BlockTTL)
		entry.ExpiresAt = &expires
	}
	if err := e.store.SaveBlockEntry(ctx, entry); err != nil {
		e.log.Error("failed to persist block entry", zap.Error(err))
		return
	}
	e.metrics.AutoBlocks.Inc()
	e.log.Warn("fingerprint auto-blocked",
		zap.String("fingerprint", fingerprint),
		zap.Int("violations", violations),
	)
}
