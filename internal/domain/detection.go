package domain

import "time"

// RiskLevel 风险等级，从低到高依次为 low < medium < high < critical。
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// riskOrder 风险等级排序表
var riskOrder = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// AtLeast 判断当前等级是否不低于给定等级。
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return riskOrder[r] >= riskOrder[other]
}

// Verdict 风控引擎对一次创建请求的裁决结果。
type Verdict struct {
	IsBot       bool      `json:"isBot"`
	Reason      string    `json:"reason"`
	RiskLevel   RiskLevel `json:"riskLevel"`
	ShouldBlock bool      `json:"shouldBlock"`
}

// Detection 一次风控裁决的分析记录。每次评估写入一条，只增不改，
// 仅用于离线分析与累犯升级，绝不反哺同一次请求的放行决策。
type Detection struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID      string    `json:"userId" gorm:"type:varchar(64);index"`
	Fingerprint string    `json:"fingerprint" gorm:"type:varchar(128);index"`
	IPAddress   string    `json:"ipAddress" gorm:"type:varchar(64);index"`
	UserAgent   string    `json:"userAgent" gorm:"type:varchar(500)"`
	Reason      string    `json:"reason" gorm:"type:text"`
	RiskLevel   RiskLevel `json:"riskLevel" gorm:"type:varchar(16);index"`
	Blocked     bool      `json:"blocked" gorm:"index"`
	// 创建间隔与决策时刻的实体计数快照
	IntervalSeconds  float64   `json:"intervalSeconds"`
	UserCount        int       `json:"userCount"`
	FingerprintCount int       `json:"fingerprintCount"`
	IPCount          int       `json:"ipCount"`
	CreatedAt        time.Time `json:"createdAt" gorm:"index"`
}

// BlockEntityType 封禁实体类型。
type BlockEntityType string

const (
	BlockEntityUser        BlockEntityType = "account"
	BlockEntityFingerprint BlockEntityType = "fingerprint"
	BlockEntityIP          BlockEntityType = "ip"
)

// BlockEntry 永久封禁条目。命中后所有后续请求直接判为 critical 并拒绝，
// 直到人工清除或配置的 TTL 到期（TTL 为零表示永不过期）。
type BlockEntry struct {
	ID         string          `json:"id" gorm:"primaryKey;type:varchar(36)"`
	EntityType BlockEntityType `json:"entityType" gorm:"type:varchar(16);index:idx_block_entity"`
	Value      string          `json:"value" gorm:"type:varchar(128);index:idx_block_entity"`
	Reason     string          `json:"reason" gorm:"type:text"`
	RiskLevel  RiskLevel       `json:"riskLevel" gorm:"type:varchar(16)"`
	CreatedBy  string          `json:"createdBy" gorm:"type:varchar(64)"` // "system" 表示自动升级封禁
	CreatedAt  time.Time       `json:"createdAt"`
	ExpiresAt  *time.Time      `json:"expiresAt,omitempty" gorm:"index"`
}
