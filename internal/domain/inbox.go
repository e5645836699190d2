package domain

import (
	"time"
)

// Inbox 表示一次性临时邮箱的业务实体，创建后固定 10 分钟有效期。
type Inbox struct {
	ID          string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Address     string     `json:"address" gorm:"type:varchar(255);uniqueIndex"`
	LocalPart   string     `json:"localPart" gorm:"type:varchar(255)"`
	Domain      string     `json:"domain" gorm:"type:varchar(100);index"`
	Token       string     `json:"token" gorm:"type:varchar(255);uniqueIndex"`
	UserID      string     `json:"userId,omitempty" gorm:"type:varchar(64);index"` // 创建者账号标识（风控归因用）
	Fingerprint string     `json:"-" gorm:"type:varchar(128);index"`               // 设备指纹（风控归因用）
	IPSource    string     `json:"-" gorm:"type:varchar(64);index"`                // 来源 IP（风控归因用）
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   time.Time  `json:"expiresAt" gorm:"index"`
	IsActive    bool       `json:"isActive" gorm:"default:true"`
	TotalCount  int        `json:"totalCount" gorm:"-"`
	Unread      int        `json:"unread" gorm:"-"`
	LastMailAt  *time.Time `json:"lastMailAt,omitempty" gorm:"-"`
}

// Expired 判断邮箱是否已过期。过期时间优先于 IsActive 标志：
// 只要过期就视为不存在，即使标志位尚未翻转。
func (m *Inbox) Expired(now time.Time) bool {
	return now.After(m.ExpiresAt)
}
