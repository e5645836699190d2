package domain

import "time"

// Message 表示一封投递到临时邮箱内的邮件。
type Message struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	InboxID    string    `json:"inboxId" gorm:"type:varchar(36);index;not null"`
	From       string    `json:"from" gorm:"type:varchar(255)"`
	To         string    `json:"to" gorm:"type:varchar(255)"`
	Subject    string    `json:"subject" gorm:"type:varchar(500)"`
	Text       string    `json:"text,omitempty" gorm:"type:text"`
	HTML       string    `json:"html,omitempty" gorm:"type:text"`
	ReceivedAt time.Time `json:"receivedAt"`
	IsRead     bool      `json:"isRead" gorm:"default:false;index"`
	SizeBytes  int       `json:"sizeBytes"` // 按 UTF-16 存储估算（字符数 × 2）
	// 附件与原始头（不入关系表，序列化为 JSON）
	Attachments []Attachment      `json:"attachments,omitempty" gorm:"serializer:json;type:json"`
	Headers     map[string]string `json:"headers,omitempty" gorm:"serializer:json;type:json"`
}

// Attachment 表示邮件附件的元信息。
type Attachment struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}
