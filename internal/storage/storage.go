package storage

import (
	"context"
	"time"

	"onetimemail/backend/internal/domain"
)

// InboxRepository 定义邮箱数据存取操作。
type InboxRepository interface {
	SaveInbox(inbox *domain.Inbox) error
	GetInbox(id string) (*domain.Inbox, error)
	GetInboxByAddress(address string) (*domain.Inbox, error)
	ListInboxesByUserID(userID string) []domain.Inbox
	UpdateInbox(inbox *domain.Inbox) error
	DeleteInbox(id string) error
	DeleteExpiredInboxes() (int, error) // 删除过期邮箱，返回删除数量
}

// MessageRepository 定义邮件数据存取操作。
type MessageRepository interface {
	SaveMessage(message *domain.Message) error
	ListMessages(inboxID string) ([]domain.Message, error)
	GetMessage(inboxID, messageID string) (*domain.Message, error)
	MarkMessageRead(inboxID, messageID string) error
}

// DetectionRepository 定义风控记录与归因计数操作。
// 计数查询带 context 以便施加请求级超时。
type DetectionRepository interface {
	SaveDetection(ctx context.Context, detection *domain.Detection) error
	CountInboxesByFingerprint(ctx context.Context, fingerprint string, since time.Time) (int, error)
	CountInboxesByIP(ctx context.Context, ip string, since time.Time) (total int, distinctUsers int, err error)
	CountInboxesByUser(ctx context.Context, userID string, since time.Time) (int, error)
	CountCriticalDetections(ctx context.Context, fingerprint string, since time.Time) (int, error)
}

// BlockRepository 定义封禁名单操作。
type BlockRepository interface {
	SaveBlockEntry(ctx context.Context, entry *domain.BlockEntry) error
	FindBlockEntry(ctx context.Context, entityType domain.BlockEntityType, value string) (*domain.BlockEntry, error)
	DeleteExpiredBlockEntries(now time.Time) (int, error)
}

// RateLimitRepository 定义限流操作。
type RateLimitRepository interface {
	IncrementRateLimit(key string, window time.Duration) (int64, error)
	GetRateLimit(key string) (int64, error)
}

// Store 定义完整的存储接口。
type Store interface {
	InboxRepository
	MessageRepository
	DetectionRepository
	BlockRepository
	RateLimitRepository

	// 工具方法
	Close() error
	Health() error
}
