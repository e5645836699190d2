package sql

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"onetimemail/backend/internal/domain"
	"onetimemail/backend/internal/storage/memory"
)

// Store SQL 数据库存储实现（支持 MySQL 5.7+ 和 PostgreSQL）
type Store struct {
	db         *sql.DB
	gorm       *gorm.DB
	driverName string // "mysql" or "postgres"

	// 速率限制计数器保持进程内存实现：生产多实例部署应配置 Redis，
	// 单实例 + SQL 的场合进程内计数已足够。
	mu                sync.Mutex
	rateLimits        map[string]*rateLimitEntry
	rateLimitsCleanup time.Time
}

type rateLimitEntry struct {
	Count     int64
	ExpiresAt time.Time
}

// NewStore 创建 SQL 数据库存储并执行自动迁移。
func NewStore(
	driverName string,
	dsn string,
	maxOpenConns int,
	maxIdleConns int,
	connMaxLifetime time.Duration,
) (*Store, error) {
	if driverName != "mysql" && driverName != "postgres" {
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres)", driverName)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var gormDB *gorm.DB
	if driverName == "mysql" {
		gormDB, err = gorm.Open(mysql.New(mysql.Config{Conn: db}), gormConfig)
	} else {
		gormDB, err = gorm.Open(postgres.New(postgres.Config{Conn: db}), gormConfig)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize GORM: %w", err)
	}

	store := &Store{
		db:                db,
		gorm:              gormDB,
		driverName:        driverName,
		rateLimits:        make(map[string]*rateLimitEntry),
		rateLimitsCleanup: time.Now().Add(5 * time.Minute),
	}

	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Migrate 自动建表。
func (s *Store) Migrate() error {
	return s.gorm.AutoMigrate(
		&domain.Inbox{},
		&domain.Message{},
		&domain.Detection{},
		&domain.BlockEntry{},
	)
}

// ========== Inbox Repository ==========

func (s *Store) SaveInbox(inbox *domain.Inbox) error {
	return s.gorm.Create(inbox).Error
}

func (s *Store) GetInbox(id string) (*domain.Inbox, error) {
	var inbox domain.Inbox
	if err := s.gorm.First(&inbox, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, memory.ErrInboxNotFound
		}
		return nil, err
	}
	return &inbox, nil
}

func (s *Store) GetInboxByAddress(address string) (*domain.Inbox, error) {
	var inbox domain.Inbox
	if err := s.gorm.First(&inbox, "address = ?", address).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, memory.ErrInboxNotFound
		}
		return nil, err
	}
	return &inbox, nil
}

func (s *Store) ListInboxesByUserID(userID string) []domain.Inbox {
	var inboxes []domain.Inbox
	s.gorm.Where("user_id = ?", userID).Order("created_at DESC").Find(&inboxes)
	return inboxes
}

func (s *Store) UpdateInbox(inbox *domain.Inbox) error {
	result := s.gorm.Model(&domain.Inbox{}).Where("id = ?", inbox.ID).
		Updates(map[string]any{
			"is_active":  inbox.IsActive,
			"expires_at": inbox.ExpiresAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return memory.ErrInboxNotFound
	}
	return nil
}

func (s *Store) DeleteInbox(id string) error {
	return s.gorm.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("inbox_id = ?", id).Delete(&domain.Message{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&domain.Inbox{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return memory.ErrInboxNotFound
		}
		return nil
	})
}

func (s *Store) DeleteExpiredInboxes() (int, error) {
	var count int
	err := s.gorm.Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		var ids []string
		if err := tx.Model(&domain.Inbox{}).Where("expires_at < ?", now).Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("inbox_id IN ?", ids).Delete(&domain.Message{}).Error; err != nil {
			return err
		}
		result := tx.Where("id IN ?", ids).Delete(&domain.Inbox{})
		if result.Error != nil {
			return result.Error
		}
		count = int(result.RowsAffected)
		return nil
	})
	return count, err
}

// ========== Message Repository ==========

func (s *Store) SaveMessage(message *domain.Message) error {
	return s.gorm.Create(message).Error
}

func (s *Store) ListMessages(inboxID string) ([]domain.Message, error) {
	var messages []domain.Message
	err := s.gorm.Where("inbox_id = ?", inboxID).Order("received_at ASC").Find(&messages).Error
	return messages, err
}

func (s *Store) GetMessage(inboxID, messageID string) (*domain.Message, error) {
	var message domain.Message
	if err := s.gorm.First(&message, "inbox_id = ? AND id = ?", inboxID, messageID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, memory.ErrMessageNotFound
		}
		return nil, err
	}
	return &message, nil
}

func (s *Store) MarkMessageRead(inboxID, messageID string) error {
	result := s.gorm.Model(&domain.Message{}).
		Where("inbox_id = ? AND id = ?", inboxID, messageID).
		Update("is_read", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return memory.ErrMessageNotFound
	}
	return nil
}

// ========== Detection Repository ==========

func (s *Store) SaveDetection(ctx context.Context, detection *domain.Detection) error {
	return s.gorm.WithContext(ctx).Create(detection).Error
}

func (s *Store) CountInboxesByFingerprint(ctx context.Context, fingerprint string, since time.Time) (int, error) {
	var count int64
	err := s.gorm.WithContext(ctx).Model(&domain.Inbox{}).
		Where("fingerprint = ? AND created_at >= ?", fingerprint, since).
		Count(&count).Error
	return int(count), err
}

func (s *Store) CountInboxesByIP(ctx context.Context, ip string, since time.Time) (int, int, error) {
	var total int64
	if err := s.gorm.WithContext(ctx).Model(&domain.Inbox{}).
		Where("ip_source = ? AND created_at >= ?", ip, since).
		Count(&total).Error; err != nil {
		return 0, 0, err
	}

	var users int64
	if err := s.gorm.WithContext(ctx).Model(&domain.Inbox{}).
		Where("ip_source = ? AND created_at >= ?", ip, since).
		Distinct("user_id").
		Count(&users).Error; err != nil {
		return 0, 0, err
	}
	return int(total), int(users), nil
}

func (s *Store) CountInboxesByUser(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int64
	err := s.gorm.WithContext(ctx).Model(&domain.Inbox{}).
		Where("user_id = ? AND created_at >= ?", userID, since).
		Count(&count).Error
	return int(count), err
}

func (s *Store) CountCriticalDetections(ctx context.Context, fingerprint string, since time.Time) (int, error) {
	var count int64
	err := s.gorm.WithContext(ctx).Model(&domain.Detection{}).
		Where("fingerprint = ? AND risk_level = ? AND blocked = ? AND created_at >= ?",
			fingerprint, domain.RiskCritical, true, since).
		Count(&count).Error
	return int(count), err
}

// ========== Block Repository ==========

func (s *Store) SaveBlockEntry(ctx context.Context, entry *domain.BlockEntry) error {
	return s.gorm.WithContext(ctx).Create(entry).Error
}

func (s *Store) FindBlockEntry(ctx context.Context, entityType domain.BlockEntityType, value string) (*domain.BlockEntry, error) {
	var entry domain.BlockEntry
	err := s.gorm.WithContext(ctx).
		Where("entity_type = ? AND value = ?", entityType, value).
		Where("expires_at IS NULL OR expires_at > ?", time.Now().UTC()).
		Order("created_at DESC").
		First(&entry).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Store) DeleteExpiredBlockEntries(now time.Time) (int, error) {
	result := s.gorm.
		Where("expires_at IS NOT NULL AND expires_at < ?", now).
		Delete(&domain.BlockEntry{})
	return int(result.RowsAffected), result.Error
}

// ========== Rate Limit Repository ==========

func (s *Store) IncrementRateLimit(key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if now.After(s.rateLimitsCleanup) {
		for k, entry := range s.rateLimits {
			if now.After(entry.ExpiresAt) {
				delete(s.rateLimits, k)
			}
		}
		s.rateLimitsCleanup = now.Add(5 * time.Minute)
	}

	entry, ok := s.rateLimits[key]
	if !ok || now.After(entry.ExpiresAt) {
		s.rateLimits[key] = &rateLimitEntry{Count: 1, ExpiresAt: now.Add(window)}
		return 1, nil
	}
	entry.Count++
	return entry.Count, nil
}

func (s *Store) GetRateLimit(key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.rateLimits[key]
	if !ok || time.Now().After(entry.ExpiresAt) {
		return 0, nil
	}
	return entry.Count, nil
}

// ========== 工具方法 ==========

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Health() error {
	return s.db.Ping()
}
