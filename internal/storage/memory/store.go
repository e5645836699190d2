package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"onetimemail/backend/internal/domain"
)

var (
	ErrInboxNotFound   = errors.New("inbox not found")
	ErrMessageNotFound = errors.New("message not found")
)

// Store 使用内存保存邮箱、邮件与风控数据，主要用于开发验证与测试。
type Store struct {
	mu        sync.RWMutex
	inboxes   map[string]*domain.Inbox
	byAddress map[string]string
	messages  map[string]map[string]*domain.Message // inboxID -> messageID -> message

	// 风控数据
	detections []*domain.Detection
	blocks     map[string]*domain.BlockEntry // "type:value" -> entry

	// 速率限制相关
	rateLimits        map[string]*rateLimitEntry
	rateLimitsCleanup time.Time // 下次清理过期速率限制的时间
}

// rateLimitEntry 速率限制条目
type rateLimitEntry struct {
	Count     int64
	ExpiresAt time.Time
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		inboxes:           make(map[string]*domain.Inbox),
		byAddress:         make(map[string]string),
		messages:          make(map[string]map[string]*domain.Message),
		detections:        make([]*domain.Detection, 0),
		blocks:            make(map[string]*domain.BlockEntry),
		rateLimits:        make(map[string]*rateLimitEntry),
		rateLimitsCleanup: time.Now().Add(5 * time.Minute),
	}
}

// ========== Inbox Repository ==========

// SaveInbox 保存邮箱信息。
func (s *Store) SaveInbox(inbox *domain.Inbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inboxes[inbox.ID] = inbox
	s.byAddress[strings.ToLower(inbox.Address)] = inbox.ID
	return nil
}

// GetInbox 根据 ID 获取邮箱。
// 过期邮箱依然返回，由调用方决定过期语义（webhook 需要区分 404 与 410）。
func (s *Store) GetInbox(id string) (*domain.Inbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inbox, ok := s.inboxes[id]
	if !ok {
		return nil, ErrInboxNotFound
	}
	cloned := *inbox
	return &cloned, nil
}

// GetInboxByAddress 根据完整地址获取邮箱。
func (s *Store) GetInboxByAddress(address string) (*domain.Inbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byAddress[strings.ToLower(address)]
	if !ok {
		return nil, ErrInboxNotFound
	}
	inbox, ok := s.inboxes[id]
	if !ok {
		return nil, ErrInboxNotFound
	}
	cloned := *inbox
	return &cloned, nil
}

// ListInboxesByUserID 返回指定账号的全部邮箱快照。
func (s *Store) ListInboxesByUserID(userID string) []domain.Inbox {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Inbox, 0)
	for _, inbox := range s.inboxes {
		if inbox.UserID == userID {
			out = append(out, *inbox)
		}
	}
	return out
}

// UpdateInbox 更新邮箱（激活标志或延长有效期）。
func (s *Store) UpdateInbox(inbox *domain.Inbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inboxes[inbox.ID]; !ok {
		return ErrInboxNotFound
	}
	s.inboxes[inbox.ID] = inbox
	return nil
}

// DeleteInbox 删除邮箱及其全部邮件。
func (s *Store) DeleteInbox(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inbox, ok := s.inboxes[id]
	if !ok {
		return ErrInboxNotFound
	}
	delete(s.byAddress, strings.ToLower(inbox.Address))
	delete(s.inboxes, id)
	delete(s.messages, id)
	return nil
}

// DeleteExpiredInboxes 删除所有已过期的邮箱，返回删除数量。
func (s *Store) DeleteExpiredInboxes() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	count := 0
	for id, inbox := range s.inboxes {
		if inbox.Expired(now) {
			delete(s.byAddress, strings.ToLower(inbox.Address))
			delete(s.inboxes, id)
			delete(s.messages, id)
			count++
		}
	}
	return count, nil
}

// ========== Message Repository ==========

// SaveMessage 保存邮件。
func (s *Store) SaveMessage(message *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inboxes[message.InboxID]; !ok {
		return ErrInboxNotFound
	}
	if s.messages[message.InboxID] == nil {
		s.messages[message.InboxID] = make(map[string]*domain.Message)
	}
	s.messages[message.InboxID][message.ID] = message
	return nil
}

// ListMessages 返回邮箱内全部邮件，按接收时间升序。
func (s *Store) ListMessages(inboxID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.inboxes[inboxID]; !ok {
		return nil, ErrInboxNotFound
	}
	out := make([]domain.Message, 0, len(s.messages[inboxID]))
	for _, msg := range s.messages[inboxID] {
		out = append(out, *msg)
	}
	sortMessagesByReceivedAt(out)
	return out, nil
}

// GetMessage 获取单封邮件。
func (s *Store) GetMessage(inboxID, messageID string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[inboxID][messageID]
	if !ok {
		return nil, ErrMessageNotFound
	}
	cloned := *msg
	return &cloned, nil
}

// MarkMessageRead 标记邮件为已读。
func (s *Store) MarkMessageRead(inboxID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[inboxID][messageID]
	if !ok {
		return ErrMessageNotFound
	}
	msg.IsRead = true
	return nil
}

// ========== Detection Repository ==========

// SaveDetection 追加一条风控记录。
func (s *Store) SaveDetection(ctx context.Context, detection *domain.Detection) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cloned := *detection
	s.detections = append(s.detections, &cloned)
	return nil
}

// CountInboxesByFingerprint 统计指定指纹在时间窗内创建的邮箱数。
func (s *Store) CountInboxesByFingerprint(ctx context.Context, fingerprint string, since time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, inbox := range s.inboxes {
		if inbox.Fingerprint == fingerprint && !inbox.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// CountInboxesByIP 统计指定 IP 在时间窗内创建的邮箱数与去重账号数。
func (s *Store) CountInboxesByIP(ctx context.Context, ip string, since time.Time) (int, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	users := make(map[string]struct{})
	for _, inbox := range s.inboxes {
		if inbox.IPSource == ip && !inbox.CreatedAt.Before(since) {
			count++
			users[inbox.UserID] = struct{}{}
		}
	}
	return count, len(users), nil
}

// CountInboxesByUser 统计指定账号在时间窗内创建的邮箱数。
func (s *Store) CountInboxesByUser(ctx context.Context, userID string, since time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, inbox := range s.inboxes {
		if inbox.UserID == userID && !inbox.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// CountCriticalDetections 统计指定指纹在时间窗内被拦截的 critical 记录数。
func (s *Store) CountCriticalDetections(ctx context.Context, fingerprint string, since time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, d := range s.detections {
		if d.Fingerprint == fingerprint && d.RiskLevel == domain.RiskCritical && d.Blocked && !d.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// ========== Block Repository ==========

// SaveBlockEntry 保存封禁条目。同一实体重复封禁时覆盖旧条目。
func (s *Store) SaveBlockEntry(ctx context.Context, entry *domain.BlockEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cloned := *entry
	s.blocks[blockKey(entry.EntityType, entry.Value)] = &cloned
	return nil
}

// FindBlockEntry 查询封禁条目，未命中或条目已过期时返回 nil。
func (s *Store) FindBlockEntry(ctx context.Context, entityType domain.BlockEntityType, value string) (*domain.BlockEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.blocks[blockKey(entityType, value)]
	if !ok {
		return nil, nil
	}
	if entry.ExpiresAt != nil && time.Now().UTC().After(*entry.ExpiresAt) {
		return nil, nil
	}
	cloned := *entry
	return &cloned, nil
}

// DeleteExpiredBlockEntries 删除已过期的封禁条目，返回删除数量。
func (s *Store) DeleteExpiredBlockEntries(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for key, entry := range s.blocks {
		if entry.ExpiresAt != nil && now.After(*entry.ExpiresAt) {
			delete(s.blocks, key)
			count++
		}
	}
	return count, nil
}

// ========== Rate Limit Repository ==========

// IncrementRateLimit 在固定窗口内自增计数并返回当前值。
// 窗口过期后计数从 1 重新开始。
func (s *Store) IncrementRateLimit(key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.cleanupRateLimitsLocked(now)

	entry, ok := s.rateLimits[key]
	if !ok || now.After(entry.ExpiresAt) {
		s.rateLimits[key] = &rateLimitEntry{Count: 1, ExpiresAt: now.Add(window)}
		return 1, nil
	}
	entry.Count++
	return entry.Count, nil
}

// GetRateLimit 返回当前窗口的计数。
func (s *Store) GetRateLimit(key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.rateLimits[key]
	if !ok || time.Now().After(entry.ExpiresAt) {
		return 0, nil
	}
	return entry.Count, nil
}

// cleanupRateLimitsLocked 定期清理过期的速率限制条目。
func (s *Store) cleanupRateLimitsLocked(now time.Time) {
	if now.Before(s.rateLimitsCleanup) {
		return
	}
	for key, entry := range s.rateLimits {
		if now.After(entry.ExpiresAt) {
			delete(s.rateLimits, key)
		}
	}
	s.rateLimitsCleanup = now.Add(5 * time.Minute)
}

// ========== 工具方法 ==========

// Close 关闭存储。内存实现无需释放资源。
func (s *Store) Close() error {
	return nil
}

// Health 健康检查。
func (s *Store) Health() error {
	return nil
}

func blockKey(entityType domain.BlockEntityType, value string) string {
	return string(entityType) + ":" + value
}

// sortMessagesByReceivedAt 按接收时间升序排序（插入排序，邮件数量很小）。
func sortMessagesByReceivedAt(messages []domain.Message) {
	for i := 1; i < len(messages); i++ {
		for j := i; j > 0 && messages[j].ReceivedAt.Before(messages[j-1].ReceivedAt); j-- {
			messages[j], messages[j-1] = messages[j-1], messages[j]
		}
	}
}
