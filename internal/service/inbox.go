package service

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"onetimemail/backend/internal/abuse"
	"onetimemail/backend/internal/config"
	"onetimemail/backend/internal/domain"
	"onetimemail/backend/internal/storage"
	"onetimemail/backend/internal/storage/memory"
)

var (
	// ErrCreationBlocked 创建请求被风控引擎拦截
	ErrCreationBlocked = errors.New("creation blocked by abuse protection")
	// ErrInboxNotFound 邮箱不存在或已过期
	ErrInboxNotFound = errors.New("inbox not found")
)

// InboxService 封装一次性邮箱的业务操作。
// 每次创建先过风控引擎，拦截则直接拒绝。
type InboxService struct {
	store         storage.Store
	engine        *abuse.Engine
	cfg           *config.Config
	localAlphabet []rune
}

// NewInboxService 创建邮箱业务服务。
func NewInboxService(store storage.Store, engine *abuse.Engine, cfg *config.Config) *InboxService {
	return &InboxService{
		store:         store,
		engine:        engine,
		cfg:           cfg,
		localAlphabet: []rune("abcdefghijklmnopqrstuvwxyz0123456789"),
	}
}

// CreateInboxInput 定义创建邮箱所需的输入。
type CreateInboxInput struct {
	UserID          string
	Fingerprint     string
	IPSource        string
	UserAgent       string
	IntervalSeconds float64 // 距该客户端上次创建的间隔（秒）
}

// Create 创建新的一次性邮箱，固定 10 分钟有效期。
// 返回的 Verdict 始终有效；拦截时返回 ErrCreationBlocked，
// 调用方可用 Verdict.Reason 作出响应。
func (s *InboxService) Create(ctx context.Context, input CreateInboxInput) (*domain.Inbox, domain.Verdict, error) {
	verdict := s.engine.Evaluate(ctx, abuse.Signals{
		UserID:          input.UserID,
		Fingerprint:     input.Fingerprint,
		IPAddress:       input.IPSource,
		IntervalSeconds: input.IntervalSeconds,
		UserAgent:       input.UserAgent,
	})
	if verdict.ShouldBlock {
		return nil, verdict, ErrCreationBlocked
	}

	now := time.Now().UTC()
	localPart := s.generateLocalPart()
	inbox := &domain.Inbox{
		ID:          uuid.NewString(),
		Address:     fmt.Sprintf("%s@%s", localPart, s.cfg.Inbox.Domain),
		LocalPart:   localPart,
		Domain:      s.cfg.Inbox.Domain,
		Token:       generateToken(),
		UserID:      input.UserID,
		Fingerprint: input.Fingerprint,
		IPSource:    input.IPSource,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.Inbox.TTL),
		IsActive:    true,
	}

	if err := s.store.SaveInbox(inbox); err != nil {
		return nil, verdict, err
	}
	return inbox, verdict, nil
}

// Get 根据 ID 获取邮箱。过期邮箱视为不存在。
func (s *InboxService) Get(id string) (*domain.Inbox, error) {
	inbox, err := s.store.GetInbox(id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if inbox.Expired(time.Now().UTC()) {
		return nil, ErrInboxNotFound
	}
	return inbox, nil
}

// GetByAddress 根据完整地址获取邮箱。过期邮箱视为不存在。
func (s *InboxService) GetByAddress(address string) (*domain.Inbox, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		return nil, ErrInboxNotFound
	}
	inbox, err := s.store.GetInboxByAddress(address)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if inbox.Expired(time.Now().UTC()) {
		return nil, ErrInboxNotFound
	}
	return inbox, nil
}

// ListByUserID 返回指定账号的全部未过期邮箱。
func (s *InboxService) ListByUserID(userID string) []domain.Inbox {
	now := time.Now().UTC()
	all := s.store.ListInboxesByUserID(userID)
	out := make([]domain.Inbox, 0, len(all))
	for _, inbox := range all {
		if !inbox.Expired(now) {
			out = append(out, inbox)
		}
	}
	return out
}

// Extend 延长邮箱有效期。
func (s *InboxService) Extend(id string, d time.Duration) (*domain.Inbox, error) {
	inbox, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	inbox.ExpiresAt = inbox.ExpiresAt.Add(d)
	if err := s.store.UpdateInbox(inbox); err != nil {
		return nil, mapNotFound(err)
	}
	return inbox, nil
}

// SetActive 切换邮箱激活状态。
func (s *InboxService) SetActive(id string, active bool) (*domain.Inbox, error) {
	inbox, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	inbox.IsActive = active
	if err := s.store.UpdateInbox(inbox); err != nil {
		return nil, mapNotFound(err)
	}
	return inbox, nil
}

// Delete 删除指定邮箱。
func (s *InboxService) Delete(id string) error {
	if err := s.store.DeleteInbox(id); err != nil {
		return mapNotFound(err)
	}
	return nil
}

// generateLocalPart 生成固定长度的小写字母数字本地部分。
// 地址本身是公开标识（访问控制靠令牌），普通随机数即可。
func (s *InboxService) generateLocalPart() string {
	b := make([]rune, s.cfg.Inbox.AddressLen)
	for i := range b {
		b[i] = s.localAlphabet[rand.Intn(len(s.localAlphabet))]
	}
	return string(b)
}

// generateToken 生成邮箱访问令牌。令牌是凭据，必须用加密随机源。
func generateToken() string {
	b := make([]byte, 16)
	if _, err := cryptorand.Read(b); err != nil {
		// crypto/rand 读取失败说明系统随机源已不可用，无法安全继续
		panic(fmt.Sprintf("failed to read random bytes: %v", err))
	}
	return hex.EncodeToString(b)
}

// mapNotFound 统一存储层的未找到错误。
func mapNotFound(err error) error {
	if errors.Is(err, memory.ErrInboxNotFound) {
		return ErrInboxNotFound
	}
	return err
}
