package service

import (
	"errors"

	"onetimemail/backend/internal/domain"
	"onetimemail/backend/internal/storage"
	"onetimemail/backend/internal/storage/memory"
)

// ErrMessageNotFound 邮件不存在
var ErrMessageNotFound = errors.New("message not found")

// MessageService 封装邮件读取相关业务操作。
// 邮件只能由通过验证的入站 Webhook 写入，这里不提供创建入口。
type MessageService struct {
	store storage.Store
}

// NewMessageService 创建邮件业务服务。
func NewMessageService(store storage.Store) *MessageService {
	return &MessageService{store: store}
}

// List 返回邮箱内全部邮件。
func (s *MessageService) List(inboxID string) ([]domain.Message, error) {
	messages, err := s.store.ListMessages(inboxID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return messages, nil
}

// Get 获取单封邮件详情。
func (s *MessageService) Get(inboxID, messageID string) (*domain.Message, error) {
	message, err := s.store.GetMessage(inboxID, messageID)
	if err != nil {
		if errors.Is(err, memory.ErrMessageNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, mapNotFound(err)
	}
	return message, nil
}

// MarkRead 标记邮件为已读。
func (s *MessageService) MarkRead(inboxID, messageID string) error {
	if err := s.store.MarkMessageRead(inboxID, messageID); err != nil {
		if errors.Is(err, memory.ErrMessageNotFound) {
			return ErrMessageNotFound
		}
		return mapNotFound(err)
	}
	return nil
}
