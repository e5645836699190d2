package httptransport

import (
	"onetimemail/backend/internal/service"
	"onetimemail/backend/internal/storage/memory"
)

// 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = map[error]string{
	// Inbox 错误
	service.ErrInboxNotFound:   "邮箱不存在或已过期",
	service.ErrCreationBlocked: "请求被风控系统拦截",
	memory.ErrInboxNotFound:    "邮箱不存在",

	// Message 错误
	service.ErrMessageNotFound: "邮件不存在",
	memory.ErrMessageNotFound:  "邮件不存在",
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	if msg, ok := errorMessages[err]; ok {
		return msg
	}
	return err.Error()
}

// 通用错误消息
const (
	// 请求相关
	MsgInvalidRequest  = "请求参数格式错误"
	MsgInvalidDuration = "时长格式无效"

	// 邮箱相关
	MsgInboxCreateFailed = "创建邮箱失败"
	MsgInboxNotFound     = "邮箱不存在或已过期"
	MsgInboxDeleteFailed = "删除邮箱失败"
	MsgInboxExtendFailed = "延长有效期失败"

	// 邮件相关
	MsgMessageNotFound       = "邮件不存在"
	MsgMessageListFailed     = "获取邮件列表失败"
	MsgMessageMarkReadFailed = "标记已读失败"
	MsgMessageGetFailed      = "获取邮件详情失败"

	// 风控相关
	MsgCreationBlocked = "检测到异常行为，创建请求已被拦截"

	// 服务器错误
	MsgInternalError = "服务器内部错误，请稍后重试"
)
