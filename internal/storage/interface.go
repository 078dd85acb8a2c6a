package storage

import (
	"chatdeck/internal/model"
)

// Storage 按 session_id 保存服务端对话历史
type Storage interface {
	// 对话管理
	GetConversation(conversationID string) (*model.Conversation, error)
	DeleteConversation(conversationID string) error
	ListConversations() ([]*model.Conversation, error)

	// 消息管理；对话不存在时自动创建
	AppendMessages(conversationID string, messages ...*model.Message) error
	GetMessages(conversationID string) ([]*model.Message, error)

	// 存储管理
	Init() error
	Close() error
	Backup() error
}
