package storage

import (
	"sort"
	"sync"
	"time"

	"chatdeck/internal/model"
)

type MemoryStorage struct {
	conversations map[string]*model.Conversation
	mu            sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		conversations: make(map[string]*model.Conversation),
	}
}

func (m *MemoryStorage) Init() error {
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

func (m *MemoryStorage) Backup() error {
	return nil
}

func (m *MemoryStorage) GetConversation(conversationID string) (*model.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, exists := m.conversations[conversationID]
	if !exists {
		return nil, ErrConversationNotFound
	}

	return cloneConversation(conv), nil
}

func (m *MemoryStorage) DeleteConversation(conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conversations[conversationID]; !exists {
		return ErrConversationNotFound
	}

	delete(m.conversations, conversationID)
	return nil
}

func (m *MemoryStorage) ListConversations() ([]*model.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conversations := make([]*model.Conversation, 0, len(m.conversations))
	for _, conv := range m.conversations {
		conversations = append(conversations, &model.Conversation{
			ID:        conv.ID,
			CreatedAt: conv.CreatedAt,
			UpdatedAt: conv.UpdatedAt,
		})
	}

	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].UpdatedAt.After(conversations[j].UpdatedAt)
	})

	return conversations, nil
}

func (m *MemoryStorage) AppendMessages(conversationID string, messages ...*model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	conv, exists := m.conversations[conversationID]
	if !exists {
		conv = &model.Conversation{
			ID:        conversationID,
			Messages:  make([]model.Message, 0, len(messages)),
			CreatedAt: now,
		}
		m.conversations[conversationID] = conv
	}

	for _, msg := range messages {
		conv.Messages = append(conv.Messages, *msg)
	}
	conv.UpdatedAt = now

	return nil
}

func (m *MemoryStorage) GetMessages(conversationID string) ([]*model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, exists := m.conversations[conversationID]
	if !exists {
		return nil, ErrConversationNotFound
	}

	return messagePointers(conv.Messages), nil
}

func cloneConversation(conv *model.Conversation) *model.Conversation {
	c := *conv
	c.Messages = append([]model.Message(nil), conv.Messages...)
	return &c
}

func messagePointers(messages []model.Message) []*model.Message {
	result := make([]*model.Message, len(messages))
	for i := range messages {
		msg := messages[i]
		result[i] = &msg
	}
	return result
}
