package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"chatdeck/internal/config"
	"chatdeck/internal/model"
	"chatdeck/internal/storage"
	"chatdeck/pkg/logger"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
)

const DefaultSessionID = "default"

// ValidationError 请求参数错误，Message 原样返回给前端
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

type ChatService struct {
	storage    storage.Storage
	chatModel  einoModel.BaseChatModel
	chatPrompt prompt.ChatTemplate
	cfg        *config.Config
}

func NewChatService(cfg *config.Config, chatModel einoModel.BaseChatModel, store storage.Storage) *ChatService {
	return &ChatService{
		storage:    store,
		chatModel:  chatModel,
		chatPrompt: newChatPrompt(cfg.Agent.SystemPrompt),
		cfg:        cfg,
	}
}

// Start 启动过期对话清理和定时备份，ctx 结束时退出
func (s *ChatService) Start(ctx context.Context) {
	if s.cfg.Session.CleanupInterval > 0 && s.cfg.Session.TTL > 0 {
		go s.cleanupOldConversations(ctx)
	}
	if s.cfg.Storage.BackupInterval > 0 {
		go s.backupLoop(ctx)
	}
}

func (s *ChatService) chatModelName(requested string) string {
	if requested != "" {
		return requested
	}
	return s.cfg.LLM.ChatModel
}

// buildMessages 读取历史并套用对话模板
func (s *ChatService) buildMessages(ctx context.Context, sessionID, userPrompt string) ([]*schema.Message, error) {
	history, err := s.historyMessages(sessionID)
	if err != nil {
		return nil, err
	}

	return s.chatPrompt.Format(ctx, map[string]any{
		"message_histories": history,
		"prompt":            userPrompt,
	})
}

func (s *ChatService) historyMessages(sessionID string) ([]*schema.Message, error) {
	messages, err := s.storage.GetMessages(sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrConversationNotFound) {
			return []*schema.Message{}, nil
		}
		return nil, fmt.Errorf("failed to get messages from storage: %w", err)
	}

	maxMessages := s.cfg.Agent.MaxHistoryMessages
	startIdx := 0
	if maxMessages > 0 && len(messages) > maxMessages {
		startIdx = len(messages) - maxMessages
	}

	result := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		role := schema.User
		if msg.Role == model.RoleAssistant {
			role = schema.Assistant
		}
		result = append(result, &schema.Message{Role: role, Content: msg.Content})
	}

	return result, nil
}

// NormalizeChatRequest 校验 prompt 并补全默认 session_id
func NormalizeChatRequest(req *model.ChatRequest) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return &ValidationError{Message: "Prompt is required"}
	}
	if req.SessionID == "" {
		req.SessionID = DefaultSessionID
	}
	return nil
}

// Chat 带历史的一问一答；模型失败时本轮对话不入库
func (s *ChatService) Chat(ctx context.Context, req *model.ChatRequest) (string, error) {
	if err := NormalizeChatRequest(req); err != nil {
		return "", err
	}

	modelName := s.chatModelName(req.Model)
	messages, err := s.buildMessages(ctx, req.SessionID, req.Prompt)
	if err != nil {
		return "", err
	}

	start := time.Now()
	resp, err := s.chatModel.Generate(ctx, messages, einoModel.WithModel(modelName))
	if err != nil {
		return "", fmt.Errorf("model %s: %w", modelName, err)
	}

	logger.WithFields(map[string]interface{}{
		"session_id": req.SessionID,
		"model":      modelName,
		"history":    len(messages) - 1,
		"elapsed":    time.Since(start).String(),
	}).Info("chat completed")

	s.recordTurn(req.SessionID, req.Prompt, resp.Content)
	return resp.Content, nil
}

// StreamChat 真实的逐 token 流式输出，结束后整轮写入历史
func (s *ChatService) StreamChat(ctx context.Context, req *model.ChatRequest) (<-chan model.StreamChunk, <-chan error) {
	respChan := make(chan model.StreamChunk, 100)
	errChan := make(chan error, 1)

	go func() {
		defer close(respChan)
		defer close(errChan)

		if err := NormalizeChatRequest(req); err != nil {
			errChan <- err
			return
		}

		modelName := s.chatModelName(req.Model)
		messages, err := s.buildMessages(ctx, req.SessionID, req.Prompt)
		if err != nil {
			errChan <- err
			return
		}

		stream, err := s.chatModel.Stream(ctx, messages, einoModel.WithModel(modelName))
		if err != nil {
			errChan <- fmt.Errorf("model %s: %w", modelName, err)
			return
		}
		defer stream.Close()

		var fullContent strings.Builder
		messageID := uuid.New().String()

		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				s.recordTurn(req.SessionID, req.Prompt, fullContent.String())
				return
			}
			if err != nil {
				errChan <- err
				return
			}

			if chunk.Content == "" {
				continue
			}
			fullContent.WriteString(chunk.Content)

			select {
			case respChan <- model.StreamChunk{
				SessionID: req.SessionID,
				MessageID: messageID,
				Content:   chunk.Content,
				Role:      model.RoleAssistant,
				Timestamp: time.Now().Unix(),
			}:
			case <-ctx.Done():
				errChan <- ctx.Err()
				return
			}
		}
	}()

	return respChan, errChan
}

func (s *ChatService) recordTurn(sessionID, userPrompt, reply string) {
	now := time.Now()
	err := s.storage.AppendMessages(sessionID,
		&model.Message{
			ID:             uuid.New().String(),
			ConversationID: sessionID,
			Role:           model.RoleUser,
			Content:        userPrompt,
			Timestamp:      now,
		},
		&model.Message{
			ID:             uuid.New().String(),
			ConversationID: sessionID,
			Role:           model.RoleAssistant,
			Content:        reply,
			Timestamp:      now,
		},
	)
	if err != nil {
		logger.Errorf("Failed to save turn for session %s: %v", sessionID, err)
	}
}

// Playground 单轮任务，不保存历史
func (s *ChatService) Playground(ctx context.Context, req *model.PlaygroundRequest) (string, error) {
	if strings.TrimSpace(req.Input) == "" {
		return "", &ValidationError{Message: "Input text is required"}
	}
	if req.Task == "" {
		return "", &ValidationError{Message: "Task type is required"}
	}

	modelName := req.Model
	if modelName == "" {
		modelName = s.cfg.LLM.PlaygroundModel
	}

	messages, err := formatPlaygroundPrompt(ctx, req.Task, req.Input)
	if err != nil {
		return "", fmt.Errorf("failed to format %s prompt: %w", req.Task, err)
	}

	resp, err := s.chatModel.Generate(ctx, messages, einoModel.WithModel(modelName))
	if err != nil {
		return "", fmt.Errorf("model %s: %w", modelName, err)
	}

	return resp.Content, nil
}

func (s *ChatService) History(sessionID string) ([]model.Message, error) {
	messages, err := s.storage.GetMessages(sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrConversationNotFound) {
			return nil, fmt.Errorf("session not found: %s: %w", sessionID, err)
		}
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}

	result := make([]model.Message, len(messages))
	for i, msg := range messages {
		result[i] = *msg
	}
	return result, nil
}

func (s *ChatService) DeleteHistory(sessionID string) error {
	if err := s.storage.DeleteConversation(sessionID); err != nil {
		if errors.Is(err, storage.ErrConversationNotFound) {
			return fmt.Errorf("session not found: %s: %w", sessionID, err)
		}
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *ChatService) Models() []config.ModelOption {
	return s.cfg.LLM.Models
}

// GetStorage 返回存储实例，用于关闭和备份
func (s *ChatService) GetStorage() storage.Storage {
	return s.storage
}

func (s *ChatService) cleanupOldConversations(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Session.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CleanupExpired(time.Now())
		}
	}
}

// CleanupExpired 删除 now-TTL 之前未更新的对话，返回删除数量
func (s *ChatService) CleanupExpired(now time.Time) int {
	conversations, err := s.storage.ListConversations()
	if err != nil {
		logger.Errorf("Failed to list conversations for cleanup: %v", err)
		return 0
	}

	removed := 0
	cutoff := now.Add(-s.cfg.Session.TTL)
	for _, conv := range conversations {
		if !conv.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := s.storage.DeleteConversation(conv.ID); err != nil {
			logger.Errorf("Failed to delete expired conversation %s: %v", conv.ID, err)
			continue
		}
		removed++
		logger.Infof("Cleaned up expired conversation: %s", conv.ID)
	}
	return removed
}

func (s *ChatService) backupLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Storage.BackupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.storage.Backup(); err != nil {
				logger.Errorf("Backup failed: %v", err)
			}
		}
	}
}
