package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"chatdeck/internal/model"
	"chatdeck/internal/service"
	"chatdeck/internal/storage"
	"chatdeck/internal/utils"
	"chatdeck/pkg/logger"

	"github.com/gin-gonic/gin"
)

// streamTimeout 单次流式请求的最长处理时间
const streamTimeout = 10 * time.Minute

type ChatHandler struct {
	chatService *service.ChatService
}

func NewChatHandler(chatService *service.ChatService) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
	}
}

// writeError 把 service 层错误映射为状态码：参数错误 400，会话不存在 404，模型失败 502
func writeError(c *gin.Context, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: verr.Message})
	case errors.Is(err, storage.ErrConversationNotFound):
		c.JSON(http.StatusNotFound, model.ErrorResponse{Error: err.Error()})
	default:
		c.JSON(http.StatusBadGateway, model.ErrorResponse{Error: err.Error()})
	}
}

func (h *ChatHandler) Chat(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: err.Error()})
		return
	}

	reply, err := h.chatService.Chat(c.Request.Context(), &req)
	if err != nil {
		logger.Errorf("Chat failed for session %s: %v", req.SessionID, err)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.ChatResponse{ResponseText: reply})
}

func (h *ChatHandler) StreamChat(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: err.Error()})
		return
	}
	// 开始推送后状态码就固定为 200，参数错误要在这之前返回
	if err := service.NormalizeChatRequest(&req); err != nil {
		writeError(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), streamTimeout)
	defer cancel()

	// server.write_timeout 限制整个响应，流式响应把写超时放宽到 streamTimeout
	rc := http.NewResponseController(c.Writer)
	if err := rc.SetWriteDeadline(time.Now().Add(streamTimeout)); err != nil {
		logger.Debugf("Cannot extend write deadline for stream: %v", err)
	}

	sseWriter := utils.NewSSEWriter(c.Writer)
	respChan, errChan := h.chatService.StreamChat(ctx, &req)

	for {
		select {
		case chunk, ok := <-respChan:
			if !ok {
				// respChan 关闭后 errChan 里可能还有错误
				if err := <-errChan; err != nil {
					logger.Errorf("Stream chat failed for session %s: %v", req.SessionID, err)
					sseWriter.WriteJSON("error", model.ErrorResponse{Error: err.Error()})
				}
				sseWriter.Close()
				return
			}

			if err := sseWriter.WriteJSON("message", chunk); err != nil {
				logger.Errorf("Failed to write SSE: %v", err)
				return
			}

		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				sseWriter.WriteJSON("error", model.ErrorResponse{Error: "stream timed out"})
			}
			sseWriter.Close()
			return
		}
	}
}

func (h *ChatHandler) Playground(c *gin.Context) {
	var req model.PlaygroundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.PlaygroundResponse{Error: err.Error()})
		return
	}

	out, err := h.chatService.Playground(c.Request.Context(), &req)
	if err != nil {
		logger.Errorf("Playground task %q failed: %v", req.Task, err)
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, model.PlaygroundResponse{Error: verr.Message})
			return
		}
		c.JSON(http.StatusBadGateway, model.PlaygroundResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, model.PlaygroundResponse{Response: out})
}

func (h *ChatHandler) GetHistory(c *gin.Context) {
	sessionID := c.Param("session_id")

	messages, err := h.chatService.History(sessionID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.HistoryResponse{
		SessionID: sessionID,
		Messages:  messages,
	})
}

func (h *ChatHandler) DeleteHistory(c *gin.Context) {
	sessionID := c.Param("session_id")

	if err := h.chatService.DeleteHistory(sessionID); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "History deleted successfully"})
}

func (h *ChatHandler) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": h.chatService.Models()})
}
