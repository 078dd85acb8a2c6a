package mcpserver

import (
	"context"
	"errors"
	"testing"

	"chatdeck/internal/config"
	"chatdeck/internal/model/modeltest"
	"chatdeck/internal/service"
	"chatdeck/internal/storage"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandlers(fake *modeltest.FakeChatModel) *handlers {
	cfg := &config.Config{LLM: config.LLMConfig{ChatModel: "chat-model", PlaygroundModel: "pg-model"}}
	return &handlers{chatService: service.NewChatService(cfg, fake, storage.NewMemoryStorage())}
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestChatTool(t *testing.T) {
	fake := &modeltest.FakeChatModel{Reply: "hello back"}
	h := newHandlers(fake)

	res, err := h.chat(context.Background(), callRequest(map[string]any{"prompt": "hello", "session_id": "mcp"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "hello back", resultText(t, res))

	call, _ := fake.LastCall()
	assert.Equal(t, "chat-model", call.Model)
}

func TestChatTool_Errors(t *testing.T) {
	h := newHandlers(&modeltest.FakeChatModel{Err: errors.New("boom")})

	res, err := h.chat(context.Background(), callRequest(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "Prompt is required", resultText(t, res))

	res, err = h.chat(context.Background(), callRequest(map[string]any{"prompt": "x"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "boom")
}

func TestPlaygroundTool(t *testing.T) {
	fake := &modeltest.FakeChatModel{Reply: "explained"}
	h := newHandlers(fake)

	res, err := h.playground(context.Background(), callRequest(map[string]any{"task": "explain-code", "input": "two sum"}))
	require.NoError(t, err)
	assert.Equal(t, "explained", resultText(t, res))

	call, _ := fake.LastCall()
	assert.Equal(t, "pg-model", call.Model)
	assert.Contains(t, call.Messages[0].Content, "Explain the coding problem: two sum")
}

func TestNewRegistersTools(t *testing.T) {
	s := New(service.NewChatService(&config.Config{}, &modeltest.FakeChatModel{}, storage.NewMemoryStorage()), "test")
	assert.NotNil(t, s)
}
