package mcpserver

import (
	"context"
	"errors"

	"chatdeck/internal/model"
	"chatdeck/internal/service"
	"chatdeck/pkg/logger"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// New 把对话和 playground 能力注册为 MCP 工具
func New(chatService *service.ChatService, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"chatdeck",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	chatTool := mcp.NewTool(
		"chat",
		mcp.WithDescription("Send a prompt to the chat model. Conversation history is kept per session_id."),
		mcp.WithString("prompt",
			mcp.Description("The user message"),
			mcp.Required(),
		),
		mcp.WithString("session_id",
			mcp.Description("Conversation key, defaults to \"default\""),
		),
		mcp.WithString("model",
			mcp.Description("Model ID, defaults to the configured chat model"),
		),
	)

	playgroundTool := mcp.NewTool(
		"playground",
		mcp.WithDescription("Run a single-shot playground task without history."),
		mcp.WithString("task",
			mcp.Description("Task type"),
			mcp.Enum(service.TaskSummarize, service.TaskExplainCode, service.TaskCreativeWriting),
			mcp.Required(),
		),
		mcp.WithString("input",
			mcp.Description("Input text for the task"),
			mcp.Required(),
		),
		mcp.WithString("model",
			mcp.Description("Model ID, defaults to the configured playground model"),
		),
	)

	h := &handlers{chatService: chatService}
	s.AddTool(chatTool, h.chat)
	s.AddTool(playgroundTool, h.playground)

	return s
}

// Serve 在 stdin/stdout 上运行 MCP 服务，直到输入关闭
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

type handlers struct {
	chatService *service.ChatService
}

func (h *handlers) chat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chatReq := &model.ChatRequest{
		Prompt:    req.GetString("prompt", ""),
		SessionID: req.GetString("session_id", ""),
		Model:     req.GetString("model", ""),
	}

	reply, err := h.chatService.Chat(ctx, chatReq)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(reply), nil
}

func (h *handlers) playground(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pgReq := &model.PlaygroundRequest{
		Task:  req.GetString("task", ""),
		Input: req.GetString("input", ""),
		Model: req.GetString("model", ""),
	}

	out, err := h.chatService.Playground(ctx, pgReq)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(out), nil
}

func toolError(err error) *mcp.CallToolResult {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		return mcp.NewToolResultError(verr.Message)
	}
	logger.Errorf("MCP tool call failed: %v", err)
	return mcp.NewToolResultError("Model request failed: " + err.Error())
}
