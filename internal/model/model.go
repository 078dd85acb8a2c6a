package model

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"chatdeck/internal/config"
	"chatdeck/internal/utils"
	"chatdeck/pkg/logger"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/qwen"
	einoModel "github.com/cloudwego/eino/components/model"
)

const GroqBaseURL = "https://api.groq.com/openai/v1"

// NewChatModel 按 provider 创建对话模型
func NewChatModel(ctx context.Context, cfg config.LLMConfig) (einoModel.BaseChatModel, error) {
	logger.Infof("Using %s model provider, default model: %s, api key: %s", providerName(cfg.Provider), cfg.ChatModel, maskKey(cfg.APIKey))

	switch cfg.Provider {
	case "", "groq":
		if cfg.BaseURL == "" {
			cfg.BaseURL = GroqBaseURL
		}
		return newOpenAIChatModel(cfg, newHTTPClient(cfg)), nil
	case "openai":
		return newOpenAIChatModel(cfg, newHTTPClient(cfg)), nil
	case "ark":
		return ark.NewChatModel(ctx, &ark.ChatModelConfig{
			APIKey: cfg.APIKey,
			Model:  cfg.ChatModel,
		})
	case "qwen":
		return qwen.NewChatModel(ctx, &qwen.ChatModelConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.ChatModel,
			MaxTokens:   &cfg.MaxTokens,
			Temperature: &cfg.Temperature,
			TopP:        &cfg.TopP,
			Timeout:     cfg.Timeout,
			HTTPClient:  newHTTPClient(cfg),
		})
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.Provider)
	}
}

func providerName(p string) string {
	if p == "" {
		return "groq"
	}
	return p
}

func maskKey(key string) string {
	if len(key) > 10 {
		return key[:10] + "..."
	}
	if key == "" {
		return "(empty)"
	}
	return "***"
}

func newHTTPClient(cfg config.LLMConfig) *http.Client {
	client := utils.NewHTTPClient(cfg.Timeout)
	if cfg.DebugRequest {
		client.Transport = NewDebugTransport(client.Transport)
	}
	return client
}

// DebugTransport 记录发往模型服务的请求，敏感头和字段会被隐藏
type DebugTransport struct {
	base http.RoundTripper
}

func NewDebugTransport(base http.RoundTripper) *DebugTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &DebugTransport{base: base}
}

func (t *DebugTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodPost {
		t.logRequest(req)
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		logger.Errorf("[llm debug] request to %s failed: %v", req.URL, err)
	}
	return resp, err
}

func (t *DebugTransport) logRequest(req *http.Request) {
	headers := make([]string, 0, len(req.Header))
	for name, values := range req.Header {
		if isSensitiveHeader(name) {
			headers = append(headers, name+": [REDACTED]")
			continue
		}
		headers = append(headers, name+": "+strings.Join(values, ", "))
	}

	body := "(empty)"
	if req.Body != nil {
		data, err := io.ReadAll(req.Body)
		if err != nil {
			logger.Errorf("[llm debug] failed to read request body: %v", err)
			return
		}
		// 恢复请求体，以免影响实际请求
		req.Body = io.NopCloser(bytes.NewReader(data))
		if len(data) > 0 {
			body = SanitizeJSON(string(data))
		}
	}

	logger.WithFields(map[string]interface{}{
		"method":  req.Method,
		"url":     req.URL.String(),
		"headers": strings.Join(headers, "; "),
	}).Infof("[llm debug] body: %s", body)
}

var sensitiveField = regexp.MustCompile(`(?i)"(api_key|apikey|password|secret|token)"\s*:\s*"[^"]*"`)

// SanitizeJSON 把敏感字段的值替换为 [REDACTED]
func SanitizeJSON(body string) string {
	return sensitiveField.ReplaceAllString(body, `"$1": "[REDACTED]"`)
}

func isSensitiveHeader(name string) bool {
	switch strings.ToLower(name) {
	case "authorization", "x-api-key", "x-auth-token", "cookie":
		return true
	}
	return false
}
