package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"chatdeck/internal/config"
	"chatdeck/internal/model"
	"chatdeck/internal/utils"
)

// APIError 后端返回的非 2xx 响应
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
}

// New timeout 限制普通请求的总时长；流式请求只用它限制等待响应头
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   utils.NewHTTPClient(timeout),
		streamClient: utils.NewStreamingHTTPClient(timeout),
	}
}

// Chat 发送一轮对话，返回 response_text（可能为空）
func (c *Client) Chat(ctx context.Context, req model.ChatRequest) (string, error) {
	var resp model.ChatResponse
	if err := c.post(ctx, "/api/chat", req, &resp); err != nil {
		return "", errors.Wrap(err, "chat request")
	}
	return resp.ResponseText, nil
}

// Playground 执行单次任务；ctx 取消时返回的错误满足 errors.Is(err, context.Canceled)
func (c *Client) Playground(ctx context.Context, req model.PlaygroundRequest) (string, error) {
	var resp model.PlaygroundResponse
	if err := c.post(ctx, "/api/playground", req, &resp); err != nil {
		return "", errors.Wrap(err, "playground request")
	}
	return resp.Response, nil
}

// StreamChat 通过 /api/chat/stream 逐段接收回复，每段调用一次 onChunk，返回完整内容。
// 流中途出错时返回已收到的部分和错误。
func (c *Client) StreamChat(ctx context.Context, req model.ChatRequest, onChunk func(string)) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", errors.Wrap(err, "marshaling request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat/stream", bytes.NewReader(payload))
	if err != nil {
		return "", errors.Wrap(err, "building request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return "", errors.Wrap(err, "stream request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(resp.Body)
		return "", errors.Wrap(apiError(resp.StatusCode, data), "stream request")
	}

	var full strings.Builder
	err = utils.ReadSSE(resp.Body, func(ev utils.SSEEvent) error {
		switch ev.Event {
		case "error":
			return apiError(http.StatusBadGateway, []byte(ev.Data))
		case "", "message":
			var chunk model.StreamChunk
			if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
				return errors.Wrap(err, "decoding stream chunk")
			}
			full.WriteString(chunk.Content)
			if onChunk != nil {
				onChunk(chunk.Content)
			}
		}
		return nil
	})
	if err != nil {
		return full.String(), errors.Wrap(err, "stream request")
	}
	return full.String(), nil
}

func (c *Client) Models(ctx context.Context) ([]config.ModelOption, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/models", nil)
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}

	var resp struct {
		Models []config.ModelOption `json:"models"`
	}
	if err := c.do(httpReq, &resp); err != nil {
		return nil, errors.Wrap(err, "models request")
	}
	return resp.Models, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshaling request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	return c.do(httpReq, out)
}

func (c *Client) do(httpReq *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "reading response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp.StatusCode, data)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, "decoding response")
	}
	return nil
}

// apiError 从 {"error": "..."} 中取出错误信息，取不到时使用通用提示
func apiError(status int, body []byte) *APIError {
	var errResp model.ErrorResponse
	_ = json.Unmarshal(body, &errResp)
	if errResp.Error == "" {
		errResp.Error = "Something went wrong"
	}
	return &APIError{StatusCode: status, Message: errResp.Error}
}
