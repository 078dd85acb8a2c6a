package model

// ChatRequest /api/chat 与 /api/chat/stream 的请求体
type ChatRequest struct {
	Prompt    string `json:"prompt"`
	Model     string `json:"model,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// PlaygroundRequest /api/playground 的请求体
type PlaygroundRequest struct {
	Task  string `json:"task"`
	Model string `json:"model,omitempty"`
	Input string `json:"input"`
}
