package playground

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"

	"chatdeck/internal/client"
	"chatdeck/internal/export"
	"chatdeck/internal/model"
	"chatdeck/internal/voice"
	"chatdeck/pkg/logger"
)

const (
	TaskSummarize       = "summarize"
	TaskExplainCode     = "explain-code"
	TaskCreativeWriting = "creative-writing"

	StoppedOutput   = "Generation stopped."
	ErrorPrefix     = "❌ Error: "
	FetchFailed     = "Failed to fetch AI output."
	NoOutput        = "No output received from the model."
	ShareTitle      = "AI Playground Output"
	shareSnippetLen = 200
)

var (
	ErrEmptyInput  = errors.New("input is empty")
	ErrBusy        = errors.New("generation already in progress")
	ErrUnknownTask = errors.New("unknown task")
	ErrNoOutput    = errors.New("no output yet")
)

// Task 任务说明
type Task struct {
	ID          string
	Title       string
	Description string
}

var Tasks = []Task{
	{ID: TaskSummarize, Title: "Text Summarization", Description: "Condense long texts into clear, concise summaries"},
	{ID: TaskExplainCode, Title: "Code Explanation", Description: "Get detailed explanations of code snippets"},
	{ID: TaskCreativeWriting, Title: "Creative Writing", Description: "Get help with creative writing tasks"},
}

type Backend interface {
	Playground(ctx context.Context, req model.PlaygroundRequest) (string, error)
}

type Clipboard interface {
	WriteText(text string) error
}

// Sharer 系统分享；不可用时退回复制到剪贴板
type Sharer interface {
	Share(title, text string) error
}

type Controller struct {
	backend   Backend
	clipboard Clipboard
	sharer    Sharer
	speaker   *voice.Speaker
	now       func() time.Time

	mu      sync.Mutex
	task    string
	model   string
	input   string
	output  string
	loading bool
	cancel  context.CancelFunc
}

// NewController clipboard、sharer、speaker 都可以为 nil
func NewController(backend Backend, clipboard Clipboard, sharer Sharer, speaker *voice.Speaker, defaultModel string) *Controller {
	return &Controller{
		backend:   backend,
		clipboard: clipboard,
		sharer:    sharer,
		speaker:   speaker,
		now:       time.Now,
		task:      TaskSummarize,
		model:     defaultModel,
	}
}

var classFragment = regexp.MustCompile(`"(text-[a-z0-9-]+(?:\s+dark:text-[a-z0-9-]+)*)">`)

// CleanOutput 去掉模型输出里残留的 "text-…"> 样式片段
func CleanOutput(text string) string {
	return classFragment.ReplaceAllString(text, `">`)
}

func (c *Controller) Task() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.task
}

// SetTask 切换任务，同时清空输入输出并停止朗读
func (c *Controller) SetTask(task string) error {
	known := false
	for _, t := range Tasks {
		if t.ID == task {
			known = true
			break
		}
	}
	if !known {
		return errors.Wrap(ErrUnknownTask, task)
	}

	c.stopSpeaking()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.task = task
	c.input = ""
	c.output = ""
	return nil
}

func (c *Controller) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

func (c *Controller) SetModel(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.model = id
}

func (c *Controller) Output() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.output
}

func (c *Controller) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Submit 发送当前任务。失败、取消都体现在返回的输出文本里，
// 只有空输入和重复提交返回错误。
func (c *Controller) Submit(ctx context.Context, input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", ErrEmptyInput
	}

	c.mu.Lock()
	if c.loading {
		c.mu.Unlock()
		return "", ErrBusy
	}
	ctx, cancel := context.WithCancel(ctx)
	c.loading = true
	c.cancel = cancel
	c.input = input
	req := model.PlaygroundRequest{Task: c.task, Model: c.model, Input: trimmed}
	c.mu.Unlock()

	c.stopSpeaking()
	resp, err := c.backend.Playground(ctx, req)
	output := outputFor(resp, err)
	cancel()

	c.mu.Lock()
	c.output = output
	c.loading = false
	c.cancel = nil
	c.mu.Unlock()
	return output, nil
}

func outputFor(resp string, err error) string {
	if err == nil {
		if resp == "" {
			resp = NoOutput
		}
		return CleanOutput(resp)
	}

	if errors.Is(err, context.Canceled) {
		return StoppedOutput
	}
	logger.Warnf("Playground request failed: %v", err)

	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return ErrorPrefix + apiErr.Message
	}
	if msg := err.Error(); msg != "" {
		return ErrorPrefix + msg
	}
	return ErrorPrefix + FetchFailed
}

// Stop 取消正在进行的请求
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// Copy 复制输出到剪贴板，失败只记录日志
func (c *Controller) Copy() bool {
	output := c.Output()
	if c.clipboard == nil {
		logger.Warn("Clipboard is not available")
		return false
	}
	if err := c.clipboard.WriteText(output); err != nil {
		logger.Errorf("Failed to copy text: %v", err)
		return false
	}
	return true
}

// ShareSnippet 输出的前 200 个字符加省略号
func ShareSnippet(output string) string {
	if utf8.RuneCountInString(output) > shareSnippetLen {
		output = string([]rune(output)[:shareSnippetLen])
	}
	return output + "..."
}

// Share 没有输出时什么也不做；分享失败或不可用时复制到剪贴板
func (c *Controller) Share() {
	output := c.Output()
	if c.sharer == nil || output == "" {
		c.Copy()
		return
	}
	if err := c.sharer.Share(ShareTitle, ShareSnippet(output)); err != nil {
		logger.Warnf("Share failed, copying instead: %v", err)
		c.Copy()
	}
}

// Download 按格式导出当前输出到 dir
func (c *Controller) Download(format, dir string) (string, error) {
	c.mu.Lock()
	rec := export.PlaygroundRecord{Task: c.task, Model: c.model, Input: c.input, Output: c.output}
	c.mu.Unlock()

	if rec.Output == "" {
		return "", ErrNoOutput
	}
	name, data, err := export.Playground(format, rec, c.now())
	if err != nil {
		return "", err
	}
	return export.Download(dir, name, data)
}

// ToggleSpeech 朗读去掉 markdown 后的输出，再次调用停止
func (c *Controller) ToggleSpeech() (bool, error) {
	output := c.Output()
	if c.speaker == nil {
		return false, errors.New("speech is not available")
	}
	if output == "" && !c.speaker.Speaking() {
		return false, nil
	}
	return c.speaker.Toggle(export.StripMarkdown(output))
}

func (c *Controller) stopSpeaking() {
	if c.speaker != nil {
		c.speaker.Stop()
	}
}
