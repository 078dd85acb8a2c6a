package chat

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"chatdeck/internal/config"
	"chatdeck/internal/model"
	"chatdeck/internal/session"
	"chatdeck/internal/streaming"
	"chatdeck/pkg/logger"
)

const (
	EmptyReply   = "Sorry, I encountered an error."
	FailureReply = "Sorry, I encountered an error. Please check if the model is properly started."
)

var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrBusy         = errors.New("a reply is already in progress")
	ErrUnknownModel = errors.New("unknown model")
)

type State int

const (
	Idle State = iota
	Sending
	Thinking
	Streaming
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sending:
		return "sending"
	case Thinking:
		return "thinking"
	case Streaming:
		return "streaming"
	}
	return "unknown"
}

// Backend 后端对话接口，client.Client 实现了它
type Backend interface {
	Chat(ctx context.Context, req model.ChatRequest) (string, error)
}

type Options struct {
	Model  string
	Models []config.ModelOption
	// OnState 状态变化时调用
	OnState func(State)
	// OnStream 流式展示时每追加一个词调用一次
	OnStream func(partial string)
}

type Controller struct {
	backend   Backend
	store     *session.Store
	simulator *streaming.Simulator
	models    []config.ModelOption
	onState   func(State)
	onStream  func(string)

	mu          sync.Mutex
	model       string
	state       State
	placeholder *session.Message
	turnSession string
}

func NewController(backend Backend, store *session.Store, simulator *streaming.Simulator, opts Options) *Controller {
	c := &Controller{
		backend:   backend,
		store:     store,
		simulator: simulator,
		models:    opts.Models,
		onState:   opts.OnState,
		onStream:  opts.OnStream,
		model:     opts.Model,
	}
	if c.model == "" && len(c.models) > 0 {
		c.model = c.models[0].ID
	}
	return c
}

var thinkTag = regexp.MustCompile(`(?s)<think>.*?</think>`)

// CleanReply 去掉 <think> 块；结果为空时返回 EmptyReply
func CleanReply(reply string) string {
	cleaned := strings.TrimSpace(thinkTag.ReplaceAllString(reply, ""))
	if cleaned == "" {
		return EmptyReply
	}
	return cleaned
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	if c.onState != nil {
		c.onState(s)
	}
}

func (c *Controller) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// SetModel 切换模型；配置了模型列表时只接受列表中的 ID
func (c *Controller) SetModel(id string) error {
	if len(c.models) > 0 {
		found := false
		for _, m := range c.models {
			if m.ID == id {
				found = true
				break
			}
		}
		if !found {
			return errors.Wrap(ErrUnknownModel, id)
		}
	}

	c.mu.Lock()
	c.model = id
	c.mu.Unlock()
	return nil
}

// Messages 当前会话的消息；流式展示期间末尾附带占位消息
func (c *Controller) Messages() []session.Message {
	sess, ok := c.store.Current()
	if !ok {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.placeholder != nil && c.turnSession == sess.ID {
		sess.Messages = append(sess.Messages, *c.placeholder)
	}
	return sess.Messages
}

// activeSession 返回当前会话，没有时新建
func (c *Controller) activeSession() session.ChatSession {
	if sess, ok := c.store.Current(); ok {
		return sess
	}
	return c.store.Create()
}

func (c *Controller) appendTo(sessionID string, msg session.Message) {
	sess, ok := c.store.Get(sessionID)
	if !ok {
		return
	}
	c.store.Update(sessionID, append(sess.Messages, msg))
}

// AppendBotMessage 向当前会话追加一条机器人消息（语音错误提示等）
func (c *Controller) AppendBotMessage(content string) session.Message {
	msg := session.NewBotMessage(content)
	c.appendTo(c.activeSession().ID, msg)
	return msg
}

// Submit 执行一轮对话。空输入和并发提交会直接返回错误且不发请求；
// 后端失败不返回错误，而是追加固定的道歉消息。
func (c *Controller) Submit(ctx context.Context, text string) (session.Message, error) {
	prompt := strings.TrimSpace(text)
	if prompt == "" {
		return session.Message{}, ErrEmptyMessage
	}

	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return session.Message{}, ErrBusy
	}
	c.state = Sending
	modelID := c.model
	c.mu.Unlock()
	if c.onState != nil {
		c.onState(Sending)
	}
	defer c.setState(Idle)

	sess := c.activeSession()
	c.appendTo(sess.ID, session.NewUserMessage(prompt))

	c.setState(Thinking)
	reply, err := c.backend.Chat(ctx, model.ChatRequest{
		Prompt:    prompt,
		Model:     modelID,
		SessionID: sess.ID,
	})
	if err != nil {
		logger.Warnf("Chat request failed: %v", err)
		msg := session.NewBotMessage(FailureReply)
		c.appendTo(sess.ID, msg)
		return msg, nil
	}

	final := c.stream(sess.ID, CleanReply(reply))

	msg := session.NewBotMessage(final)
	c.appendTo(sess.ID, msg)
	return msg, nil
}

func (c *Controller) stream(sessionID, reply string) string {
	placeholder := session.NewBotMessage("")
	placeholder.IsStreaming = true

	c.mu.Lock()
	c.placeholder = &placeholder
	c.turnSession = sessionID
	c.mu.Unlock()
	c.setState(Streaming)

	final := c.simulator.Run(reply, func(partial string) {
		c.mu.Lock()
		c.placeholder.Content = partial
		c.mu.Unlock()
		if c.onStream != nil {
			c.onStream(partial)
		}
	})

	c.mu.Lock()
	c.placeholder = nil
	c.turnSession = ""
	c.mu.Unlock()
	return final
}
