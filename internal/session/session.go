package session

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"chatdeck/pkg/logger"
)

const (
	SessionsKey  = "chatSessions"
	CurrentIDKey = "currentSessionId"

	DefaultTitle   = "New Chat"
	titleMaxLength = 30
)

var ErrSessionNotFound = errors.New("session not found")

// Message 一条对话消息；流式展示期间 IsStreaming 为 true
type Message struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	IsUser      bool      `json:"isUser"`
	Timestamp   time.Time `json:"timestamp"`
	IsStreaming bool      `json:"isStreaming,omitempty"`
}

func NewUserMessage(content string) Message {
	return Message{ID: uuid.New().String(), Content: content, IsUser: true, Timestamp: time.Now()}
}

func NewBotMessage(content string) Message {
	return Message{ID: uuid.New().String(), Content: content, Timestamp: time.Now()}
}

type ChatSession struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *ChatSession) clone() ChatSession {
	c := *s
	c.Messages = append([]Message(nil), s.Messages...)
	return c
}

// Title 取第一条用户消息的前 30 个字符，没有用户消息时为 "New Chat"
func Title(messages []Message) string {
	for _, m := range messages {
		if !m.IsUser {
			continue
		}
		if utf8.RuneCountInString(m.Content) <= titleMaxLength {
			return m.Content
		}
		return string([]rune(m.Content)[:titleMaxLength]) + "..."
	}
	return DefaultTitle
}

// Store 会话集合，最新的在前。所有方法并发安全。
type Store struct {
	mu        sync.Mutex
	storage   Storage
	sessions  []*ChatSession
	currentID string
	lastID    int64
	now       func() time.Time
}

func NewStore(storage Storage) *Store {
	return &Store{storage: storage, now: time.Now}
}

// Load 从存储恢复会话。解析失败时返回错误，集合保持为空。
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = nil
	s.currentID = ""

	raw, ok, err := s.storage.GetItem(SessionsKey)
	if err != nil {
		return errors.Wrap(err, "reading stored sessions")
	}
	if ok && raw != "" {
		var sessions []*ChatSession
		if err := json.Unmarshal([]byte(raw), &sessions); err != nil {
			return errors.Wrap(err, "parsing stored sessions")
		}
		s.sessions = sessions
		for _, sess := range sessions {
			if id, err := strconv.ParseInt(sess.ID, 10, 64); err == nil && id > s.lastID {
				s.lastID = id
			}
		}
	}

	currentID, ok, err := s.storage.GetItem(CurrentIDKey)
	if err != nil {
		return errors.Wrap(err, "reading current session id")
	}
	if ok && s.indexOf(currentID) >= 0 {
		s.currentID = currentID
	}
	return nil
}

// nextID 以毫秒时间戳为 ID，同一毫秒内重复创建时顺延
func (s *Store) nextID() string {
	id := s.now().UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return strconv.FormatInt(id, 10)
}

func (s *Store) indexOf(id string) int {
	for i, sess := range s.sessions {
		if sess.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) create() *ChatSession {
	sess := &ChatSession{
		ID:        s.nextID(),
		Title:     DefaultTitle,
		Messages:  []Message{},
		Timestamp: s.now(),
	}
	s.sessions = append([]*ChatSession{sess}, s.sessions...)
	s.currentID = sess.ID
	return sess
}

// Create 在最前面插入一个空会话并设为当前会话
func (s *Store) Create() ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.create()
	s.persist()
	return sess.clone()
}

// Update 替换消息并重新计算标题和时间；id 不存在时什么也不做
func (s *Store) Update(id string, messages []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return
	}
	sess := s.sessions[i]
	sess.Messages = append([]Message(nil), messages...)
	sess.Title = Title(messages)
	sess.Timestamp = s.now()
	s.persist()
}

// Delete 删除会话。删除的是当前会话时切换到第一个会话，没有会话了就新建一个。
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return
	}
	s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)

	if s.currentID == id || s.currentID == "" {
		if len(s.sessions) > 0 {
			s.currentID = s.sessions[0].ID
		} else {
			s.create()
		}
	}
	s.persist()
}

func (s *Store) Get(id string) (ChatSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return ChatSession{}, false
	}
	return s.sessions[i].clone(), true
}

func (s *Store) Sessions() []ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ChatSession, len(s.sessions))
	for i, sess := range s.sessions {
		out[i] = sess.clone()
	}
	return out
}

func (s *Store) Current() (ChatSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(s.currentID)
	if i < 0 {
		return ChatSession{}, false
	}
	return s.sessions[i].clone(), true
}

func (s *Store) CurrentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentID
}

func (s *Store) SetCurrent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOf(id) < 0 {
		return errors.Wrapf(ErrSessionNotFound, "session %s", id)
	}
	s.currentID = id
	s.persist()
	return nil
}

// persist 写失败只记录日志，不影响调用方
func (s *Store) persist() {
	data, err := json.Marshal(s.sessions)
	if err != nil {
		logger.Errorf("Failed to encode sessions: %v", err)
		return
	}
	if s.sessions == nil {
		data = []byte("[]")
	}
	if err := s.storage.SetItem(SessionsKey, string(data)); err != nil {
		logger.Errorf("Failed to persist sessions: %v", err)
	}
	if err := s.storage.SetItem(CurrentIDKey, s.currentID); err != nil {
		logger.Errorf("Failed to persist current session id: %v", err)
	}
}
