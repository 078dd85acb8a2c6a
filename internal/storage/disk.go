package storage

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"chatdeck/internal/model"
	"chatdeck/pkg/logger"
)

const (
	indexFile        = "index.json"
	conversationsDir = "conversations"
	backupDir        = "backup"
	backupPrefix     = "backup_"
	backupLayout     = "20060102T150405.000000000Z"
)

// DiskStorage 每个对话一个 JSON 文件，另有一个索引文件：
//
//	<dataDir>/index.json
//	<dataDir>/conversations/<key>.json
//	<dataDir>/backup/backup_<utc>/
//
// key 为 session_id 的 base64url 编码，session_id 来自客户端，不能直接当文件名。
// 索引常驻内存，对话内容按最近更新缓存 cacheSize 个。
type DiskStorage struct {
	dataDir    string
	cacheSize  int
	backupKeep int

	mu    sync.RWMutex
	index map[string]*ConversationIndex
	cache map[string]*model.Conversation
}

type ConversationIndex struct {
	ID           string    `json:"id"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewDiskStorage backupKeep <= 0 表示不清理旧备份
func NewDiskStorage(dataDir string, cacheSize, backupKeep int) *DiskStorage {
	if cacheSize <= 0 {
		cacheSize = 100
	}
	return &DiskStorage{
		dataDir:    dataDir,
		cacheSize:  cacheSize,
		backupKeep: backupKeep,
		index:      make(map[string]*ConversationIndex),
		cache:      make(map[string]*model.Conversation),
	}
}

func (d *DiskStorage) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, dir := range []string{d.dataDir, d.path(conversationsDir), d.path(backupDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageInit, err)
		}
	}

	if err := d.loadIndex(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}
	d.warmCache()

	logger.Infof("Disk storage initialized at %s with %d conversations", d.dataDir, len(d.index))
	return nil
}

func (d *DiskStorage) path(elem ...string) string {
	return filepath.Join(append([]string{d.dataDir}, elem...)...)
}

func fileKey(conversationID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(conversationID))
}

func (d *DiskStorage) conversationPath(conversationID string) string {
	return d.path(conversationsDir, fileKey(conversationID)+".json")
}

// loadIndex 索引不存在时从 conversations 目录重建
func (d *DiskStorage) loadIndex() error {
	data, err := os.ReadFile(d.path(indexFile))
	if os.IsNotExist(err) {
		return d.rebuildIndex()
	}
	if err != nil {
		return err
	}

	var entries []*ConversationIndex
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	for _, e := range entries {
		d.index[e.ID] = e
	}
	return nil
}

func (d *DiskStorage) rebuildIndex() error {
	files, err := os.ReadDir(d.path(conversationsDir))
	if err != nil {
		return err
	}

	for _, file := range files {
		name := file.Name()
		if file.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSuffix(name, ".json"))
		if err != nil {
			logger.Warnf("Skipping unexpected file in conversations dir: %s", name)
			continue
		}
		conv, err := d.readConversation(string(raw))
		if err != nil {
			logger.Errorf("Failed to read conversation file %s: %v", name, err)
			continue
		}
		d.index[conv.ID] = indexEntry(conv)
	}

	if len(d.index) > 0 {
		logger.Infof("Rebuilt conversation index from %d files", len(d.index))
	}
	return d.saveIndex()
}

func indexEntry(conv *model.Conversation) *ConversationIndex {
	return &ConversationIndex{
		ID:           conv.ID,
		MessageCount: len(conv.Messages),
		CreatedAt:    conv.CreatedAt,
		UpdatedAt:    conv.UpdatedAt,
	}
}

// sortedIndex 按更新时间从新到旧
func (d *DiskStorage) sortedIndex() []*ConversationIndex {
	entries := make([]*ConversationIndex, 0, len(d.index))
	for _, e := range d.index {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
	})
	return entries
}

func (d *DiskStorage) warmCache() {
	for _, e := range d.sortedIndex() {
		if len(d.cache) >= d.cacheSize {
			return
		}
		conv, err := d.readConversation(e.ID)
		if err != nil {
			logger.Errorf("Failed to load conversation %s: %v", e.ID, err)
			continue
		}
		d.cache[e.ID] = conv
	}
}

func (d *DiskStorage) readConversation(conversationID string) (*model.Conversation, error) {
	data, err := os.ReadFile(d.conversationPath(conversationID))
	if err != nil {
		return nil, err
	}

	var conv model.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	if conv.Messages == nil {
		conv.Messages = []model.Message{}
	}
	return &conv, nil
}

// writeJSON 先写临时文件再 rename，避免留下写了一半的文件
func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (d *DiskStorage) saveIndex() error {
	return writeJSON(d.path(indexFile), d.sortedIndex())
}

// lookup 需要持有写锁
func (d *DiskStorage) lookup(conversationID string) (*model.Conversation, error) {
	if conv, ok := d.cache[conversationID]; ok {
		return conv, nil
	}
	if _, ok := d.index[conversationID]; !ok {
		return nil, ErrConversationNotFound
	}

	conv, err := d.readConversation(conversationID)
	if os.IsNotExist(err) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	d.remember(conv)
	return conv, nil
}

// remember 放入缓存，超出容量时淘汰最久未更新的对话
func (d *DiskStorage) remember(conv *model.Conversation) {
	d.cache[conv.ID] = conv
	for len(d.cache) > d.cacheSize {
		var oldest *model.Conversation
		for id, c := range d.cache {
			if id == conv.ID {
				continue
			}
			if oldest == nil || c.UpdatedAt.Before(oldest.UpdatedAt) {
				oldest = c
			}
		}
		if oldest == nil {
			return
		}
		delete(d.cache, oldest.ID)
	}
}

func (d *DiskStorage) GetConversation(conversationID string) (*model.Conversation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	conv, err := d.lookup(conversationID)
	if err != nil {
		return nil, err
	}
	return cloneConversation(conv), nil
}

func (d *DiskStorage) GetMessages(conversationID string) ([]*model.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	conv, err := d.lookup(conversationID)
	if err != nil {
		return nil, err
	}
	return messagePointers(conv.Messages), nil
}

// AppendMessages 在副本上追加并写盘，两次写入都成功后才更新缓存和索引
func (d *DiskStorage) AppendMessages(conversationID string, messages ...*model.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	var updated *model.Conversation
	conv, err := d.lookup(conversationID)
	switch {
	case err == ErrConversationNotFound:
		updated = &model.Conversation{
			ID:        conversationID,
			Messages:  make([]model.Message, 0, len(messages)),
			CreatedAt: now,
		}
	case err != nil:
		return err
	default:
		updated = cloneConversation(conv)
	}

	for _, msg := range messages {
		updated.Messages = append(updated.Messages, *msg)
	}
	updated.UpdatedAt = now

	prev, indexed := d.index[conversationID]
	d.index[conversationID] = indexEntry(updated)
	if err := writeJSON(d.conversationPath(conversationID), updated); err != nil {
		d.restoreIndex(conversationID, prev, indexed)
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	if err := d.saveIndex(); err != nil {
		d.restoreIndex(conversationID, prev, indexed)
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	d.remember(updated)
	return nil
}

func (d *DiskStorage) restoreIndex(conversationID string, prev *ConversationIndex, indexed bool) {
	if indexed {
		d.index[conversationID] = prev
	} else {
		delete(d.index, conversationID)
	}
}

func (d *DiskStorage) DeleteConversation(conversationID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.index[conversationID]; !ok {
		return ErrConversationNotFound
	}

	if err := os.Remove(d.conversationPath(conversationID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	delete(d.index, conversationID)
	delete(d.cache, conversationID)

	if err := d.saveIndex(); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	return nil
}

// ListConversations 只返回索引信息，不含消息
func (d *DiskStorage) ListConversations() ([]*model.Conversation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entries := d.sortedIndex()
	conversations := make([]*model.Conversation, 0, len(entries))
	for _, e := range entries {
		conversations = append(conversations, &model.Conversation{
			ID:        e.ID,
			CreatedAt: e.CreatedAt,
			UpdatedAt: e.UpdatedAt,
		})
	}
	return conversations, nil
}

func (d *DiskStorage) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	err := d.saveIndex()
	d.cache = make(map[string]*model.Conversation)
	return err
}

// Backup 复制索引和全部对话文件到新的备份目录，并清理超出 backupKeep 的旧备份
func (d *DiskStorage) Backup() error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	dst := d.path(backupDir, backupPrefix+time.Now().UTC().Format(backupLayout))
	if err := os.MkdirAll(filepath.Join(dst, conversationsDir), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	if err := copyFile(d.path(indexFile), filepath.Join(dst, indexFile)); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	for id := range d.index {
		name := fileKey(id) + ".json"
		if err := copyFile(d.conversationPath(id), filepath.Join(dst, conversationsDir, name)); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
	}

	logger.Infof("Backup completed: %s (%d conversations)", dst, len(d.index))
	return d.pruneBackups()
}

func (d *DiskStorage) pruneBackups() error {
	if d.backupKeep <= 0 {
		return nil
	}

	entries, err := os.ReadDir(d.path(backupDir))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	var backups []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), backupPrefix) {
			backups = append(backups, e.Name())
		}
	}
	// 目录名是 UTC 时间，字典序即时间序
	sort.Strings(backups)

	for len(backups) > d.backupKeep {
		old := d.path(backupDir, backups[0])
		if err := os.RemoveAll(old); err != nil {
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
		logger.Infof("Removed old backup: %s", old)
		backups = backups[1:]
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
