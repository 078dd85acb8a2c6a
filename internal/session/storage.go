package session

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"chatdeck/internal/config"
)

// Storage 字符串键值存储，对应浏览器的 sessionStorage
type Storage interface {
	GetItem(key string) (string, bool, error)
	SetItem(key, value string) error
	Close() error
}

// NewStorage 按配置创建存储，type 为 memory / file / sqlite
func NewStorage(cfg config.ClientStorageConfig) (Storage, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStorage(), nil
	case "file":
		return NewFileStorage(cfg.Path)
	case "sqlite":
		return NewSQLiteStorage(cfg.Path)
	default:
		return nil, errors.Errorf("unknown session storage type %q", cfg.Type)
	}
}

// MemoryStorage 进程内存储，进程退出即丢失
type MemoryStorage struct {
	mu    sync.RWMutex
	items map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{items: make(map[string]string)}
}

func (m *MemoryStorage) GetItem(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	return v, ok, nil
}

func (m *MemoryStorage) SetItem(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

// FileStorage 所有键保存在一个 JSON 对象文件里
type FileStorage struct {
	mu    sync.Mutex
	path  string
	items map[string]string
}

func NewFileStorage(path string) (*FileStorage, error) {
	if path == "" {
		return nil, errors.New("file storage path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "creating storage directory")
	}

	f := &FileStorage{path: path, items: make(map[string]string)}
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "reading storage file")
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &f.items); err != nil {
			return nil, errors.Wrap(err, "parsing storage file")
		}
	}
	return f, nil
}

func (f *FileStorage) GetItem(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.items[key]
	return v, ok, nil
}

func (f *FileStorage) SetItem(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.items[key] = value
	data, err := json.MarshalIndent(f.items, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling storage")
	}

	// 先写临时文件再重命名
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "writing storage file")
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "replacing storage file")
	}
	return nil
}

func (f *FileStorage) Close() error {
	return nil
}

// SQLiteStorage 单表键值存储
type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dbPath == "" {
		return nil, errors.New("sqlite storage path is empty")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, errors.Wrap(err, "creating storage directory")
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	// :memory: 每个连接是独立的库
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS session_storage (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating session_storage table")
	}

	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) GetItem(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM session_storage WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "querying key %s", key)
	}
	return value, true, nil
}

func (s *SQLiteStorage) SetItem(key, value string) error {
	_, err := s.db.Exec(`REPLACE INTO session_storage (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return errors.Wrapf(err, "writing key %s", key)
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
