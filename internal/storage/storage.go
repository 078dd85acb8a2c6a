package storage

import (
	"chatdeck/internal/config"
	"chatdeck/pkg/logger"
)

// New 按配置创建存储；磁盘存储初始化失败时退回内存存储，服务照常启动
func New(cfg config.StorageConfig) Storage {
	var store Storage
	switch cfg.Type {
	case "disk":
		store = NewDiskStorage(cfg.DataDir, cfg.CacheSize, cfg.BackupKeep)
	case "", "memory":
		store = NewMemoryStorage()
	default:
		logger.Warnf("Unknown storage type %q, using memory storage", cfg.Type)
		store = NewMemoryStorage()
	}

	if err := store.Init(); err != nil {
		logger.Errorf("Failed to initialize %s storage, falling back to memory: %v", cfg.Type, err)
		store = NewMemoryStorage()
		_ = store.Init()
	}
	return store
}
