package main

import (
	"fmt"
	"os"

	"chatdeck/internal/config"
	"chatdeck/internal/session"
	"chatdeck/pkg/logger"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "chatctl",
	Short:         "Terminal client for the chatdeck backend",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "path to config file")

	rootCmd.AddCommand(newChatCmd())
	rootCmd.AddCommand(newAskCmd())
	rootCmd.AddCommand(newSessionsCmd())
	rootCmd.AddCommand(newExportCmd())
	rootCmd.AddCommand(newPlaygroundCmd())
	rootCmd.AddCommand(newModelsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig 加载配置并初始化日志；日志写到 stderr，避免混进对话输出
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "loading config")
	}
	if err := logger.InitWithOutput(cfg.Log.Level, cfg.Log.Format, os.Stderr); err != nil {
		return nil, errors.Wrap(err, "initializing logger")
	}
	return cfg, nil
}

// openStore 打开本地会话存储并恢复会话；解析失败时从空集合开始
func openStore(cfg *config.Config) (*session.Store, func(), error) {
	storage, err := session.NewStorage(cfg.Client.Storage)
	if err != nil {
		return nil, nil, errors.Wrap(err, "opening session storage")
	}
	store := session.NewStore(storage)
	if err := store.Load(); err != nil {
		logger.Errorf("Failed to restore sessions, starting fresh: %v", err)
	}
	closeFn := func() {
		if err := storage.Close(); err != nil {
			logger.Errorf("Failed to close session storage: %v", err)
		}
	}
	return store, closeFn, nil
}
