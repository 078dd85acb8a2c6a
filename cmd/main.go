package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatdeck/internal/config"
	"chatdeck/internal/handler"
	"chatdeck/internal/mcpserver"
	"chatdeck/internal/model"
	"chatdeck/internal/service"
	"chatdeck/internal/storage"
	"chatdeck/pkg/logger"

	"github.com/gin-gonic/gin"
)

const version = "1.0.0"

func main() {
	var (
		configPath string
		mcpMode    bool
	)
	flag.StringVar(&configPath, "config", "./configs/config.yaml", "配置文件路径")
	flag.BoolVar(&mcpMode, "mcp", false, "以 MCP stdio 模式运行")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志；MCP 模式下 stdout 用于协议，日志写 stderr
	logOut := os.Stdout
	if mcpMode {
		logOut = os.Stderr
	}
	if err := logger.InitWithOutput(cfg.Log.Level, cfg.Log.Format, logOut); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	chatModel, err := model.NewChatModel(ctx, cfg.LLM)
	if err != nil {
		logger.Fatalf("Failed to create chat model: %v", err)
	}

	store := storage.New(cfg.Storage)
	defer store.Close()

	// 初始化服务
	chatService := service.NewChatService(cfg, chatModel, store)
	chatService.Start(ctx)

	if mcpMode {
		logger.Info("MCP server listening on stdio")
		if err := mcpserver.Serve(mcpserver.New(chatService, version)); err != nil {
			logger.Errorf("MCP server stopped: %v", err)
		}
		return
	}

	gin.SetMode(gin.ReleaseMode)
	router := handler.NewRouter(cfg, handler.NewChatHandler(chatService))

	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	// 启动服务器
	go func() {
		logger.Infof("服务器启动在端口 %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("服务器启动失败: %v", err)
		}
	}()

	// 等待信号优雅关闭
	<-ctx.Done()

	logger.Info("服务器正在关闭...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("服务器关闭失败: %v", err)
	}
	logger.Info("服务器已关闭")
}
