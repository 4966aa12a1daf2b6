package main

import (
	"context"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"swap-notify/internal/watcher"
	"swap-notify/internal/watcher/config"
	"swap-notify/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	// 初始化配置文件
	cfg := config.InitConfig()

	// 初始化 trace provider
	logger.InitTrace("swap-notify", "watcher")
	ctx, span := logger.StartSpan(context.Background(), "main", "main")
	defer span.End()

	// 创建 root logger 并注入 trace 上下文
	rootLogger := logger.NewLogger("watcher")
	logger.SetLogLevel(cfg.Log.Level)
	tl := logger.WithTrace(ctx, rootLogger)

	// 启动配置热加载监听
	go config.WatchConfig(&cfg)

	// 初始化watcher
	core := watcher.New(cfg, tl)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		tl.Info("Starting swap-notify watcher...")
		core.Start(ctx)
	}()

	// 监听操作系统信号；投递通道的致命配置错误同样触发退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		tl.Info("Received shutdown signal, starting graceful shutdown...")
	case err := <-core.Fatal():
		tl.Error("Messaging channel unusable, shutting down", zap.Error(err))
	}

	cancel()
	core.Stop(context.Background())

	tl.Info("Watcher shut down.")
}
