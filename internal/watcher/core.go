package watcher

import (
	"context"
	"fmt"
	"time"

	"swap-notify/internal/watcher/config"
	"swap-notify/internal/watcher/dispatch"
	"swap-notify/internal/watcher/format"
	"swap-notify/internal/watcher/monitor"
	"swap-notify/internal/watcher/onchain"
	"swap-notify/internal/watcher/store"
	"swap-notify/internal/watcher/subscription"
	"swap-notify/pkg/evm_client"
	"swap-notify/pkg/telegram"

	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

type Core struct {
	cfg        config.Config
	tl         *zap.Logger
	client     *ethclient.Client
	store      *store.FileStore
	dispatcher *dispatch.Dispatcher
	manager    *subscription.Manager
	metrics    *monitor.MetricsServer
}

func New(cfg config.Config, logger *zap.Logger) *Core {
	// 初始化链上客户端，订阅需要 websocket endpoint
	client := evm_client.Init(cfg.Rpc.WssURL)

	// 初始化事件存储
	st, err := store.NewFileStore(cfg.Store.Dir, logger)
	if err != nil {
		panic(fmt.Errorf("init event store: %w", err))
	}

	// 初始化投递链路
	tgClient := telegram.NewClient(cfg.Telegram, logger)
	dispatcher := dispatch.New(cfg.Telegram, tgClient, logger)

	// 初始化链上读取
	supplyTTL := time.Duration(cfg.Watcher.SupplyCacheSec) * time.Second
	supply := onchain.NewSupplyReader(client, cfg.Token.Address, cfg.Token.Decimals, supplyTTL, logger)
	txs := onchain.NewTxLookup(client, logger)

	// 初始化订阅管理器，协作者全部显式注入
	manager := subscription.NewManager(cfg, subscription.Deps{
		Streamer:   client,
		Store:      st,
		Supply:     supply,
		Txs:        txs,
		Formatter:  format.New(cfg),
		Dispatcher: dispatcher,
	}, logger)

	return &Core{
		cfg:        cfg,
		tl:         logger,
		client:     client,
		store:      st,
		dispatcher: dispatcher,
		manager:    manager,
		metrics:    monitor.NewMetricsServer(cfg.Monitor),
	}
}

func (c *Core) Start(ctx context.Context) {
	c.tl.Info("Starting watcher core...")

	// 启动监控服务
	if c.metrics != nil {
		c.metrics.Run()
	}

	// 上线通告，发不出去不影响启动
	announceCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := c.dispatcher.Announce(announceCtx, "Bot is live!"); err != nil {
		c.tl.Warn("❌ startup announcement failed", zap.Error(err))
	}
	cancel()

	// 每个池子一条订阅
	c.manager.Start(ctx)
	c.tl.Info("Watcher started successfully",
		zap.Int("pools", len(c.cfg.Pools)))

	// 等待外部关闭信号
	<-ctx.Done()
	c.tl.Info("Shutting down watcher due to context cancellation...")
}

// Fatal 投递通道不可用（致命配置错误）时上报
func (c *Core) Fatal() <-chan error {
	return c.manager.Fatal()
}

// Stop 优雅关闭 Core 的所有资源，给处理中的事件留出落盘时间
func (c *Core) Stop(ctx context.Context) {
	c.tl.Info("Stopping watcher core...")

	grace := 10 * time.Second
	if c.cfg.Watcher.ShutdownGraceMs > 0 {
		grace = time.Duration(c.cfg.Watcher.ShutdownGraceMs) * time.Millisecond
	}
	c.manager.WaitWithGrace(grace)

	if err := c.store.Close(); err != nil {
		c.tl.Warn("❌ close event store", zap.Error(err))
	}

	if c.metrics != nil {
		_ = c.metrics.Stop(ctx)
	}

	c.client.Close()

	c.tl.Info("Watcher core stopped.")
}
