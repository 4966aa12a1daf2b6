package subscription

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"swap-notify/internal/watcher/config"
	"swap-notify/internal/watcher/decoder"
	"swap-notify/internal/watcher/derive"
	"swap-notify/internal/watcher/dispatch"
	"swap-notify/internal/watcher/model"
	"swap-notify/internal/watcher/monitor"
	"swap-notify/pkg/utils"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

// LogStreamer 流式事件源，ethclient.Client 直接满足。
// 订阅不可重放，断开后重新订阅得到的是新序列。
type LogStreamer interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// EventStore 持久化层，追加成功返回 true，tx_hash 已存在返回 false
type EventStore interface {
	Append(poolID string, rec *model.SwapEvent) (bool, error)
}

// SupplySource 代币总量快照源
type SupplySource interface {
	TotalSupply(ctx context.Context) (decimal.Decimal, error)
}

// TxSource 交易级 from/to 查询
type TxSource interface {
	Counterparties(ctx context.Context, txHash common.Hash) (string, string, error)
}

// Formatter 消息渲染
type Formatter interface {
	Format(ev *model.SwapEvent, m *derive.Metrics, pool config.PoolConfig) (string, error)
}

// Dispatcher 消息投递
type Dispatcher interface {
	Send(ctx context.Context, body string) error
}

// 每个池子的订阅状态
type watchState int32

const (
	stateDisconnected watchState = iota
	stateSubscribing
	stateLive
)

func (s watchState) String() string {
	switch s {
	case stateSubscribing:
		return "subscribing"
	case stateLive:
		return "live"
	default:
		return "disconnected"
	}
}

const (
	defaultReconnectBase = 2 * time.Second
	defaultReconnectMax  = 30 * time.Second
	appendMaxAttempts    = 5
	appendBaseBackoff    = 200 * time.Millisecond
)

// Deps 注入的外部协作者，不用进程级单例
type Deps struct {
	Streamer   LogStreamer
	Store      EventStore
	Supply     SupplySource
	Txs        TxSource
	Formatter  Formatter
	Dispatcher Dispatcher
}

// Manager 每个池子一条长期订阅。单个池子内事件按送达顺序串行处理，
// 保证落盘顺序；不同池子完全并行。
type Manager struct {
	cfg  config.Config
	deps Deps
	tl   *zap.Logger

	reconnectBase time.Duration
	reconnectMax  time.Duration

	wg     conc.WaitGroup
	states map[string]*atomic.Int32
	fatal  chan error
}

func NewManager(cfg config.Config, deps Deps, tl *zap.Logger) *Manager {
	base := defaultReconnectBase
	if cfg.Watcher.ReconnectBaseMs > 0 {
		base = time.Duration(cfg.Watcher.ReconnectBaseMs) * time.Millisecond
	}
	max := defaultReconnectMax
	if cfg.Watcher.ReconnectMaxMs > 0 {
		max = time.Duration(cfg.Watcher.ReconnectMaxMs) * time.Millisecond
	}

	states := make(map[string]*atomic.Int32, len(cfg.Pools))
	for _, p := range cfg.Pools {
		states[utils.ChecksumAddress(p.Address)] = &atomic.Int32{}
	}

	return &Manager{
		cfg:           cfg,
		deps:          deps,
		tl:            tl,
		reconnectBase: base,
		reconnectMax:  max,
		states:        states,
		fatal:         make(chan error, 1),
	}
}

// Fatal 投递通道本身不可用时（致命配置错误）上报，由上层决定退出
func (m *Manager) Fatal() <-chan error {
	return m.fatal
}

// Start 为每个配置的池子启动一条 watch 协程
func (m *Manager) Start(ctx context.Context) {
	for _, p := range m.cfg.Pools {
		pool := p
		m.wg.Go(func() {
			m.watchPool(ctx, pool)
		})
	}
}

// WaitWithGrace 等全部 watch 退出，超过宽限期强制放行。
// 处理中的事件会先把落盘做完，未发出的通知允许丢失。
func (m *Manager) WaitWithGrace(grace time.Duration) {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		m.tl.Warn("❌ shutdown grace expired, abandoning in-flight watches")
	}
}

func (m *Manager) setState(poolID string, s watchState) {
	if st, ok := m.states[utils.ChecksumAddress(poolID)]; ok {
		st.Store(int32(s))
	}
}

// watchPool 一个池子的订阅主循环：Disconnected → Subscribing → Live，
// 传输层断开后带退避重连。Store 按 tx_hash 幂等，重连后的重投递是安全的。
func (m *Manager) watchPool(ctx context.Context, pool config.PoolConfig) {
	addr := common.HexToAddress(pool.Address)
	tl := m.tl.With(zap.String("pool", pool.Label), zap.String("address", addr.Hex()))

	query := ethereum.FilterQuery{
		Addresses: []common.Address{addr},
		Topics:    [][]common.Hash{{decoder.SwapTopic}},
	}

	backoff := m.reconnectBase
	for {
		if ctx.Err() != nil {
			m.setState(pool.Address, stateDisconnected)
			return
		}

		m.setState(pool.Address, stateSubscribing)
		logs := make(chan types.Log, 256)
		sub, err := m.deps.Streamer.SubscribeFilterLogs(ctx, query, logs)
		if err != nil {
			m.setState(pool.Address, stateDisconnected)
			monitor.SubscriptionReconnects.WithLabelValues(pool.Label).Inc()
			tl.Warn("❌ subscribe failed, backing off",
				zap.Duration("backoff", backoff), zap.Error(err))
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, m.reconnectMax)
			continue
		}

		m.setState(pool.Address, stateLive)
		tl.Info("✅ pool watch live")
		backoff = m.reconnectBase

		if !m.consume(ctx, tl, pool, sub, logs) {
			sub.Unsubscribe()
			return
		}

		// 传输层断开，重订阅
		sub.Unsubscribe()
		m.setState(pool.Address, stateDisconnected)
		monitor.SubscriptionReconnects.WithLabelValues(pool.Label).Inc()
		if !sleepCtx(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, m.reconnectMax)
	}
}

// consume 返回 false 表示收到取消信号，true 表示传输层断开需要重连
func (m *Manager) consume(ctx context.Context, tl *zap.Logger, pool config.PoolConfig, sub ethereum.Subscription, logs <-chan types.Log) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case err := <-sub.Err():
			tl.Warn("❌ subscription closed by transport", zap.Error(err))
			return true
		case lg := <-logs:
			m.handleLog(ctx, tl, pool, lg)
		}
	}
}

// handleLog 单条事件的完整流水线：解码 → 补全 → 派生 → 落盘 → 渲染 → 投递。
// 任何一步失败都只影响这一条事件，绝不拖垮整条订阅。
func (m *Manager) handleLog(ctx context.Context, tl *zap.Logger, pool config.PoolConfig, lg types.Log) {
	start := time.Now()
	monitor.SwapEventsReceived.WithLabelValues(pool.Label).Inc()

	// 未配置池子的事件拒绝并记日志，不静默丢弃
	if _, ok := m.cfg.PoolByID(lg.Address.Hex()); !ok {
		tl.Warn("❌ reject event from unconfigured pool", zap.String("emitter", lg.Address.Hex()))
		return
	}

	raw, err := decoder.UnpackSwapLog(lg)
	if err != nil {
		monitor.SwapDecodeFailures.WithLabelValues(pool.Label).Inc()
		tl.Warn("❌ decode failed, skip event",
			zap.String("tx", lg.TxHash.Hex()), zap.Error(err))
		return
	}

	rec, supply, supplyOK := m.buildRecord(ctx, tl, raw)

	// 落盘是幂等与 at-least-once 的锚点：没写成功就不发通知
	stored, err := m.appendWithRetry(ctx, rec)
	if err != nil {
		monitor.StoreAppendFailures.WithLabelValues(pool.Label).Inc()
		tl.Error("❌ store append failed, notification withheld",
			zap.String("tx", rec.TxHash), zap.Error(err))
		return
	}
	if !stored {
		monitor.SwapEventsDuplicate.WithLabelValues(pool.Label).Inc()
		tl.Debug("duplicate event, already recorded", zap.String("tx", rec.TxHash))
		return
	}
	monitor.SwapEventsStored.WithLabelValues(pool.Label).Inc()

	metrics, err := derive.Compute(raw, pool, supply, supplyOK)
	if err != nil {
		tl.Warn("❌ derive failed, skip notification",
			zap.String("tx", rec.TxHash), zap.Error(err))
		return
	}

	body, err := m.deps.Formatter.Format(rec, metrics, pool)
	if err != nil {
		// 模板缺失属于配置错误，按条记日志上抛，不掩盖
		tl.Error("❌ format failed", zap.String("tx", rec.TxHash), zap.Error(err))
		return
	}

	if err := m.deps.Dispatcher.Send(ctx, body); err != nil {
		if errors.Is(err, dispatch.ErrPermanent) {
			select {
			case m.fatal <- err:
			default:
			}
			return
		}
		// 重试已在 dispatcher 内部耗尽，记录已落盘，只丢这条通知
		tl.Error("❌ dispatch failed, record kept",
			zap.String("tx", rec.TxHash), zap.Error(err))
		return
	}

	monitor.HandlerDuration.WithLabelValues(pool.Label).Observe(time.Since(start).Seconds())
	tl.Info("✅ swap notified",
		zap.String("tx", rec.TxHash),
		zap.String("direction", metrics.Direction.String()),
		zap.String("price", metrics.PricePerUnit.String()))
}

// buildRecord 组装持久化记录。总量与交易方查询失败都降级继续，
// 只是报表字段，不卡事件流
func (m *Manager) buildRecord(ctx context.Context, tl *zap.Logger, raw *decoder.RawSwap) (*model.SwapEvent, decimal.Decimal, bool) {
	rec := &model.SwapEvent{
		PoolID:       utils.ChecksumAddress(raw.Pool.Hex()),
		Sender:       raw.Sender.Hex(),
		Recipient:    raw.Recipient.Hex(),
		Amount0Raw:   raw.Amount0.String(),
		Amount1Raw:   raw.Amount1.String(),
		SqrtPriceX96: raw.SqrtPriceX96.String(),
		Liquidity:    raw.Liquidity.String(),
		Tick:         raw.Tick,
		TxHash:       raw.TxHash.Hex(),
		BlockNumber:  raw.BlockNumber,
		LogIndex:     raw.LogIndex,
		ObservedAt:   time.Now().Unix(),
	}

	if m.deps.Txs != nil {
		if from, to, err := m.deps.Txs.Counterparties(ctx, raw.TxHash); err == nil {
			rec.TxFrom = from
			rec.TxTo = to
		} else {
			tl.Debug("tx lookup failed, using pool-level parties", zap.Error(err))
		}
	}

	var supply decimal.Decimal
	supplyOK := false
	if m.deps.Supply != nil {
		s, err := m.deps.Supply.TotalSupply(ctx)
		if err != nil {
			monitor.SupplyFetchFailures.Inc()
			tl.Warn("❌ supply fetch failed, market cap unavailable", zap.Error(err))
		} else {
			supply = s
			supplyOK = true
			rec.ObservedSupply = s.String()
		}
	}

	return rec, supply, supplyOK
}

// appendWithRetry 有限次重试落盘。磁盘打不开不该让订阅死掉，
// 但重试耗尽后这条事件不再发通知。
func (m *Manager) appendWithRetry(ctx context.Context, rec *model.SwapEvent) (bool, error) {
	backoff := appendBaseBackoff
	var lastErr error

	for attempt := 0; attempt < appendMaxAttempts; attempt++ {
		if attempt > 0 {
			if !sleepCtx(ctx, backoff) {
				return false, ctx.Err()
			}
			backoff = nextBackoff(backoff, 5*time.Second)
		}

		stored, err := m.deps.Store.Append(rec.PoolID, rec)
		if err == nil {
			return stored, nil
		}
		lastErr = err
	}
	return false, lastErr
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		next = max
	}
	return next
}

// sleepCtx 可取消的等待，返回 false 表示上下文已结束
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
