package subscription

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"swap-notify/internal/watcher/config"
	"swap-notify/internal/watcher/decoder"
	"swap-notify/internal/watcher/dispatch"
	"swap-notify/internal/watcher/format"
	"swap-notify/internal/watcher/store"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const poolAddr = "0x5121f6d8954fc6086649b826026739881a8f80c2"

var testCfg = config.Config{
	Token: config.TokenConfig{
		Address:  "0xe73d53e3a982ab2750A0b76F9012e18B256Cc243",
		Symbol:   "N",
		Decimals: 18,
	},
	Pools: []config.PoolConfig{
		{
			Address:     poolAddr,
			Label:       "N/RFD",
			TrackedSide: 0,
			QuoteSymbol: "RFD",
			Decimals0:   18,
			Decimals1:   18,
		},
	},
	Watcher: config.WatcherConfig{ReconnectBaseMs: 1, ReconnectMaxMs: 10},
}

type fakeSub struct {
	errCh chan error
}

func (s *fakeSub) Err() <-chan error { return s.errCh }
func (s *fakeSub) Unsubscribe()      {}

type fakeStreamer struct {
	mu         sync.Mutex
	logs       chan<- types.Log
	last       *fakeSub
	subErr     error
	subscribed chan struct{}
}

func newFakeStreamer() *fakeStreamer {
	return &fakeStreamer{subscribed: make(chan struct{}, 16)}
}

func (f *fakeStreamer) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return nil, f.subErr
	}
	sub := &fakeSub{errCh: make(chan error, 1)}
	f.logs = ch
	f.last = sub
	f.subscribed <- struct{}{}
	return sub, nil
}

func (f *fakeStreamer) deliver(lg types.Log) {
	f.mu.Lock()
	ch := f.logs
	f.mu.Unlock()
	ch <- lg
}

// dropConnection 模拟传输层断开
func (f *fakeStreamer) dropConnection() {
	f.mu.Lock()
	sub := f.last
	f.mu.Unlock()
	sub.errCh <- errors.New("websocket: close 1006")
}

func (f *fakeStreamer) waitSubscribed(t *testing.T) {
	t.Helper()
	select {
	case <-f.subscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription never established")
	}
}

type fakeDispatcher struct {
	mu     sync.Mutex
	bodies []string
	err    error
}

func (d *fakeDispatcher) Send(ctx context.Context, body string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.bodies = append(d.bodies, body)
	return nil
}

func (d *fakeDispatcher) sent() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.bodies...)
}

type fakeSupply struct {
	supply decimal.Decimal
	err    error
}

func (s *fakeSupply) TotalSupply(ctx context.Context) (decimal.Decimal, error) {
	return s.supply, s.err
}

// abiWord int256 的 ABI 字编码，负数取补码
func abiWord(v *big.Int) []byte {
	if v.Sign() >= 0 {
		return common.LeftPadBytes(v.Bytes(), 32)
	}
	twos := new(big.Int).Add(new(big.Int).Lsh(big.NewInt(1), 256), v)
	return common.LeftPadBytes(twos.Bytes(), 32)
}

func swapLog(txHash string, amount0, amount1 *big.Int) types.Log {
	sqrtPrice := new(big.Int).Lsh(big.NewInt(1), 96)
	data := abiWord(amount0)
	data = append(data, abiWord(amount1)...)
	data = append(data, abiWord(sqrtPrice)...)
	data = append(data, abiWord(big.NewInt(123456))...)
	data = append(data, abiWord(big.NewInt(-100))...)

	return types.Log{
		Address: common.HexToAddress(poolAddr),
		Topics: []common.Hash{
			decoder.SwapTopic,
			common.BytesToHash(common.HexToAddress("0x1111111111111111111111111111111111111111").Bytes()),
			common.BytesToHash(common.HexToAddress("0x2222222222222222222222222222222222222222").Bytes()),
		},
		Data:        data,
		TxHash:      common.HexToHash(txHash),
		BlockNumber: 42,
	}
}

func sellAmounts() (*big.Int, *big.Int) {
	a0, _ := new(big.Int).SetString("-1000000000000000000000", 10)
	a1, _ := new(big.Int).SetString("25000000000000000000", 10)
	return a0, a1
}

type harness struct {
	streamer   *fakeStreamer
	dispatcher *fakeDispatcher
	store      *store.FileStore
	manager    *Manager
	cancel     context.CancelFunc
}

func newHarness(t *testing.T, supply SupplySource, disp *fakeDispatcher) *harness {
	t.Helper()
	streamer := newFakeStreamer()

	st, err := store.NewFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	mgr := NewManager(testCfg, Deps{
		Streamer:   streamer,
		Store:      st,
		Supply:     supply,
		Formatter:  format.New(testCfg),
		Dispatcher: disp,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		mgr.WaitWithGrace(2 * time.Second)
	})
	mgr.Start(ctx)
	streamer.waitSubscribed(t)

	return &harness{
		streamer:   streamer,
		dispatcher: disp,
		store:      st,
		manager:    mgr,
		cancel:     cancel,
	}
}

func TestPipelineStoresAndNotifies(t *testing.T) {
	h := newHarness(t, &fakeSupply{supply: decimal.NewFromInt(500000)}, &fakeDispatcher{})

	a0, a1 := sellAmounts()
	h.streamer.deliver(swapLog("0xabc1", a0, a1))

	require.Eventually(t, func() bool {
		return len(h.dispatcher.sent()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	body := h.dispatcher.sent()[0]
	assert.Contains(t, body, "0.025 RFD")
	assert.Contains(t, body, "12500")

	recs, err := h.store.ReadAll(poolAddr)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "-1000000000000000000000", recs[0].Amount0Raw)
	assert.Equal(t, "500000", recs[0].ObservedSupply)
}

func TestRedeliveryAfterReconnect(t *testing.T) {
	// 断开前 E1 已落盘；重连后 E1 被重投递，store 识别为已记录，
	// 不允许出现第二条通知
	h := newHarness(t, &fakeSupply{supply: decimal.NewFromInt(500000)}, &fakeDispatcher{})

	a0, a1 := sellAmounts()
	h.streamer.deliver(swapLog("0xe1", a0, a1))
	require.Eventually(t, func() bool {
		return len(h.dispatcher.sent()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	h.streamer.dropConnection()
	h.streamer.waitSubscribed(t)

	h.streamer.deliver(swapLog("0xe1", a0, a1)) // 重投递
	h.streamer.deliver(swapLog("0xe2", a0, a1)) // 新事件

	require.Eventually(t, func() bool {
		return len(h.dispatcher.sent()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	recs, err := h.store.ReadAll(poolAddr)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	e1Hash := common.HexToHash("0xe1").Hex()
	e1Count := 0
	for _, body := range h.dispatcher.sent() {
		if strings.Contains(body, e1Hash) {
			e1Count++
		}
	}
	assert.Equal(t, 1, e1Count, "E1 只能通知一次")
}

func TestSupplyFetchFailureDegrades(t *testing.T) {
	h := newHarness(t, &fakeSupply{err: errors.New("rpc timeout")}, &fakeDispatcher{})

	a0, a1 := sellAmounts()
	h.streamer.deliver(swapLog("0xabc1", a0, a1))

	require.Eventually(t, func() bool {
		return len(h.dispatcher.sent()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// 记录照常落盘，快照为空；通知里市值显式标记 n/a
	recs, err := h.store.ReadAll(poolAddr)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Empty(t, recs[0].ObservedSupply)
	assert.Contains(t, h.dispatcher.sent()[0], format.UnavailableMarker)
}

func TestUnconfiguredPoolEventRejected(t *testing.T) {
	h := newHarness(t, &fakeSupply{supply: decimal.NewFromInt(500000)}, &fakeDispatcher{})

	a0, a1 := sellAmounts()

	// 陌生池子发出的事件：既不落盘也不通知
	const foreignAddr = "0x90e7a93e0a6514cb0c84fc7acc1cb5c0793352d2"
	foreign := swapLog("0xbad1", a0, a1)
	foreign.Address = common.HexToAddress(foreignAddr)
	h.streamer.deliver(foreign)

	h.streamer.deliver(swapLog("0x900d", a0, a1))

	require.Eventually(t, func() bool {
		return len(h.dispatcher.sent()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Contains(t, h.dispatcher.sent()[0], common.HexToHash("0x900d").Hex())

	recs, err := h.store.ReadAll(poolAddr)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, common.HexToHash("0x900d").Hex(), recs[0].TxHash)

	foreignRecs, err := h.store.ReadAll(foreignAddr)
	require.NoError(t, err)
	assert.Empty(t, foreignRecs)
}

func TestDecodeFailureSkipsSingleEvent(t *testing.T) {
	h := newHarness(t, &fakeSupply{supply: decimal.NewFromInt(500000)}, &fakeDispatcher{})

	// amount0 == 0，解码校验拒绝；订阅必须继续活着
	h.streamer.deliver(swapLog("0xdead", big.NewInt(0), big.NewInt(100)))

	a0, a1 := sellAmounts()
	h.streamer.deliver(swapLog("0xc0de", a0, a1))

	require.Eventually(t, func() bool {
		return len(h.dispatcher.sent()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	recs, err := h.store.ReadAll(poolAddr)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestPermanentDispatchErrorIsFatal(t *testing.T) {
	disp := &fakeDispatcher{err: fmt.Errorf("%w: bot was kicked", dispatch.ErrPermanent)}
	h := newHarness(t, &fakeSupply{supply: decimal.NewFromInt(500000)}, disp)

	a0, a1 := sellAmounts()
	h.streamer.deliver(swapLog("0xabc1", a0, a1))

	select {
	case err := <-h.manager.Fatal():
		assert.ErrorIs(t, err, dispatch.ErrPermanent)
	case <-time.After(2 * time.Second):
		t.Fatal("permanent dispatch error not surfaced")
	}

	// 事件本身已经持久化，数据没丢
	recs, err := h.store.ReadAll(poolAddr)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestResubscribeAfterSubscribeError(t *testing.T) {
	streamer := newFakeStreamer()
	streamer.subErr = errors.New("dial tcp: connection refused")

	st, err := store.NewFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	disp := &fakeDispatcher{}
	mgr := NewManager(testCfg, Deps{
		Streamer:   streamer,
		Store:      st,
		Supply:     &fakeSupply{supply: decimal.NewFromInt(1)},
		Formatter:  format.New(testCfg),
		Dispatcher: disp,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		mgr.WaitWithGrace(2 * time.Second)
	})
	mgr.Start(ctx)

	// 让订阅失败几轮后恢复
	time.Sleep(20 * time.Millisecond)
	streamer.mu.Lock()
	streamer.subErr = nil
	streamer.mu.Unlock()

	streamer.waitSubscribed(t)
}
