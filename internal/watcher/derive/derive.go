package derive

import (
	"errors"

	"swap-notify/internal/watcher/config"
	"swap-notify/internal/watcher/decoder"

	"github.com/shopspring/decimal"
)

// TradeDirection 追踪币相对池子的流向
type TradeDirection int

const (
	// AssetOut 追踪币流出池子（买入）
	AssetOut TradeDirection = iota
	// AssetIn 追踪币流入池子（卖出）
	AssetIn
)

func (d TradeDirection) String() string {
	if d == AssetOut {
		return "asset_out"
	}
	return "asset_in"
}

// ErrZeroTrackedAmount 追踪币数量为零时单位价格无定义
var ErrZeroTrackedAmount = errors.New("tracked asset amount is zero")

// Metrics 一笔 swap 的派生指标，市值缺失用 MarketCapOK 标记而不是报错
type Metrics struct {
	Direction     TradeDirection
	TrackedAmount decimal.Decimal // 解码后的绝对值
	QuoteAmount   decimal.Decimal
	PricePerUnit  decimal.Decimal
	MarketCap     decimal.Decimal
	MarketCapOK   bool
}

const metricScale = 18

// Compute 由原始事件和池子配置计算派生指标。哪一侧是追踪币来自配置
// （tracked_side），这里不关心具体池子。supplyOK 为 false 时市值标记为缺失。
func Compute(raw *decoder.RawSwap, pool config.PoolConfig, supply decimal.Decimal, supplyOK bool) (*Metrics, error) {
	trackedRaw, quoteRaw := raw.Amount0, raw.Amount1
	trackedDec, quoteDec := pool.Decimals0, pool.Decimals1
	if pool.TrackedSide == 1 {
		trackedRaw, quoteRaw = raw.Amount1, raw.Amount0
		trackedDec, quoteDec = pool.Decimals1, pool.Decimals0
	}

	tracked := decoder.DecodeAmount(trackedRaw, trackedDec)
	quote := decoder.DecodeAmount(quoteRaw, quoteDec)

	direction := AssetIn
	if tracked.IsNegative() {
		direction = AssetOut
	}

	if tracked.IsZero() {
		return nil, ErrZeroTrackedAmount
	}

	price := quote.Abs().DivRound(tracked.Abs(), metricScale)

	m := &Metrics{
		Direction:     direction,
		TrackedAmount: tracked.Abs(),
		QuoteAmount:   quote.Abs(),
		PricePerUnit:  price,
	}
	if supplyOK {
		m.MarketCap = price.Mul(supply)
		m.MarketCapOK = true
	}
	return m, nil
}
