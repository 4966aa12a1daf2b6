package model

import (
	"github.com/shopspring/decimal"
)

// SwapEvent 持久化的 Swap 事件记录。原始协议字段（amount/sqrtPriceX96/liquidity）
// 按十进制字符串原样保留，之后可以重新推导，不依赖当时的解码结果。
type SwapEvent struct {
	PoolID       string `json:"pool_id"`
	Sender       string `json:"sender"`
	Recipient    string `json:"recipient"`
	Amount0Raw   string `json:"amount0_raw"`
	Amount1Raw   string `json:"amount1_raw"`
	SqrtPriceX96 string `json:"sqrt_price_x96"`
	Liquidity    string `json:"liquidity"`
	Tick         int32  `json:"tick"`
	TxHash       string `json:"tx_hash"`
	TxFrom       string `json:"tx_from,omitempty"`
	TxTo         string `json:"tx_to,omitempty"`
	BlockNumber  uint64 `json:"block_number"`
	LogIndex     uint   `json:"log_index"`
	// ObservedSupply 观测时的代币总量快照，空串表示当时查询失败（unavailable）
	ObservedSupply string `json:"observed_supply,omitempty"`
	ObservedAt     int64  `json:"observed_at"`
}

// SupplySnapshot 返回总量快照，快照缺失时 ok 为 false
func (e *SwapEvent) SupplySnapshot() (decimal.Decimal, bool) {
	if e.ObservedSupply == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(e.ObservedSupply)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
