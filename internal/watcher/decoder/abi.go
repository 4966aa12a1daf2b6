package decoder

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Uniswap V3 风格池子的 Swap 事件定义
const swapEventABI = `[{"anonymous":false,"inputs":[
{"indexed":true,"internalType":"address","name":"sender","type":"address"},
{"indexed":true,"internalType":"address","name":"recipient","type":"address"},
{"indexed":false,"internalType":"int256","name":"amount0","type":"int256"},
{"indexed":false,"internalType":"int256","name":"amount1","type":"int256"},
{"indexed":false,"internalType":"uint160","name":"sqrtPriceX96","type":"uint160"},
{"indexed":false,"internalType":"uint128","name":"liquidity","type":"uint128"},
{"indexed":false,"internalType":"int24","name":"tick","type":"int24"}],
"name":"Swap","type":"event"}]`

var (
	swapABI abi.ABI

	// SwapTopic Swap 事件的 topic0
	SwapTopic common.Hash
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(swapEventABI))
	if err != nil {
		panic(err)
	}
	swapABI = parsed
	SwapTopic = swapABI.Events["Swap"].ID
}

// RawSwap 从日志里拆出来的原始字段，未做数值解码
type RawSwap struct {
	Pool         common.Address
	Sender       common.Address
	Recipient    common.Address
	Amount0      *big.Int
	Amount1      *big.Int
	SqrtPriceX96 *big.Int
	Liquidity    *big.Int
	Tick         int32
	TxHash       common.Hash
	BlockNumber  uint64
	LogIndex     uint
}

// UnpackSwapLog 将链上日志拆成 RawSwap，并做位宽与符号校验。
// 校验失败返回 *DecodeError，单条事件跳过即可，不应中断订阅。
func UnpackSwapLog(lg types.Log) (*RawSwap, error) {
	if len(lg.Topics) != 3 || lg.Topics[0] != SwapTopic {
		return nil, newDecodeError("topics", "not a Swap event log")
	}

	fields, err := swapABI.Unpack("Swap", lg.Data)
	if err != nil {
		return nil, newDecodeError("data", err.Error())
	}
	if len(fields) != 5 {
		return nil, newDecodeError("data", "unexpected field count")
	}

	amount0, ok0 := fields[0].(*big.Int)
	amount1, ok1 := fields[1].(*big.Int)
	sqrtPrice, ok2 := fields[2].(*big.Int)
	liquidity, ok3 := fields[3].(*big.Int)
	tick, ok4 := fields[4].(*big.Int)
	if !ok0 || !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, newDecodeError("data", "unexpected field types")
	}

	// int24 域校验必须在窄化之前做，超宽的畸形字不能折叠进合法区间
	if !tick.IsInt64() || tick.Int64() < minTick || tick.Int64() > maxTick {
		return nil, newDecodeError("tick", "tick out of range")
	}

	raw := &RawSwap{
		Pool:         lg.Address,
		Sender:       common.BytesToAddress(lg.Topics[1].Bytes()),
		Recipient:    common.BytesToAddress(lg.Topics[2].Bytes()),
		Amount0:      amount0,
		Amount1:      amount1,
		SqrtPriceX96: sqrtPrice,
		Liquidity:    liquidity,
		Tick:         int32(tick.Int64()),
		TxHash:       lg.TxHash,
		BlockNumber:  lg.BlockNumber,
		LogIndex:     lg.Index,
	}

	if err := raw.validate(); err != nil {
		return nil, err
	}
	return raw, nil
}

const (
	minTick = -887272
	maxTick = 887272
)

func (r *RawSwap) validate() error {
	// 合法 swap 必须一增一减，两侧都不为零
	if r.Amount0.Sign() == 0 || r.Amount1.Sign() == 0 {
		return newDecodeError("amount", "degenerate swap: zero amount")
	}
	if r.Amount0.Sign() == r.Amount1.Sign() {
		return newDecodeError("amount", "amount0 and amount1 must have opposite signs")
	}
	if r.SqrtPriceX96.Sign() < 0 || r.SqrtPriceX96.BitLen() > 160 {
		return newDecodeError("sqrtPriceX96", "value exceeds uint160")
	}
	if r.Liquidity.Sign() < 0 || r.Liquidity.BitLen() > 128 {
		return newDecodeError("liquidity", "value exceeds uint128")
	}
	return nil
}
