package onchain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ContractCaller 合约只读调用，ethclient.Client 直接满足
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// TxBackend 交易查询，ethclient.Client 直接满足
type TxBackend interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
}

// totalSupply() 的函数选择子
var totalSupplySelector = []byte{0x18, 0x16, 0x0d, 0xdd}

const supplyCacheKey = "total_supply"

// SupplyReader 查询追踪代币的总量快照。swap 密集时不必每笔都打一次
// eth_call，结果在 TTL 内复用。
type SupplyReader struct {
	caller   ContractCaller
	token    common.Address
	decimals uint8
	cache    *gocache.Cache
	tl       *zap.Logger
}

func NewSupplyReader(caller ContractCaller, token string, decimals uint8, ttl time.Duration, tl *zap.Logger) *SupplyReader {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &SupplyReader{
		caller:   caller,
		token:    common.HexToAddress(token),
		decimals: decimals,
		cache:    gocache.New(ttl, 2*ttl),
		tl:       tl,
	}
}

// TotalSupply 返回解码后的总量。查询失败由调用方降级为 unavailable，
// 不应阻塞事件流水线。
func (r *SupplyReader) TotalSupply(ctx context.Context) (decimal.Decimal, error) {
	if cached, ok := r.cache.Get(supplyCacheKey); ok {
		return cached.(decimal.Decimal), nil
	}

	result, err := r.caller.CallContract(ctx, ethereum.CallMsg{
		To:   &r.token,
		Data: totalSupplySelector,
	}, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch total supply: %w", err)
	}
	if len(result) < 32 {
		return decimal.Zero, fmt.Errorf("fetch total supply: short return data (%d bytes)", len(result))
	}

	// 取最后32字节作为数值
	raw := new(big.Int).SetBytes(result[len(result)-32:])
	supply := decimal.NewFromBigInt(raw, -int32(r.decimals))

	r.cache.Set(supplyCacheKey, supply, gocache.DefaultExpiration)
	return supply, nil
}

// TxLookup 补全交易级别的 from/to，池子事件里的 sender/recipient
// 往往是路由合约，不是真实用户
type TxLookup struct {
	backend TxBackend
	tl      *zap.Logger
}

func NewTxLookup(backend TxBackend, tl *zap.Logger) *TxLookup {
	return &TxLookup{backend: backend, tl: tl}
}

// Counterparties 返回交易发起方与目标地址。pending 或查询失败返回错误，
// 调用方降级继续。
func (l *TxLookup) Counterparties(ctx context.Context, txHash common.Hash) (from, to string, err error) {
	tx, pending, err := l.backend.TransactionByHash(ctx, txHash)
	if err != nil {
		return "", "", fmt.Errorf("fetch transaction %s: %w", txHash.Hex(), err)
	}
	if pending {
		return "", "", fmt.Errorf("fetch transaction %s: still pending", txHash.Hex())
	}

	sender, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return "", "", fmt.Errorf("recover sender of %s: %w", txHash.Hex(), err)
	}

	from = sender.Hex()
	if tx.To() != nil {
		to = tx.To().Hex()
	}
	return from, to, nil
}
