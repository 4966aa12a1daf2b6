package decoder

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// DecodeError 单条事件的解码错误，跳过该事件即可
type DecodeError struct {
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s", e.Field, e.Reason)
}

func newDecodeError(field, reason string) *DecodeError {
	return &DecodeError{Field: field, Reason: reason}
}

var q192 = new(big.Int).Lsh(big.NewInt(1), 192)

// sqrt price 展开后保留的小数位数，够财务展示用，同时避免无限小数
const priceScale = 40

// DecodeAmount 将原始定点数转成十进制，保留符号，不截断精度
func DecodeAmount(raw *big.Int, decimals uint8) decimal.Decimal {
	value := decimal.NewFromBigInt(raw, 0)
	divisor := decimal.New(1, int32(decimals))
	return value.DivRound(divisor, priceScale)
}

// DecodeSqrtPrice 将 Q96 编码的 sqrt price 展开为 token1/token0 的原始比价：
// (raw / 2^96)^2 = raw^2 / 2^192。全程走 decimal，禁止浮点，2^96 的量级下
// float64 的精度不够。
func DecodeSqrtPrice(raw *big.Int) (decimal.Decimal, error) {
	if raw == nil || raw.Sign() < 0 || raw.BitLen() > 160 {
		return decimal.Zero, newDecodeError("sqrtPriceX96", "value exceeds uint160")
	}

	squared := new(big.Int).Mul(raw, raw)
	num := decimal.NewFromBigInt(squared, 0)
	denom := decimal.NewFromBigInt(q192, 0)
	return num.DivRound(denom, priceScale), nil
}
