package format

import (
	"fmt"
	"strings"

	"swap-notify/internal/watcher/config"
	"swap-notify/internal/watcher/derive"
	"swap-notify/internal/watcher/model"
	"swap-notify/pkg/utils"

	"github.com/shopspring/decimal"
)

// UnavailableMarker 市值 / 总量拿不到时显示的占位符，
// 不允许渲染成空白或让流水线崩掉
const UnavailableMarker = "n/a"

const txLinkBase = "https://etherscan.io/tx/"

// Key 模板按 (池子, 方向) 索引
type Key struct {
	Pool      string
	Direction derive.TradeDirection
}

// TemplateFunc 将一条事件渲染成频道可用的 Markdown 消息体，纯函数，无 I/O
type TemplateFunc func(ev *model.SwapEvent, m *derive.Metrics, pool config.PoolConfig, tokenSymbol string) string

// Formatter 按 (池子, 方向) 查表渲染，替代嵌套条件拼接
type Formatter struct {
	tokenSymbol string
	templates   map[Key]TemplateFunc
}

func New(cfg config.Config) *Formatter {
	templates := make(map[Key]TemplateFunc, len(cfg.Pools)*2)
	for _, p := range cfg.Pools {
		pool := strings.ToLower(p.Address)
		templates[Key{Pool: pool, Direction: derive.AssetOut}] = buyTemplate
		templates[Key{Pool: pool, Direction: derive.AssetIn}] = sellTemplate
	}
	return &Formatter{
		tokenSymbol: cfg.Token.Symbol,
		templates:   templates,
	}
}

// Format 渲染消息体。查不到模板说明池子没配置，这是配置错误，直接上抛
func (f *Formatter) Format(ev *model.SwapEvent, m *derive.Metrics, pool config.PoolConfig) (string, error) {
	key := Key{Pool: strings.ToLower(ev.PoolID), Direction: m.Direction}
	tmpl, ok := f.templates[key]
	if !ok {
		return "", fmt.Errorf("no template for pool %s direction %s", ev.PoolID, m.Direction)
	}
	return tmpl(ev, m, pool, f.tokenSymbol), nil
}

func buyTemplate(ev *model.SwapEvent, m *derive.Metrics, pool config.PoolConfig, tokenSymbol string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🟢 *%s* Buy!\n", pool.Label)
	fmt.Fprintf(&b, "💲 Spent: %s %s\n", renderAmount(m.QuoteAmount), pool.QuoteSymbol)
	fmt.Fprintf(&b, "💱 Got: %s %s\n", renderAmount(m.TrackedAmount), tokenSymbol)
	writeCommonLines(&b, ev, m, pool)
	return b.String()
}

func sellTemplate(ev *model.SwapEvent, m *derive.Metrics, pool config.PoolConfig, tokenSymbol string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔴 *%s* Sell!\n", pool.Label)
	fmt.Fprintf(&b, "💲 Sold: %s %s\n", renderAmount(m.TrackedAmount), tokenSymbol)
	fmt.Fprintf(&b, "💱 Got: %s %s\n", renderAmount(m.QuoteAmount), pool.QuoteSymbol)
	writeCommonLines(&b, ev, m, pool)
	return b.String()
}

func writeCommonLines(b *strings.Builder, ev *model.SwapEvent, m *derive.Metrics, pool config.PoolConfig) {
	from, to := ev.Sender, ev.Recipient
	if ev.TxFrom != "" {
		from = ev.TxFrom
	}
	if ev.TxTo != "" {
		to = ev.TxTo
	}
	fmt.Fprintf(b, "👤 %s → %s\n", utils.ShortAddress(from), utils.ShortAddress(to))
	fmt.Fprintf(b, "💵 Price: %s %s\n", renderAmount(m.PricePerUnit), pool.QuoteSymbol)

	mcap := UnavailableMarker
	if m.MarketCapOK {
		mcap = fmt.Sprintf("%s %s", renderAmount(m.MarketCap), pool.QuoteSymbol)
	}
	fmt.Fprintf(b, "🏦 Market Cap: %s\n", mcap)
	fmt.Fprintf(b, "🔗 [View on Etherscan](%s%s)", txLinkBase, ev.TxHash)
}

// renderAmount 大于 1 的值固定两位小数；小于 1 的值至少保留两位有效数字，
// WETH 计价的单价可能极小，不允许被舍成 "0"
func renderAmount(d decimal.Decimal) string {
	abs := d.Abs()
	if abs.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return d.StringFixed(2)
	}
	if d.IsZero() {
		return "0"
	}

	// abs = coefficient × 10^exp，小数点后前导零的个数决定保留位数
	leadingZeros := -(abs.Exponent() + int32(len(abs.Coefficient().String())))
	places := leadingZeros + 2
	if places < 8 {
		places = 8
	}
	return d.Round(places).String()
}
