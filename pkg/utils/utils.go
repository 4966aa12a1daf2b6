package utils

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ChecksumAddress 将 EVM 地址转换为 EIP-55 Checksum 格式
func ChecksumAddress(addr string) string {
	if addr == "" {
		return ""
	}
	addr = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(addr)), "0x")
	return common.HexToAddress("0x" + addr).Hex()
}

// ShortAddress 地址缩写显示，如 0x5121…80c2
func ShortAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}
