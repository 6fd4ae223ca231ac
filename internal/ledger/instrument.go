package ledger

import "strings"

// PlaceholderInstrument 用于缺失合约代码的记录。
const PlaceholderInstrument = "N/A"

// FormatInstrument 将合约代码转为展示名，例如 BTC-USDT-SWAP -> BTCUSDT Perp。
func FormatInstrument(instID string) string {
	instID = strings.TrimSpace(instID)
	if instID == "" {
		return "-"
	}
	label := strings.Replace(instID, "-USDT-SWAP", "USDT Perp", 1)
	return strings.Replace(label, "-", "", 1)
}
