package ledger

import "testing"

func TestFormatInstrument(t *testing.T) {
	cases := map[string]string{
		"BTC-USDT-SWAP": "BTCUSDT Perp",
		"ETH-USDT":      "ETHUSDT",
		"BTC-USD-SWAP":  "BTCUSD-SWAP",
		"N/A":           "N/A",
		"":              "-",
		"   ":           "-",
	}
	for in, want := range cases {
		if got := FormatInstrument(in); got != want {
			t.Errorf("FormatInstrument(%q) = %q, want %q", in, got, want)
		}
	}
}
