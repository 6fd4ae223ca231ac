package position

import "github.com/shopspring/decimal"

// Summary 为相对初始入金的账户盈亏。
type Summary struct {
	Deposit         float64 `json:"deposit"`
	TotalEquity     float64 `json:"totalEq"`
	TotalPnl        float64 `json:"totalPnl"`
	TotalPnlPercent float64 `json:"totalPnlPercent"`
}

// Summarize 计算账户总盈亏，deposit 非正时返回 false。
func Summarize(deposit, equity float64) (Summary, bool) {
	if deposit <= 0 {
		return Summary{}, false
	}

	dep := decimal.NewFromFloat(deposit)
	eq := decimal.NewFromFloat(equity)
	pnl := eq.Sub(dep)
	percent := pnl.Div(dep).Mul(decimal.NewFromInt(100)).Round(4)

	return Summary{
		Deposit:         deposit,
		TotalEquity:     equity,
		TotalPnl:        pnl.Round(8).InexactFloat64(),
		TotalPnlPercent: percent.InexactFloat64(),
	}, true
}
