package analytics

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/opsxjacky/multistock-rl/pkg/types"
)

// TradingDaysPerYear 年化使用的交易日数
const TradingDaysPerYear = 252

// Returns 由价值序列计算逐日收益率; 前值非正时该期收益记为 0
func Returns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] > 0 {
			out[i-1] = values[i]/values[i-1] - 1
		}
	}
	return out
}

// Volatility 年化波动率
func Volatility(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	return stat.StdDev(returns, nil) * math.Sqrt(TradingDaysPerYear)
}

// Sharpe 年化夏普比率, riskFree 为年化无风险利率; 标准差为 0 时返回 0
func Sharpe(returns []float64, riskFree float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean, std := stat.MeanStdDev(returns, nil)
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	return (mean - riskFree/TradingDaysPerYear) / std * math.Sqrt(TradingDaysPerYear)
}

// MaxDrawdown 最大回撤, 以正数表示 (0.25 即从峰值回落 25%)
func MaxDrawdown(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	peak := values[0]
	maxDD := 0.0
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// Compute 计算回合绩效, 起始资金作为价值序列的第一个点
func Compute(startingBalance float64, info types.EpisodeInfo) types.PerformanceStats {
	values := info.TotalPortfolioValue
	series := make([]float64, 0, len(values)+1)
	series = append(series, startingBalance)
	series = append(series, values...)

	stats := types.PerformanceStats{Days: len(values), Turnover: ShareTurnover(info.NumShares)}
	if len(values) == 0 || startingBalance <= 0 {
		return stats
	}

	returns := Returns(series)
	stats.TotalReturn = values[len(values)-1]/startingBalance - 1
	stats.Volatility = Volatility(returns)
	stats.Sharpe = Sharpe(returns, 0)
	stats.MaxDrawdown = MaxDrawdown(series)
	return stats
}

// ShareTurnover 各标的持股变动绝对值之和, 初始持股为 0
func ShareTurnover(shares [][]float64) []float64 {
	if len(shares) == 0 {
		return nil
	}
	out := make([]float64, len(shares[0]))
	prev := make([]float64, len(shares[0]))
	diff := make([]float64, len(shares[0]))
	for _, row := range shares {
		floats.SubTo(diff, row, prev)
		for i, d := range diff {
			out[i] += math.Abs(d)
		}
		copy(prev, row)
	}
	return out
}
