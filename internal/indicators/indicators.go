package indicators

import (
	"math"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// INDICATORS - Pure math over price series
// ═══════════════════════════════════════════════════════════════════════════════

// SMA calculates Simple Moving Average over the last period points.
func SMA(prices []float64, period int) float64 {
	if len(prices) == 0 {
		return 0
	}
	if len(prices) < period {
		return average(prices)
	}
	return average(prices[len(prices)-period:])
}

// EMA calculates Exponential Moving Average.
func EMA(prices []float64, period int) float64 {
	if len(prices) == 0 {
		return 0
	}
	if len(prices) < period {
		return average(prices)
	}

	multiplier := 2.0 / float64(period+1)
	ema := average(prices[:period])
	for i := period; i < len(prices); i++ {
		ema = (prices[i]-ema)*multiplier + ema
	}
	return ema
}

// VWAP calculates volume-weighted average price. Falls back to SMA over
// the full series when no volume is present.
func VWAP(prices, volumes []float64) float64 {
	if len(prices) == 0 {
		return 0
	}
	var pv, vol float64
	for i := range prices {
		if i < len(volumes) {
			pv += prices[i] * volumes[i]
			vol += volumes[i]
		}
	}
	if vol == 0 {
		return average(prices)
	}
	return pv / vol
}

// RSI calculates the Relative Strength Index with Wilder smoothing.
// Returns 50 (neutral) when there is not enough data.
func RSI(prices []float64, period int) float64 {
	if len(prices) < period+1 {
		return 50
	}

	gains := make([]float64, 0, len(prices)-1)
	losses := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gains = append(gains, change)
			losses = append(losses, 0)
		} else {
			gains = append(gains, 0)
			losses = append(losses, -change)
		}
	}

	avgGain := average(gains[:period])
	avgLoss := average(losses[:period])

	// Wilder smoothing over the remainder
	for i := period; i < len(gains); i++ {
		avgGain = (avgGain*float64(period-1) + gains[i]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + losses[i]) / float64(period)
	}

	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// Volatility returns the standard deviation of log returns.
func Volatility(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}

	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] <= 0 || prices[i] <= 0 {
			continue
		}
		returns = append(returns, math.Log(prices[i]/prices[i-1]))
	}
	return Stdev(returns)
}

// Stdev returns the population standard deviation.
func Stdev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	avg := average(data)
	sumSquares := 0.0
	for _, v := range data {
		sumSquares += (v - avg) * (v - avg)
	}
	return math.Sqrt(sumSquares / float64(len(data)))
}

// ChangePercent returns (last - first) / first.
func ChangePercent(prices []float64) float64 {
	if len(prices) < 2 || prices[0] == 0 {
		return 0
	}
	return (prices[len(prices)-1] - prices[0]) / prices[0]
}

// MaxDrawdown returns the largest peak-to-trough decline as a fraction of
// the peak, over an equity curve.
func MaxDrawdown(equity []float64) float64 {
	if len(equity) < 2 {
		return 0
	}
	peak := equity[0]
	maxDD := 0.0
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := (peak - v) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// Sharpe returns the annualized Sharpe ratio of a return series sampled
// periodsPerYear times a year. Risk-free rate is taken as zero.
func Sharpe(returns []float64, periodsPerYear float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	avg := average(returns)
	sd := Stdev(returns)
	if sd == 0 {
		return 0
	}
	return avg / sd * math.Sqrt(periodsPerYear)
}

// Spread returns ask - bid.
func Spread(bid, ask decimal.Decimal) decimal.Decimal {
	return ask.Sub(bid)
}

// Mid returns the midpoint of bid and ask, or zero when either side is empty.
func Mid(bid, ask decimal.Decimal) decimal.Decimal {
	if bid.IsZero() || ask.IsZero() {
		return decimal.Zero
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2))
}

// SpreadPercent returns (ask - bid) / mid, as a fraction.
func SpreadPercent(bid, ask decimal.Decimal) decimal.Decimal {
	mid := Mid(bid, ask)
	if mid.IsZero() {
		return decimal.Zero
	}
	return ask.Sub(bid).Div(mid)
}

// RoundToTick rounds a price to the venue tick (two decimal places) and
// clamps into the tradable band.
func RoundToTick(price decimal.Decimal) decimal.Decimal {
	p := price.Round(2)
	min := decimal.NewFromFloat(0.01)
	max := decimal.NewFromFloat(0.99)
	if p.LessThan(min) {
		return min
	}
	if p.GreaterThan(max) {
		return max
	}
	return p
}

// Helper functions

func average(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}

// DecimalToFloat converts decimal to float64.
func DecimalToFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// FloatToDecimal converts float64 to decimal.
func FloatToDecimal(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}
