package copytrade

import (
	"sort"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TRADER RANKER - Percentile-normalized composite scoring
// ═══════════════════════════════════════════════════════════════════════════════

// TraderStats is a wallet's observed performance profile.
type TraderStats struct {
	Wallet       string
	ROI          float64 // fractional return on deployed capital
	WinRate      float64 // [0,1]
	ProfitFactor float64 // gross profit / gross loss
	Sharpe       float64
	MaxDrawdown  float64 // fraction of peak, [0,1]
	Trades       int
	VolumeUSD    float64
}

// RankerConfig holds component weights and minimum requirements.
type RankerConfig struct {
	WeightROI          float64
	WeightWinRate      float64
	WeightProfitFactor float64
	WeightConsistency  float64

	MinTrades    int
	MinVolumeUSD float64
	MinWinRate   float64
	MaxDrawdown  float64 // exclude wallets that fell further than this
}

// Preset configurations for common risk appetites.
func ConservativePreset() RankerConfig {
	return RankerConfig{
		WeightROI: 0.2, WeightWinRate: 0.3, WeightProfitFactor: 0.2, WeightConsistency: 0.3,
		MinTrades: 50, MinVolumeUSD: 5000, MinWinRate: 0.55, MaxDrawdown: 0.20,
	}
}

func AggressivePreset() RankerConfig {
	return RankerConfig{
		WeightROI: 0.5, WeightWinRate: 0.1, WeightProfitFactor: 0.3, WeightConsistency: 0.1,
		MinTrades: 20, MinVolumeUSD: 1000, MinWinRate: 0.40, MaxDrawdown: 0.50,
	}
}

func BalancedPreset() RankerConfig {
	return RankerConfig{
		WeightROI: 0.3, WeightWinRate: 0.25, WeightProfitFactor: 0.25, WeightConsistency: 0.2,
		MinTrades: 30, MinVolumeUSD: 2500, MinWinRate: 0.50, MaxDrawdown: 0.35,
	}
}

func HighVolumePreset() RankerConfig {
	return RankerConfig{
		WeightROI: 0.25, WeightWinRate: 0.25, WeightProfitFactor: 0.25, WeightConsistency: 0.25,
		MinTrades: 200, MinVolumeUSD: 50000, MinWinRate: 0.50, MaxDrawdown: 0.35,
	}
}

// RankedTrader pairs a wallet with its composite score.
type RankedTrader struct {
	Stats TraderStats
	Score float64 // [0,1]
}

// RankTraders filters by minimum requirements and scores the survivors
// on percentile-normalized components, best first.
func RankTraders(cfg RankerConfig, candidates []TraderStats) []RankedTrader {
	var eligible []TraderStats
	for _, c := range candidates {
		if c.Trades < cfg.MinTrades ||
			c.VolumeUSD < cfg.MinVolumeUSD ||
			c.WinRate < cfg.MinWinRate ||
			c.MaxDrawdown > cfg.MaxDrawdown {
			continue
		}
		eligible = append(eligible, c)
	}
	if len(eligible) == 0 {
		return nil
	}

	roi := make([]float64, len(eligible))
	win := make([]float64, len(eligible))
	pf := make([]float64, len(eligible))
	consistency := make([]float64, len(eligible))
	for i, c := range eligible {
		roi[i] = c.ROI
		win[i] = c.WinRate
		pf[i] = c.ProfitFactor
		// Consistency rewards a high Sharpe and a shallow drawdown.
		consistency[i] = c.Sharpe + (1 - c.MaxDrawdown)
	}

	roiP := percentiles(roi)
	winP := percentiles(win)
	pfP := percentiles(pf)
	consP := percentiles(consistency)

	out := make([]RankedTrader, len(eligible))
	for i, c := range eligible {
		score := cfg.WeightROI*roiP[i] +
			cfg.WeightWinRate*winP[i] +
			cfg.WeightProfitFactor*pfP[i] +
			cfg.WeightConsistency*consP[i]
		out[i] = RankedTrader{Stats: c, Score: score}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Stats.Wallet < out[j].Stats.Wallet
	})
	return out
}

// percentiles maps each value to its percentile rank in [0,1], with
// ties sharing the mean rank of their run.
func percentiles(values []float64) []float64 {
	n := len(values)
	if n == 1 {
		return []float64{1}
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return values[idx[a]] < values[idx[b]] })

	out := make([]float64, n)
	for rank := 0; rank < n; {
		end := rank
		for end+1 < n && values[idx[end+1]] == values[idx[rank]] {
			end++
		}
		mean := float64(rank+end) / 2 / float64(n-1)
		for k := rank; k <= end; k++ {
			out[idx[k]] = mean
		}
		rank = end + 1
	}
	return out
}
