package copytrade

import (
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SIZING - How much of a tracked trade we mirror
// ═══════════════════════════════════════════════════════════════════════════════

// SizingStrategy selects the mirror-size formula.
type SizingStrategy string

const (
	SizingPercentage SizingStrategy = "PERCENTAGE"
	SizingFixed      SizingStrategy = "FIXED"
	SizingAdaptive   SizingStrategy = "ADAPTIVE"
)

// SizingConfig parameterizes the formulas. All USD amounts.
type SizingConfig struct {
	Strategy SizingStrategy

	CopyPercentage  decimal.Decimal // PERCENTAGE: share of the trader's size
	FixedCopyAmount decimal.Decimal // FIXED

	// ADAPTIVE: percentage decays linearly from MaxPercent toward
	// MinPercent as the trader's size grows.
	MinPercent  decimal.Decimal // fraction, e.g. 0.01
	MaxPercent  decimal.Decimal // fraction, e.g. 0.10
	DecayPerUSD decimal.Decimal // k in maxPercent - k*traderUsd

	MinTradeSize    decimal.Decimal
	MaxPositionSize decimal.Decimal
}

// DefaultSizingConfig returns a conservative percentage setup.
func DefaultSizingConfig() SizingConfig {
	return SizingConfig{
		Strategy:        SizingPercentage,
		CopyPercentage:  decimal.NewFromInt(5),
		FixedCopyAmount: decimal.NewFromInt(10),
		MinPercent:      decimal.NewFromFloat(0.01),
		MaxPercent:      decimal.NewFromFloat(0.10),
		DecayPerUSD:     decimal.NewFromFloat(0.00001),
		MinTradeSize:    decimal.NewFromInt(1),
		MaxPositionSize: decimal.NewFromInt(500),
	}
}

// SizingCalculation is the outcome of sizing one detected trade.
type SizingCalculation struct {
	SizeUSD decimal.Decimal
	Skip    bool
	Reason  string
}

// CalculateSize maps a trader's USD size to ours, bounded by limits and
// the available balance.
func CalculateSize(cfg SizingConfig, traderUSD, availableUSD decimal.Decimal) SizingCalculation {
	if traderUSD.LessThanOrEqual(decimal.Zero) {
		return SizingCalculation{Skip: true, Reason: "non-positive trader size"}
	}

	var size decimal.Decimal
	switch cfg.Strategy {
	case SizingFixed:
		size = cfg.FixedCopyAmount

	case SizingAdaptive:
		pct := cfg.MaxPercent.Sub(cfg.DecayPerUSD.Mul(traderUSD))
		if pct.LessThan(cfg.MinPercent) {
			pct = cfg.MinPercent
		}
		size = traderUSD.Mul(pct)

	default: // PERCENTAGE
		size = traderUSD.Mul(cfg.CopyPercentage).Div(decimal.NewFromInt(100))
		if size.LessThan(cfg.MinTradeSize) {
			size = cfg.MinTradeSize
		}
	}

	if size.GreaterThan(cfg.MaxPositionSize) {
		size = cfg.MaxPositionSize
	}
	if size.GreaterThan(availableUSD) {
		size = availableUSD
	}
	if size.LessThan(cfg.MinTradeSize) {
		return SizingCalculation{Skip: true, Reason: "below minimum trade size"}
	}
	return SizingCalculation{SizeUSD: size}
}
