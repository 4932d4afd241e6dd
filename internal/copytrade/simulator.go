package copytrade

import (
	"github.com/shopspring/decimal"

	"github.com/oddslab/crossarb/internal/clock"
	"github.com/oddslab/crossarb/internal/indicators"
	"github.com/oddslab/crossarb/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// COPY SIMULATOR - What would mirroring this wallet have earned?
// ═══════════════════════════════════════════════════════════════════════════════

// SimulationResult summarizes a replay of a wallet's history through the
// sizing pipeline.
type SimulationResult struct {
	Wallet        string
	TradesCopied  int
	TradesSkipped int
	RealizedPnL   decimal.Decimal
	OpenCostBasis decimal.Decimal // USD still deployed at the end
	FinalBalance  decimal.Decimal
}

// Simulate replays history (oldest first) with the given sizing config
// and starting balance. Fills are assumed at the trader's own prices.
func Simulate(cfg SizingConfig, startingBalance decimal.Decimal, history []DetectedTrade, clk clock.Clock) SimulationResult {
	book := NewPositionBook(clk)
	balance := startingBalance
	result := SimulationResult{}

	for _, t := range history {
		result.Wallet = t.Wallet
		price := indicators.RoundToTick(t.Price)
		if !price.IsPositive() {
			result.TradesSkipped++
			continue
		}

		if t.Side == types.SideSell {
			held, ok := book.Get(t.Wallet, t.MarketID, t.OutcomeID)
			if !ok || !held.Size.IsPositive() {
				result.TradesSkipped++
				continue
			}
			contracts := decimal.Min(held.Size, t.SizeUSD.Div(price).Round(2))
			pos, _, _ := book.ApplySell(t.Wallet, t.MarketID, t.OutcomeID, price, contracts)
			balance = balance.Add(price.Mul(contracts))
			result.RealizedPnL = result.RealizedPnL.Add(pos.RealizedPnL.Sub(held.RealizedPnL))
			result.TradesCopied++
			continue
		}

		calc := CalculateSize(cfg, t.SizeUSD, balance)
		if calc.Skip {
			result.TradesSkipped++
			continue
		}
		contracts := calc.SizeUSD.Div(price).Round(2)
		if !contracts.IsPositive() {
			result.TradesSkipped++
			continue
		}
		book.ApplyBuy(t.Wallet, t.MarketID, t.OutcomeID, price, contracts)
		balance = balance.Sub(price.Mul(contracts))
		result.TradesCopied++
	}

	for _, pos := range book.Open() {
		result.OpenCostBasis = result.OpenCostBasis.Add(pos.CostBasis)
	}
	result.FinalBalance = balance
	return result
}
