package orders

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PRE-TRADE RISK CHECKS
// ═══════════════════════════════════════════════════════════════════════════════

// Limits are the hard pre-trade limits. An order breaching any of them is
// rejected, never retried.
type Limits struct {
	MaxPositionSizeUSD  decimal.Decimal
	MaxTotalExposureUSD decimal.Decimal
	MaxDailyLossUSD     decimal.Decimal
	MaxDrawdownPercent  decimal.Decimal
}

// RiskSnapshot is the manager's view of current risk state, taken under
// the same lock that admits the order.
type RiskSnapshot struct {
	PositionUSD      decimal.Decimal // existing exposure on the order's position key
	TotalExposureUSD decimal.Decimal
	DailyPnL         decimal.Decimal // realized + unrealized, today
	DrawdownPercent  decimal.Decimal
}

// RejectReason is the stable reason code surfaced on risk rejections.
type RejectReason string

const (
	RejectPositionLimit RejectReason = "POSITION_LIMIT"
	RejectExposureLimit RejectReason = "EXPOSURE_LIMIT"
	RejectDailyLoss     RejectReason = "DAILY_LOSS_LIMIT"
	RejectDrawdown      RejectReason = "DRAWDOWN_LIMIT"
)

// RiskRejection is returned when a pre-trade check fails.
type RiskRejection struct {
	Reason RejectReason
	Detail string
}

func (r *RiskRejection) Error() string {
	return fmt.Sprintf("risk rejected (%s): %s", r.Reason, r.Detail)
}

// CheckLimits validates an order's notional against the limits. Post-state
// must satisfy every limit; the order notional is price*size in USD.
func CheckLimits(limits Limits, snap RiskSnapshot, orderNotional decimal.Decimal) *RiskRejection {
	if snap.PositionUSD.Add(orderNotional).GreaterThan(limits.MaxPositionSizeUSD) {
		return &RiskRejection{
			Reason: RejectPositionLimit,
			Detail: fmt.Sprintf("position %s + order %s exceeds max %s",
				snap.PositionUSD.StringFixed(2), orderNotional.StringFixed(2), limits.MaxPositionSizeUSD.StringFixed(2)),
		}
	}
	if snap.TotalExposureUSD.Add(orderNotional).GreaterThan(limits.MaxTotalExposureUSD) {
		return &RiskRejection{
			Reason: RejectExposureLimit,
			Detail: fmt.Sprintf("exposure %s + order %s exceeds max %s",
				snap.TotalExposureUSD.StringFixed(2), orderNotional.StringFixed(2), limits.MaxTotalExposureUSD.StringFixed(2)),
		}
	}
	if snap.DailyPnL.LessThanOrEqual(limits.MaxDailyLossUSD.Neg()) {
		log.Warn().Str("daily_pnl", snap.DailyPnL.StringFixed(2)).Msg("🚨 Daily loss limit hit")
		return &RiskRejection{
			Reason: RejectDailyLoss,
			Detail: fmt.Sprintf("daily pnl %s at or below -%s", snap.DailyPnL.StringFixed(2), limits.MaxDailyLossUSD.StringFixed(2)),
		}
	}
	if snap.DrawdownPercent.GreaterThanOrEqual(limits.MaxDrawdownPercent) {
		return &RiskRejection{
			Reason: RejectDrawdown,
			Detail: fmt.Sprintf("drawdown %s%% at or above max %s%%", snap.DrawdownPercent.StringFixed(2), limits.MaxDrawdownPercent.StringFixed(2)),
		}
	}
	return nil
}
