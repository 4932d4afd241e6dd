package bot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/oddslab/crossarb/internal/health"
	"github.com/oddslab/crossarb/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM NOTIFIER - Operator alerts
// ═══════════════════════════════════════════════════════════════════════════════
//
// Pages the operator on the events that need a human:
//   🚨 kill-switch trips
//   ⚠️ unhedged arbitrage legs
//   💰 executed trades
//   🛡️ health flips
//
// A nil *Notifier is safe everywhere; an unconfigured deployment just
// runs silent.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Notifier sends operator alerts over Telegram.
type Notifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// New creates a notifier. Returns an error when the token is rejected.
func New(token string, chatID int64) (*Notifier, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	log.Info().Str("username", api.Self.UserName).Msg("📱 Telegram notifier initialized")
	return &Notifier{api: api, chatID: chatID}, nil
}

// NotifyKillSwitch pages the kill-switch trip.
func (n *Notifier) NotifyKillSwitch(state health.State) {
	if n == nil {
		return
	}
	msg := fmt.Sprintf(`🚨 *KILL SWITCH TRIPPED*

🎛 Trigger: *%s*
📝 %s

Trading is halted and all resting orders cancelled. Re-arm via the admin API when resolved.`,
		state.Trigger, state.Reason)
	n.sendMarkdown(msg)
}

// NotifyUnhedged pages a one-sided arbitrage fill that could not be
// compensated.
func (n *Notifier) NotifyUnhedged(opp *types.ArbitrageOpportunity, filledSize decimal.Decimal) {
	if n == nil {
		return
	}
	msg := fmt.Sprintf(`⚠️ *UNHEDGED EXECUTION*

📊 %s:%s
📦 Exposed size: *%s*
💵 Expected profit was: *$%s*

Manual intervention required.`,
		opp.BuyLeg.Platform, opp.BuyLeg.MarketID,
		filledSize.StringFixed(2),
		opp.MaxProfit.StringFixed(2))
	n.sendMarkdown(msg)
}

// NotifyTrade reports an executed trade.
func (n *Notifier) NotifyTrade(t types.Trade) {
	if n == nil {
		return
	}
	emoji := "🟢"
	if t.Side == types.SideSell {
		emoji = "🔴"
	}
	msg := fmt.Sprintf(`%s *TRADE*

📊 %s — %s %s
💵 Price: *%s¢*
📦 Size: *%s*`,
		emoji,
		t.MarketID, t.Side, t.OutcomeID,
		t.Price.Mul(decimal.NewFromInt(100)).StringFixed(1),
		t.Size.StringFixed(2))
	n.sendMarkdown(msg)
}

// NotifyHealth reports an overall health flip.
func (n *Notifier) NotifyHealth(status health.Status) {
	if n == nil {
		return
	}
	if status.Healthy {
		n.sendMarkdown("🛡️ *HEALTH RECOVERED*\n\nAll checks passing.")
		return
	}
	msg := "🛡️ *HEALTH DEGRADED*\n"
	for _, c := range status.Checks {
		if !c.Healthy {
			msg += fmt.Sprintf("\n❌ `%s` — %s", c.Name, c.Message)
		}
	}
	n.sendMarkdown(msg)
}

func (n *Notifier) sendMarkdown(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := n.api.Send(msg); err != nil {
		log.Warn().Err(err).Msg("Telegram send failed")
	}
}
