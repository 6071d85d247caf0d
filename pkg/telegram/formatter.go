package telegram

import (
	"fmt"

	"golang-trade-dispatcher/internal/entity"
	"golang-trade-dispatcher/internal/worker/dto"
)

// FormatExitFailureAlert formats an operator alert for a position stuck in the
// closing state past the exit retry budget.
func FormatExitFailureAlert(position *entity.Position, lastErr error) string {
	msg := fmt.Sprintf("🚨 *Exit order failing* 🚨\n"+
		"Ticker: `%s`\n"+
		"Position: #%d (%s %.2f @ %.2f)\n"+
		"Attempts: %d\n"+
		"Reason: %s\n",
		position.Ticker,
		position.ID,
		position.Side,
		position.Quantity,
		position.EntryPrice,
		position.ExitAttempts,
		lastErr,
	)
	return msg + "Manual intervention required."
}

// FormatOrphanAlert formats an operator alert for a broker position with no
// local ledger entry. Orphans are never adopted automatically.
func FormatOrphanAlert(orphan dto.BrokerPosition) string {
	return fmt.Sprintf("⚠️ *Untracked broker position* ⚠️\n"+
		"Ticker: `%s`\n"+
		"Qty: %.2f\n"+
		"Avg entry: %.2f\n"+
		"Not present in the local ledger. Review manually; it will not be adopted.",
		orphan.Ticker,
		orphan.Quantity,
		orphan.AvgEntryPrice,
	)
}

// FormatPositionClosed formats a close notification with frozen P&L.
func FormatPositionClosed(position *entity.Position) string {
	icon := "🟢"
	if position.PnlDollars < 0 {
		icon = "🔴"
	}
	return fmt.Sprintf("%s *Position closed* (`%s`)\n"+
		"Reason: %s\n"+
		"Exit: %.2f | Entry: %.2f\n"+
		"P&L: $%.2f (%.2f%%)",
		icon,
		position.Ticker,
		position.CloseReason,
		position.ExitPrice,
		position.EntryPrice,
		position.PnlDollars,
		position.PnlPercent,
	)
}
