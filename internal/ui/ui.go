// Package ui renders ledger output for the terminal.
package ui

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/shopspring/decimal"

	"github.com/steveyegge/budgetsync/internal/ledger/schema"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	dateCol   = lipgloss.NewStyle().Width(17)
	amountCol = lipgloss.NewStyle().Width(14).Align(lipgloss.Right).PaddingRight(2)
	flagCol   = lipgloss.NewStyle().Width(3)
)

func init() {
	if termenv.EnvNoColor() || os.Getenv("TERM") == "dumb" {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// RenderPass renders s as a success marker.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn renders s as a warning marker.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail renders s as an error marker.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderAccent renders s highlighted.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderMuted renders s dimmed.
func RenderMuted(s string) string { return mutedStyle.Render(s) }

// FormatMoney formats d in currency, rounded to the currency's minor unit,
// e.g. "€1,234.50". Unknown currency codes fall back to "1234.50 XYZ".
func FormatMoney(d decimal.Decimal, currency string) string {
	cur := money.GetCurrency(currency)
	if cur == nil {
		return fmt.Sprintf("%s %s", d.StringFixed(2), currency)
	}
	minor := d.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return money.New(minor, currency).Display()
}

// RenderAmount formats d colored by sign.
func RenderAmount(d decimal.Decimal, currency string) string {
	s := FormatMoney(d, currency)
	switch {
	case d.IsNegative():
		return failStyle.Render(s)
	case d.IsPositive():
		return passStyle.Render(s)
	default:
		return s
	}
}

// RenderBalance renders the balance line.
func RenderBalance(d decimal.Decimal, currency string) string {
	return fmt.Sprintf("%s %s", RenderAccent("Balance:"), RenderAmount(d, currency))
}

// Flag returns the status marker for a transaction: "↑" waiting to be
// synced, "✗" deleted and waiting to be synced, blank otherwise.
func Flag(t schema.Transaction) string {
	switch {
	case t.Deleted:
		return "✗"
	case t.Pending:
		return "↑"
	default:
		return ""
	}
}

// RenderTable renders transactions one per line: date, amount, flag, label
// and a short id.
func RenderTable(list []schema.Transaction, currency string) string {
	if len(list) == 0 {
		return RenderMuted("No transactions") + "\n"
	}

	var b strings.Builder
	for _, t := range list {
		id := t.ID
		if len(id) > 8 {
			id = id[:8]
		}
		row := lipgloss.JoinHorizontal(lipgloss.Top,
			dateCol.Render(t.OccurredAt.Local().Format("2006-01-02 15:04")),
			amountCol.Render(RenderAmount(t.Amount, currency)),
			flagCol.Render(warnStyle.Render(Flag(t))),
			t.Label,
		)
		b.WriteString(row)
		b.WriteString("  ")
		b.WriteString(RenderMuted(id))
		b.WriteString("\n")
	}
	return b.String()
}

// Ago formats a past instant relative to now, e.g. "3m ago".
func Ago(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case t.IsZero():
		return "never"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
