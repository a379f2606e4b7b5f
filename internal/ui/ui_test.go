package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/shopspring/decimal"

	"github.com/steveyegge/budgetsync/internal/ledger/schema"
)

func init() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

func TestFormatMoney(t *testing.T) {
	tests := []struct {
		amount   string
		currency string
		want     string
	}{
		{"1234.5", "USD", "$1,234.50"},
		{"-12.345", "USD", "-$12.35"},
		{"0", "USD", "$0.00"},
		{"7", "XYZ", "7.00 XYZ"},
	}
	for _, tt := range tests {
		got := FormatMoney(decimal.RequireFromString(tt.amount), tt.currency)
		if got != tt.want {
			t.Errorf("FormatMoney(%s, %s) = %q, want %q", tt.amount, tt.currency, got, tt.want)
		}
	}
}

func TestRenderTable(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.Local)
	list := []schema.Transaction{
		{ID: "0123456789", Amount: decimal.NewFromInt(-5), OccurredAt: at, Label: "coffee", Pending: true},
		{ID: "b", Amount: decimal.NewFromInt(100), OccurredAt: at, Label: "refund"},
	}

	out := RenderTable(list, "USD")
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("RenderTable() produced %d lines, want 2:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[0], "coffee") || !strings.Contains(lines[0], "↑") || !strings.Contains(lines[0], "01234567") {
		t.Errorf("first line = %q", lines[0])
	}
	if strings.Contains(lines[0], "0123456789") {
		t.Errorf("id not shortened: %q", lines[0])
	}
	if !strings.Contains(lines[1], "$100.00") {
		t.Errorf("second line = %q", lines[1])
	}

	if !strings.Contains(RenderTable(nil, "USD"), "No transactions") {
		t.Error("empty table should say so")
	}
}

func TestAgo(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		t    time.Time
		want string
	}{
		{time.Time{}, "never"},
		{now.Add(-30 * time.Second), "30s ago"},
		{now.Add(-5 * time.Minute), "5m ago"},
		{now.Add(-3 * time.Hour), "3h ago"},
		{now.Add(-72 * time.Hour), "3d ago"},
	}
	for _, tt := range tests {
		if got := Ago(tt.t, now); got != tt.want {
			t.Errorf("Ago(%v) = %q, want %q", tt.t, got, tt.want)
		}
	}
}
