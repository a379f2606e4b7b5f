// Package entry turns user form input into validated transaction values.
//
// A form carries an unsigned amount plus a direction: money coming in is
// positive, money going out is negative. Dates accept a few fixed layouts or
// natural language such as "yesterday 18:00".
package entry

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/shopspring/decimal"

	"github.com/steveyegge/budgetsync/internal/ledger/schema"
)

// Direction says whether money comes in or goes out.
type Direction string

const (
	In  Direction = "in"
	Out Direction = "out"
)

var (
	// ErrInvalidAmount is returned for empty, non-numeric or non-positive
	// amounts.
	ErrInvalidAmount = errors.New("amount must be a positive number")

	// ErrInvalidDirection is returned for a direction other than in/out.
	ErrInvalidDirection = errors.New("direction must be \"in\" or \"out\"")

	// ErrInvalidDate is returned when the date matches no known format.
	ErrInvalidDate = errors.New("unrecognized date")
)

// Form is raw user input.
type Form struct {
	Amount    string    `json:"amount"`              // unsigned, e.g. "12.50"
	Direction Direction `json:"direction,omitempty"` // default: out
	Label     string    `json:"label"`
	Date      string    `json:"date,omitempty"` // default: now
}

// Entry is validated input ready for the engine.
type Entry struct {
	Amount     decimal.Decimal // signed
	Label      string
	OccurredAt time.Time
}

// layouts are tried in order before natural-language parsing.
var layouts = []string{
	time.RFC3339,
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
	"02.01.2006 15:04",
	"02.01.2006",
}

var parser = newParser()

func newParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// Parse validates f. now is used for an empty date and as the reference for
// relative dates. Nothing is returned unless every field is valid.
func Parse(f Form, now time.Time) (Entry, error) {
	amount, err := ParseAmount(f.Amount)
	if err != nil {
		return Entry{}, err
	}

	switch Direction(strings.ToLower(strings.TrimSpace(string(f.Direction)))) {
	case In:
	case Out, "":
		amount = amount.Neg()
	default:
		return Entry{}, fmt.Errorf("%w: %q", ErrInvalidDirection, f.Direction)
	}

	occurredAt := now
	if strings.TrimSpace(f.Date) != "" {
		occurredAt, err = ParseDate(f.Date, now)
		if err != nil {
			return Entry{}, err
		}
	}

	return Entry{
		Amount:     amount,
		Label:      strings.TrimSpace(f.Label),
		OccurredAt: occurredAt,
	}, nil
}

// ParseAmount parses an unsigned amount. Thousands separators (",", "_" and
// spaces) are ignored.
func ParseAmount(s string) (decimal.Decimal, error) {
	clean := strings.NewReplacer(",", "", "_", "", " ", "").Replace(strings.TrimSpace(s))
	if clean == "" {
		return decimal.Zero, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidAmount, d)
	}
	// Amounts travel as doubles
	if f := d.InexactFloat64(); math.IsInf(f, 0) || f == 0 {
		return decimal.Zero, fmt.Errorf("%w: %q is out of range", ErrInvalidAmount, s)
	}
	return d, nil
}

// ParseDate accepts the fixed layouts in local time, then natural language
// relative to now.
func ParseDate(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return t, nil
		}
	}

	r, err := parser.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrInvalidDate, s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return r.Time, nil
}

// FormFrom splits a stored transaction back into form fields, for editing.
func FormFrom(t schema.Transaction) Form {
	dir := In
	amount := t.Amount
	if amount.IsNegative() {
		dir = Out
		amount = amount.Neg()
	}
	return Form{
		Amount:    amount.String(),
		Direction: dir,
		Label:     t.Label,
		Date:      t.OccurredAt.Local().Format("2006-01-02 15:04"),
	}
}
