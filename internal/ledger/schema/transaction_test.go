package schema

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func tx(id string, amount string, at time.Time) Transaction {
	return Transaction{
		ID:         id,
		Amount:     decimal.RequireFromString(amount),
		OccurredAt: at,
		Label:      "test",
	}
}

func TestValidate(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		tx      Transaction
		wantErr bool
	}{
		{name: "valid", tx: tx("a", "1", now)},
		{name: "missing id", tx: tx("", "1", now), wantErr: true},
		{name: "missing date", tx: tx("a", "1", time.Time{}), wantErr: true},
		{name: "amount beyond double range", tx: tx("a", "1e400", now), wantErr: true},
		{name: "large negative amount", tx: tx("a", "-1e300", now)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tx.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSameEntity_IgnoresContent(t *testing.T) {
	now := time.Now()
	a := tx("same", "10", now)
	b := tx("same", "-3", now.Add(time.Hour))
	b.Deleted = true

	if !SameEntity(a, b) {
		t.Error("SameEntity() = false for matching ids")
	}
	if SameContent(a, b) {
		t.Error("SameContent() = true for different amounts")
	}
	if SameEntity(a, tx("other", "10", now)) {
		t.Error("SameEntity() = true for different ids")
	}
}

func TestSameContent_DecimalScale(t *testing.T) {
	now := time.Now()
	a := tx("x", "10", now)
	b := tx("x", "10.00", now)
	if !SameContent(a, b) {
		t.Error("SameContent() should compare amounts numerically")
	}
}

func TestSortNewestFirst_Stable(t *testing.T) {
	base := time.Date(2026, 4, 4, 10, 0, 0, 0, time.UTC)
	list := []Transaction{
		tx("old", "1", base),
		tx("tie-1", "1", base.Add(time.Hour)),
		tx("new", "1", base.Add(2*time.Hour)),
		tx("tie-2", "1", base.Add(time.Hour)),
	}

	SortNewestFirst(list)

	want := []string{"new", "tie-1", "tie-2", "old"}
	for i, id := range want {
		if list[i].ID != id {
			t.Errorf("list[%d] = %s, want %s", i, list[i].ID, id)
		}
	}
	if !IsSortedNewestFirst(list) {
		t.Error("IsSortedNewestFirst() = false after sort")
	}
}

func TestSumAndIndexOf(t *testing.T) {
	now := time.Now()
	list := []Transaction{tx("a", "100", now), tx("b", "-25.5", now), tx("c", "0.5", now)}

	if got := Sum(list); !got.Equal(decimal.RequireFromString("75")) {
		t.Errorf("Sum() = %s, want 75", got)
	}
	if got := IndexOf(list, "b"); got != 1 {
		t.Errorf("IndexOf(b) = %d, want 1", got)
	}
	if got := IndexOf(list, "missing"); got != -1 {
		t.Errorf("IndexOf(missing) = %d, want -1", got)
	}
}

func TestNormalize_MillisecondRoundTrip(t *testing.T) {
	at := time.Date(2026, 4, 4, 10, 0, 0, 123456789, time.FixedZone("CEST", 2*3600))
	tr := Transaction{ID: "a", OccurredAt: at, Label: "  coffee "}
	tr.Normalize()

	if tr.Label != "coffee" {
		t.Errorf("Label = %q, want %q", tr.Label, "coffee")
	}
	if got := FromMillis(Millis(tr.OccurredAt)); !got.Equal(tr.OccurredAt) {
		t.Errorf("round trip changed time: %v != %v", got, tr.OccurredAt)
	}
	if tr.OccurredAt.Nanosecond() != 123000000 {
		t.Errorf("Nanosecond() = %d, want 123000000", tr.OccurredAt.Nanosecond())
	}
}
