// Package wire encodes and decodes the account delta exchanged with the sync
// server. The format is protobuf:
//
//	message AccountDelta {
//	  int64 server_timestamp = 1;
//	  repeated Transaction added_or_modified = 2;
//	}
//	message Transaction {
//	  string guid = 1;
//	  double value = 2;
//	  string kind = 3;
//	  int64 date = 4;
//	  bool deleted = 5;
//	}
//
// Messages are built directly with protowire; there is no generated code.
// Unknown fields are skipped on decode so newer servers stay compatible.
package wire

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/steveyegge/budgetsync/internal/ledger/schema"
)

// ContentType is the HTTP media type of an encoded Delta.
const ContentType = "application/octet-stream"

// ErrMalformed is returned when a payload is not a valid AccountDelta.
var ErrMalformed = errors.New("malformed account delta")

// Field numbers.
const (
	deltaServerTimestamp protowire.Number = 1
	deltaChanges         protowire.Number = 2

	changeGUID    protowire.Number = 1
	changeValue   protowire.Number = 2
	changeKind    protowire.Number = 3
	changeDate    protowire.Number = 4
	changeDeleted protowire.Number = 5
)

// Delta is an AccountDelta. Outbound, ServerTimestamp carries the client's
// cursor; inbound, it is the server's new cursor.
type Delta struct {
	ServerTimestamp int64
	Changes         []Change
}

// Change is one transaction revision on the wire.
type Change struct {
	GUID    string
	Value   float64
	Kind    string
	Date    int64 // millisecond epoch
	Deleted bool
}

// FromTransaction converts a ledger entity to its wire form.
func FromTransaction(t schema.Transaction) Change {
	return Change{
		GUID:    t.ID,
		Value:   t.Amount.InexactFloat64(),
		Kind:    t.Label,
		Date:    schema.Millis(t.OccurredAt),
		Deleted: t.Deleted,
	}
}

// Transaction converts a wire change to a ledger entity. Server revisions
// are never pending.
func (c Change) Transaction() schema.Transaction {
	return schema.Transaction{
		ID:         c.GUID,
		Amount:     decimal.NewFromFloat(c.Value),
		OccurredAt: schema.FromMillis(c.Date),
		Label:      c.Kind,
		Deleted:    c.Deleted,
	}
}

// Empty reports whether the delta carries no changes.
func (d Delta) Empty() bool {
	return len(d.Changes) == 0
}

// Marshal encodes d. Zero-valued scalars are omitted, as proto3 does.
func Marshal(d Delta) []byte {
	var b []byte
	if d.ServerTimestamp != 0 {
		b = protowire.AppendTag(b, deltaServerTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(d.ServerTimestamp))
	}
	for _, c := range d.Changes {
		b = protowire.AppendTag(b, deltaChanges, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalChange(c))
	}
	return b
}

func marshalChange(c Change) []byte {
	var b []byte
	if c.GUID != "" {
		b = protowire.AppendTag(b, changeGUID, protowire.BytesType)
		b = protowire.AppendString(b, c.GUID)
	}
	if c.Value != 0 {
		b = protowire.AppendTag(b, changeValue, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(c.Value))
	}
	if c.Kind != "" {
		b = protowire.AppendTag(b, changeKind, protowire.BytesType)
		b = protowire.AppendString(b, c.Kind)
	}
	if c.Date != 0 {
		b = protowire.AppendTag(b, changeDate, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(c.Date))
	}
	if c.Deleted {
		b = protowire.AppendTag(b, changeDeleted, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	return b
}

// Unmarshal decodes an AccountDelta. An empty payload is a valid empty delta.
func Unmarshal(b []byte) (Delta, error) {
	var d Delta
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Delta{}, malformed(n)
		}
		b = b[n:]

		switch {
		case num == deltaServerTimestamp && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Delta{}, malformed(n)
			}
			d.ServerTimestamp = int64(v)
			b = b[n:]

		case num == deltaChanges && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Delta{}, malformed(n)
			}
			c, err := unmarshalChange(v)
			if err != nil {
				return Delta{}, err
			}
			d.Changes = append(d.Changes, c)
			b = b[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Delta{}, malformed(n)
			}
			b = b[n:]
		}
	}
	return d, nil
}

func unmarshalChange(b []byte) (Change, error) {
	var c Change
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Change{}, malformed(n)
		}
		b = b[n:]

		switch {
		case num == changeGUID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Change{}, malformed(n)
			}
			c.GUID = v
			b = b[n:]

		case num == changeValue && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return Change{}, malformed(n)
			}
			c.Value = math.Float64frombits(v)
			b = b[n:]

		case num == changeKind && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Change{}, malformed(n)
			}
			c.Kind = v
			b = b[n:]

		case num == changeDate && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Change{}, malformed(n)
			}
			c.Date = int64(v)
			b = b[n:]

		case num == changeDeleted && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Change{}, malformed(n)
			}
			c.Deleted = protowire.DecodeBool(v)
			b = b[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Change{}, malformed(n)
			}
			b = b[n:]
		}
	}

	if c.GUID == "" {
		return Change{}, fmt.Errorf("%w: transaction without guid", ErrMalformed)
	}
	if math.IsNaN(c.Value) || math.IsInf(c.Value, 0) {
		return Change{}, fmt.Errorf("%w: transaction %s has value %v", ErrMalformed, c.GUID, c.Value)
	}
	return c, nil
}

func malformed(n int) error {
	return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
}
