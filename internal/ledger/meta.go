package ledger

import (
	"math"

	"github.com/juju/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

type State uint8

const (
	Accumulating State = iota
	ResetPending
)

func (s State) String() string {
	switch s {
	case Accumulating:
		return "accumulating"
	case ResetPending:
		return "reset_pending"
	}
	return "invalid"
}

// Meta is ledger part kept in crash-safe blob. Volumes are restored from flow checkpoint.
type Meta struct {
	CurrentDate       string
	LastResetDate     string
	Saved             bool
	PreviousDayVolume float64
	State             State
}

const (
	fieldCurrentDate   protowire.Number = 1
	fieldLastResetDate protowire.Number = 2
	fieldSaved         protowire.Number = 3
	fieldPreviousDay   protowire.Number = 4
	fieldState         protowire.Number = 5
)

// MarshalBinary uses protobuf wire format so fields may be added later.
func (m *Meta) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, 64)
	b = protowire.AppendTag(b, fieldCurrentDate, protowire.BytesType)
	b = protowire.AppendString(b, m.CurrentDate)
	b = protowire.AppendTag(b, fieldLastResetDate, protowire.BytesType)
	b = protowire.AppendString(b, m.LastResetDate)
	b = protowire.AppendTag(b, fieldSaved, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(m.Saved))
	b = protowire.AppendTag(b, fieldPreviousDay, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(m.PreviousDayVolume))
	b = protowire.AppendTag(b, fieldState, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.State))
	return b, nil
}

func (m *Meta) UnmarshalBinary(b []byte) error {
	var x Meta
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Annotate(protowire.ParseError(n), "ledger meta tag")
		}
		b = b[n:]
		switch {
		case num == fieldCurrentDate && typ == protowire.BytesType:
			x.CurrentDate, n = protowire.ConsumeString(b)
		case num == fieldLastResetDate && typ == protowire.BytesType:
			x.LastResetDate, n = protowire.ConsumeString(b)
		case num == fieldSaved && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			x.Saved = protowire.DecodeBool(v)
		case num == fieldPreviousDay && typ == protowire.Fixed64Type:
			var v uint64
			v, n = protowire.ConsumeFixed64(b)
			x.PreviousDayVolume = math.Float64frombits(v)
		case num == fieldState && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			x.State = State(v)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return errors.Annotatef(protowire.ParseError(n), "ledger meta field=%d", num)
		}
		b = b[n:]
	}
	*m = x
	return nil
}
