// Package clickpb holds the wire messages exchanged by the click pipeline:
// the HTTP payloads, the event-bus payloads, and the ownership records kept
// in the store. Encoding is Protocol Buffers v3 (schema in proto/clicks.proto).
//
// The codec is maintained by hand on top of protowire rather than generated:
// the schema is nine flat messages with frozen field numbers, and keeping the
// build free of a protoc toolchain is worth more than codegen here. Proto3
// rules apply: zero values are omitted on encode, unknown fields are skipped
// on decode, and the last occurrence of a scalar field wins.
package clickpb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Click is the durable record of a single accepted click. It travels on the
// clicks.tile.<id> stream and is what the persister replays into the store.
type Click struct {
	TileID      int32
	CountryID   string
	TimestampNs uint64
	ClickID     string
}

// ClickRequest is the body of POST /api/click.
type ClickRequest struct {
	TileID    int32
	CountryID string
}

// ClickResponse acknowledges an accepted click. ClickID is empty for
// suppressed no-op clicks.
type ClickResponse struct {
	TimestampNs uint64
	ClickID     string
}

// BatchRequest asks for the ownerships in the half-open range
// [StartTileID, EndTileID).
type BatchRequest struct {
	StartTileID int32
	EndTileID   int32
}

// Ownership is the current assignment of one tile.
type Ownership struct {
	TileID      uint32
	CountryID   string
	TimestampNs uint64
}

// OwnershipState is a set of ownerships, the response of the batch and
// full-dump queries.
type OwnershipState struct {
	Ownerships []*Ownership
}

// UpdateNotification announces an ownership change on the clicks.all subject
// and on every /ws/listen frame. PreviousCountryID is empty when the tile was
// unowned.
type UpdateNotification struct {
	TileID            int32
	CountryID         string
	PreviousCountryID string
}

// LeaderboardEntry is one country's current tile count.
type LeaderboardEntry struct {
	CountryID string
	Score     uint32
}

// LeaderboardResponse lists every country holding at least one tile, ordered
// by descending score then ascending country id.
type LeaderboardResponse struct {
	Entries []*LeaderboardEntry
}

// --- encoding ---

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendInt32Field(b []byte, num protowire.Number, v int32) []byte {
	// proto3 int32 is sign-extended to 64 bits on the wire.
	return appendVarintField(b, num, uint64(int64(v)))
}

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessageField(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

// Marshal encodes m into protobuf wire format.
func (m *Click) Marshal() []byte {
	var b []byte
	b = appendInt32Field(b, 1, m.TileID)
	b = appendStringField(b, 2, m.CountryID)
	b = appendVarintField(b, 3, m.TimestampNs)
	b = appendStringField(b, 4, m.ClickID)
	return b
}

// Marshal encodes m into protobuf wire format.
func (m *ClickRequest) Marshal() []byte {
	var b []byte
	b = appendInt32Field(b, 1, m.TileID)
	b = appendStringField(b, 2, m.CountryID)
	return b
}

// Marshal encodes m into protobuf wire format.
func (m *ClickResponse) Marshal() []byte {
	var b []byte
	b = appendVarintField(b, 1, m.TimestampNs)
	b = appendStringField(b, 2, m.ClickID)
	return b
}

// Marshal encodes m into protobuf wire format.
func (m *BatchRequest) Marshal() []byte {
	var b []byte
	b = appendInt32Field(b, 1, m.StartTileID)
	b = appendInt32Field(b, 2, m.EndTileID)
	return b
}

// Marshal encodes m into protobuf wire format.
func (m *Ownership) Marshal() []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(m.TileID))
	b = appendStringField(b, 2, m.CountryID)
	b = appendVarintField(b, 3, m.TimestampNs)
	return b
}

// Marshal encodes m into protobuf wire format.
func (m *OwnershipState) Marshal() []byte {
	var b []byte
	for _, o := range m.Ownerships {
		b = appendMessageField(b, 1, o.Marshal())
	}
	return b
}

// Marshal encodes m into protobuf wire format.
func (m *UpdateNotification) Marshal() []byte {
	var b []byte
	b = appendInt32Field(b, 1, m.TileID)
	b = appendStringField(b, 2, m.CountryID)
	b = appendStringField(b, 3, m.PreviousCountryID)
	return b
}

// Marshal encodes m into protobuf wire format.
func (m *LeaderboardEntry) Marshal() []byte {
	var b []byte
	b = appendStringField(b, 1, m.CountryID)
	b = appendVarintField(b, 2, uint64(m.Score))
	return b
}

// Marshal encodes m into protobuf wire format.
func (m *LeaderboardResponse) Marshal() []byte {
	var b []byte
	for _, e := range m.Entries {
		b = appendMessageField(b, 1, e.Marshal())
	}
	return b
}

// --- decoding ---

type fieldHandler func(num protowire.Number, typ protowire.Type, data []byte) (int, bool, error)

// walkFields drives a decode loop: handler consumes known fields and reports
// (bytes consumed, handled); unhandled fields are skipped per proto3 rules.
func walkFields(data []byte, handler fieldHandler) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("clickpb: bad tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		consumed, handled, err := handler(num, typ, data)
		if err != nil {
			return err
		}
		if !handled {
			consumed = protowire.ConsumeFieldValue(num, typ, data)
			if consumed < 0 {
				return fmt.Errorf("clickpb: bad field %d: %w", num, protowire.ParseError(consumed))
			}
		}
		data = data[consumed:]
	}
	return nil
}

func consumeVarint(data []byte, num protowire.Number) (uint64, int, error) {
	v, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return 0, 0, fmt.Errorf("clickpb: bad varint in field %d: %w", num, protowire.ParseError(n))
	}
	return v, n, nil
}

func consumeString(data []byte, num protowire.Number) (string, int, error) {
	s, n := protowire.ConsumeString(data)
	if n < 0 {
		return "", 0, fmt.Errorf("clickpb: bad string in field %d: %w", num, protowire.ParseError(n))
	}
	return s, n, nil
}

func consumeBytes(data []byte, num protowire.Number) ([]byte, int, error) {
	b, n := protowire.ConsumeBytes(data)
	if n < 0 {
		return nil, 0, fmt.Errorf("clickpb: bad message in field %d: %w", num, protowire.ParseError(n))
	}
	return b, n, nil
}

// Unmarshal decodes protobuf wire format into m, resetting it first.
func (m *Click) Unmarshal(data []byte) error {
	*m = Click{}
	return walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, bool, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n, err := consumeVarint(data, num)
			m.TileID = int32(v)
			return n, true, err
		case num == 2 && typ == protowire.BytesType:
			s, n, err := consumeString(data, num)
			m.CountryID = s
			return n, true, err
		case num == 3 && typ == protowire.VarintType:
			v, n, err := consumeVarint(data, num)
			m.TimestampNs = v
			return n, true, err
		case num == 4 && typ == protowire.BytesType:
			s, n, err := consumeString(data, num)
			m.ClickID = s
			return n, true, err
		}
		return 0, false, nil
	})
}

// Unmarshal decodes protobuf wire format into m, resetting it first.
func (m *ClickRequest) Unmarshal(data []byte) error {
	*m = ClickRequest{}
	return walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, bool, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n, err := consumeVarint(data, num)
			m.TileID = int32(v)
			return n, true, err
		case num == 2 && typ == protowire.BytesType:
			s, n, err := consumeString(data, num)
			m.CountryID = s
			return n, true, err
		}
		return 0, false, nil
	})
}

// Unmarshal decodes protobuf wire format into m, resetting it first.
func (m *ClickResponse) Unmarshal(data []byte) error {
	*m = ClickResponse{}
	return walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, bool, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n, err := consumeVarint(data, num)
			m.TimestampNs = v
			return n, true, err
		case num == 2 && typ == protowire.BytesType:
			s, n, err := consumeString(data, num)
			m.ClickID = s
			return n, true, err
		}
		return 0, false, nil
	})
}

// Unmarshal decodes protobuf wire format into m, resetting it first.
func (m *BatchRequest) Unmarshal(data []byte) error {
	*m = BatchRequest{}
	return walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, bool, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n, err := consumeVarint(data, num)
			m.StartTileID = int32(v)
			return n, true, err
		case num == 2 && typ == protowire.VarintType:
			v, n, err := consumeVarint(data, num)
			m.EndTileID = int32(v)
			return n, true, err
		}
		return 0, false, nil
	})
}

// Unmarshal decodes protobuf wire format into m, resetting it first.
func (m *Ownership) Unmarshal(data []byte) error {
	*m = Ownership{}
	return walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, bool, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n, err := consumeVarint(data, num)
			m.TileID = uint32(v)
			return n, true, err
		case num == 2 && typ == protowire.BytesType:
			s, n, err := consumeString(data, num)
			m.CountryID = s
			return n, true, err
		case num == 3 && typ == protowire.VarintType:
			v, n, err := consumeVarint(data, num)
			m.TimestampNs = v
			return n, true, err
		}
		return 0, false, nil
	})
}

// Unmarshal decodes protobuf wire format into m, resetting it first.
func (m *OwnershipState) Unmarshal(data []byte) error {
	*m = OwnershipState{}
	return walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, bool, error) {
		if num == 1 && typ == protowire.BytesType {
			raw, n, err := consumeBytes(data, num)
			if err != nil {
				return 0, true, err
			}
			o := new(Ownership)
			if err := o.Unmarshal(raw); err != nil {
				return 0, true, err
			}
			m.Ownerships = append(m.Ownerships, o)
			return n, true, nil
		}
		return 0, false, nil
	})
}

// Unmarshal decodes protobuf wire format into m, resetting it first.
func (m *UpdateNotification) Unmarshal(data []byte) error {
	*m = UpdateNotification{}
	return walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, bool, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n, err := consumeVarint(data, num)
			m.TileID = int32(v)
			return n, true, err
		case num == 2 && typ == protowire.BytesType:
			s, n, err := consumeString(data, num)
			m.CountryID = s
			return n, true, err
		case num == 3 && typ == protowire.BytesType:
			s, n, err := consumeString(data, num)
			m.PreviousCountryID = s
			return n, true, err
		}
		return 0, false, nil
	})
}

// Unmarshal decodes protobuf wire format into m, resetting it first.
func (m *LeaderboardEntry) Unmarshal(data []byte) error {
	*m = LeaderboardEntry{}
	return walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, bool, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			s, n, err := consumeString(data, num)
			m.CountryID = s
			return n, true, err
		case num == 2 && typ == protowire.VarintType:
			v, n, err := consumeVarint(data, num)
			m.Score = uint32(v)
			return n, true, err
		}
		return 0, false, nil
	})
}

// Unmarshal decodes protobuf wire format into m, resetting it first.
func (m *LeaderboardResponse) Unmarshal(data []byte) error {
	*m = LeaderboardResponse{}
	return walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, bool, error) {
		if num == 1 && typ == protowire.BytesType {
			raw, n, err := consumeBytes(data, num)
			if err != nil {
				return 0, true, err
			}
			e := new(LeaderboardEntry)
			if err := e.Unmarshal(raw); err != nil {
				return 0, true, err
			}
			m.Entries = append(m.Entries, e)
			return n, true, nil
		}
		return 0, false, nil
	})
}
