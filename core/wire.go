package core

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeActionMessage serializes m into the flat binary wire record
// exchanged between nodes over a Transport (spec §6.1). Fields are encoded
// in declaration order using big-endian fixed-width integers, matching the
// byte-order convention already established by encodeMinDe.
func EncodeActionMessage(m ActionMessage) []byte {
	nameBytes := []byte(m.Name)
	buf := make([]byte, 0, 4+4+4+8+8+8+4+4+len(nameBytes)+4+len(m.Payload))

	var scratch [8]byte

	putU32 := func(v uint32) {
		binary.BigEndian.PutUint32(scratch[:4], v)
		buf = append(buf, scratch[:4]...)
	}
	putU64 := func(v uint64) {
		binary.BigEndian.PutUint64(scratch[:8], v)
		buf = append(buf, scratch[:8]...)
	}

	putU32(uint32(m.Action))
	putU32(uint32(m.SourceID))
	putU32(uint32(m.DestID))
	putU64(m.MessageID)
	putU64(math.Float64bits(float64(m.Time)))
	putU64(m.Counter)
	putU32(uint32(m.Flags))
	putU32(uint32(len(nameBytes)))
	buf = append(buf, nameBytes...)
	putU32(uint32(len(m.Payload)))
	buf = append(buf, m.Payload...)

	return buf
}

// DecodeActionMessage parses a wire record produced by EncodeActionMessage.
func DecodeActionMessage(b []byte) (ActionMessage, error) {
	const fixedLen = 4 + 4 + 4 + 8 + 8 + 8 + 4 + 4
	if len(b) < fixedLen {
		return ActionMessage{}, fmt.Errorf("core: wire record too short: %d bytes", len(b))
	}

	var m ActionMessage
	off := 0
	readU32 := func() uint32 {
		v := binary.BigEndian.Uint32(b[off : off+4])
		off += 4
		return v
	}
	readU64 := func() uint64 {
		v := binary.BigEndian.Uint64(b[off : off+8])
		off += 8
		return v
	}

	m.Action = ActionCode(readU32())
	m.SourceID = GlobalId(readU32())
	m.DestID = GlobalId(readU32())
	m.MessageID = readU64()
	m.Time = LogicalTime(math.Float64frombits(readU64()))
	m.Counter = readU64()
	m.Flags = MessageFlags(readU32())

	nameLen := int(readU32())
	if off+nameLen > len(b) {
		return ActionMessage{}, fmt.Errorf("core: truncated name field")
	}
	m.Name = string(b[off : off+nameLen])
	off += nameLen

	if off+4 > len(b) {
		return ActionMessage{}, fmt.Errorf("core: truncated payload length")
	}
	payloadLen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if off+payloadLen > len(b) {
		return ActionMessage{}, fmt.Errorf("core: truncated payload")
	}
	m.Payload = append([]byte(nil), b[off:off+payloadLen]...)

	return m, nil
}
