package core

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeActionMessageRoundTrips(t *testing.T) {
	m := ActionMessage{
		Action:    ActionTimeDependency,
		SourceID:  NewNodeId(3),
		DestID:    NewHandleId(2, 7),
		MessageID: 42,
		Time:      12.5,
		Counter:   9,
		Flags:     FlagIterate | FlagRequired,
		Name:      "federate-a::pub1",
		Payload:   encodeMinDe(99.0),
	}

	encoded := EncodeActionMessage(m)
	decoded, err := DecodeActionMessage(encoded)
	if err != nil {
		t.Fatalf("DecodeActionMessage: %v", err)
	}

	if decoded.Action != m.Action || decoded.SourceID != m.SourceID || decoded.DestID != m.DestID ||
		decoded.MessageID != m.MessageID || decoded.Time != m.Time || decoded.Counter != m.Counter ||
		decoded.Flags != m.Flags || decoded.Name != m.Name || !bytes.Equal(decoded.Payload, m.Payload) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, m)
	}
}

func TestDecodeActionMessageRejectsTruncated(t *testing.T) {
	if _, err := DecodeActionMessage([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error decoding truncated wire record")
	}
}
