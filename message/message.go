// Package message defines the wire unit exchanged between a stream.State
// and its peer. The multiplex actor that demultiplexes these by stream id
// and carries them over the underlying packet pipes is an external
// collaborator; this package only needs a round-trip-exact encoding.
package message

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// RelKind identifies the kind of a reliable (Rel) message.
type RelKind uint8

const (
	// Syn opens a stream, carrying the additional-data payload negotiated
	// at handshake.
	Syn RelKind = iota
	// SynAck acknowledges a Syn, echoing its seqno and payload.
	SynAck
	// Data carries a segment of the reliable byte stream.
	Data
	// DataAck cumulatively (and optionally selectively) acknowledges Data.
	DataAck
	// Rst resets the stream.
	Rst
)

func (k RelKind) String() string {
	switch k {
	case Syn:
		return "Syn"
	case SynAck:
		return "SynAck"
	case Data:
		return "Data"
	case DataAck:
		return "DataAck"
	case Rst:
		return "Rst"
	default:
		return fmt.Sprintf("RelKind(%d)", uint8(k))
	}
}

// Seqno is a per-stream monotonically increasing packet index.
type Seqno = uint64

// Message is the tagged wire unit. Kind and Seqno are meaningful only for
// a Rel message; Urel messages carry only StreamID and Payload. A single struct (rather than a sum type) is used because cbor
// round-trips a flat struct exactly and the teacher's own Frame type is
// likewise a single struct with a discriminant field.
type Message struct {
	// Reliable is true for Rel{...} variants, false for Urel{...}.
	Reliable bool `cbor:"0,keyasint"`

	Kind RelKind `cbor:"1,keyasint"`

	StreamID uint16 `cbor:"2,keyasint"`

	Seqno Seqno `cbor:"3,keyasint"`

	Payload []byte `cbor:"4,keyasint"`
}

// Rel constructs a reliable message.
func Rel(kind RelKind, streamID uint16, seqno Seqno, payload []byte) Message {
	return Message{Reliable: true, Kind: kind, StreamID: streamID, Seqno: seqno, Payload: payload}
}

// Urel constructs an unreliable datagram message.
func Urel(streamID uint16, payload []byte) Message {
	return Message{Reliable: false, StreamID: streamID, Payload: payload}
}

func (m Message) String() string {
	if !m.Reliable {
		return fmt.Sprintf("Urel{stream=%d, len=%d}", m.StreamID, len(m.Payload))
	}
	return fmt.Sprintf("Rel{%s, stream=%d, seqno=%d, len=%d}", m.Kind, m.StreamID, m.Seqno, len(m.Payload))
}

// Marshal encodes a Message for the wire. The core only requires this be
// round-trip exact; the concrete bytes are not a contract with any other
// implementation.
func Marshal(m Message) ([]byte, error) {
	return cbor.Marshal(m)
}

// Unmarshal decodes bytes previously produced by Marshal.
func Unmarshal(b []byte) (Message, error) {
	var m Message
	err := cbor.Unmarshal(b, &m)
	return m, err
}

// EncodeSack encodes a selective-ack list of individually-acked seqnos for
// the DataAck payload. The encoding only needs to be stable, not wire
// compatible with any other implementation.
func EncodeSack(seqnos []Seqno) []byte {
	b, err := cbor.Marshal(seqnos)
	if err != nil {
		// seqnos is a []uint64; cbor marshaling of a slice of uint64
		// cannot fail.
		panic(err)
	}
	return b
}

// DecodeSack decodes a selective-ack payload produced by EncodeSack. Per
// spec.md §7 ("Encoded-ack decode failure"), callers must treat a decode
// error as "no selective acks", not as a fatal condition.
func DecodeSack(payload []byte) ([]Seqno, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var seqnos []Seqno
	if err := cbor.Unmarshal(payload, &seqnos); err != nil {
		return nil, err
	}
	return seqnos, nil
}
