// Package wire implements the URP segment format: a fixed 6-byte header
// (sequence number, flags, checksum) followed by 0..MSS payload bytes, and
// the framing primitives (Encode, Decode, Corrupt) operating on it.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
)

const (
	// HeaderSize is the fixed size in bytes of a URP segment header.
	HeaderSize = 6
	// MSS is the maximum DATA segment payload size in bytes.
	MSS = 1000
)

// Flag bits occupy the high bits of the 16-bit flags field; DATA sets none
// of them.
const (
	FlagACK uint16 = 0x2000
	FlagSYN uint16 = 0x4000
	FlagFIN uint16 = 0x8000
)

// Type identifies the kind of segment a Frame carries.
type Type uint8

const (
	TypeData Type = iota
	TypeACK
	TypeSYN
	TypeFIN
)

// String returns the unpadded type name used throughout the event log.
func (t Type) String() string {
	switch t {
	case TypeACK:
		return "ACK"
	case TypeSYN:
		return "SYN"
	case TypeFIN:
		return "FIN"
	default:
		return "DATA"
	}
}

// typeFlags returns the flag bits to set on the wire for t. DATA sets none.
func typeFlags(t Type) uint16 {
	switch t {
	case TypeACK:
		return FlagACK
	case TypeSYN:
		return FlagSYN
	case TypeFIN:
		return FlagFIN
	default:
		return 0
	}
}

// classify returns the segment Type for a raw flags field, applying the
// ACK > SYN > FIN precedence a corrupted multi-bit flags field is resolved
// with.
func classify(flags uint16) Type {
	switch {
	case flags&FlagACK != 0:
		return TypeACK
	case flags&FlagSYN != 0:
		return TypeSYN
	case flags&FlagFIN != 0:
		return TypeFIN
	default:
		return TypeData
	}
}

// errShortBuffer is returned by NewFrame when buf is too small to hold a
// valid header.
var errShortBuffer = errors.New("wire: buffer shorter than header")

// Frame wraps a raw byte buffer containing a URP segment and provides typed
// accessors over its fixed header fields. Frame does not copy buf.
type Frame struct {
	buf []byte
}

// NewFrame wraps buf as a Frame. It fails if buf is shorter than HeaderSize;
// callers that already validated length may use Frame{} struct literals
// internally, but external code should go through NewFrame or Decode.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < HeaderSize {
		return Frame{}, errShortBuffer
	}
	return Frame{buf: buf}, nil
}

// RawData returns the underlying byte slice the Frame was built from.
func (f Frame) RawData() []byte { return f.buf }

// Seq returns the segment's sequence field.
func (f Frame) Seq() Seq { return Seq(binary.BigEndian.Uint16(f.buf[0:2])) }

// SetSeq sets the segment's sequence field.
func (f Frame) SetSeq(s Seq) { binary.BigEndian.PutUint16(f.buf[0:2], uint16(s)) }

// RawFlags returns the raw 16-bit flags field.
func (f Frame) RawFlags() uint16 { return binary.BigEndian.Uint16(f.buf[2:4]) }

// SetRawFlags sets the raw 16-bit flags field.
func (f Frame) SetRawFlags(flags uint16) { binary.BigEndian.PutUint16(f.buf[2:4], flags) }

// Type classifies the segment by its flags field, per ACK > SYN > FIN
// precedence.
func (f Frame) Type() Type { return classify(f.RawFlags()) }

// Checksum returns the checksum field as transmitted.
func (f Frame) Checksum() uint16 { return binary.BigEndian.Uint16(f.buf[4:6]) }

// SetChecksum sets the checksum field.
func (f Frame) SetChecksum(c uint16) { binary.BigEndian.PutUint16(f.buf[4:6], c) }

// Payload returns the bytes following the fixed header.
func (f Frame) Payload() []byte { return f.buf[HeaderSize:] }

// String returns a short human-readable summary of the frame, in the
// teacher's <FIELD=value> style.
func (f Frame) String() string {
	return fmt.Sprintf("<SEQ=%d>[%s]<LEN=%d>", f.Seq(), f.Type(), len(f.Payload()))
}

// computeChecksum computes the checksum of buf with its checksum field
// (bytes 4:6) treated as zero, as required by Encode and Decode.
func computeChecksum(buf []byte) uint16 {
	if len(buf) < HeaderSize {
		panic("wire: buffer shorter than header")
	}
	tmp := make([]byte, len(buf))
	copy(tmp, buf)
	tmp[4], tmp[5] = 0, 0
	return Checksum16(tmp)
}

// Encode builds the wire representation of a segment: header followed by
// payload (payload must be empty for ACK/SYN/FIN). The checksum field is
// computed and filled in.
func Encode(seq Seq, typ Type, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(seq))
	binary.BigEndian.PutUint16(buf[2:4], typeFlags(typ))
	copy(buf[HeaderSize:], payload)
	binary.BigEndian.PutUint16(buf[4:6], computeChecksum(buf))
	return buf
}

// Decoded is the result of parsing a well-formed (length >= HeaderSize)
// segment off the wire.
type Decoded struct {
	Seq     Seq
	Type    Type
	Payload []byte
	Valid   bool // Valid is true iff the checksum matches.
}

// Decode parses buf into a Decoded segment. It returns an error only when
// buf is too short to contain a header (the "malformed" case of spec §7,
// which callers must drop silently without counting). A structurally
// well-formed segment with a bad checksum is still returned, with
// Valid == false, so callers can count and log the discard.
func Decode(buf []byte) (Decoded, error) {
	f, err := NewFrame(buf)
	if err != nil {
		return Decoded{}, err
	}
	want := computeChecksum(buf)
	return Decoded{
		Seq:     f.Seq(),
		Type:    f.Type(),
		Payload: f.Payload(),
		Valid:   want == f.Checksum(),
	}, nil
}

// Corrupt flips a single random bit of seg and returns the result as a new
// slice, leaving seg untouched. The flipped byte is chosen from positions
// [4, len(seg)) so the sequence and flags fields (bytes 0..3) survive
// corruption intact — unless seg is too short to have a body beyond those
// fields (len(seg) <= 4), in which case any byte is eligible.
func Corrupt(seg []byte, rng *rand.Rand) []byte {
	out := make([]byte, len(seg))
	copy(out, seg)
	if len(out) == 0 {
		return out
	}
	lo := 4
	if len(out) <= 4 {
		lo = 0
	}
	byteIdx := lo + rng.Intn(len(out)-lo)
	bitIdx := rng.Intn(8)
	out[byteIdx] ^= 1 << uint(bitIdx)
	return out
}
