package wire

// Seq is a 16-bit sequence number in the URP sequence space. Arithmetic and
// comparisons wrap modulo 2^16; callers must never order sequence numbers
// with plain < or <= across a wrap boundary — use [Seq.Less] and
// [Seq.LessEq] instead. Plain == is exact and safe.
type Seq uint16

// Add returns s+n wrapped into the sequence space. n may be any byte count
// up to MSS; a DATA segment's end sequence is Seq.Add(len(payload)).
func (s Seq) Add(n int) Seq {
	return s + Seq(uint16(n))
}

// Less reports whether s precedes o in the sequence space, using a signed
// 16-bit difference so that wraparound doesn't produce a false ordering.
func (s Seq) Less(o Seq) bool {
	return int16(s-o) < 0
}

// LessEq reports whether s precedes or equals o in the sequence space.
func (s Seq) LessEq(o Seq) bool {
	return s == o || s.Less(o)
}

// Diff returns o-s as a signed distance in the sequence space.
func (s Seq) Diff(o Seq) int32 {
	return int32(int16(o - s))
}
