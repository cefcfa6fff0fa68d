package receiver

import "github.com/soypat/urp/wire"

// byteRange is a half-open [lo, hi) interval of byte offsets, offsets being
// measured from a connection's ISN and unwrapped past 2^16 by taking the
// wire.Seq.Diff from the most recently marked sequence number.
type byteRange struct{ lo, hi int64 }

// deliveredSet is an interval-set substitute for the spec's per-byte
// delivered_ranges, per §9's suggested O(gaps) representation: a sorted,
// merged list of non-overlapping byte ranges already written or buffered.
type deliveredSet struct {
	ref    wire.Seq // most recently marked sequence number (the ISN at first)
	refOff int64    // ref's unwrapped offset from the ISN
	ranges []byteRange
}

func newDeliveredSet(isn wire.Seq) *deliveredSet {
	return &deliveredSet{ref: isn}
}

func (d *deliveredSet) offset(s wire.Seq) int64 {
	return d.refOff + int64(d.ref.Diff(s))
}

// Contains reports whether any byte in [seq, seq+length) has already been
// marked delivered.
func (d *deliveredSet) Contains(seq wire.Seq, length int) bool {
	if length == 0 {
		return false
	}
	lo := d.offset(seq)
	hi := lo + int64(length)
	for _, r := range d.ranges {
		if lo < r.hi && hi > r.lo {
			return true
		}
	}
	return false
}

// Mark records [seq, seq+length) as delivered, merging it with any
// overlapping or adjacent existing range.
func (d *deliveredSet) Mark(seq wire.Seq, length int) {
	if length == 0 {
		return
	}
	lo := d.offset(seq)
	hi := lo + int64(length)
	d.ref, d.refOff = seq, lo
	var out []byteRange
	for _, r := range d.ranges {
		if r.hi < lo || r.lo > hi {
			out = append(out, r)
			continue
		}
		if r.lo < lo {
			lo = r.lo
		}
		if r.hi > hi {
			hi = r.hi
		}
	}
	out = append(out, byteRange{lo, hi})
	d.ranges = insertSorted(out)
}

func insertSorted(rs []byteRange) []byteRange {
	for i := 1; i < len(rs); i++ {
		for j := i; j > 0 && rs[j-1].lo > rs[j].lo; j-- {
			rs[j-1], rs[j] = rs[j], rs[j-1]
		}
	}
	return rs
}
