package sender

import (
	"time"

	"github.com/soypat/urp/wire"
)

// windowEntry is one in-flight segment: the already-encoded wire bytes
// (resent verbatim, never re-encoded) plus enough of its shape to compute
// end-sequence and update counters.
type windowEntry struct {
	seg        []byte
	typ        wire.Type
	seq        wire.Seq
	payloadLen int
	lastSend   time.Time
}

// endSeq returns the first sequence number past this entry: seq+payloadLen
// for DATA, seq+1 for SYN/FIN (each consumes exactly one sequence number).
func (w windowEntry) endSeq() wire.Seq {
	if w.typ == wire.TypeData {
		return w.seq.Add(w.payloadLen)
	}
	return w.seq.Add(1)
}
