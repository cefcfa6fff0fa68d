// Package urplog implements the URP event log and counter block described
// by the protocol spec: one line per segment sent or received, followed at
// shutdown by a fixed-order block of named counters. It is a deliverable
// (sender_log.txt / receiver_log.txt), never an operational diagnostic log
// — operational diagnostics go through log/slog instead, kept deliberately
// separate so the two never interleave in the same file.
package urplog

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/soypat/urp/wire"
)

// Journal accumulates event lines from the moment Start is called and
// flushes them, followed by a caller-supplied counter summary, via WriteTo.
type Journal struct {
	mu    sync.Mutex
	start time.Time
	lines []string
}

// Start records the instant elapsed times in subsequent Event calls are
// measured from. Events recorded before Start has been called are dropped,
// matching the Python original's behavior of discarding log calls before
// the connection clock starts.
func (j *Journal) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.start = time.Now()
}

// Event appends one formatted line to the journal: direction ("snd"/"rcv"),
// status ("ok"/"drp"/"cor"), the segment type, sequence number and payload
// length. It is a no-op until Start has been called.
func (j *Journal) Event(direction, status string, typ wire.Type, seq wire.Seq, payloadLen int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.start.IsZero() {
		return
	}
	elapsedMs := float64(time.Since(j.start)) / float64(time.Millisecond)
	j.lines = append(j.lines, fmt.Sprintf("%-3s  %-3s  %7.2f  %-4s  %5d  %5d\n",
		direction, status, elapsedMs, typ.String(), uint16(seq), payloadLen))
}

// WriteTo writes every recorded event line, in order, followed by
// writeSummary's output, to w.
func (j *Journal) WriteTo(w io.Writer, writeSummary func(io.Writer) error) error {
	j.mu.Lock()
	lines := j.lines
	j.mu.Unlock()
	for _, line := range lines {
		if _, err := io.WriteString(w, line); err != nil {
			return err
		}
	}
	if writeSummary == nil {
		return nil
	}
	return writeSummary(w)
}
