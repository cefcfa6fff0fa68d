// Package sender implements the URP sender engine (C4): connection setup,
// the cumulative-ACK sliding window, single-timer retransmission, three-dup
// fast retransmit, and graceful FIN teardown, all driven off one file
// read in file-offset order.
package sender

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"os"
	"sync"
	"time"

	"github.com/soypat/urp/plc"
	"github.com/soypat/urp/sockopt"
	"github.com/soypat/urp/urplog"
	"github.com/soypat/urp/wire"
)

// stallTimeout is the outer handshake/teardown abort bound of spec §7: if
// the engine sits in SYN_SENT or FIN_SENT this long without completing the
// transition out, it aborts without writing the deliverable log.
const stallTimeout = 30 * time.Second

var (
	errHandshakeFailed = errors.New("sender: handshake did not complete")
	errStallTimeout    = errors.New("sender: stall timeout exceeded, aborting without writing log")
)

// Config configures one Engine run.
type Config struct {
	LocalPort  int
	RemotePort int
	Filename   string
	MaxWin     int           // window bound in bytes
	RTO        time.Duration // retransmission timeout
	FLP, RLP   float64       // forward/reverse loss probability
	FCP, RCP   float64       // forward/reverse corruption probability
	Seed       int64         // PLC + ISN PRNG seed; 0 selects a time-derived seed
	Logger     *slog.Logger  // operational (non-deliverable) logging; nil disables it

	// Hook, when non-nil, is wired onto the engine's PLC shim verbatim.
	// Only tests set this (spec scenario S6); the CLI never does.
	Hook plc.Hook
}

// Engine runs one sender-side connection from CLOSED through FIN teardown.
// Zero value is not usable; construct with New.
type Engine struct {
	cfg    Config
	log    *slog.Logger
	shim   *plc.Shim
	rng    *rand.Rand
	journal urplog.Journal
	counters urplog.SenderCounters

	file     *os.File
	fileSize int64
	conn     *net.UDPConn

	mu       sync.Mutex
	state    State
	isn      wire.Seq
	base     wire.Seq
	nextSeq  wire.Seq
	window   []windowEntry
	unacked  int
	dupAcks  int
	filePos  int64
	aborted  bool
	abortErr error
	timer    *time.Timer
	timerSeq wire.Seq
	stall    *time.Timer

	doneCh chan struct{}
}

// New builds an Engine from cfg. It does not open any resource; call Run.
func New(cfg Config) *Engine {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	shim := plc.New(cfg.FLP, cfg.RLP, cfg.FCP, cfg.RCP, seed)
	shim.Hook = cfg.Hook
	return &Engine{
		cfg:    cfg,
		log:    log,
		shim:   shim,
		rng:    rand.New(rand.NewSource(seed ^ 0x5a5a5a5a)),
		doneCh: make(chan struct{}),
	}
}

// Counters returns the live counter block, safe to read concurrently with
// Run (e.g. from a metrics exporter).
func (e *Engine) Counters() *urplog.SenderCounters { return &e.counters }

// Run drives the connection to completion: handshake, data transfer, FIN
// teardown, and (on a clean finish) writes sender_log.txt-equivalent
// output via logOut. ctx cancellation is an additional abort path layered over
// the spec's internal 30s stall timeout; it does not change behavior when
// ctx is context.Background().
func (e *Engine) Run(ctx context.Context, logOut io.Writer) error {
	defer close(e.doneCh)

	f, err := os.Open(e.cfg.Filename)
	if err != nil {
		return err
	}
	e.file = f
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	e.fileSize = fi.Size()

	laddr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: e.cfg.LocalPort}
	raddr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: e.cfg.RemotePort}
	conn, err := net.DialUDP("udp4", laddr, raddr)
	if err != nil {
		return err
	}
	e.conn = conn
	defer conn.Close()

	if err := sockopt.TuneBuffers(conn, e.cfg.MaxWin); err != nil {
		e.log.Debug("sockopt tune failed", slog.Any("err", err))
	}

	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				e.fail(ctx.Err())
			case <-e.doneCh:
			}
		}()
	}

	e.journal.Start()
	if err := e.startHandshake(); err != nil {
		return err
	}

	go e.recvLoop()

	if err := e.waitStateChange(StateSynSent); err != nil {
		e.log.Error("handshake stalled", slog.Any("err", err))
		return err
	}
	if e.getState() != StateEstablished {
		return errHandshakeFailed
	}

	e.sendLoop()

	if err := e.waitStateChange(StateFinSent); err != nil {
		e.log.Error("teardown stalled", slog.Any("err", err))
		return err
	}

	e.mu.Lock()
	aborted, abortErr := e.aborted, e.abortErr
	e.mu.Unlock()
	if aborted {
		return abortErr
	}
	return e.journal.WriteTo(logOut, e.counters.WriteSummary)
}

func (e *Engine) startHandshake() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.isn = wire.Seq(e.rng.Intn(1 << 16))
	e.base = e.isn
	e.nextSeq = e.isn
	e.state = StateSynSent
	seq := e.isn
	seg := wire.Encode(seq, wire.TypeSYN, nil)
	e.window = append(e.window, windowEntry{seg: seg, typ: wire.TypeSYN, seq: seq, lastSend: time.Now()})
	e.nextSeq = seq.Add(1)
	e.armTimerLocked(seq)
	e.armStallLocked()
	return e.transmitLocked(seg, wire.TypeSYN, seq, 0, true)
}

// sendLoop paces DATA transmission off the file while ESTABLISHED, sending
// the final FIN once the file is exhausted and the window has drained.
func (e *Engine) sendLoop() {
	for {
		e.mu.Lock()
		if e.state != StateEstablished {
			e.mu.Unlock()
			return
		}
		if e.filePos >= e.fileSize && len(e.window) == 0 {
			seq := e.nextSeq
			seg := wire.Encode(seq, wire.TypeFIN, nil)
			e.window = append(e.window, windowEntry{seg: seg, typ: wire.TypeFIN, seq: seq, lastSend: time.Now()})
			e.nextSeq = seq.Add(1)
			e.state = StateFinSent
			e.armTimerLocked(seq)
			e.armStallLocked()
			err := e.transmitLocked(seg, wire.TypeFIN, seq, 0, true)
			e.mu.Unlock()
			if err != nil {
				e.fail(err)
			}
			return
		}
		avail := e.cfg.MaxWin - e.unacked
		remaining := e.fileSize - e.filePos
		if avail <= 0 || remaining <= 0 {
			e.mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			continue
		}
		n := avail
		if wire.MSS < n {
			n = wire.MSS
		}
		if int(remaining) < n {
			n = int(remaining)
		}
		filePos := e.filePos
		e.mu.Unlock()

		payload := make([]byte, n)
		if _, err := e.file.ReadAt(payload, filePos); err != nil && err != io.EOF {
			e.fail(err)
			return
		}

		e.mu.Lock()
		seq := e.nextSeq
		seg := wire.Encode(seq, wire.TypeData, payload)
		wasEmpty := len(e.window) == 0
		e.window = append(e.window, windowEntry{seg: seg, typ: wire.TypeData, seq: seq, payloadLen: n, lastSend: time.Now()})
		e.unacked += n
		e.nextSeq = seq.Add(n)
		e.filePos += int64(n)
		if wasEmpty {
			e.armTimerLocked(seq)
		}
		err := e.transmitLocked(seg, wire.TypeData, seq, n, true)
		e.mu.Unlock()
		if err != nil {
			e.fail(err)
			return
		}
	}
}

// recvLoop is the sender's receive side: it reads only ACKs (through the
// reverse PLC) and drives the window/state transitions they trigger.
func (e *Engine) recvLoop() {
	buf := make([]byte, wire.HeaderSize+wire.MSS+64)
	for {
		if e.isDone() {
			return
		}
		e.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, err := e.conn.Read(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if e.isDone() {
				return
			}
			e.fail(err)
			return
		}
		raw := append([]byte(nil), buf[:n]...)

		e.mu.Lock()
		processed, outcome := e.shim.Reverse(raw)
		e.mu.Unlock()

		if outcome == plc.Drop {
			e.counters.PLCReverseSegmentsDropped.Add(1)
			continue
		}
		if outcome == plc.Corrupt {
			e.counters.PLCReverseSegmentsCorrupt.Add(1)
		}
		dec, err := wire.Decode(processed)
		if err != nil {
			continue // malformed: silently dropped, uncounted per spec §7
		}
		if !dec.Valid {
			e.counters.CorruptedAcksDiscarded.Add(1)
			e.journal.Event("rcv", "cor", dec.Type, dec.Seq, 0)
			continue
		}
		e.journal.Event("rcv", outcome.String(), dec.Type, dec.Seq, 0)
		if dec.Type != wire.TypeACK {
			continue
		}
		e.handleACK(dec.Seq)
	}
}

func (e *Engine) handleACK(ack wire.Seq) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case StateSynSent:
		if ack == e.isn.Add(1) {
			e.state = StateEstablished
			e.base = e.isn.Add(1)
			e.nextSeq = e.isn.Add(1)
			e.window = e.window[:0]
			e.unacked = 0
			e.disarmTimerLocked()
			e.disarmStallLocked()
		}
	case StateEstablished:
		e.onDataAckLocked(ack)
	case StateFinSent:
		if ack == e.nextSeq {
			e.state = StateClosed
			e.disarmTimerLocked()
			e.disarmStallLocked()
		}
	}
}

// onDataAckLocked implements the cumulative ACK rules of spec §4.3. Must be
// called with e.mu held.
func (e *Engine) onDataAckLocked(ack wire.Seq) {
	switch {
	case ack == e.base:
		e.dupAcks++
		e.counters.DuplicateAcksReceived.Add(1)
		if e.dupAcks == 3 && len(e.window) > 0 {
			entry := e.window[0]
			if err := e.transmitLocked(entry.seg, entry.typ, entry.seq, entry.payloadLen, false); err != nil {
				e.abortLocked(err)
				return
			}
			e.counters.FastRetransmissions.Add(1)
			e.window[0].lastSend = time.Now()
		}
	case e.base.Less(ack):
		// base is left unadvanced when i == 0, i.e. ack falls strictly
		// inside the first window entry rather than on a segment boundary.
		// The receiver only ever ACKs at whole-segment boundaries, so this
		// is unreachable in practice; it is not treated as an error.
		i := 0
		for i < len(e.window) && e.window[i].endSeq().LessEq(ack) {
			if e.window[i].typ == wire.TypeData {
				e.unacked -= e.window[i].payloadLen
			}
			i++
		}
		if i > 0 {
			e.window = e.window[i:]
			e.base = ack
			e.dupAcks = 0
			if len(e.window) == 0 {
				e.disarmTimerLocked()
			} else {
				e.armTimerLocked(e.window[0].seq)
			}
		}
	default:
		// ack < base: stale, ignore.
	}
}

// transmitLocked runs seg through the forward PLC and, unless dropped,
// writes it to the wire; the journal and counters are updated for every
// outcome, a drop included. Must be called
// with e.mu held (the PLC's PRNG is not otherwise safe for concurrent use).
func (e *Engine) transmitLocked(seg []byte, typ wire.Type, seq wire.Seq, payloadLen int, original bool) error {
	out, outcome := e.shim.Forward(seg)
	if outcome == plc.Drop {
		e.counters.PLCForwardSegmentsDropped.Add(1)
		e.journal.Event("snd", "drp", typ, seq, payloadLen)
		return nil
	}
	if _, err := e.conn.Write(out); err != nil {
		return err
	}
	e.journal.Event("snd", outcome.String(), typ, seq, payloadLen)
	e.counters.TotalSegmentsSent.Add(1)
	if typ == wire.TypeData {
		e.counters.TotalDataSent.Add(int64(payloadLen))
		if original {
			e.counters.OriginalSegmentsSent.Add(1)
			e.counters.OriginalDataSent.Add(int64(payloadLen))
		}
	}
	if outcome == plc.Corrupt {
		e.counters.PLCForwardSegmentsCorrupt.Add(1)
	}
	return nil
}

func (e *Engine) armTimerLocked(seq wire.Seq) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timerSeq = seq
	e.timer = time.AfterFunc(e.cfg.RTO, func() { e.onTimeout(seq) })
}

func (e *Engine) disarmTimerLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

func (e *Engine) onTimeout(seq wire.Seq) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timer == nil || e.timerSeq != seq || len(e.window) == 0 || e.window[0].seq != seq {
		return // superseded by an ACK or a newer timer before this fired.
	}
	entry := e.window[0]
	if err := e.transmitLocked(entry.seg, entry.typ, entry.seq, entry.payloadLen, false); err != nil {
		e.log.Error("retransmit failed", slog.Any("err", err))
		e.abortLocked(err)
		return
	}
	e.counters.TimeoutRetransmissions.Add(1)
	e.window[0].lastSend = time.Now()
	e.armTimerLocked(seq)
}

func (e *Engine) armStallLocked() {
	if e.stall != nil {
		e.stall.Stop()
	}
	e.stall = time.AfterFunc(stallTimeout, e.onStall)
}

func (e *Engine) disarmStallLocked() {
	if e.stall != nil {
		e.stall.Stop()
		e.stall = nil
	}
}

func (e *Engine) onStall() {
	e.fail(errStallTimeout)
}

// fail marks the engine aborted: every loop observes this at its next poll
// and unwinds without writing the deliverable log, per spec §7.
func (e *Engine) fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.abortLocked(err)
}

// abortLocked is fail's body for callers that already hold e.mu.
func (e *Engine) abortLocked(err error) {
	if e.aborted {
		return
	}
	e.aborted = true
	e.abortErr = err
	e.state = StateClosed
	e.disarmTimerLocked()
	e.disarmStallLocked()
}

func (e *Engine) getState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) isDone() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == StateClosed
}

// waitStateChange polls (per spec §5's short-poll suspension-point model)
// until the engine's state is no longer from, the engine aborts, or the
// 30s stall fires.
func (e *Engine) waitStateChange(from State) error {
	for {
		e.mu.Lock()
		state, aborted, err := e.state, e.aborted, e.abortErr
		e.mu.Unlock()
		if aborted {
			if err != nil {
				return err
			}
			return errStallTimeout
		}
		if state != from {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
