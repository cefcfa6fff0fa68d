// Package receiver implements the URP receiver engine (C5): SYN accept,
// in-order reassembly with a reorder buffer and interval-set duplicate
// detection, per-segment cumulative ACKs, and FIN/TIME_WAIT teardown with
// resend-on-retransmitted-FIN linger reset.
package receiver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/soypat/urp/sockopt"
	"github.com/soypat/urp/urplog"
	"github.com/soypat/urp/wire"
)

// lingerDuration is the TIME_WAIT period of spec §4.4: long enough to
// re-ACK one retransmitted FIN from a sender that never saw the first ACK.
const lingerDuration = 2 * time.Second

// pollInterval is the read-deadline granularity of the single polling
// loop (spec §5).
const pollInterval = 100 * time.Millisecond

// Config configures one Engine run.
type Config struct {
	LocalPort  int
	RemotePort int
	Filename   string // output file, truncated on open
	MaxWin     int    // socket buffer hint only; the receiver applies no flow control
	Logger     *slog.Logger
}

// Engine runs one receiver-side connection from CLOSED through TIME_WAIT.
// Zero value is not usable; construct with New.
type Engine struct {
	cfg Config
	log *slog.Logger

	journal  urplog.Journal
	counters urplog.ReceiverCounters

	file *os.File
	conn *net.UDPConn
	peer *net.UDPAddr

	state     State
	isn       wire.Seq
	expected  wire.Seq
	delivered *deliveredSet
	reorder   map[wire.Seq][]byte
	finAck    wire.Seq
	linger    time.Time
}

// New builds an Engine from cfg. It does not open any resource; call Run.
func New(cfg Config) *Engine {
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{cfg: cfg, log: log, reorder: map[wire.Seq][]byte{}}
}

// Counters returns the live counter block, safe to read concurrently with
// Run (e.g. from a metrics exporter).
func (e *Engine) Counters() *urplog.ReceiverCounters { return &e.counters }

// Run drives the connection from SYN accept through TIME_WAIT and, on a
// clean finish, writes receiver_log.txt-equivalent output via logOut. ctx
// cancellation is an additional, Go-idiomatic abort path.
func (e *Engine) Run(ctx context.Context, logOut io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	f, err := os.Create(e.cfg.Filename)
	if err != nil {
		return err
	}
	e.file = f
	defer f.Close()

	laddr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: e.cfg.LocalPort}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return err
	}
	e.conn = conn
	defer conn.Close()

	if err := sockopt.TuneBuffers(conn, e.cfg.MaxWin); err != nil {
		e.log.Debug("sockopt tune failed", slog.Any("err", err))
	}

	if err := e.waitForSYN(ctx); err != nil {
		return err
	}

	if err := e.receiveLoop(ctx); err != nil {
		return err
	}

	return e.journal.WriteTo(logOut, e.counters.WriteSummary)
}

// waitForSYN loops until a valid SYN establishes the connection.
func (e *Engine) waitForSYN(ctx context.Context) error {
	buf := make([]byte, wire.HeaderSize+wire.MSS+64)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, peer, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return err
		}
		dec, err := wire.Decode(buf[:n])
		if err != nil {
			continue // malformed: silently dropped, uncounted per spec §7
		}
		if !dec.Valid {
			e.counters.CorruptedSegmentsDiscarded.Add(1)
			continue // the original discards a pre-SYN bad-checksum segment without a log line
		}
		if dec.Type != wire.TypeSYN {
			continue
		}
		e.peer = peer
		e.isn = dec.Seq
		e.expected = dec.Seq.Add(1)
		e.delivered = newDeliveredSet(e.isn)
		e.state = StateEstablished
		e.journal.Start()
		e.journal.Event("rcv", "ok", wire.TypeSYN, dec.Seq, 0)
		e.sendAck(e.expected)
		return nil
	}
}

// receiveLoop handles ESTABLISHED and TIME_WAIT until the connection
// closes cleanly.
func (e *Engine) receiveLoop(ctx context.Context) error {
	buf := make([]byte, wire.HeaderSize+wire.MSS+64)
	for e.state != StateClosed {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.state == StateTimeWait {
			if remaining := time.Until(e.linger); remaining <= 0 {
				e.state = StateClosed
				break
			}
		}
		e.conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, peer, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return err
		}
		if peer.String() != e.peer.String() {
			continue // traffic from anyone but our established peer is ignored
		}
		dec, err := wire.Decode(buf[:n])
		if err != nil {
			continue
		}
		if !dec.Valid {
			payloadLen := 0
			if dec.Type == wire.TypeData {
				payloadLen = len(dec.Payload)
			}
			e.counters.CorruptedSegmentsDiscarded.Add(1)
			e.journal.Event("rcv", "cor", dec.Type, dec.Seq, payloadLen)
			continue
		}

		switch dec.Type {
		case wire.TypeSYN:
			if e.state == StateEstablished && dec.Seq == e.isn {
				// Retransmitted SYN: re-ack without touching state.
				e.sendAck(e.expected)
			}
		case wire.TypeData:
			if e.state != StateEstablished {
				continue
			}
			e.journal.Event("rcv", "ok", wire.TypeData, dec.Seq, len(dec.Payload))
			e.handleData(dec.Seq, dec.Payload)
		case wire.TypeFIN:
			e.journal.Event("rcv", "ok", wire.TypeFIN, dec.Seq, 0)
			e.handleFIN(dec.Seq)
		}
	}
	return nil
}

// handleData implements spec §4.4's classify-duplicate/in-order/future
// logic, matching the original implementation's counter semantics: a
// reorder-buffer drain does not re-count bytes already counted when the
// segment first arrived.
func (e *Engine) handleData(seq wire.Seq, payload []byte) {
	L := len(payload)
	if e.delivered.Contains(seq, L) {
		e.counters.DuplicateSegmentsReceived.Add(1)
		e.sendAck(e.expected)
		e.counters.DuplicateAcksSent.Add(1)
		return
	}
	e.delivered.Mark(seq, L)
	if seq == e.expected {
		e.writeAndFlush(payload)
		e.counters.OriginalDataReceived.Add(int64(L))
		e.counters.TotalDataReceived.Add(int64(L))
		e.counters.OriginalSegmentsReceived.Add(1)
		e.counters.TotalSegmentsReceived.Add(1)
		e.expected = e.expected.Add(L)
		e.drainReorderBuffer()
		e.sendAck(e.expected)
		return
	}
	// Future: genuinely new data ahead of expected, buffered for later.
	// payload aliases the shared read buffer, so it must be copied before
	// it outlives this call.
	e.reorder[seq] = append([]byte(nil), payload...)
	e.counters.TotalDataReceived.Add(int64(L))
	e.counters.TotalSegmentsReceived.Add(1)
	e.sendAck(e.expected)
	e.counters.DuplicateAcksSent.Add(1)
}

func (e *Engine) drainReorderBuffer() {
	for {
		payload, ok := e.reorder[e.expected]
		if !ok {
			return
		}
		delete(e.reorder, e.expected)
		e.writeAndFlush(payload)
		e.expected = e.expected.Add(len(payload))
	}
}

func (e *Engine) writeAndFlush(payload []byte) {
	if _, err := e.file.Write(payload); err != nil {
		e.log.Error("write output failed", slog.Any("err", err))
		return
	}
	if err := e.file.Sync(); err != nil {
		e.log.Debug("sync output failed", slog.Any("err", err))
	}
}

// handleFIN implements spec §4.4's FIN/TIME_WAIT handling, including the
// extension (beyond the Python original's unconditional 2s sleep) that a
// retransmitted FIN during TIME_WAIT re-acks and resets the linger.
func (e *Engine) handleFIN(seq wire.Seq) {
	switch e.state {
	case StateEstablished:
		e.finAck = seq.Add(1)
		e.sendAck(e.finAck)
		e.state = StateTimeWait
		e.linger = time.Now().Add(lingerDuration)
	case StateTimeWait:
		if seq.Add(1) == e.finAck {
			e.sendAck(e.finAck)
			e.linger = time.Now().Add(lingerDuration)
		}
	}
}

func (e *Engine) sendAck(ack wire.Seq) {
	seg := wire.Encode(ack, wire.TypeACK, nil)
	if _, err := e.conn.WriteToUDP(seg, e.peer); err != nil {
		e.log.Error("send ack failed", slog.Any("err", err))
		return
	}
	e.journal.Event("snd", "ok", wire.TypeACK, ack, 0)
	e.counters.TotalAcksSent.Add(1)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
