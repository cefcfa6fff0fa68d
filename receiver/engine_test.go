package receiver

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/soypat/urp/wire"
)

// dialFakeSender opens a UDP socket talking to the engine's fixed local
// port, used by tests to drive the receiver through its state machine
// without pulling in the sender package.
func dialFakeSender(t *testing.T, receiverPort int) *net.UDPConn {
	t.Helper()
	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: receiverPort})
	if err != nil {
		t.Fatal(err)
	}
	return conn
}

func runEngineAsync(t *testing.T, e *Engine) (*bytes.Buffer, <-chan error) {
	t.Helper()
	var logBuf bytes.Buffer
	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Run(context.Background(), &logBuf)
	}()
	// Give the engine a moment to bind its socket before the test sends.
	time.Sleep(50 * time.Millisecond)
	return &logBuf, errCh
}

func TestEngineHandshakeAndOrderedTransfer(t *testing.T) {
	const port = 45101
	outPath := filepath.Join(t.TempDir(), "output.bin")
	e := New(Config{LocalPort: port, Filename: outPath})
	logBuf, errCh := runEngineAsync(t, e)

	sock := dialFakeSender(t, port)
	defer sock.Close()

	readAck := func() wire.Decoded {
		buf := make([]byte, 64)
		sock.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, err := sock.Read(buf)
		if err != nil {
			t.Fatalf("read ack: %v", err)
		}
		dec, err := wire.Decode(buf[:n])
		if err != nil || !dec.Valid {
			t.Fatalf("bad ack segment: %v %+v", err, dec)
		}
		return dec
	}

	isn := wire.Seq(1000)
	sock.Write(wire.Encode(isn, wire.TypeSYN, nil))
	ack := readAck()
	if ack.Seq != isn.Add(1) {
		t.Fatalf("SYN ack = %d, want %d", ack.Seq, isn.Add(1))
	}

	payload := []byte("hello, URP receiver")
	seq := isn.Add(1)
	sock.Write(wire.Encode(seq, wire.TypeData, payload))
	ack = readAck()
	if ack.Seq != seq.Add(len(payload)) {
		t.Fatalf("DATA ack = %d, want %d", ack.Seq, seq.Add(len(payload)))
	}

	finSeq := seq.Add(len(payload))
	sock.Write(wire.Encode(finSeq, wire.TypeFIN, nil))
	ack = readAck()
	if ack.Seq != finSeq.Add(1) {
		t.Fatalf("FIN ack = %d, want %d", ack.Seq, finSeq.Add(1))
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("engine did not close within TIME_WAIT + margin")
	}

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("output = %q, want %q", got, payload)
	}
	if e.Counters().OriginalSegmentsReceived.Load() != 1 {
		t.Fatalf("original_segments_received = %d, want 1", e.Counters().OriginalSegmentsReceived.Load())
	}
	if logBuf.Len() == 0 {
		t.Fatal("expected WriteTo to populate the log buffer on a clean finish")
	}
}

func TestEngineDuplicateDataIsWrittenOnce(t *testing.T) {
	const port = 45102
	outPath := filepath.Join(t.TempDir(), "output.bin")
	e := New(Config{LocalPort: port, Filename: outPath})
	_, errCh := runEngineAsync(t, e)

	sock := dialFakeSender(t, port)
	defer sock.Close()

	readAck := func() wire.Decoded {
		buf := make([]byte, 64)
		sock.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, err := sock.Read(buf)
		if err != nil {
			t.Fatalf("read ack: %v", err)
		}
		dec, _ := wire.Decode(buf[:n])
		return dec
	}

	isn := wire.Seq(2000)
	sock.Write(wire.Encode(isn, wire.TypeSYN, nil))
	readAck()

	payload := []byte("duplicate-me")
	seq := isn.Add(1)
	seg := wire.Encode(seq, wire.TypeData, payload)
	sock.Write(seg)
	readAck()
	sock.Write(seg) // exact retransmission
	ack := readAck()
	if ack.Seq != seq.Add(len(payload)) {
		t.Fatalf("duplicate ack = %d, want %d", ack.Seq, seq.Add(len(payload)))
	}

	finSeq := seq.Add(len(payload))
	sock.Write(wire.Encode(finSeq, wire.TypeFIN, nil))
	readAck()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("engine did not close")
	}

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("output written more than once: %q", got)
	}
	if e.Counters().DuplicateSegmentsReceived.Load() != 1 {
		t.Fatalf("duplicate_segments_received = %d, want 1", e.Counters().DuplicateSegmentsReceived.Load())
	}
}

func TestEngineOutOfOrderSegmentsAreReassembledInOrder(t *testing.T) {
	const port = 45104
	outPath := filepath.Join(t.TempDir(), "output.bin")
	e := New(Config{LocalPort: port, Filename: outPath})
	_, errCh := runEngineAsync(t, e)

	sock := dialFakeSender(t, port)
	defer sock.Close()

	readAck := func() wire.Decoded {
		buf := make([]byte, 64)
		sock.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, err := sock.Read(buf)
		if err != nil {
			t.Fatalf("read ack: %v", err)
		}
		dec, _ := wire.Decode(buf[:n])
		return dec
	}

	isn := wire.Seq(4000)
	sock.Write(wire.Encode(isn, wire.TypeSYN, nil))
	readAck()

	first := []byte("first-chunk-")
	second := []byte("second-chunk")
	third := []byte("third-chunk-")

	firstSeq := isn.Add(1)
	secondSeq := firstSeq.Add(len(first))
	thirdSeq := secondSeq.Add(len(second))

	// Send out of order: third, then second, then first. The receiver must
	// buffer third and second, then flush all three in order once first
	// arrives and fills the gap. The engine reuses one read buffer across
	// ReadFromUDP calls, so if a buffered payload aliased it instead of
	// being copied, the next segment's read would corrupt it before it's
	// drained.
	sock.Write(wire.Encode(thirdSeq, wire.TypeData, third))
	readAck() // duplicate ack for the out-of-order segment, still at firstSeq
	sock.Write(wire.Encode(secondSeq, wire.TypeData, second))
	readAck() // still firstSeq
	sock.Write(wire.Encode(firstSeq, wire.TypeData, first))
	ack := readAck() // now everything drains, ack should reach past third
	want := thirdSeq.Add(len(third))
	if ack.Seq != want {
		t.Fatalf("final ack = %d, want %d (all three segments drained)", ack.Seq, want)
	}

	finSeq := want
	sock.Write(wire.Encode(finSeq, wire.TypeFIN, nil))
	readAck()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("engine did not close")
	}

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	wantBytes := append(append(append([]byte(nil), first...), second...), third...)
	if !bytes.Equal(got, wantBytes) {
		t.Fatalf("output = %q, want %q (byte-exact reassembly after reorder)", got, wantBytes)
	}
}

func TestEngineResendsAckOnRetransmittedFINDuringTimeWait(t *testing.T) {
	const port = 45103
	outPath := filepath.Join(t.TempDir(), "output.bin")
	e := New(Config{LocalPort: port, Filename: outPath})
	_, errCh := runEngineAsync(t, e)

	sock := dialFakeSender(t, port)
	defer sock.Close()

	readAck := func() wire.Decoded {
		buf := make([]byte, 64)
		sock.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, err := sock.Read(buf)
		if err != nil {
			t.Fatalf("read ack: %v", err)
		}
		dec, _ := wire.Decode(buf[:n])
		return dec
	}

	isn := wire.Seq(3000)
	sock.Write(wire.Encode(isn, wire.TypeSYN, nil))
	readAck()

	finSeq := isn.Add(1)
	sock.Write(wire.Encode(finSeq, wire.TypeFIN, nil))
	first := readAck()

	// Simulate the FIN-ACK being lost: resend FIN well inside the 2s linger.
	time.Sleep(500 * time.Millisecond)
	sock.Write(wire.Encode(finSeq, wire.TypeFIN, nil))
	second := readAck()
	if second.Seq != first.Seq {
		t.Fatalf("resent FIN ack = %d, want %d (same fin_ack)", second.Seq, first.Seq)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(4 * time.Second):
		t.Fatal("engine did not close after linger reset")
	}

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no bytes written, got %d", len(got))
	}
}
