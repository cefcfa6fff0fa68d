package urplog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/soypat/urp/wire"
)

func TestJournalDropsEventsBeforeStart(t *testing.T) {
	var j Journal
	j.Event("snd", "ok", wire.TypeSYN, 100, 0)
	var buf bytes.Buffer
	if err := j.WriteTo(&buf, nil); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no events before Start, got %q", buf.String())
	}
}

func TestJournalEventFormat(t *testing.T) {
	var j Journal
	j.Start()
	j.Event("snd", "ok", wire.TypeData, 1000, 500)
	var buf bytes.Buffer
	if err := j.WriteTo(&buf, nil); err != nil {
		t.Fatal(err)
	}
	line := buf.String()
	fields := strings.Fields(line)
	if len(fields) != 6 {
		t.Fatalf("expected 6 whitespace-separated fields, got %d: %q", len(fields), line)
	}
	if fields[0] != "snd" || fields[1] != "ok" || fields[3] != "DATA" || fields[4] != "1000" {
		t.Fatalf("unexpected field values: %q", line)
	}
}

func TestSenderCountersSummaryOrder(t *testing.T) {
	var c SenderCounters
	c.OriginalSegmentsSent.Store(4)
	c.TimeoutRetransmissions.Store(2)
	var buf bytes.Buffer
	if err := c.WriteSummary(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "Original segments sent:        "+"    4\n") {
		t.Fatalf("missing expected counter line in:\n%s", out)
	}
	if !strings.Contains(out, "Timeout retransmissions:       "+"    2\n") {
		t.Fatalf("missing expected counter line in:\n%s", out)
	}
}

func TestReceiverCountersFields(t *testing.T) {
	var c ReceiverCounters
	c.TotalAcksSent.Store(7)
	fields := c.Fields()
	found := false
	for _, f := range fields {
		if f.Name == "total_acks_sent" {
			found = true
			if f.Value != 7 {
				t.Fatalf("expected value 7, got %d", f.Value)
			}
		}
	}
	if !found {
		t.Fatal("total_acks_sent field not present")
	}
}
