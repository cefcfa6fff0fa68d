package urplog

import (
	"fmt"
	"io"
	"sync/atomic"
)

// NamedValue pairs a metric name with its current value, used by the
// metrics package to expose counters without depending on their concrete
// struct layout.
type NamedValue struct {
	Name  string
	Value int64
}

// SenderCounters holds the sender-side statistics of spec §4.3, each
// updated with plain atomic adds so the send loop, receive loop and timer
// goroutine can all bump them without a separate lock.
type SenderCounters struct {
	OriginalDataSent           atomic.Int64
	TotalDataSent              atomic.Int64
	OriginalSegmentsSent       atomic.Int64
	TotalSegmentsSent          atomic.Int64
	TimeoutRetransmissions     atomic.Int64
	FastRetransmissions        atomic.Int64
	DuplicateAcksReceived      atomic.Int64
	CorruptedAcksDiscarded     atomic.Int64
	PLCForwardSegmentsDropped  atomic.Int64
	PLCForwardSegmentsCorrupt  atomic.Int64
	PLCReverseSegmentsDropped  atomic.Int64
	PLCReverseSegmentsCorrupt  atomic.Int64
}

// WriteSummary writes the fixed-order, fixed-label counter block the
// Python original emits at the end of sender_log.txt.
func (c *SenderCounters) WriteSummary(w io.Writer) error {
	_, err := fmt.Fprintf(w,
		"Original data sent:            %5d\n"+
			"Total data sent:               %5d\n"+
			"Original segments sent:        %5d\n"+
			"Total segments sent:           %5d\n"+
			"Timeout retransmissions:       %5d\n"+
			"Fast retransmissions:          %5d\n"+
			"Duplicate acks received:       %5d\n"+
			"Corrupted acks discarded:      %5d\n"+
			"PLC forward segments dropped:  %5d\n"+
			"PLC forward segments corrupted: %5d\n"+
			"PLC reverse segments dropped:  %5d\n"+
			"PLC reverse segments corrupted: %5d\n",
		c.OriginalDataSent.Load(),
		c.TotalDataSent.Load(),
		c.OriginalSegmentsSent.Load(),
		c.TotalSegmentsSent.Load(),
		c.TimeoutRetransmissions.Load(),
		c.FastRetransmissions.Load(),
		c.DuplicateAcksReceived.Load(),
		c.CorruptedAcksDiscarded.Load(),
		c.PLCForwardSegmentsDropped.Load(),
		c.PLCForwardSegmentsCorrupt.Load(),
		c.PLCReverseSegmentsDropped.Load(),
		c.PLCReverseSegmentsCorrupt.Load(),
	)
	return err
}

// Fields returns every counter as a name/value pair, in summary order, for
// the metrics exporter.
func (c *SenderCounters) Fields() []NamedValue {
	return []NamedValue{
		{"original_data_sent", c.OriginalDataSent.Load()},
		{"total_data_sent", c.TotalDataSent.Load()},
		{"original_segments_sent", c.OriginalSegmentsSent.Load()},
		{"total_segments_sent", c.TotalSegmentsSent.Load()},
		{"timeout_retransmissions", c.TimeoutRetransmissions.Load()},
		{"fast_retransmissions", c.FastRetransmissions.Load()},
		{"duplicate_acks_received", c.DuplicateAcksReceived.Load()},
		{"corrupted_acks_discarded", c.CorruptedAcksDiscarded.Load()},
		{"plc_forward_segments_dropped", c.PLCForwardSegmentsDropped.Load()},
		{"plc_forward_segments_corrupted", c.PLCForwardSegmentsCorrupt.Load()},
		{"plc_reverse_segments_dropped", c.PLCReverseSegmentsDropped.Load()},
		{"plc_reverse_segments_corrupted", c.PLCReverseSegmentsCorrupt.Load()},
	}
}

// ReceiverCounters holds the receiver-side statistics of spec §4.3/§4.4.
type ReceiverCounters struct {
	OriginalDataReceived         atomic.Int64
	TotalDataReceived            atomic.Int64
	OriginalSegmentsReceived     atomic.Int64
	TotalSegmentsReceived        atomic.Int64
	CorruptedSegmentsDiscarded   atomic.Int64
	DuplicateSegmentsReceived    atomic.Int64
	TotalAcksSent                atomic.Int64
	DuplicateAcksSent            atomic.Int64
}

// WriteSummary writes the fixed-order, fixed-label counter block the
// Python original emits at the end of receiver_log.txt.
func (c *ReceiverCounters) WriteSummary(w io.Writer) error {
	_, err := fmt.Fprintf(w,
		"Original data received:         %5d\n"+
			"Total data received:           %5d\n"+
			"Original segments received:    %5d\n"+
			"Total segments received:       %5d\n"+
			"Corrupted segments discarded:  %5d\n"+
			"Duplicate segments received:   %5d\n"+
			"Total acks sent:              %5d\n"+
			"Duplicate acks sent:          %5d\n",
		c.OriginalDataReceived.Load(),
		c.TotalDataReceived.Load(),
		c.OriginalSegmentsReceived.Load(),
		c.TotalSegmentsReceived.Load(),
		c.CorruptedSegmentsDiscarded.Load(),
		c.DuplicateSegmentsReceived.Load(),
		c.TotalAcksSent.Load(),
		c.DuplicateAcksSent.Load(),
	)
	return err
}

// Fields returns every counter as a name/value pair, in summary order, for
// the metrics exporter.
func (c *ReceiverCounters) Fields() []NamedValue {
	return []NamedValue{
		{"original_data_received", c.OriginalDataReceived.Load()},
		{"total_data_received", c.TotalDataReceived.Load()},
		{"original_segments_received", c.OriginalSegmentsReceived.Load()},
		{"total_segments_received", c.TotalSegmentsReceived.Load()},
		{"corrupted_segments_discarded", c.CorruptedSegmentsDiscarded.Load()},
		{"duplicate_segments_received", c.DuplicateSegmentsReceived.Load()},
		{"total_acks_sent", c.TotalAcksSent.Load()},
		{"duplicate_acks_sent", c.DuplicateAcksSent.Load()},
	}
}
