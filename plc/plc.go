// Package plc implements the packet loss & corruption shim applied to the
// sender's outbound and inbound traffic: each segment handed to it is,
// independently, dropped, bit-corrupted, or passed through unchanged
// according to four configured probabilities.
package plc

import (
	"math/rand"

	"github.com/soypat/urp/wire"
)

// Outcome is the result of running a segment through the shim.
type Outcome uint8

const (
	OK Outcome = iota
	Drop
	Corrupt
)

// String returns the status code used in the event log: "ok", "drp" or
// "cor" (the log left-justifies it to width 3).
func (o Outcome) String() string {
	switch o {
	case Drop:
		return "drp"
	case Corrupt:
		return "cor"
	default:
		return "ok"
	}
}

// Direction distinguishes the two traffic directions the shim is applied
// to, so a [Hook] can condition its override on which one is being
// processed.
type Direction uint8

const (
	Forward Direction = iota // sender -> wire
	Reverse                  // wire -> sender (replies, e.g. ACKs)
)

// Hook lets tests force a specific outcome for one call to Forward or
// Reverse without perturbing the probabilistic draw used for every other
// call. It is consulted before the probability roll; returning ok==false
// falls through to the normal probabilistic behavior. This is how
// spec scenario S6 (drop exactly the first FIN-ACK) is driven
// deterministically; the CLI never sets one.
type Hook func(dir Direction, seg []byte) (outcome Outcome, ok bool)

// Shim is a packet loss & corruption shim configured with four independent
// probabilities in [0,1]: forward loss (flp), reverse loss (rlp), forward
// corruption (fcp), reverse corruption (rcp).
type Shim struct {
	FLP, RLP, FCP, RCP float64
	Rng                *rand.Rand
	Hook               Hook
}

// New returns a Shim seeded from seed, ready to use.
func New(flp, rlp, fcp, rcp float64, seed int64) *Shim {
	return &Shim{
		FLP: flp, RLP: rlp, FCP: fcp, RCP: rcp,
		Rng: rand.New(rand.NewSource(seed)),
	}
}

// Forward runs seg through the forward-direction (sender -> wire) policy.
// On Drop, out is nil. On Corrupt, out is a single-bit-flipped copy of seg.
// On OK, out is seg unchanged.
func (s *Shim) Forward(seg []byte) (out []byte, outcome Outcome) {
	return s.process(Forward, seg, s.FLP, s.FCP)
}

// Reverse runs seg through the reverse-direction (wire -> sender) policy.
func (s *Shim) Reverse(seg []byte) (out []byte, outcome Outcome) {
	return s.process(Reverse, seg, s.RLP, s.RCP)
}

func (s *Shim) process(dir Direction, seg []byte, lossP, corruptP float64) ([]byte, Outcome) {
	if s.Hook != nil {
		if outcome, ok := s.Hook(dir, seg); ok {
			return s.apply(seg, outcome), outcome
		}
	}
	r := s.Rng.Float64()
	switch {
	case r < lossP:
		return nil, Drop
	case r < lossP+corruptP:
		return wire.Corrupt(seg, s.Rng), Corrupt
	default:
		return seg, OK
	}
}

func (s *Shim) apply(seg []byte, outcome Outcome) []byte {
	switch outcome {
	case Drop:
		return nil
	case Corrupt:
		return wire.Corrupt(seg, s.Rng)
	default:
		return seg
	}
}
