package plc

import (
	"testing"

	"github.com/soypat/urp/wire"
)

func TestShimNoFaultsPassesThrough(t *testing.T) {
	s := New(0, 0, 0, 0, 1)
	seg := wire.Encode(1, wire.TypeData, []byte("hi"))
	out, outcome := s.Forward(seg)
	if outcome != OK {
		t.Fatalf("expected OK, got %v", outcome)
	}
	if string(out) != string(seg) {
		t.Fatal("expected segment unchanged")
	}
}

func TestShimAlwaysDrops(t *testing.T) {
	s := New(1, 0, 0, 0, 2)
	seg := wire.Encode(1, wire.TypeData, []byte("hi"))
	for i := 0; i < 10; i++ {
		out, outcome := s.Forward(seg)
		if outcome != Drop || out != nil {
			t.Fatalf("expected Drop/nil, got %v/%v", outcome, out)
		}
	}
}

func TestShimAlwaysCorrupts(t *testing.T) {
	s := New(0, 0, 1, 0, 3)
	seg := wire.Encode(1, wire.TypeData, []byte("hi"))
	out, outcome := s.Forward(seg)
	if outcome != Corrupt {
		t.Fatalf("expected Corrupt, got %v", outcome)
	}
	if string(out) == string(seg) {
		t.Fatal("expected corrupted segment to differ")
	}
}

func TestShimHookOverridesOnce(t *testing.T) {
	s := New(0, 0, 0, 0, 4)
	calls := 0
	s.Hook = func(dir Direction, seg []byte) (Outcome, bool) {
		calls++
		if calls == 1 {
			return Drop, true
		}
		return 0, false
	}
	seg := wire.Encode(1, wire.TypeFIN, nil)
	_, outcome := s.Forward(seg)
	if outcome != Drop {
		t.Fatalf("expected hook-forced Drop, got %v", outcome)
	}
	_, outcome = s.Forward(seg)
	if outcome != OK {
		t.Fatalf("expected fall-through OK on second call, got %v", outcome)
	}
}

func TestShimReverseIndependentOfForward(t *testing.T) {
	s := New(1, 0, 0, 0, 5) // forward always drops, reverse never does.
	seg := wire.Encode(1, wire.TypeACK, nil)
	_, outcome := s.Reverse(seg)
	if outcome != OK {
		t.Fatalf("expected Reverse to be unaffected by FLP, got %v", outcome)
	}
}
