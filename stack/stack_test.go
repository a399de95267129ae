//go:build linux || darwin

package stack

import (
	"errors"
	"testing"
)

func TestAllocateLayout(t *testing.T) {
	s, err := Allocate(4096, 1<<20)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	defer s.Free()

	if !(s.MinStart <= s.Start && s.Start <= s.Top && s.Top <= s.End) {
		t.Fatalf("bad layout: %+v", s)
	}
	if s.End-s.Start != 4096 {
		t.Fatalf("in-use size=%d, want 4096", s.End-s.Start)
	}
	if s.End-s.MinStart != 1<<20 {
		t.Fatalf("reserved size=%d, want %d", s.End-s.MinStart, 1<<20)
	}
	if len(s.Bytes()) != 4096 {
		t.Fatalf("Bytes len=%d", len(s.Bytes()))
	}
}

func TestResizeKeepsContents(t *testing.T) {
	s, err := Allocate(256, 64*1024)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	defer s.Free()

	before := s.Bytes()
	before[len(before)-1] = 0xAB

	grown, err := s.Resize(s.MinStart)
	if err != nil {
		t.Fatalf("grow: %v", err)
	}
	if grown != s.MinStart || s.Start != s.MinStart {
		t.Fatalf("start=%#x, want %#x", s.Start, s.MinStart)
	}
	after := s.Bytes()
	if len(after) != int(s.End-s.MinStart) || after[len(after)-1] != 0xAB {
		t.Fatalf("contents moved on grow")
	}

	if _, err := s.Resize(s.End - 16); err != nil {
		t.Fatalf("shrink: %v", err)
	}
	if before[len(before)-1] != 0xAB || s.Bytes()[15] != 0xAB {
		t.Fatalf("contents lost on shrink")
	}
}

func TestResizeBounds(t *testing.T) {
	s, err := Allocate(128, 8192)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	defer s.Free()

	if _, err := s.Resize(s.End); err == nil {
		t.Fatalf("start == end must be rejected")
	}
	if _, err := s.Resize(s.MinStart - 1); err == nil {
		t.Fatalf("start below MinStart must be rejected")
	}
}

func TestAllocateRejectsBadSizes(t *testing.T) {
	if _, err := Allocate(10, 5); !errors.Is(err, ErrInvalidSize) {
		t.Fatalf("err=%v, want ErrInvalidSize", err)
	}
}
