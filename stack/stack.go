// Package stack provides a top-down memory region that generated code can
// use as a private stack. The region is reserved once at its maximum size;
// resizing only moves Start, so pointers into the stack stay valid.
package stack

import (
	"errors"
	"fmt"
)

var ErrInvalidSize = errors.New("stack: invalid size")

// Stack is a mapped region satisfying MinStart <= Start <= Top <= End.
// Data occupies [Start, End); Top is free for the caller to track the
// current stack pointer and starts out equal to End.
type Stack struct {
	Top      uintptr
	End      uintptr
	Start    uintptr
	MinStart uintptr

	mem []byte
}

// Allocate reserves maxSize bytes, rounded up to whole pages, and makes the
// top startSize bytes available.
func Allocate(startSize, maxSize int) (*Stack, error) {
	if startSize <= 0 || maxSize <= 0 || startSize > maxSize {
		return nil, fmt.Errorf("%w: start %d, max %d", ErrInvalidSize, startSize, maxSize)
	}
	page := pageSize()
	maxSize = (maxSize + page - 1) / page * page
	mem, err := reserve(maxSize)
	if err != nil {
		return nil, fmt.Errorf("stack: reserve %d bytes: %w", maxSize, err)
	}
	base := addrOf(mem)
	s := &Stack{
		MinStart: base,
		End:      base + uintptr(maxSize),
		mem:      mem,
	}
	s.Top = s.End
	s.Start = s.End - uintptr(startSize)
	return s, nil
}

// Resize moves Start to newStart, which must lie in [MinStart, End).
// Shrinking hands whole pages above the old start back to the OS.
func (s *Stack) Resize(newStart uintptr) (uintptr, error) {
	if s.mem == nil {
		return 0, errors.New("stack: resize after free")
	}
	if newStart < s.MinStart || newStart >= s.End {
		return 0, fmt.Errorf("stack: start %#x outside [%#x, %#x)", newStart, s.MinStart, s.End)
	}
	if newStart > s.Start {
		page := uintptr(pageSize())
		from := (s.Start + page - 1) &^ (page - 1)
		to := newStart &^ (page - 1)
		if to > from {
			if err := release(s.mem[from-s.MinStart : to-s.MinStart]); err != nil {
				return 0, fmt.Errorf("stack: release pages: %w", err)
			}
		}
	}
	s.Start = newStart
	return newStart, nil
}

// Bytes returns the in-use part of the stack, [Start, End).
func (s *Stack) Bytes() []byte {
	if s.mem == nil {
		return nil
	}
	return s.mem[s.Start-s.MinStart:]
}

// Free unmaps the region.
func (s *Stack) Free() error {
	if s.mem == nil {
		return nil
	}
	err := unreserve(s.mem)
	s.mem = nil
	return err
}
