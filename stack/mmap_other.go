//go:build !linux && !darwin

package stack

import (
	"errors"
	"unsafe"
)

var errUnsupported = errors.New("stack: not supported on this platform")

func pageSize() int { return 4096 }

func addrOf(mem []byte) uintptr { return uintptr(unsafe.Pointer(&mem[0])) }

func reserve(int) ([]byte, error) { return nil, errUnsupported }

func release([]byte) error { return nil }

func unreserve([]byte) error { return nil }
