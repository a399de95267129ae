//go:build linux || darwin

package stack

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

func pageSize() int { return unix.Getpagesize() }

func addrOf(mem []byte) uintptr { return uintptr(unsafe.Pointer(&mem[0])) }

func reserve(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
}

func release(mem []byte) error { return unix.Madvise(mem, unix.MADV_DONTNEED) }

func unreserve(mem []byte) error { return unix.Munmap(mem) }
