//go:build linux || darwin

package execmem

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

func pageSize() int { return unix.Getpagesize() }

func addrOf(mem []byte) uintptr { return uintptr(unsafe.Pointer(&mem[0])) }

func rwBase(c *chunk) uintptr { return addrOf(c.rw) }

func mapChunk(mode Mode, size int) (*chunk, error) {
	if mode == ModeDual {
		return mapDual(size)
	}
	prot := unix.PROT_READ | unix.PROT_WRITE
	if mode == ModeRWX {
		prot |= unix.PROT_EXEC
	}
	mem, err := unix.Mmap(-1, 0, size, prot, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}
	return &chunk{rw: mem, rx: mem, base: addrOf(mem)}, nil
}

func unmapChunk(c *chunk) error {
	err := unix.Munmap(c.rw)
	if addrOf(c.rx) != addrOf(c.rw) {
		if rxErr := unix.Munmap(c.rx); err == nil {
			err = rxErr
		}
	}
	return err
}

func protect(mem []byte, exec bool) error {
	if exec {
		return unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC)
	}
	return unix.Mprotect(mem, unix.PROT_READ|unix.PROT_WRITE)
}
