package execmem

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func defaultMode() Mode { return ModeRWX }

func dualSupported() bool { return true }

// mapDual backs the chunk with an anonymous memfd mapped twice.
func mapDual(size int) (*chunk, error) {
	fd, err := unix.MemfdCreate("lirjit-code", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	defer unix.Close(fd)
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		return nil, fmt.Errorf("ftruncate memfd: %w", err)
	}
	rw, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("map rw view: %w", err)
	}
	rx, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_EXEC, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Munmap(rw)
		return nil, fmt.Errorf("map rx view: %w", err)
	}
	return &chunk{rw: rw, rx: rx, base: addrOf(rx)}, nil
}
