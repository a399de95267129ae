package execmem

import "golang.org/x/sys/unix"

const sysRiscvFlushIcache = 259

// FlushICache asks the kernel to synchronise instruction fetch on every
// hart that may run this process.
func FlushICache(addr uintptr, size int) {
	if size <= 0 {
		return
	}
	_, _, _ = unix.Syscall(sysRiscvFlushIcache, addr, addr+uintptr(size), 0)
}
