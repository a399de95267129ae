package execmem

import (
	"sync"

	"github.com/ebitengine/purego"
)

var (
	icacheOnce sync.Once
	icacheErr  error

	libSystem           uintptr
	sysIcacheInvalidate func(start uintptr, size uintptr)
)

func ensureIcache() error {
	icacheOnce.Do(func() {
		var err error
		libSystem, err = purego.Dlopen("/usr/lib/libSystem.B.dylib", purego.RTLD_GLOBAL)
		if err != nil {
			icacheErr = err
			return
		}
		purego.RegisterLibFunc(&sysIcacheInvalidate, libSystem, "sys_icache_invalidate")
	})
	return icacheErr
}

// FlushICache invalidates the instruction cache over [addr, addr+size).
func FlushICache(addr uintptr, size int) {
	if size <= 0 {
		return
	}
	if err := ensureIcache(); err != nil {
		panic("execmem: load sys_icache_invalidate: " + err.Error())
	}
	sysIcacheInvalidate(addr, uintptr(size))
}
