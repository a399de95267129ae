package execmem

// FlushICache cleans the data cache to the point of unification and
// invalidates the instruction cache over [addr, addr+size).
func FlushICache(addr uintptr, size int) {
	if size <= 0 {
		return
	}
	flushICache(addr, addr+uintptr(size))
}

func flushICache(start, end uintptr)
