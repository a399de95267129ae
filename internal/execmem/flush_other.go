//go:build !amd64 && !(linux && arm64) && !(darwin && arm64) && !(linux && riscv64)

package execmem

func FlushICache(addr uintptr, size int) {}
