package execmem

import (
	"runtime"

	"golang.org/x/sys/cpu"
)

// CPU lists the optional instruction set features code generators consult.
type CPU struct {
	Arch string
	FPU  bool
	SSE2 bool
	CMOV bool
	// Zbb is the RISC-V basic bit manipulation extension (clz).
	Zbb bool
}

// HostCPU probes the machine running the process.
func HostCPU() CPU {
	c := CPU{Arch: runtime.GOARCH}
	switch runtime.GOARCH {
	case "amd64":
		c.SSE2 = cpu.X86.HasSSE2
		c.FPU = c.SSE2
		c.CMOV = true
	case "arm64":
		c.FPU = cpu.ARM64.HasFP
	case "riscv64":
		c.FPU = true
		c.Zbb = cpu.RISCV64.HasZbb
	}
	return c
}
