package lir

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
)

// Arch names a target instruction set family.
type Arch int

const (
	ArchInvalid Arch = iota
	ArchX86_32
	ArchX86_64
	ArchARMv5
	ArchARMv7
	ArchThumb2
	ArchARM64
	ArchPPC32
	ArchPPC64
	ArchMIPS32
	ArchMIPS64
	ArchRISCV32
	ArchRISCV64
	ArchSPARC32
	ArchS390x
)

var archNames = [...]string{
	ArchInvalid: "invalid",
	ArchX86_32:  "x86_32",
	ArchX86_64:  "x86_64",
	ArchARMv5:   "armv5",
	ArchARMv7:   "armv7",
	ArchThumb2:  "thumb2",
	ArchARM64:   "arm64",
	ArchPPC32:   "ppc32",
	ArchPPC64:   "ppc64",
	ArchMIPS32:  "mips32",
	ArchMIPS64:  "mips64",
	ArchRISCV32: "riscv32",
	ArchRISCV64: "riscv64",
	ArchSPARC32: "sparc32",
	ArchS390x:   "s390x",
}

func (a Arch) String() string {
	if a >= 0 && int(a) < len(archNames) {
		return archNames[a]
	}
	return fmt.Sprintf("arch(%d)", int(a))
}

// ParseArch accepts the names printed by Arch.String plus the GOARCH
// spellings of the supported families.
func ParseArch(s string) (Arch, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "amd64", "x86-64":
		return ArchX86_64, nil
	case "386", "x86":
		return ArchX86_32, nil
	case "aarch64":
		return ArchARM64, nil
	case "host", "native":
		return HostArch(), nil
	}
	for i, name := range archNames {
		if i != int(ArchInvalid) && name == s {
			return Arch(i), nil
		}
	}
	return ArchInvalid, fmt.Errorf("lir: unknown architecture %q", s)
}

// HostArch is the family of the machine running the process.
func HostArch() Arch {
	switch runtime.GOARCH {
	case "amd64":
		return ArchX86_64
	case "386":
		return ArchX86_32
	case "arm64":
		return ArchARM64
	case "arm":
		return ArchARMv7
	case "ppc64", "ppc64le":
		return ArchPPC64
	case "mips", "mipsle":
		return ArchMIPS32
	case "mips64", "mips64le":
		return ArchMIPS64
	case "riscv64":
		return ArchRISCV64
	case "s390x":
		return ArchS390x
	}
	return ArchInvalid
}

// archSpec is what a backend contributes to the registry.
type archSpec struct {
	platform   string
	newBackend func(c *Compiler) backend
	// patchJump rewrites a rewritable jump whose encoding starts at p, which
	// executes at addr, so it transfers to target.
	patchJump func(p []byte, addr, target uintptr) error
	// patchConst rewrites the immediate of a const load starting at p.
	patchConst func(p []byte, v int64) error
	// jumpPatchSize and constPatchSize bound the bytes the patchers touch.
	jumpPatchSize  int
	constPatchSize int

	numRegisters       int
	numSavedRegisters  int
	numFloatRegisters  int
	numSavedFloatRegs  int
	customInstrMinSize int
	customInstrMaxSize int
}

var (
	archesMu sync.RWMutex
	arches   = make(map[Arch]*archSpec)
)

// registerArch wires a backend into the registry. Registering the same
// architecture twice panics so mistakes surface during init.
func registerArch(arch Arch, spec *archSpec) {
	if arch == ArchInvalid {
		panic("lir: cannot register backend for invalid architecture")
	}
	if spec == nil || spec.newBackend == nil {
		panic("lir: backend must be non-nil")
	}
	archesMu.Lock()
	defer archesMu.Unlock()
	if _, exists := arches[arch]; exists {
		panic(fmt.Sprintf("lir: backend for %s already registered", arch))
	}
	arches[arch] = spec
}

func lookupArch(arch Arch) (*archSpec, error) {
	archesMu.RLock()
	defer archesMu.RUnlock()
	if spec, ok := arches[arch]; ok {
		return spec, nil
	}
	return nil, errorf(ErrUnsupported, "no backend for %s", arch)
}

// Supported reports whether code can be generated for arch.
func Supported(arch Arch) bool {
	_, err := lookupArch(arch)
	return err == nil
}

// PlatformName describes the backend selected for arch.
func PlatformName(arch Arch) string {
	spec, err := lookupArch(arch)
	if err != nil {
		return arch.String() + " (unsupported)"
	}
	return spec.platform
}

// NumberOfRegisters is the integer register budget shared by scratch and
// saved registers on arch, or 0 when arch has no backend.
func NumberOfRegisters(arch Arch) int {
	if spec, err := lookupArch(arch); err == nil {
		return spec.numRegisters
	}
	return 0
}

// NumberOfSavedRegisters is the number of callee-saved integer registers.
func NumberOfSavedRegisters(arch Arch) int {
	if spec, err := lookupArch(arch); err == nil {
		return spec.numSavedRegisters
	}
	return 0
}

// NumberOfFloatRegisters is the float register budget on arch.
func NumberOfFloatRegisters(arch Arch) int {
	if spec, err := lookupArch(arch); err == nil {
		return spec.numFloatRegisters
	}
	return 0
}

// NumberOfSavedFloatRegisters is the number of callee-saved float registers.
func NumberOfSavedFloatRegisters(arch Arch) int {
	if spec, err := lookupArch(arch); err == nil {
		return spec.numSavedFloatRegs
	}
	return 0
}
