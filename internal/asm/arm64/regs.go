package arm64

import "fmt"

// Reg is a general-purpose register number. Encoding 31 means SP or the
// zero register depending on the instruction.
type Reg uint8

const (
	X0 Reg = iota
	X1
	X2
	X3
	X4
	X5
	X6
	X7
	X8
	X9
	X10
	X11
	X12
	X13
	X14
	X15
	X16
	X17
	X18
	X19
	X20
	X21
	X22
	X23
	X24
	X25
	X26
	X27
	X28
	X29
	X30
	SP

	XZR = SP
	FP  = X29
	LR  = X30
)

func (r Reg) String() string {
	switch {
	case r == SP:
		return "sp"
	case r < SP:
		return fmt.Sprintf("x%d", uint8(r))
	}
	return fmt.Sprintf("reg(%d)", uint8(r))
}

// VReg is a SIMD/FP register number.
type VReg uint8

func (v VReg) String() string { return fmt.Sprintf("v%d", uint8(v)) }

// Cond is an AArch64 condition code.
type Cond uint8

const (
	EQ Cond = iota
	NE
	CS
	CC
	MI
	PL
	VS
	VC
	HI
	LS
	GE
	LT
	GT
	LE
	AL
	NV

	HS = CS
	LO = CC
)

// Invert returns the complementary condition. AL has no complement.
func (c Cond) Invert() Cond { return c ^ 1 }

var condNames = [...]string{"eq", "ne", "cs", "cc", "mi", "pl", "vs", "vc", "hi", "ls", "ge", "lt", "gt", "le", "al", "nv"}

func (c Cond) String() string { return condNames[c&0xF] }

// Shift is the shift applied to the second register of a data processing
// instruction.
type Shift uint8

const (
	LSL Shift = iota
	LSR
	ASR
	ROR
)

func sf(is64 bool) uint32 {
	if is64 {
		return 1 << 31
	}
	return 0
}
