package lir

import "fmt"

// Feature names an optional capability of a target.
type Feature int

const (
	FeatureHasFPU              Feature = 0
	FeatureHasVirtualRegisters Feature = 1
	FeatureHasZeroRegister     Feature = 2
	FeatureHasClz              Feature = 3
	FeatureHasCmov             Feature = 4
	FeatureHasPrefetch         Feature = 5
	// FeatureHasSSE2 is only meaningful on x86.
	FeatureHasSSE2 Feature = 100
)

var featureNames = map[Feature]string{
	FeatureHasFPU:              "fpu",
	FeatureHasVirtualRegisters: "virtual_registers",
	FeatureHasZeroRegister:     "zero_register",
	FeatureHasClz:              "clz",
	FeatureHasCmov:             "cmov",
	FeatureHasPrefetch:         "prefetch",
	FeatureHasSSE2:             "sse2",
}

func (f Feature) String() string {
	if n, ok := featureNames[f]; ok {
		return n
	}
	return fmt.Sprintf("feature(%d)", int(f))
}

// Features lists every feature CPUFeature answers for.
func Features() []Feature {
	return []Feature{FeatureHasFPU, FeatureHasVirtualRegisters, FeatureHasZeroRegister,
		FeatureHasClz, FeatureHasCmov, FeatureHasPrefetch, FeatureHasSSE2}
}

// FeatureStatus says whether a feature is available and how.
type FeatureStatus int

const (
	FeatureUnavailable FeatureStatus = iota
	FeatureNative
	// FeatureEmulated means the operation works but costs several
	// instructions.
	FeatureEmulated
)

func (s FeatureStatus) String() string {
	switch s {
	case FeatureNative:
		return "native"
	case FeatureEmulated:
		return "emulated"
	}
	return "unavailable"
}

// CPUFeature reports the status of f for the session's target.
func (c *Compiler) CPUFeature(f Feature) FeatureStatus { return c.be.feature(f) }

// CmpInfo reports whether cond is implemented natively for float
// comparisons, including its behaviour for unordered operands.
func (c *Compiler) CmpInfo(cond Cond) bool {
	if !cond.isFloat() {
		return false
	}
	return c.be.cmpInfo(cond.Type())
}

// RegisterIndex returns the machine register number behind an integer
// register operand, or -1 for operands that are not registers.
func (c *Compiler) RegisterIndex(r Operand) int {
	if r.kind != kindReg || r.base == regSP {
		return -1
	}
	return c.be.regIndex(r.base)
}

// FloatRegisterIndex returns the machine register number behind a float
// register operand, or -1.
func (c *Compiler) FloatRegisterIndex(r Operand) int {
	if r.kind != kindFReg {
		return -1
	}
	return c.be.fregIndex(r.base)
}
