package lir

import "fmt"

// Op is an LIR opcode. The low byte selects the operation; Op32 and the
// flag request bits are or-ed on top.
type Op int32

const (
	// Op32 selects 32-bit integer arithmetic or single precision floats.
	Op32 Op = 0x100
	// SetZ requests the zero flag.
	SetZ Op = 0x200
	// F32 is the single precision spelling of Op32.
	F32 = Op32
)

// Set requests the variable flag for cond.
func Set(cond Cond) Op { return Op(cond&0x3F) << 10 }

const (
	op0Base   Op = 0
	op1Base   Op = 32
	op2Base   Op = 96
	opSrcBase Op = 128
	fop1Base  Op = 160
	fop2Base  Op = 192
)

const (
	OpBreakpoint Op = op0Base + iota
	OpNop
	OpLmulUW
	OpLmulSW
	OpDivmodUW
	OpDivmodSW
	OpDivUW
	OpDivSW
	OpEndbr
	OpSkipFramesBeforeReturn
)

const (
	OpMov Op = op1Base + iota
	OpMovU8
	OpMovS8
	OpMovU16
	OpMovS16
	OpMovU32
	OpMovS32
	OpMov32
	OpMovP
	OpNot
	OpClz
)

const (
	OpAdd Op = op2Base + iota
	OpAddc
	OpSub
	OpSubc
	OpMul
	OpAnd
	OpOr
	OpXor
	OpShl
	OpLshr
	OpAshr
)

const (
	OpFastReturn Op = opSrcBase + iota
	OpSkipFramesBeforeFastReturn
	OpPrefetchL1
	OpPrefetchL2
	OpPrefetchL3
	OpPrefetchOnce
)

const (
	OpMovF64 Op = fop1Base + iota
	OpConvF64FromF32
	OpConvSWFromF64
	OpConvS32FromF64
	OpConvF64FromSW
	OpConvF64FromS32
	OpCmpF64
	OpNegF64
	OpAbsF64
)

const (
	OpAddF64 Op = fop2Base + iota
	OpSubF64
	OpMulF64
	OpDivF64
)

// Single precision and 32-bit aliases.
const (
	OpDivmodU32 = OpDivmodUW | Op32
	OpDivmodS32 = OpDivmodSW | Op32
	OpDivU32    = OpDivUW | Op32
	OpDivS32    = OpDivSW | Op32

	OpMovF32         = OpMovF64 | F32
	OpConvF32FromF64 = OpConvF64FromF32 | F32
	OpConvSWFromF32  = OpConvSWFromF64 | F32
	OpConvS32FromF32 = OpConvS32FromF64 | F32
	OpConvF32FromSW  = OpConvF64FromSW | F32
	OpConvF32FromS32 = OpConvF64FromS32 | F32
	OpCmpF32         = OpCmpF64 | F32
	OpNegF32         = OpNegF64 | F32
	OpAbsF32         = OpAbsF64 | F32
	OpAddF32         = OpAddF64 | F32
	OpSubF32         = OpSubF64 | F32
	OpMulF32         = OpMulF64 | F32
	OpDivF32         = OpDivF64 | F32
)

// Base strips the width and flag bits.
func (o Op) Base() Op { return o & 0xFF }

// Is32 reports whether the 32-bit bit is set.
func (o Op) Is32() bool { return o&Op32 != 0 }

// HasSetZ reports whether the zero flag is requested.
func (o Op) HasSetZ() bool { return o&SetZ != 0 }

// FlagCond is the condition requested with Set, or -1.
func (o Op) FlagCond() Cond {
	c := Cond((o >> 10) & 0x3F)
	if c == 0 {
		return -1
	}
	return c
}

// HasFlags reports whether any flag is requested.
func (o Op) HasFlags() bool { return o&^0x1FF != 0 }

type opClass int

const (
	classInvalid opClass = iota
	classOp0
	classOp1
	classOp2
	classSrc
	classFop1
	classFop2
)

func (o Op) class() opClass {
	b := o.Base()
	switch {
	case b <= OpSkipFramesBeforeReturn:
		return classOp0
	case b >= OpMov && b <= OpClz:
		return classOp1
	case b >= OpAdd && b <= OpAshr:
		return classOp2
	case b >= OpFastReturn && b <= OpPrefetchOnce:
		return classSrc
	case b >= OpMovF64 && b <= OpAbsF64:
		return classFop1
	case b >= OpAddF64 && b <= OpDivF64:
		return classFop2
	}
	return classInvalid
}

var opNames = map[Op]string{
	OpBreakpoint:             "breakpoint",
	OpNop:                    "nop",
	OpLmulUW:                 "lmul_uw",
	OpLmulSW:                 "lmul_sw",
	OpDivmodUW:               "divmod_uw",
	OpDivmodSW:               "divmod_sw",
	OpDivUW:                  "div_uw",
	OpDivSW:                  "div_sw",
	OpEndbr:                  "endbr",
	OpSkipFramesBeforeReturn: "skip_frames_before_return",

	OpMov:    "mov",
	OpMovU8:  "mov_u8",
	OpMovS8:  "mov_s8",
	OpMovU16: "mov_u16",
	OpMovS16: "mov_s16",
	OpMovU32: "mov_u32",
	OpMovS32: "mov_s32",
	OpMov32:  "mov32",
	OpMovP:   "mov_p",
	OpNot:    "not",
	OpClz:    "clz",

	OpAdd:  "add",
	OpAddc: "addc",
	OpSub:  "sub",
	OpSubc: "subc",
	OpMul:  "mul",
	OpAnd:  "and",
	OpOr:   "or",
	OpXor:  "xor",
	OpShl:  "shl",
	OpLshr: "lshr",
	OpAshr: "ashr",

	OpFastReturn:                 "fast_return",
	OpSkipFramesBeforeFastReturn: "skip_frames_before_fast_return",
	OpPrefetchL1:                 "prefetch_l1",
	OpPrefetchL2:                 "prefetch_l2",
	OpPrefetchL3:                 "prefetch_l3",
	OpPrefetchOnce:               "prefetch_once",
}

var fopNames = map[Op]string{
	OpMovF64:         "mov_f64",
	OpMovF32:         "mov_f32",
	OpConvF64FromF32: "conv_f64_from_f32",
	OpConvF32FromF64: "conv_f32_from_f64",
	OpConvSWFromF64:  "conv_sw_from_f64",
	OpConvSWFromF32:  "conv_sw_from_f32",
	OpConvS32FromF64: "conv_s32_from_f64",
	OpConvS32FromF32: "conv_s32_from_f32",
	OpConvF64FromSW:  "conv_f64_from_sw",
	OpConvF32FromSW:  "conv_f32_from_sw",
	OpConvF64FromS32: "conv_f64_from_s32",
	OpConvF32FromS32: "conv_f32_from_s32",
	OpCmpF64:         "cmp_f64",
	OpCmpF32:         "cmp_f32",
	OpNegF64:         "neg_f64",
	OpNegF32:         "neg_f32",
	OpAbsF64:         "abs_f64",
	OpAbsF32:         "abs_f32",
	OpAddF64:         "add_f64",
	OpAddF32:         "add_f32",
	OpSubF64:         "sub_f64",
	OpSubF32:         "sub_f32",
	OpMulF64:         "mul_f64",
	OpMulF32:         "mul_f32",
	OpDivF64:         "div_f64",
	OpDivF32:         "div_f32",
}

// Name is the mnemonic used by the verbose listing, without flag suffixes.
func (o Op) Name() string {
	switch o.class() {
	case classFop1, classFop2:
		if n, ok := fopNames[o&0x1FF]; ok {
			return n
		}
	case classInvalid:
	default:
		n, ok := opNames[o.Base()]
		if !ok {
			break
		}
		if !o.Is32() {
			return n
		}
		// divmod_uw -> divmod32_uw, mov_u8 -> mov32_u8, add -> add32
		for i := 0; i < len(n); i++ {
			if n[i] == '_' {
				return n[:i] + "32" + n[i:]
			}
		}
		return n + "32"
	}
	return fmt.Sprintf("op(%#x)", int32(o))
}

func (o Op) String() string {
	s := o.Name()
	if o.HasSetZ() {
		s += ".z"
	}
	if c := o.FlagCond(); c >= 0 {
		s += "." + c.String()
	}
	return s
}

// LookupOp maps a mnemonic printed by Op.Name back to its opcode.
func LookupOp(name string) (Op, bool) {
	for op, n := range opNames {
		if n == name {
			return op, true
		}
	}
	for op := range opNames {
		if op32 := op | Op32; op32.Name() == name {
			return op32, true
		}
	}
	for op, n := range fopNames {
		if n == name {
			return op, true
		}
	}
	return 0, false
}

// Cond is a comparison type or jump kind.
type Cond int32

const (
	Equal Cond = iota
	NotEqual
	Less
	GreaterEqual
	Greater
	LessEqual
	SigLess
	SigGreaterEqual
	SigGreater
	SigLessEqual
	Overflow
	NotOverflow
	Carry
	NotCarry
	FEqual
	FNotEqual
	FLess
	FGreaterEqual
	FGreater
	FLessEqual
	Unordered
	Ordered
	OrderedEqual
	UnorderedOrNotEqual
	OrderedLess
	UnorderedOrGreaterEqual
	OrderedGreater
	UnorderedOrLessEqual
	UnorderedOrEqual
	OrderedNotEqual
	UnorderedOrLess
	OrderedGreaterEqual
	UnorderedOrGreater
	OrderedLessEqual

	JumpAlways
	FastCall
	Call
	CallCdecl
)

const (
	Zero    = Equal
	NotZero = NotEqual
)

const (
	// Cond32 makes EmitCmp compare the low 32 bits.
	Cond32 Cond = 0x100
	// RewritableJump reserves a full-width encoding for SetJumpAddr.
	RewritableJump Cond = 0x1000
	// CallReturn tears down the frame before a call.
	CallReturn Cond = 0x2000
)

// Invert returns the complementary condition.
func (c Cond) Invert() Cond { return c ^ 1 }

// Type strips the option bits.
func (c Cond) Type() Cond { return c & 0xFF }

func (c Cond) isInt() bool   { t := c.Type(); return t >= Equal && t <= NotCarry }
func (c Cond) isFloat() bool { t := c.Type(); return t >= FEqual && t <= OrderedLessEqual }

var condNames = [...]string{
	"equal", "not_equal", "less", "greater_equal", "greater", "less_equal",
	"sig_less", "sig_greater_equal", "sig_greater", "sig_less_equal",
	"overflow", "not_overflow", "carry", "not_carry",
	"f_equal", "f_not_equal", "f_less", "f_greater_equal", "f_greater", "f_less_equal",
	"unordered", "ordered",
	"ordered_equal", "unordered_or_not_equal", "ordered_less", "unordered_or_greater_equal",
	"ordered_greater", "unordered_or_less_equal", "unordered_or_equal", "ordered_not_equal",
	"unordered_or_less", "ordered_greater_equal", "unordered_or_greater", "ordered_less_equal",
	"jump", "fast_call", "call", "call_cdecl",
}

func (c Cond) String() string {
	t := c.Type()
	if t < 0 || int(t) >= len(condNames) {
		return fmt.Sprintf("cond(%d)", int32(c))
	}
	s := condNames[t]
	if c&Cond32 != 0 {
		s += "32"
	}
	if c&RewritableJump != 0 {
		s += ".rewritable"
	}
	if c&CallReturn != 0 {
		s += ".return"
	}
	return s
}

// LookupCond maps a name printed by Cond.String (without suffixes) back to
// its value.
func LookupCond(name string) (Cond, bool) {
	for i, n := range condNames {
		if n == name {
			return Cond(i), true
		}
	}
	return 0, false
}

// MemFlags select the direction and addressing update of EmitMem.
type MemFlags int32

const (
	MemLoad  MemFlags = 0
	MemSupp  MemFlags = 0x200
	MemStore MemFlags = 0x400
	MemPre   MemFlags = 0x800
	MemPost  MemFlags = 0x1000
)

// ArgType is one slot of an argument type list.
type ArgType uint32

const (
	ArgVoid ArgType = iota
	ArgW
	Arg32
	ArgP
	ArgF64
	ArgF32
	// ArgScratch places an EmitEnter argument in R<k> instead of S<k>.
	ArgScratch ArgType = 0x8
)

func (t ArgType) base() ArgType { return t &^ ArgScratch }
func (t ArgType) isFloat() bool { b := t.base(); return b == ArgF64 || b == ArgF32 }
func (t ArgType) scratch() bool { return t&ArgScratch != 0 }

func (t ArgType) String() string {
	if t.scratch() {
		return argNames[t.base()&7] + "_r"
	}
	return argNames[t.base()&7]
}

var argNames = [8]string{"void", "w", "32", "p", "f64", "f32", "?", "?"}

// Args packs a return type and up to four argument types, four bits each,
// the return type in the lowest slot.
type Args uint32

// ArgsOf builds an argument list.
func ArgsOf(ret ArgType, args ...ArgType) Args {
	a := Args(ret & 0xF)
	for i, t := range args {
		a |= Args(t&0xF) << (4 * (i + 1))
	}
	return a
}

// Ret is the return slot.
func (a Args) Ret() ArgType { return ArgType(a & 0xF) }

// Arg returns slot i (0-based), ArgVoid past the end.
func (a Args) Arg(i int) ArgType {
	if i < 0 || i >= 4 {
		return ArgVoid
	}
	return ArgType(a>>(4*(i+1))) & 0xF
}

// List returns the argument types up to the first void slot.
func (a Args) List() []ArgType {
	var out []ArgType
	for i := 0; i < 4; i++ {
		t := a.Arg(i)
		if t == ArgVoid {
			break
		}
		out = append(out, t)
	}
	return out
}

// Enter options.
const (
	EnterKeepS0   = 1
	EnterKeepS0S1 = 2
	EnterCdecl    = 0x20
)

// Current flag declarations for SetCurrentFlags.
const (
	CurrentFlags32      = int32(Op32)
	CurrentFlagsAdd     = 0x01
	CurrentFlagsSub     = 0x02
	CurrentFlagsCompare = 0x04
)

// MaxLocalSize bounds the local area reserved by EmitEnter.
const MaxLocalSize = 65536
