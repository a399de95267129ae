package riscv

import (
	"testing"

	"github.com/tinyrange/lirjit/internal/asm/testutil"
)

func TestKitchenSinkDisassemblyRISCV(t *testing.T) {
	b := testutil.NewSink(t, testutil.RISCV64)
	add := b.Word

	add("add", "add", Reg3(ADD, false, A0, A1, A2), "a0", "a1", "a2")
	add("subw", "subw", Reg3(SUB, true, T0, T1, T2), "t0", "t1", "t2")
	add("mulhu", "mulhu", Reg3(MULHU, false, A0, A1, A2), "a0", "a1", "a2")
	add("remw", "remw", Reg3(REM, true, A0, A1, A2), "a0", "a1", "a2")
	add("sltu", "sltu", Reg3(SLTU, false, T3, A0, A1), "t3", "a0", "a1")
	add("xori", "xori", must(t)(Imm(XORI, A0, A1, -1)), "a0", "a1", "-1")
	add("srliw", "srliw", ShiftImm(SRLI, true, A0, A1, 5), "a0", "a1", "5")
	add("lui", "lui", Lui(S1, 0x12345), "s1", "0x12345")
	add("lhu", "lhu", must(t)(Load(HU, A0, SP, 6)), "a0", "6(sp)")
	add("sw", "sw", must(t)(Store(W, A1, S0, -4)), "a1", "-4(s0)")
	add("bgeu", "bgeu", must(t)(Branch(BGEU, A0, A1, 16)), "a0", "a1")
	add("jalr", "jalr", Jalr(RA, T1, 0), "t1")
	add("clz", "clz", Clz(false, A0, A1), "a0", "a1")
	add("fsub.s", "fsub.s", FArith(FSUB, false, 0, 1, 2), "ft0", "ft1", "ft2")
	add("flt.d", "flt.d", FCmp(FLT, true, A0, 10, 11), "a0", "fa0", "fa1")
	add("fcvt.d.s", "fcvt.d.s", FCvtPrec(true, 10, 11), "fa0", "fa1")
	add("fcvt.d.l", "fcvt.d.l", FCvtFromInt(true, true, 10, A0), "fa0", "a0")
	add("fmv.x.d", "fmv.x.d", FMvToInt(true, A0, 10), "a0", "fa0")
	add("fsd", "fsd", must(t)(FStore(true, 10, SP, 16)), "fa0", "16(sp)")
	add("ebreak", "ebreak", Ebreak())

	b.Verify()
}
