//go:build linux || darwin

package lir

import (
	"encoding/binary"
	"slices"
	"testing"

	"github.com/tinyrange/lirjit/internal/asm/riscv"
	"github.com/tinyrange/lirjit/internal/execmem"
)

// words returns the instruction words fn appends to the session.
func words(t *testing.T, c *Compiler, fn func() error) []uint32 {
	t.Helper()
	start := c.buf.Len()
	if err := fn(); err != nil {
		t.Fatalf("emit: %v", err)
	}
	raw := c.buf.Bytes()[start:]
	out := make([]uint32, len(raw)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(raw[4*i:])
	}
	return out
}

func riscvSession(t *testing.T, zbb bool) *Compiler {
	t.Helper()
	c := newSession(t, ArchRISCV64, Options{CPU: &execmem.CPU{Arch: "riscv64", FPU: true, Zbb: zbb}})
	if err := c.EmitEnter(0, ArgsOf(ArgVoid), 3, 0, 0, 0, 32); err != nil {
		t.Fatalf("EmitEnter: %v", err)
	}
	return c
}

func checkWords(t *testing.T, name string, got, want []uint32) {
	t.Helper()
	if !slices.Equal(got, want) {
		t.Fatalf("%s:\n got %08x\nwant %08x", name, got, want)
	}
}

func TestRISCVPlainOpsSkipFlags(t *testing.T) {
	c := riscvSession(t, false)
	checkWords(t, "add", words(t, c, func() error { return c.EmitOp2(OpAdd, R(0), R(1), R(2)) }),
		[]uint32{riscv.Reg3(riscv.ADD, false, riscv.A0, riscv.A1, riscv.A2)})
	checkWords(t, "add32", words(t, c, func() error { return c.EmitOp2(OpAdd|Op32, R(0), R(1), R(2)) }),
		[]uint32{riscv.Reg3(riscv.ADD, true, riscv.A0, riscv.A1, riscv.A2)})
	checkWords(t, "sub imm", words(t, c, func() error { return c.EmitOp2(OpSub, R(0), R(1), Imm(5)) }),
		[]uint32{riscv.Addi(riscv.A0, riscv.A1, -5)})
}

func TestRISCVCapturesOperandsForFlags(t *testing.T) {
	c := riscvSession(t, false)
	checkWords(t, "sub.less", words(t, c, func() error { return c.EmitOp2(OpSub|Set(Less), R(0), R(1), R(2)) }),
		[]uint32{
			riscv.Reg3(riscv.SUB, false, riscv.T2, riscv.A1, riscv.A2),
			riscv.Mv(riscv.T3, riscv.A1),
			riscv.Mv(riscv.T4, riscv.A2),
			riscv.Mv(riscv.T0, riscv.T2),
			riscv.Mv(riscv.A0, riscv.T2),
		})
	checkWords(t, "sub32.sig_less", words(t, c, func() error {
		return c.EmitOp2(OpSub|Op32|Set(SigLess), R(0), R(1), R(2))
	}), []uint32{
		riscv.Reg3(riscv.SUB, true, riscv.T2, riscv.A1, riscv.A2),
		riscv.Addiw(riscv.T3, riscv.A1, 0),
		riscv.Addiw(riscv.T4, riscv.A2, 0),
		riscv.Addiw(riscv.T0, riscv.T2, 0),
		riscv.Mv(riscv.A0, riscv.T2),
	})
}

func TestRISCVMaterialisesAtConsumer(t *testing.T) {
	c := riscvSession(t, false)
	if err := c.EmitOp2u(OpSub|Set(SigGreater), R(1), R(2)); err != nil {
		t.Fatalf("EmitOp2u: %v", err)
	}
	checkWords(t, "op_flags sig_greater", words(t, c, func() error { return c.EmitOpFlags(OpMov, R(0), SigGreater) }),
		[]uint32{
			riscv.Reg3(riscv.SLT, false, riscv.T1, riscv.T4, riscv.T3),
			riscv.Mv(riscv.A0, riscv.T1),
		})
	not, _ := riscv.Imm(riscv.XORI, riscv.T1, riscv.T1, 1)
	checkWords(t, "op_flags sig_less_equal", words(t, c, func() error { return c.EmitOpFlags(OpMov, R(0), SigLessEqual) }),
		[]uint32{
			riscv.Reg3(riscv.SLT, false, riscv.T1, riscv.T4, riscv.T3),
			not,
			riscv.Mv(riscv.A0, riscv.T1),
		})
}

func TestRISCVCarryChain(t *testing.T) {
	c := riscvSession(t, false)
	if err := c.EmitOp2(OpAdd|Set(Carry), R(0), R(0), R(2)); err != nil {
		t.Fatalf("EmitOp2: %v", err)
	}
	checkWords(t, "addc.carry", words(t, c, func() error { return c.EmitOp2(OpAddc|Set(Carry), R(1), R(1), R(2)) }),
		[]uint32{
			// The carry of the add is read into t4 first.
			riscv.Reg3(riscv.SLTU, false, riscv.T4, riscv.T0, riscv.T3),
			riscv.Reg3(riscv.ADD, false, riscv.T2, riscv.A1, riscv.A2),
			riscv.Reg3(riscv.ADD, false, riscv.T2, riscv.T2, riscv.T4),
			riscv.Mv(riscv.T3, riscv.A1),
			riscv.Mv(riscv.T0, riscv.T2),
			riscv.Mv(riscv.A1, riscv.T2),
		})
}

func TestRISCVBranchOnCapturedOperands(t *testing.T) {
	c := riscvSession(t, false)
	if err := c.EmitOp2u(OpSub|Set(Less), R(1), R(2)); err != nil {
		t.Fatalf("EmitOp2u: %v", err)
	}
	j := c.EmitJump(GreaterEqual)
	j.SetLabel(c.EmitLabel())
	if err := c.EmitReturnVoid(); err != nil {
		t.Fatalf("EmitReturnVoid: %v", err)
	}
	code := generate(t, c)
	off := j.Addr() - code.Entry
	got := binary.LittleEndian.Uint32(code.Bytes()[off:])
	want, _ := riscv.Branch(riscv.BGEU, riscv.T3, riscv.T4, 4)
	if j.Size() != 4 || got != want {
		t.Fatalf("branch size=%d word=%08x, want %08x", j.Size(), got, want)
	}
}

// rd returns the destination register of w, or -1 when w has none.
func rd(w uint32) int {
	switch w & 0x7F {
	case 0x33, 0x3B, 0x13, 0x1B, 0x03, 0x37, 0x17, 0x6F, 0x67:
		return int(w >> 7 & 31)
	}
	return -1
}

func TestRISCVFlaglessOpsKeepFlagRegisters(t *testing.T) {
	c := riscvSession(t, false)
	reserved := []int{int(riscv.T0), int(riscv.T3), int(riscv.T4)}
	emits := []func() error{
		func() error { return c.EmitCmov(Equal, R(0), Imm(3)) },
		func() error { return c.EmitOp2(OpAdd, R(0), R(1), Imm(1<<40)) },
		func() error { return c.EmitOp2(OpMul, R(0), R(1), R(2)) },
		func() error { return c.EmitOp2(OpShl|Op32, R(0), R(1), Imm(3)) },
		func() error { return c.EmitOp2(OpAnd, Mem1(R(2), 8), R(1), Imm(0xFFFF)) },
		func() error { return c.EmitOp1(OpClz, R(0), R(1)) },
		func() error { return c.EmitOp1(OpClz|Op32, R(0), Mem1(SP, 8)) },
		func() error { return c.EmitOp1(OpMovS16, R(0), R(1)) },
		func() error { return c.EmitOp0(OpDivmodSW) },
		func() error { return c.EmitOp0(OpLmulUW) },
		func() error { return c.EmitMem(OpMov, MemPre, R(0), Mem1(R(1), 4096)) },
	}
	// cmov reads flags; give it some.
	if err := c.EmitOp2(OpAdd|SetZ, R(0), R(0), R(1)); err != nil {
		t.Fatalf("EmitOp2: %v", err)
	}
	for i, fn := range emits {
		for _, w := range words(t, c, fn) {
			if slices.Contains(reserved, rd(w)) {
				t.Fatalf("emit %d writes flag register x%d in %08x", i, rd(w), w)
			}
		}
	}
}

func TestRISCVClzEmulation(t *testing.T) {
	c := riscvSession(t, false)
	if got := c.CPUFeature(FeatureHasClz); got != FeatureEmulated {
		t.Fatalf("clz without zbb: %s", got)
	}
	ws := words(t, c, func() error { return c.EmitOp1(OpClz, R(0), R(1)) })
	// copy, counter reset, six search steps, final fixup
	if len(ws) != 2+6*4+3 {
		t.Fatalf("emulated clz is %d words", len(ws))
	}

	z := riscvSession(t, true)
	checkWords(t, "zbb clz", words(t, z, func() error { return z.EmitOp1(OpClz, R(0), R(1)) }),
		[]uint32{riscv.Clz(false, riscv.A0, riscv.A1)})
}

func TestRISCVConstLoadIsFixed(t *testing.T) {
	c := riscvSession(t, false)
	for _, v := range []int64{0, 1, -1, 1 << 40, -0x123456789} {
		ws := words(t, c, func() error {
			if c.EmitConst(R(0), v) == nil {
				return c.Err()
			}
			return nil
		})
		if len(ws) != riscv.LiFixedLen {
			t.Fatalf("const %d is %d words", v, len(ws))
		}
		r, got, err := riscv.DecodeLiFixed([riscv.LiFixedLen]uint32(ws))
		if err != nil || r != riscv.A0 || got != v {
			t.Fatalf("decode const %d: x%d %d %v", v, r, got, err)
		}
	}
}
