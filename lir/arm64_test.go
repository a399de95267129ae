//go:build linux || darwin

package lir

import (
	"encoding/binary"
	"testing"

	"github.com/tinyrange/lirjit/internal/asm/arm64"
)

func arm64Session(t *testing.T) *Compiler {
	t.Helper()
	c := newSession(t, ArchARM64, Options{})
	if err := c.EmitEnter(0, ArgsOf(ArgVoid), 3, 0, 1, 0, 16); err != nil {
		t.Fatalf("EmitEnter: %v", err)
	}
	return c
}

func TestARM64FlaglessAdd(t *testing.T) {
	c := arm64Session(t)
	checkWords(t, "add", words(t, c, func() error { return c.EmitOp2(OpAdd, R(0), R(1), R(2)) }),
		[]uint32{arm64.AddSubReg(true, false, false, arm64.X0, arm64.X1, arm64.X2, arm64.LSL, 0)})
	checkWords(t, "sub32 imm", words(t, c, func() error { return c.EmitOp2(OpSub|Op32, R(0), R(1), Imm(-4)) }),
		[]uint32{mustARM(t)(arm64.AddSubImm(false, false, false, arm64.X0, arm64.X1, 4, false))})
}

func mustARM(t *testing.T) func(uint32, error) uint32 {
	return func(w uint32, err error) uint32 {
		t.Helper()
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		return w
	}
}

func TestARM64CarryFollowsFlagSetter(t *testing.T) {
	c := arm64Session(t)
	if err := c.EmitOp2u(OpSub|Set(Carry), R(1), R(2)); err != nil {
		t.Fatalf("EmitOp2u: %v", err)
	}
	// A move between setter and reader leaves the borrow sense.
	if err := c.EmitOp1(OpMov, R(0), R(1)); err != nil {
		t.Fatalf("EmitOp1: %v", err)
	}
	checkWords(t, "op_flags carry", words(t, c, func() error { return c.EmitOpFlags(OpMov, R(0), Carry) }),
		[]uint32{
			arm64.Cset(true, arm64.X16, arm64.CC),
			arm64.MovReg(true, arm64.X0, arm64.X16),
		})

	if err := c.EmitOp2(OpAdd|Set(Carry), R(0), R(1), R(2)); err != nil {
		t.Fatalf("EmitOp2: %v", err)
	}
	checkWords(t, "op_flags carry after add", words(t, c, func() error { return c.EmitOpFlags(OpMov, R(0), Carry) }),
		[]uint32{
			arm64.Cset(true, arm64.X16, arm64.CS),
			arm64.MovReg(true, arm64.X0, arm64.X16),
		})
}

func TestARM64CompareWithZeroUsesCbz(t *testing.T) {
	c := arm64Session(t)
	j := c.EmitCmp(NotEqual|Cond32, R(2), Imm(0))
	j.SetLabel(c.EmitLabel())
	if err := c.EmitReturnVoid(); err != nil {
		t.Fatalf("EmitReturnVoid: %v", err)
	}
	code := generate(t, c)
	got := binary.LittleEndian.Uint32(code.Bytes()[j.Addr()-code.Entry:])
	want := mustARM(t)(arm64.Cbz(false, true, arm64.X2, 4))
	if j.Size() != 4 || got != want {
		t.Fatalf("cbnz size=%d word=%08x, want %08x", j.Size(), got, want)
	}
}

func TestARM64FarConditionalJump(t *testing.T) {
	c := arm64Session(t)
	if err := c.EmitOp2u(OpSub|Set(SigLess), R(0), R(1)); err != nil {
		t.Fatalf("EmitOp2u: %v", err)
	}
	j := c.EmitJump(SigLess)
	// Absolute targets keep the longest form.
	j.SetTarget(0x7F0000000000)
	if err := c.EmitReturnVoid(); err != nil {
		t.Fatalf("EmitReturnVoid: %v", err)
	}
	code := generate(t, c)
	if j.Size() != arm64CondMax {
		t.Fatalf("absolute jump size=%d, want %d", j.Size(), arm64CondMax)
	}
	p := code.Bytes()[j.Addr()-code.Entry:]
	skip := mustARM(t)(arm64.BCond(arm64.GE, int64(arm64CondMax)))
	if w := binary.LittleEndian.Uint32(p); w != skip {
		t.Fatalf("first word %08x, want inverted skip %08x", w, skip)
	}
	if !arm64IsMovz(binary.LittleEndian.Uint32(p[4:]), arm64.X16) {
		t.Fatalf("far sequence does not load x16")
	}
}

func TestARM64FloatTwinCondition(t *testing.T) {
	c := arm64Session(t)
	j := c.EmitFCmp(UnorderedOrEqual, FR(0), FR(0))
	j.SetLabel(c.EmitLabel())
	if j.form.twin != twinOr {
		t.Fatalf("unordered_or_equal form %+v, want twinOr", j.form)
	}
	generate(t, c)
	if j.Size() != 8 {
		t.Fatalf("twin branch size=%d, want 8", j.Size())
	}
}

func TestARM64MemUpdateNative(t *testing.T) {
	c := arm64Session(t)
	ws := words(t, c, func() error { return c.EmitMem(OpMov, MemStore|MemPost, R(0), Mem1(R(1), -16)) })
	if len(ws) != 1 {
		t.Fatalf("post-indexed store is %d words, want 1", len(ws))
	}
	ws = words(t, c, func() error { return c.EmitMem(OpMov, MemPre, R(0), Mem1(R(1), 4096)) })
	if len(ws) < 2 {
		t.Fatalf("emulated pre-indexed load is %d words", len(ws))
	}
}
