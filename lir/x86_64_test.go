//go:build linux || darwin

package lir

import (
	"bytes"
	"testing"

	"github.com/tinyrange/lirjit/internal/asm/amd64"
)

func x86Session(t *testing.T) *Compiler {
	t.Helper()
	c := newSession(t, ArchX86_64, Options{})
	if err := c.EmitEnter(0, ArgsOf(ArgVoid), 3, 0, 2, 0, 16); err != nil {
		t.Fatalf("EmitEnter: %v", err)
	}
	return c
}

func emitted(t *testing.T, c *Compiler, fn func() error) []byte {
	t.Helper()
	start := c.buf.Len()
	if err := fn(); err != nil {
		t.Fatalf("emit: %v", err)
	}
	return bytes.Clone(c.buf.Bytes()[start:])
}

func TestX86FlaglessAddUsesLea(t *testing.T) {
	c := x86Session(t)
	got := emitted(t, c, func() error { return c.EmitOp2(OpAdd, R(0), R(1), R(2)) })
	want, err := amd64.Lea(amd64.S64, amd64.RAX, amd64.MemIndex(amd64.RSI, amd64.RDX, 0, 0))
	if err != nil {
		t.Fatalf("Lea: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("add r0, r1, r2 = %x, want lea %x", got, want)
	}
	// With flags requested the real add runs.
	got = emitted(t, c, func() error { return c.EmitOp2(OpAdd|SetZ, R(0), R(1), R(2)) })
	if bytes.Equal(got, want) {
		t.Fatalf("add.z lowered to lea")
	}
}

func TestX86ShortConditionalJump(t *testing.T) {
	c := x86Session(t)
	if err := c.EmitOp2u(OpSub|Set(SigLess), R(0), R(1)); err != nil {
		t.Fatalf("EmitOp2u: %v", err)
	}
	j := c.EmitJump(SigGreaterEqual)
	j.SetLabel(c.EmitLabel())
	if err := c.EmitReturnVoid(); err != nil {
		t.Fatalf("EmitReturnVoid: %v", err)
	}
	code := generate(t, c)
	p := code.Bytes()[j.Addr()-code.Entry:]
	// jge rel8 0
	if j.Size() != 2 || p[0] != 0x7D || p[1] != 0 {
		t.Fatalf("jump size=%d bytes=%x, want 7d00", j.Size(), p[:j.Size()])
	}
}

func TestX86FloatTwinConditions(t *testing.T) {
	for _, tt := range []struct {
		cond Cond
		twin twinKind
	}{
		{OrderedEqual, twinAnd},
		{UnorderedOrNotEqual, twinOr},
		{FEqual, twinNone},
		{FLess, twinNone},
		{Unordered, twinNone},
	} {
		c := x86Session(t)
		j := c.EmitFCmp(tt.cond, FR(0), FR(1))
		if j == nil {
			t.Fatalf("EmitFCmp(%s): %v", tt.cond, c.Err())
		}
		if j.form.twin != tt.twin {
			t.Fatalf("%s twin=%d, want %d", tt.cond, j.form.twin, tt.twin)
		}
	}
}

func TestX86CustomInstructionClearsFlags(t *testing.T) {
	c := x86Session(t)
	if err := c.EmitOp2u(OpSub|SetZ, R(0), R(1)); err != nil {
		t.Fatalf("EmitOp2u: %v", err)
	}
	// cmp rax, rsi
	if err := c.EmitOpCustom([]byte{0x48, 0x39, 0xF0}); err != nil {
		t.Fatalf("EmitOpCustom: %v", err)
	}
	if c.EmitJump(Equal) != nil {
		t.Fatalf("flags survived a custom instruction")
	}
}
