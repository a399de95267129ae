//go:build (linux || darwin) && (amd64 || arm64)

package programs

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/ebitengine/purego"

	"github.com/tinyrange/lirjit/lir"
	"github.com/tinyrange/lirjit/stack"
)

func TestSamplesOnHost(t *testing.T) {
	for _, p := range All() {
		t.Run(p.Name, func(t *testing.T) {
			code, _ := compile(t, lir.HostArch(), p)
			for _, s := range p.Samples {
				got, err := Call(code, s)
				if err != nil {
					t.Fatalf("call %v%v: %v", s.Args, s.Floats, err)
				}
				if got != s.Want {
					t.Fatalf("call %v%v = %d, want %d", s.Args, s.Floats, int64(got), int64(s.Want))
				}
			}
		})
	}
}

func TestRewritableJumpOnHost(t *testing.T) {
	p, _ := Lookup("select")
	code, h := compile(t, lir.HostArch(), p)
	before := code.Bytes()
	if got, _ := code.Call(); got != 1 {
		t.Fatalf("before patch = %d, want 1", got)
	}
	if err := code.SetJumpAddr(h.Jump.Addr(), h.Alt.Addr()); err != nil {
		t.Fatalf("SetJumpAddr: %v", err)
	}
	if got, _ := code.Call(); got != 2 {
		t.Fatalf("after patch = %d, want 2", got)
	}
	after := code.Bytes()
	start := int(h.Jump.Addr() - code.Entry)
	end := start + h.Jump.Size()
	if !bytes.Equal(before[:start], after[:start]) || !bytes.Equal(before[end:], after[end:]) {
		t.Fatalf("patch touched bytes outside the jump [%d, %d)", start, end)
	}
}

func TestConstPatchOnHost(t *testing.T) {
	p, _ := Lookup("const")
	code, h := compile(t, lir.HostArch(), p)
	if got, _ := code.Call(); got != 0 {
		t.Fatalf("initial const = %#x", got)
	}
	if err := code.SetConst(h.Const.Addr(), 0xDEADBEEF); err != nil {
		t.Fatalf("SetConst: %v", err)
	}
	if got, _ := code.Call(); got != 0xDEADBEEF {
		t.Fatalf("patched const = %#x", got)
	}
	if err := code.SetConst(h.Const.Addr(), math.MinInt64); err != nil {
		t.Fatalf("SetConst: %v", err)
	}
	if got, _ := code.Call(); got != 1<<63 {
		t.Fatalf("patched const = %#x", got)
	}
}

func TestFillStackOnHost(t *testing.T) {
	s, err := stack.Allocate(4096, 1<<20)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	defer s.Free()

	p, _ := Lookup("fill")
	code, _ := compile(t, lir.HostArch(), p)
	top, err := code.Call(s.Top, 4)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if top != s.Top-32 {
		t.Fatalf("new top %#x, want %#x", top, s.Top-32)
	}
	mem := s.Bytes()[top-s.Start:]
	for i := range 4 {
		if w := binary.LittleEndian.Uint64(mem[8*i:]); w != uint64(i+1) {
			t.Fatalf("slot %d = %d, want %d", i, w, i+1)
		}
	}
	if same, _ := code.Call(s.Top, 0); same != s.Top {
		t.Fatalf("fill of 0 moved top to %#x", same)
	}
}

func TestCallIntoGoOnHost(t *testing.T) {
	var seen []uintptr
	cb := purego.NewCallback(func(a, b uintptr) uintptr {
		seen = append(seen, a, b)
		return a * b
	})

	c, err := lir.NewCompiler(lir.HostArch(), lir.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		t.Fatalf("NewCompiler: %v", err)
	}
	defer c.Free()
	w := lir.ArgW
	c.EmitEnter(0, lir.ArgsOf(w, w), 2, 1, 0, 0, 0)
	c.EmitOp1(lir.OpMov, lir.R(0), lir.S(0))
	c.EmitOp1(lir.OpMov, lir.R(1), lir.Imm(3))
	call := c.EmitCall(lir.Call, lir.ArgsOf(w, w, w))
	if call == nil {
		t.Fatalf("EmitCall: %v", c.Err())
	}
	call.SetTarget(cb)
	// S0 survives the call.
	c.EmitOp2(lir.OpAdd, lir.R(0), lir.R(0), lir.S(0))
	if err := c.EmitReturn(lir.OpMov, lir.R(0)); err != nil {
		t.Fatalf("emit: %v", err)
	}
	code, err := c.GenerateCode(context.Background())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	defer code.Free()

	got, err := code.Call(7)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got != 28 {
		t.Fatalf("7*3+7 = %d, want 28", got)
	}
	if len(seen) != 2 || seen[0] != 7 || seen[1] != 3 {
		t.Fatalf("callback saw %v", seen)
	}
}
