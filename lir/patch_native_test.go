//go:build (linux || darwin) && (amd64 || arm64)

package lir

import (
	"runtime"
	"testing"

	"github.com/tinyrange/lirjit/internal/execmem"
)

// patchable returns R0 loaded from a const, or R0+100 once its rewritable
// jump is moved to alt.
func patchable(t *testing.T, a *execmem.Allocator) (*Code, *Jump, *Const, *Label) {
	t.Helper()
	c := newSession(t, HostArch(), Options{Allocator: a})
	if err := c.EmitEnter(0, ArgsOf(ArgW), 1, 0, 0, 0, 0); err != nil {
		t.Fatalf("EmitEnter: %v", err)
	}
	k := c.EmitConst(R(0), 5)
	j := c.EmitJump(JumpAlways | RewritableJump)
	j.SetLabel(c.EmitLabel())
	if err := c.EmitReturn(OpMov, R(0)); err != nil {
		t.Fatalf("EmitReturn: %v", err)
	}
	alt := c.EmitLabel()
	if err := c.EmitOp2(OpAdd, R(0), R(0), Imm(100)); err != nil {
		t.Fatalf("EmitOp2: %v", err)
	}
	if err := c.EmitReturn(OpMov, R(0)); err != nil {
		t.Fatalf("EmitReturn: %v", err)
	}
	return generate(t, c), j, k, alt
}

func TestPatchUnderEachMode(t *testing.T) {
	for _, mode := range []execmem.Mode{execmem.ModeRWX, execmem.ModeDual, execmem.ModeWX} {
		t.Run(mode.String(), func(t *testing.T) {
			if mode == execmem.ModeRWX && runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
				t.Skip("rwx mappings need MAP_JIT on darwin/arm64")
			}
			a := execmem.New(execmem.Options{Mode: mode})
			t.Cleanup(func() {
				if err := a.FreeUnused(); err != nil {
					t.Errorf("FreeUnused: %v", err)
				}
			})
			code, j, k, alt := patchable(t, a)
			if a.Mode() == execmem.ModeDual && code.ExecutableOffset == 0 {
				t.Fatalf("dual mapping with zero executable offset")
			}

			call := func(want uintptr) {
				t.Helper()
				got, err := code.Call()
				if err != nil {
					t.Fatalf("Call: %v", err)
				}
				if got != want {
					t.Fatalf("%s: got %d, want %d", a.Mode(), got, want)
				}
			}
			call(5)
			if err := code.SetConst(k.Addr(), 7); err != nil {
				t.Fatalf("SetConst: %v", err)
			}
			call(7)
			if err := code.SetJumpAddr(j.Addr(), alt.Addr()); err != nil {
				t.Fatalf("SetJumpAddr: %v", err)
			}
			call(107)
			if err := code.SetConst(k.Addr(), -100); err != nil {
				t.Fatalf("SetConst: %v", err)
			}
			call(0)
		})
	}
}
