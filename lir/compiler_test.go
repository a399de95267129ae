//go:build linux || darwin

package lir

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

var backends = []Arch{ArchX86_64, ArchARM64, ArchRISCV64}

func newSession(t *testing.T, arch Arch, opts Options) *Compiler {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c, err := NewCompiler(arch, opts)
	if err != nil {
		t.Fatalf("NewCompiler(%s): %v", arch, err)
	}
	t.Cleanup(c.Free)
	return c
}

func generate(t *testing.T, c *Compiler) *Code {
	t.Helper()
	code, err := c.GenerateCode(context.Background())
	if err != nil {
		t.Fatalf("GenerateCode(%s): %v", c.Arch(), err)
	}
	t.Cleanup(func() {
		if err := code.Free(); err != nil {
			t.Errorf("Free: %v", err)
		}
	})
	return code
}

func forEachBackend(t *testing.T, fn func(t *testing.T, arch Arch)) {
	for _, arch := range backends {
		t.Run(arch.String(), func(t *testing.T) { fn(t, arch) })
	}
}

func TestUnsupportedArch(t *testing.T) {
	for _, arch := range []Arch{ArchMIPS32, ArchPPC64, ArchInvalid} {
		if _, err := NewCompiler(arch, Options{}); !errors.Is(err, ErrUnsupported) {
			t.Fatalf("NewCompiler(%s) err=%v, want ErrUnsupported", arch, err)
		}
		if Supported(arch) {
			t.Fatalf("Supported(%s) = true", arch)
		}
	}
	for _, arch := range backends {
		if !Supported(arch) || PlatformName(arch) == "" {
			t.Fatalf("%s not registered", arch)
		}
	}
}

func TestParseArch(t *testing.T) {
	tests := []struct {
		in   string
		want Arch
	}{
		{"amd64", ArchX86_64},
		{"x86_64", ArchX86_64},
		{"aarch64", ArchARM64},
		{"ARM64", ArchARM64},
		{"riscv64", ArchRISCV64},
		{"host", HostArch()},
	}
	for _, tt := range tests {
		got, err := ParseArch(tt.in)
		if err != nil || got != tt.want {
			t.Fatalf("ParseArch(%q) = %s, %v; want %s", tt.in, got, err, tt.want)
		}
	}
	if _, err := ParseArch("vax"); err == nil {
		t.Fatalf("ParseArch(vax) succeeded")
	}
}

func TestErrorLatches(t *testing.T) {
	forEachBackend(t, func(t *testing.T, arch Arch) {
		c := newSession(t, arch, Options{})
		if err := c.EmitEnter(0, ArgsOf(ArgW), 2, 0, 0, 0, 0); err != nil {
			t.Fatalf("EmitEnter: %v", err)
		}
		first := c.EmitOp2(OpAdd, R(5), R(0), R(1))
		if !errors.Is(first, ErrBadArgument) {
			t.Fatalf("out of context register err=%v, want ErrBadArgument", first)
		}
		size := c.GeneratedCodeSize()

		// Valid operations after the failure report the first error and
		// emit nothing.
		if err := c.EmitOp2(OpAdd, R(0), R(0), R(1)); err != first {
			t.Fatalf("later emit err=%v, want %v", err, first)
		}
		if j := c.EmitJump(JumpAlways); j != nil {
			t.Fatalf("EmitJump returned a handle after failure")
		}
		if c.GeneratedCodeSize() != size {
			t.Fatalf("code grew after failure")
		}
		if c.ErrorCode() != ErrBadArgument {
			t.Fatalf("ErrorCode=%d, want %d", c.ErrorCode(), ErrBadArgument)
		}
		c.SetCompilerMemoryError()
		if c.ErrorCode() != ErrBadArgument {
			t.Fatalf("SetCompilerMemoryError replaced the latched error")
		}
		if _, err := c.GenerateCode(context.Background()); err != first {
			t.Fatalf("GenerateCode err=%v, want %v", err, first)
		}
	})
}

func TestCompilerMemoryError(t *testing.T) {
	c := newSession(t, ArchX86_64, Options{})
	c.SetCompilerMemoryError()
	if err := c.EmitOp0(OpNop); !errors.Is(err, ErrAllocFailed) {
		t.Fatalf("err=%v, want ErrAllocFailed", err)
	}
}

func TestMaxCodeSize(t *testing.T) {
	forEachBackend(t, func(t *testing.T, arch Arch) {
		c := newSession(t, arch, Options{MaxCodeSize: 8})
		var err error
		for i := 0; i < 16 && err == nil; i++ {
			err = c.EmitOp0(OpNop)
		}
		if !errors.Is(err, ErrAllocFailed) {
			t.Fatalf("err=%v, want ErrAllocFailed", err)
		}
	})
}

func TestFlagsMustBeRequested(t *testing.T) {
	forEachBackend(t, func(t *testing.T, arch Arch) {
		tests := []struct {
			name string
			op   Op
			jump Cond
			ok   bool
		}{
			{"z for equal", OpAdd | SetZ, Equal, true},
			{"z for not equal", OpAnd | SetZ, NotEqual, true},
			{"z is not carry", OpAdd | SetZ, Carry, false},
			{"requested condition", OpSub | Set(Less), Less, true},
			{"inverse condition", OpSub | Set(Less), GreaterEqual, true},
			{"other condition", OpSub | Set(Less), SigLess, false},
			{"overflow of add", OpAdd | Set(Overflow), NotOverflow, true},
			{"carry of sub", OpSub | Set(Carry), Carry, true},
			{"nothing requested", OpSub, Equal, false},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				c := newSession(t, arch, Options{})
				if err := c.EmitEnter(0, ArgsOf(ArgW), 3, 0, 0, 0, 0); err != nil {
					t.Fatalf("EmitEnter: %v", err)
				}
				if err := c.EmitOp2(tt.op, R(0), R(1), R(2)); err != nil {
					t.Fatalf("EmitOp2(%s): %v", tt.op, err)
				}
				j := c.EmitJump(tt.jump)
				if (j != nil) != tt.ok {
					t.Fatalf("EmitJump(%s) after %s: handle=%v err=%v", tt.jump, tt.op, j != nil, c.Err())
				}
				if !tt.ok && !errors.Is(c.Err(), ErrBadArgument) {
					t.Fatalf("err=%v, want ErrBadArgument", c.Err())
				}
			})
		}
	})
}

func TestFlagsAcrossIntermediateOps(t *testing.T) {
	forEachBackend(t, func(t *testing.T, arch Arch) {
		tests := []struct {
			name string
			emit func(c *Compiler) error
			ok   bool
		}{
			{"mov", func(c *Compiler) error { return c.EmitOp1(OpMov, R(1), Imm(1)) }, true},
			{"mov_u8", func(c *Compiler) error { return c.EmitOp1(OpMovU8, R(1), R(2)) }, true},
			{"store", func(c *Compiler) error { return c.EmitOp1(OpMov, Mem1(SP, 0), R(2)) }, true},
			{"sub", func(c *Compiler) error { return c.EmitOp2(OpSub, R(1), R(1), Imm(1)) }, false},
			{"add", func(c *Compiler) error { return c.EmitOp2(OpAdd, R(1), R(1), R(2)) }, false},
			{"and", func(c *Compiler) error { return c.EmitOp2(OpAnd, R(1), R(1), Imm(3)) }, false},
			{"xor", func(c *Compiler) error { return c.EmitOp2(OpXor, R(1), R(1), R(2)) }, false},
			{"shl", func(c *Compiler) error { return c.EmitOp2(OpShl, R(1), R(1), Imm(2)) }, false},
			{"mul", func(c *Compiler) error { return c.EmitOp2(OpMul, R(1), R(1), R(2)) }, false},
			{"not", func(c *Compiler) error { return c.EmitOp1(OpNot, R(1), R(2)) }, false},
			{"clz", func(c *Compiler) error { return c.EmitOp1(OpClz, R(1), R(2)) }, false},
			{"divmod", func(c *Compiler) error { return c.EmitOp0(OpDivmodUW) }, false},
			{"or into flags", func(c *Compiler) error { return c.EmitOpFlags(OpOr, R(1), Equal) }, false},
			{"new flags", func(c *Compiler) error { return c.EmitOp2(OpAnd|SetZ, R(1), R(1), R(2)) }, true},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				c := newSession(t, arch, Options{})
				if err := c.EmitEnter(0, ArgsOf(ArgW), 3, 0, 0, 0, 16); err != nil {
					t.Fatalf("EmitEnter: %v", err)
				}
				if err := c.EmitOp2(OpSub|SetZ, R(0), R(0), R(0)); err != nil {
					t.Fatalf("EmitOp2: %v", err)
				}
				if err := tt.emit(c); err != nil {
					t.Fatalf("%s: %v", tt.name, err)
				}
				j := c.EmitJump(Equal)
				if (j != nil) != tt.ok {
					t.Fatalf("EmitJump(equal) after %s: handle=%v err=%v", tt.name, j != nil, c.Err())
				}
				if !tt.ok {
					if !errors.Is(c.Err(), ErrBadArgument) {
						t.Fatalf("err=%v, want ErrBadArgument", c.Err())
					}
					return
				}
				j.SetLabel(c.EmitLabel())
				if err := c.EmitReturnVoid(); err != nil {
					t.Fatalf("EmitReturnVoid: %v", err)
				}
				generate(t, c)
			})
		}
	})
}

func TestFlagsRejectedByOperation(t *testing.T) {
	c := newSession(t, ArchARM64, Options{})
	if err := c.EmitEnter(0, ArgsOf(ArgW), 3, 0, 0, 0, 0); err != nil {
		t.Fatalf("EmitEnter: %v", err)
	}
	if err := c.EmitOp2(OpMul|Set(Carry), R(0), R(1), R(2)); !errors.Is(err, ErrBadArgument) {
		t.Fatalf("mul carry err=%v, want ErrBadArgument", err)
	}
}

func TestSkipChecks(t *testing.T) {
	c := newSession(t, ArchX86_64, Options{SkipChecks: true})
	if err := c.EmitEnter(0, ArgsOf(ArgW), 3, 0, 0, 0, 0); err != nil {
		t.Fatalf("EmitEnter: %v", err)
	}
	if err := c.EmitOp2(OpSub, R(0), R(1), R(2)); err != nil {
		t.Fatalf("EmitOp2: %v", err)
	}
	if j := c.EmitJump(Less); j == nil {
		t.Fatalf("EmitJump without checks: %v", c.Err())
	}
	// Operand validity stays on.
	if err := c.EmitOp2(OpAdd, R(0), R(7), R(1)); !errors.Is(err, ErrBadArgument) {
		t.Fatalf("err=%v, want ErrBadArgument", err)
	}
}

func TestLabelsBetweenCodeShareOffset(t *testing.T) {
	c := newSession(t, ArchRISCV64, Options{})
	a := c.EmitLabel()
	b := c.EmitLabel()
	if a != b {
		t.Fatalf("consecutive labels differ")
	}
	if err := c.EmitOp0(OpNop); err != nil {
		t.Fatalf("EmitOp0: %v", err)
	}
	d := c.EmitLabel()
	if d == a || d.ID() != 1 || d.Offset() != 4 {
		t.Fatalf("label after nop: id=%d offset=%d", d.ID(), d.Offset())
	}
	generate(t, c)
	if d.Addr()-a.Addr() != 4 {
		t.Fatalf("label distance %d, want 4", d.Addr()-a.Addr())
	}
}

func TestLabelClearsFlags(t *testing.T) {
	c := newSession(t, ArchX86_64, Options{})
	if err := c.EmitEnter(0, ArgsOf(ArgW), 2, 0, 0, 0, 0); err != nil {
		t.Fatalf("EmitEnter: %v", err)
	}
	if err := c.EmitOp2u(OpSub|SetZ, R(0), R(1)); err != nil {
		t.Fatalf("EmitOp2u: %v", err)
	}
	c.EmitLabel()
	if c.EmitJump(Equal) != nil {
		t.Fatalf("jump on flags across a label accepted")
	}
}

func TestJumpWithoutTarget(t *testing.T) {
	c := newSession(t, ArchARM64, Options{})
	c.EmitJump(JumpAlways)
	if _, err := c.GenerateCode(context.Background()); !errors.Is(err, ErrBadArgument) {
		t.Fatalf("err=%v, want ErrBadArgument", err)
	}
}

func TestClosedAfterGenerate(t *testing.T) {
	forEachBackend(t, func(t *testing.T, arch Arch) {
		c := newSession(t, arch, Options{})
		if err := c.EmitEnter(0, ArgsOf(ArgVoid), 0, 0, 0, 0, 0); err != nil {
			t.Fatalf("EmitEnter: %v", err)
		}
		if err := c.EmitReturnVoid(); err != nil {
			t.Fatalf("EmitReturnVoid: %v", err)
		}
		code := generate(t, c)
		if code.Size != c.GeneratedCodeSize() || code.Entry == 0 {
			t.Fatalf("code size=%d entry=%#x, session size=%d", code.Size, code.Entry, c.GeneratedCodeSize())
		}
		if err := c.EmitOp0(OpNop); !errors.Is(err, ErrCompiled) {
			t.Fatalf("emit after GenerateCode err=%v, want ErrCompiled", err)
		}
	})
}

func TestGenerateHonoursCancel(t *testing.T) {
	c := newSession(t, ArchX86_64, Options{})
	l := c.EmitLabel()
	c.EmitJump(JumpAlways).SetLabel(l)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.GenerateCode(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
	// The session survives cancellation.
	generate(t, c)
}

func TestShortestJumpEncoding(t *testing.T) {
	short := map[Arch]int{ArchX86_64: 2, ArchARM64: 4, ArchRISCV64: 4}
	forEachBackend(t, func(t *testing.T, arch Arch) {
		c := newSession(t, arch, Options{})
		back := c.EmitLabel()
		if err := c.EmitOp0(OpNop); err != nil {
			t.Fatalf("EmitOp0: %v", err)
		}
		fwd := c.EmitJump(JumpAlways)
		bwd := c.EmitJump(JumpAlways)
		fwd.SetLabel(c.EmitLabel())
		bwd.SetLabel(back)
		code := generate(t, c)
		if fwd.Size() != short[arch] || bwd.Size() != short[arch] {
			t.Fatalf("jump sizes %d and %d, want %d", fwd.Size(), bwd.Size(), short[arch])
		}
		if fwd.Addr() >= bwd.Addr() || bwd.Addr() >= code.Entry+uintptr(code.Size) {
			t.Fatalf("jump addresses out of order")
		}
	})
}

func TestRewritableJumpKeepsMaxSize(t *testing.T) {
	forEachBackend(t, func(t *testing.T, arch Arch) {
		c := newSession(t, arch, Options{})
		j := c.EmitJump(JumpAlways | RewritableJump)
		j.SetLabel(c.EmitLabel())
		generate(t, c)
		if !j.Rewritable() || j.Size() != j.max {
			t.Fatalf("rewritable jump size=%d, reserved %d", j.Size(), j.max)
		}
	})
}

// constFunction returns a session that loads init into R0 and returns it.
func constFunction(t *testing.T, arch Arch, init int64) (*Compiler, *Const) {
	c := newSession(t, arch, Options{})
	if err := c.EmitEnter(0, ArgsOf(ArgW), 1, 0, 0, 0, 0); err != nil {
		t.Fatalf("EmitEnter: %v", err)
	}
	k := c.EmitConst(R(0), init)
	if err := c.EmitReturn(OpMov, R(0)); err != nil {
		t.Fatalf("EmitReturn: %v", err)
	}
	return c, k
}

func TestSetConstMatchesFreshCompile(t *testing.T) {
	const v = -0x123456789ABCDEF
	forEachBackend(t, func(t *testing.T, arch Arch) {
		c, k := constFunction(t, arch, 1)
		code := generate(t, c)
		if err := code.SetConst(k.Addr(), v); err != nil {
			t.Fatalf("SetConst: %v", err)
		}
		fresh, _ := constFunction(t, arch, v)
		want := generate(t, fresh)
		if !bytes.Equal(code.Bytes(), want.Bytes()) {
			t.Fatalf("patched code\n%x\nwant\n%x", code.Bytes(), want.Bytes())
		}
	})
}

func jumpFunction(t *testing.T, arch Arch, kind Cond, target uintptr) (*Compiler, *Jump) {
	c := newSession(t, arch, Options{})
	if err := c.EmitEnter(0, ArgsOf(ArgVoid), 2, 0, 0, 0, 0); err != nil {
		t.Fatalf("EmitEnter: %v", err)
	}
	var j *Jump
	if kind == JumpAlways {
		j = c.EmitJump(kind | RewritableJump)
	} else {
		j = c.EmitCmp(kind|RewritableJump, R(0), R(1))
	}
	j.SetTarget(target)
	if err := c.EmitReturnVoid(); err != nil {
		t.Fatalf("EmitReturnVoid: %v", err)
	}
	return c, j
}

func TestSetJumpAddrMatchesFreshCompile(t *testing.T) {
	const from, to = 0x10000, 0x7FFF12345678
	forEachBackend(t, func(t *testing.T, arch Arch) {
		for _, kind := range []Cond{JumpAlways, SigLess} {
			c, j := jumpFunction(t, arch, kind, from)
			code := generate(t, c)
			if err := code.SetJumpAddr(j.Addr(), to); err != nil {
				t.Fatalf("SetJumpAddr: %v", err)
			}
			fresh, _ := jumpFunction(t, arch, kind, to)
			want := generate(t, fresh)
			if !bytes.Equal(code.Bytes(), want.Bytes()) {
				t.Fatalf("%s: patched code\n%x\nwant\n%x", kind, code.Bytes(), want.Bytes())
			}
		}
	})
}

func TestPatchNeedsLiveCode(t *testing.T) {
	c, j := jumpFunction(t, ArchX86_64, JumpAlways, 0x10000)
	code, err := c.GenerateCode(context.Background())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	addr := j.Addr()
	if err := SetJumpAddr(ArchX86_64, addr, 0x20000, code.ExecutableOffset+4096); !errors.Is(err, ErrBadArgument) {
		t.Fatalf("wrong offset err=%v, want ErrBadArgument", err)
	}
	if err := code.Free(); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if err := code.SetJumpAddr(addr, 0x20000); !errors.Is(err, ErrDynCodeMod) {
		t.Fatalf("patch of freed code err=%v, want ErrDynCodeMod", err)
	}
	if err := SetConst(ArchARM64, 0x1000, 1, 0); !errors.Is(err, ErrDynCodeMod) {
		t.Fatalf("patch of foreign memory err=%v, want ErrDynCodeMod", err)
	}
}

func TestPutLabelResolves(t *testing.T) {
	forEachBackend(t, func(t *testing.T, arch Arch) {
		c := newSession(t, arch, Options{})
		if err := c.EmitEnter(0, ArgsOf(ArgP), 1, 0, 0, 0, 0); err != nil {
			t.Fatalf("EmitEnter: %v", err)
		}
		p := c.EmitPutLabel(R(0))
		if err := c.EmitReturn(OpMovP, R(0)); err != nil {
			t.Fatalf("EmitReturn: %v", err)
		}
		l := c.EmitLabel()
		p.SetLabel(l)
		code := generate(t, c)

		// A fresh const with the label's address encodes the same load.
		fresh, _ := constFunction(t, arch, int64(l.Addr()))
		want := generate(t, fresh)
		n := p.Addr() - code.Entry
		got := code.Bytes()[n : n+uintptr(c.spec.constPatchSize)]
		if !bytes.Contains(want.Bytes(), got) {
			t.Fatalf("put_label load %x not found in %x", got, want.Bytes())
		}
	})
}

func TestMemSuppDoesNotLatch(t *testing.T) {
	tests := []struct {
		arch   Arch
		native bool
	}{
		{ArchX86_64, false},
		{ArchARM64, true},
		{ArchRISCV64, false},
	}
	for _, tt := range tests {
		t.Run(tt.arch.String(), func(t *testing.T) {
			c := newSession(t, tt.arch, Options{})
			if err := c.EmitEnter(0, ArgsOf(ArgVoid), 2, 0, 0, 0, 0); err != nil {
				t.Fatalf("EmitEnter: %v", err)
			}
			size := c.GeneratedCodeSize()
			err := c.EmitMem(OpMov, MemSupp|MemPre, R(0), Mem1(R(1), 8))
			if tt.native && err != nil {
				t.Fatalf("native form reported %v", err)
			}
			if !tt.native && !errors.Is(err, ErrUnsupported) {
				t.Fatalf("err=%v, want ErrUnsupported", err)
			}
			if c.Err() != nil || c.GeneratedCodeSize() != size {
				t.Fatalf("support query changed the session: err=%v", c.Err())
			}
			// Emulated or not, the real access is accepted.
			if err := c.EmitMem(OpMov, MemPre, R(0), Mem1(R(1), 8)); err != nil {
				t.Fatalf("EmitMem: %v", err)
			}
		})
	}
}

func TestMemUpdateRejectsOverlap(t *testing.T) {
	c := newSession(t, ArchARM64, Options{})
	if err := c.EmitEnter(0, ArgsOf(ArgVoid), 2, 0, 0, 0, 0); err != nil {
		t.Fatalf("EmitEnter: %v", err)
	}
	if err := c.EmitMem(OpMov, MemPost, R(1), Mem1(R(1), 8)); !errors.Is(err, ErrBadArgument) {
		t.Fatalf("err=%v, want ErrBadArgument", err)
	}
}

func TestCustomInstructionSize(t *testing.T) {
	tests := []struct {
		arch Arch
		good []byte
		bad  []byte
	}{
		{ArchX86_64, []byte{0x90}, make([]byte, 16)},
		{ArchARM64, []byte{0x1F, 0x20, 0x03, 0xD5}, []byte{0x1F, 0x20}},
		{ArchRISCV64, []byte{0x13, 0, 0, 0}, []byte{0x13, 0, 0, 0, 0x13, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.arch.String(), func(t *testing.T) {
			c := newSession(t, tt.arch, Options{})
			if err := c.EmitOpCustom(tt.good); err != nil {
				t.Fatalf("EmitOpCustom(%x): %v", tt.good, err)
			}
			if err := c.EmitOpCustom(tt.bad); !errors.Is(err, ErrBadArgument) {
				t.Fatalf("EmitOpCustom(%x) err=%v, want ErrBadArgument", tt.bad, err)
			}
		})
	}
}

func TestSetCurrentFlags(t *testing.T) {
	forEachBackend(t, func(t *testing.T, arch Arch) {
		c := newSession(t, arch, Options{})
		if err := c.SetCurrentFlags(CurrentFlagsSub | int32(Set(Carry))); err != nil {
			t.Fatalf("SetCurrentFlags: %v", err)
		}
		if c.EmitJump(NotCarry) == nil {
			t.Fatalf("jump on declared flags: %v", c.Err())
		}
		if err := c.SetCurrentFlags(0x4000000); !errors.Is(err, ErrBadArgument) {
			t.Fatalf("unknown bits err=%v, want ErrBadArgument", err)
		}
	})
}

func TestEnterLimits(t *testing.T) {
	forEachBackend(t, func(t *testing.T, arch Arch) {
		tests := []struct {
			name                                   string
			options                                int
			args                                   Args
			scratches, saveds, fscratches, fsaveds int
			local                                  int
		}{
			{"too many registers", 0, ArgsOf(ArgVoid), NumberOfRegisters(arch), 1, 0, 0, 0},
			{"too many saved", 0, ArgsOf(ArgVoid), 0, NumberOfSavedRegisters(arch) + 1, 0, 0, 0},
			{"local too large", 0, ArgsOf(ArgVoid), 0, 0, 0, 0, MaxLocalSize + 1},
			{"argument beyond saveds", 0, ArgsOf(ArgVoid, ArgW, ArgW), 0, 1, 0, 0, 0},
			{"float argument without register", 0, ArgsOf(ArgVoid, ArgF64), 0, 0, 0, 0, 0},
			{"keep more than saved", EnterKeepS0S1, ArgsOf(ArgVoid), 0, 1, 0, 0, 0},
			{"argument after void", 0, ArgsOf(ArgVoid, ArgVoid, ArgW), 0, 2, 0, 0, 0},
		}
		for _, tt := range tests {
			c := newSession(t, arch, Options{})
			err := c.EmitEnter(tt.options, tt.args, tt.scratches, tt.saveds, tt.fscratches, tt.fsaveds, tt.local)
			if !errors.Is(err, ErrBadArgument) {
				t.Fatalf("%s: err=%v, want ErrBadArgument", tt.name, err)
			}
		}
	})
}

func TestCmpInfo(t *testing.T) {
	forEachBackend(t, func(t *testing.T, arch Arch) {
		c := newSession(t, arch, Options{})
		for cond := FEqual; cond <= OrderedLessEqual; cond++ {
			if !c.CmpInfo(cond) {
				t.Fatalf("CmpInfo(%s) = false", cond)
			}
		}
	})
}

func TestFeatures(t *testing.T) {
	forEachBackend(t, func(t *testing.T, arch Arch) {
		c := newSession(t, arch, Options{})
		if got := c.CPUFeature(FeatureHasFPU); got != FeatureNative {
			t.Fatalf("FPU=%s, want native", got)
		}
		for _, f := range Features() {
			if s := c.CPUFeature(f).String(); s == "" {
				t.Fatalf("feature %s has no status name", f)
			}
		}
	})
}

func TestRegisterIndex(t *testing.T) {
	c := newSession(t, ArchRISCV64, Options{})
	if got := c.RegisterIndex(R(0)); got != 10 {
		t.Fatalf("R0 index=%d, want a0 (10)", got)
	}
	if got := c.RegisterIndex(S(0)); got != 8 {
		t.Fatalf("S0 index=%d, want s0 (8)", got)
	}
	if got := c.FloatRegisterIndex(FR(0)); got != 10 {
		t.Fatalf("FR0 index=%d, want fa0 (10)", got)
	}
}

func TestVerboseListing(t *testing.T) {
	var buf bytes.Buffer
	c := newSession(t, ArchX86_64, Options{Verbose: &buf})
	if err := c.EmitEnter(0, ArgsOf(ArgW, ArgW, ArgW), 1, 2, 0, 0, 0); err != nil {
		t.Fatalf("EmitEnter: %v", err)
	}
	if err := c.EmitOp2(OpAdd|SetZ, R(0), S(0), Imm(5)); err != nil {
		t.Fatalf("EmitOp2: %v", err)
	}
	l := c.EmitLabel()
	c.EmitCmp(SigLess, S(0), Imm(0)).SetLabel(l)
	if err := c.EmitReturn(OpMov, R(0)); err != nil {
		t.Fatalf("EmitReturn: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"enter options=none args=w(w,w) scratches=1 saveds=2",
		"label_0:",
		"j0 -> label_0",
		"return.mov r0",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("listing lacks %q:\n%s", want, out)
		}
	}
}

func TestArgsRoundTrip(t *testing.T) {
	for _, a := range []Args{
		ArgsOf(ArgVoid),
		ArgsOf(ArgW, ArgW, ArgP),
		ArgsOf(ArgF64, ArgF64, ArgF32, Arg32|ArgScratch),
		ArgsOf(Arg32, ArgW, ArgW|ArgScratch, ArgP, ArgF64),
	} {
		got, err := ParseArgs(a.String())
		if err != nil {
			t.Fatalf("ParseArgs(%q): %v", a, err)
		}
		if got != a {
			t.Fatalf("ParseArgs(%q) = %s", a, got)
		}
	}
	for _, bad := range []string{"w", "w(x)", "w(w,w,w,w,w)", "q()"} {
		if _, err := ParseArgs(bad); err == nil {
			t.Fatalf("ParseArgs(%q) succeeded", bad)
		}
	}
}

func TestEnterOptionsRoundTrip(t *testing.T) {
	for _, o := range []int{0, EnterKeepS0, EnterKeepS0S1, EnterKeepS0 | EnterCdecl, EnterCdecl} {
		got, err := ParseEnterOptions(EnterOptionsString(o))
		if err != nil || got != o {
			t.Fatalf("round trip of %#x = %#x, %v", o, got, err)
		}
	}
}

func TestConditionInversion(t *testing.T) {
	for cond := Equal; cond <= OrderedLessEqual; cond++ {
		inv := cond.Invert()
		if inv == cond || inv.Invert() != cond {
			t.Fatalf("%s inverts to %s", cond, inv)
		}
		if cond.isInt() != inv.isInt() {
			t.Fatalf("%s and %s are of different kinds", cond, inv)
		}
		if name := cond.String(); name == "" || strings.HasPrefix(name, "cond(") {
			t.Fatalf("condition %d has no name", int(cond))
		} else if got, ok := LookupCond(name); !ok || got != cond {
			t.Fatalf("LookupCond(%q) = %s", name, got)
		}
	}
}

func TestOpNamesRoundTrip(t *testing.T) {
	for _, op := range []Op{OpMov, OpAdd, OpSubc, OpClz, OpDivmodSW, OpMovF64, OpCmpF64, OpPrefetchL1} {
		got, ok := LookupOp(op.Name())
		if !ok || got != op {
			t.Fatalf("LookupOp(%q) = %s, %v", op.Name(), got, ok)
		}
	}
}

func TestErrorCodes(t *testing.T) {
	wrapped := errorf(ErrDynCodeMod, "x")
	if codeOf(wrapped) != ErrDynCodeMod || !errors.Is(wrapped, ErrDynCodeMod) {
		t.Fatalf("codeOf lost the status")
	}
	if codeOf(nil) != 0 {
		t.Fatalf("codeOf(nil) != 0")
	}
	if int(ErrCompiled) != 1 || int(ErrDynCodeMod) != 6 {
		t.Fatalf("status codes moved")
	}
}
