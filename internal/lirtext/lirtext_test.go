//go:build linux || darwin

package lirtext

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/tinyrange/lirjit/lir"
)

var archs = []lir.Arch{lir.ArchX86_64, lir.ArchARM64, lir.ArchRISCV64}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// sample records a function touching most statement kinds.
func sample(c *lir.Compiler) error {
	if err := c.EmitEnter(0, lir.ArgsOf(lir.ArgW, lir.ArgP, lir.ArgW), 3, 2, 1, 0, 16); err != nil {
		return err
	}
	if err := c.EmitOp2(lir.OpAdd|lir.SetZ, lir.R(0), lir.S(0), lir.Imm(5)); err != nil {
		return err
	}
	if err := c.EmitCmov(lir.Equal, lir.R(1), lir.Imm(3)); err != nil {
		return err
	}
	loop := c.EmitLabel()
	if err := c.EmitOp2(lir.OpSub|lir.Set(lir.SigLess), lir.S(1), lir.S(1), lir.Imm(1)); err != nil {
		return err
	}
	if err := c.EmitOpFlags(lir.OpMov, lir.R(2), lir.SigLess); err != nil {
		return err
	}
	back := c.EmitCmp(lir.SigGreater|lir.Cond32, lir.S(1), lir.Imm(0))
	if back == nil {
		return c.Err()
	}
	back.SetLabel(loop)
	if err := c.EmitOp1(lir.OpMov, lir.Mem1(lir.SP, 8), lir.R(0)); err != nil {
		return err
	}
	if err := c.EmitOp1(lir.OpMovU8, lir.R(1), lir.Mem2(lir.S(0), lir.R(0), 2)); err != nil {
		return err
	}
	if c.EmitConst(lir.R(1), -42) == nil {
		return c.Err()
	}
	if err := c.EmitFOp1(lir.OpConvF64FromSW, lir.FR(0), lir.R(0)); err != nil {
		return err
	}
	if err := c.EmitFOp2(lir.OpAddF64, lir.FR(0), lir.FR(0), lir.FR(0)); err != nil {
		return err
	}
	skip := c.EmitFCmp(lir.FLess, lir.FR(0), lir.FR(0))
	if skip == nil {
		return c.Err()
	}
	if err := c.EmitOp0(lir.OpDivmodSW); err != nil {
		return err
	}
	skip.SetLabel(c.EmitLabel())
	return c.EmitReturn(lir.OpMov, lir.R(0))
}

func TestReplayReproducesListingAndCode(t *testing.T) {
	for _, arch := range archs {
		t.Run(arch.String(), func(t *testing.T) {
			var first bytes.Buffer
			c, err := lir.NewCompiler(arch, lir.Options{Logger: quiet(), Verbose: &first})
			if err != nil {
				t.Fatalf("NewCompiler: %v", err)
			}
			defer c.Free()
			if err := sample(c); err != nil {
				t.Fatalf("sample: %v", err)
			}
			want, err := c.GenerateCode(context.Background())
			if err != nil {
				t.Fatalf("GenerateCode: %v", err)
			}
			defer want.Free()

			var second bytes.Buffer
			got, sess, err := Assemble(context.Background(), arch,
				lir.Options{Logger: quiet(), Verbose: &second}, first.Bytes())
			if err != nil {
				t.Fatalf("Assemble: %v\n%s", err, first.String())
			}
			defer got.Free()

			if first.String() != second.String() {
				t.Fatalf("listing changed on replay:\n%s\n---\n%s", first.String(), second.String())
			}
			if !bytes.Equal(want.Bytes(), got.Bytes()) {
				t.Fatalf("replayed code differs (%d vs %d bytes)", want.Size, got.Size)
			}
			if len(sess.Jumps) != 2 || len(sess.Consts) != 1 || len(sess.Labels) != 2 {
				t.Fatalf("session has %d jumps, %d consts, %d labels", len(sess.Jumps), len(sess.Consts), len(sess.Labels))
			}
		})
	}
}

func TestReplayMemoryAccess(t *testing.T) {
	record := func(c *lir.Compiler) error {
		c.EmitEnter(0, lir.ArgsOf(lir.ArgW, lir.ArgP), 2, 1, 1, 0, 0)
		c.EmitMem(lir.OpMov, lir.MemStore|lir.MemPost, lir.R(0), lir.Mem1(lir.S(0), 8))
		c.EmitMem(lir.OpMovU8, 0, lir.R(1), lir.Mem1(lir.S(0), 0))
		c.EmitMem(lir.OpMov32, lir.MemPre, lir.R(1), lir.Mem1(lir.S(0), -4))
		c.EmitFMem(lir.OpMovF64, lir.MemStore, lir.FR(0), lir.Mem2(lir.S(0), lir.R(1), 3))
		return c.EmitReturn(lir.OpMov, lir.R(1))
	}
	for _, arch := range archs {
		var listing bytes.Buffer
		c, err := lir.NewCompiler(arch, lir.Options{Logger: quiet(), Verbose: &listing})
		if err != nil {
			t.Fatalf("NewCompiler: %v", err)
		}
		if err := record(c); err != nil {
			t.Fatalf("%s: record: %v", arch, err)
		}
		want, err := c.GenerateCode(context.Background())
		c.Free()
		if err != nil {
			t.Fatalf("%s: GenerateCode: %v", arch, err)
		}
		if n := strings.Count(listing.String(), "mem."); n != 4 {
			t.Fatalf("%s: %d memory statements in\n%s", arch, n, listing.String())
		}

		got, _, err := Assemble(context.Background(), arch, lir.Options{Logger: quiet()}, listing.Bytes())
		if err != nil {
			t.Fatalf("%s: Assemble: %v\n%s", arch, err, listing.String())
		}
		if !bytes.Equal(want.Bytes(), got.Bytes()) {
			t.Fatalf("%s: replayed memory accesses differ", arch)
		}
		want.Free()
		got.Free()
	}

	prog, err := Parse([]byte("  mem.mov.store.post r0, [s0 + 8]\n  fmem.mov_f64.load fr0, [s0]\n"))
	if err != nil || len(prog.Stmts) != 2 {
		t.Fatalf("Parse: %v", err)
	}
}

func TestPutLabelAndAbsoluteTarget(t *testing.T) {
	src := `
; address of the exit label
  enter options=none args=w() scratches=2 saveds=0 fscratches=0 fsaveds=0 local_size=0
  put_label p0, r0
  jump.rewritable j0
  j0 -> 0x1000
label_0:
  p0 -> label_0
  return.mov r0
`
	for _, arch := range archs {
		code, sess, err := Assemble(context.Background(), arch, lir.Options{Logger: quiet()}, []byte(src))
		if err != nil {
			t.Fatalf("%s: Assemble: %v", arch, err)
		}
		p, l := sess.PutLabels[0], sess.Labels[0]
		if p == nil || l == nil || l.Addr() == 0 {
			t.Fatalf("%s: session %+v", arch, sess)
		}
		if !sess.Jumps[0].Rewritable() {
			t.Fatalf("%s: jump lost its rewritable flag", arch)
		}
		if err := code.Free(); err != nil {
			t.Fatalf("%s: Free: %v", arch, err)
		}
	}
}

func TestParseErrors(t *testing.T) {
	for _, tt := range []struct {
		src  string
		line int
	}{
		{"frob r0", 1},
		{"\n\n  add r0, r1, r2, r3", 3},
		{"add r0, r1, [r2 - r3]", 1},
		{"mov r0, #abc", 1},
		{"jump.sometimes j0", 1},
		{"enter options=none args=w() scratches=1", 1},
		{"label_x:", 1},
		{"mem.mov.sideways r0, [r1]", 1},
		{"custom zz", 1},
		{"fast_return r0, r1", 1},
	} {
		_, err := Parse([]byte(tt.src))
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("Parse(%q) err=%v, want ParseError", tt.src, err)
		}
		if pe.Line != tt.line {
			t.Fatalf("Parse(%q) line=%d, want %d", tt.src, pe.Line, tt.line)
		}
	}
}

func TestReplayReportsLine(t *testing.T) {
	src := "  enter options=none args=void() scratches=1 saveds=0 fscratches=0 fsaveds=0 local_size=0\n" +
		"  jump j0\n" +
		"  j0 -> label_7\n"
	prog, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	c, err := lir.NewCompiler(lir.ArchARM64, lir.Options{Logger: quiet()})
	if err != nil {
		t.Fatalf("NewCompiler: %v", err)
	}
	defer c.Free()
	if _, err := prog.Replay(c); err == nil || !strings.HasPrefix(err.Error(), "line 3:") {
		t.Fatalf("Replay err=%v, want line 3", err)
	}

	// Compiler errors keep their code.
	prog, err = Parse([]byte("  add r0, r1, r2\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	c2, err := lir.NewCompiler(lir.ArchARM64, lir.Options{Logger: quiet()})
	if err != nil {
		t.Fatalf("NewCompiler: %v", err)
	}
	defer c2.Free()
	if _, err := prog.Replay(c2); !errors.Is(err, lir.ErrBadArgument) {
		t.Fatalf("op before enter: %v, want ErrBadArgument", err)
	}
}

func TestOperandRoundTrip(t *testing.T) {
	for _, o := range []lir.Operand{
		lir.Imm(0), lir.Imm(-5), lir.Imm(1 << 40),
		lir.R(0), lir.S(3), lir.FR(2), lir.FS(0), lir.SP,
		lir.Mem0(0x1000),
		lir.Mem1(lir.R(1), 0), lir.Mem1(lir.S(0), 16), lir.Mem1(lir.SP, -8),
		lir.Mem2(lir.R(0), lir.R(1), 0), lir.Mem2(lir.S(1), lir.R(2), 3),
	} {
		got, err := ParseOperand(o.String())
		if err != nil {
			t.Fatalf("ParseOperand(%q): %v", o.String(), err)
		}
		if got != o {
			t.Fatalf("ParseOperand(%q) = %s", o.String(), got)
		}
	}
}

func TestCondRoundTrip(t *testing.T) {
	for c := lir.Equal; c <= lir.CallCdecl; c++ {
		for _, flags := range []lir.Cond{0, lir.Cond32, lir.RewritableJump, lir.RewritableJump | lir.CallReturn} {
			want := c | flags
			got, err := ParseCond(want.String())
			if err != nil || got != want {
				t.Fatalf("ParseCond(%q) = %v, %v", want.String(), got, err)
			}
		}
	}
}
