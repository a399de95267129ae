//go:build linux || darwin

package programs

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/tinyrange/lirjit/lir"
)

func compile(t *testing.T, arch lir.Arch, p *Program) (*lir.Code, *Handles) {
	t.Helper()
	c, err := lir.NewCompiler(arch, lir.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		t.Fatalf("NewCompiler(%s): %v", arch, err)
	}
	defer c.Free()
	h, err := p.Build(c)
	if err != nil {
		t.Fatalf("%s on %s: %v", p.Name, arch, err)
	}
	code, err := c.GenerateCode(context.Background())
	if err != nil {
		t.Fatalf("GenerateCode(%s, %s): %v", p.Name, arch, err)
	}
	t.Cleanup(func() {
		if err := code.Free(); err != nil {
			t.Errorf("Free: %v", err)
		}
	})
	return code, h
}

func TestProgramsBuildOnEveryBackend(t *testing.T) {
	for _, arch := range []lir.Arch{lir.ArchX86_64, lir.ArchARM64, lir.ArchRISCV64} {
		for _, p := range All() {
			code, _ := compile(t, arch, p)
			if code.Size == 0 {
				t.Fatalf("%s on %s produced no code", p.Name, arch)
			}
		}
	}
}

func TestLookup(t *testing.T) {
	if _, err := Lookup("sum"); err != nil {
		t.Fatalf("Lookup(sum): %v", err)
	}
	if _, err := Lookup("nope"); err == nil {
		t.Fatalf("Lookup(nope) succeeded")
	}
	names := All()
	for i := 1; i < len(names); i++ {
		if names[i-1].Name >= names[i].Name {
			t.Fatalf("All is not sorted: %s before %s", names[i-1].Name, names[i].Name)
		}
	}
}

func TestForeignCodeDoesNotRun(t *testing.T) {
	foreign := lir.ArchRISCV64
	if lir.HostArch() == foreign {
		foreign = lir.ArchX86_64
	}
	p, _ := Lookup("sum")
	code, _ := compile(t, foreign, p)
	if _, err := Call(code, p.Samples[0]); err == nil {
		t.Fatalf("calling %s code on %s succeeded", foreign, lir.HostArch())
	}
}
