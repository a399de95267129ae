package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/docker/go-units"
	"github.com/schollz/progressbar/v3"

	"github.com/tinyrange/lirjit/internal/execmem"
	"github.com/tinyrange/lirjit/internal/lirtext"
	"github.com/tinyrange/lirjit/internal/programs"
	"github.com/tinyrange/lirjit/lir"
	"github.com/tinyrange/lirjit/stack"
)

func runInfo(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	archFlag := fs.String("arch", "", "Target architecture (default: config, then host)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	arch, err := e.cfg.target(*archFlag)
	if err != nil {
		return err
	}

	e.out.header("Backends")
	rows := [][]string{{"arch", "platform", "regs", "saved", "fregs", "fsaved"}}
	for a := lir.ArchX86_32; a <= lir.ArchS390x; a++ {
		name := a.String()
		if a == lir.HostArch() {
			name += " (host)"
		}
		if !lir.Supported(a) {
			rows = append(rows, []string{name, "-", "", "", "", ""})
			continue
		}
		rows = append(rows, []string{name, lir.PlatformName(a),
			strconv.Itoa(lir.NumberOfRegisters(a)), strconv.Itoa(lir.NumberOfSavedRegisters(a)),
			strconv.Itoa(lir.NumberOfFloatRegisters(a)), strconv.Itoa(lir.NumberOfSavedFloatRegisters(a))})
	}
	e.out.table(rows)

	c, err := lir.NewCompiler(arch, e.cfg.options(e.log, nil, nil))
	if err != nil {
		return err
	}
	defer c.Free()
	fmt.Fprintln(e.out.w)
	e.out.header("Features of " + arch.String())
	rows = [][]string{{"feature", "status"}}
	for _, f := range lir.Features() {
		rows = append(rows, []string{f.String(), c.CPUFeature(f).String()})
	}
	e.out.table(rows)

	alloc, err := e.cfg.allocator(e.log)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.out.w)
	e.out.header("Executable memory")
	fmt.Fprintf(e.out.w, "mode %s, chunk %s, %s\n", alloc.Mode(), e.cfg.ExecChunk, alloc.Stats())
	return nil
}

// compile builds p for arch. The caller frees the code.
func compile(ctx context.Context, e *env, alloc *execmem.Allocator, arch lir.Arch, p *programs.Program, listing io.Writer) (*lir.Code, *programs.Handles, error) {
	c, err := lir.NewCompiler(arch, e.cfg.options(e.log, alloc, listing))
	if err != nil {
		return nil, nil, err
	}
	defer c.Free()
	h, err := p.Build(c)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", p.Name, err)
	}
	code, err := c.GenerateCode(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", p.Name, err)
	}
	return code, h, nil
}

func runDemo(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("demo", flag.ContinueOnError)
	archFlag := fs.String("arch", "", "Target architecture (default: config, then host)")
	showListing := fs.Bool("listing", false, "Print the LIR listing")
	dump := fs.Bool("dump", false, "Hex dump the generated code")
	if err := fs.Parse(args); err != nil {
		return err
	}
	arch, err := e.cfg.target(*archFlag)
	if err != nil {
		return err
	}
	alloc, err := e.cfg.allocator(e.log)
	if err != nil {
		return err
	}

	progs := programs.All()
	if fs.NArg() > 0 {
		progs = progs[:0]
		for _, name := range fs.Args() {
			p, err := programs.Lookup(name)
			if err != nil {
				return err
			}
			progs = append(progs, p)
		}
	}

	failed := 0
	for _, p := range progs {
		var listing bytes.Buffer
		var lw io.Writer
		if *showListing {
			lw = &listing
		}
		code, h, err := compile(ctx, e, alloc, arch, p, lw)
		if err != nil {
			return err
		}
		e.out.header(fmt.Sprintf("%s on %s: %s, %s", p.Name, arch, p.Summary, units.BytesSize(float64(code.Size))))
		if *showListing {
			io.Copy(e.out.w, &listing)
		}
		if *dump {
			e.out.hexdump(code.Bytes(), code.Entry)
		}
		if arch == lir.HostArch() {
			failed += e.check(p, code, h)
		}
		fmt.Fprintln(e.out.w)
		if err := code.Free(); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d checks failed", failed)
	}
	return nil
}

// check runs the samples of p, plus the patch or stack exercise the
// program is built for, and returns the number of failures.
func (e *env) check(p *programs.Program, code *lir.Code, h *programs.Handles) int {
	var rows [][]string
	failed := 0
	add := func(what string, got, want uintptr, err error) {
		switch {
		case errors.Is(err, lir.ErrUnsupported):
			rows = append(rows, []string{what, "skipped", err.Error()})
			return
		case err != nil:
			rows = append(rows, []string{what, e.out.status(false), err.Error()})
		case got != want:
			rows = append(rows, []string{what, e.out.status(false), fmt.Sprintf("got %d, want %d", int64(got), int64(want))})
		default:
			rows = append(rows, []string{what, e.out.status(true), fmt.Sprintf("%d", int64(got))})
			return
		}
		failed++
	}

	for _, s := range p.Samples {
		got, err := programs.Call(code, s)
		what := fmt.Sprintf("%v", signed(s.Args))
		if s.Floats != nil {
			what = fmt.Sprintf("%v", s.Floats)
		}
		add(what, got, s.Want, err)
	}
	switch {
	case h.Jump != nil && h.Alt != nil:
		err := code.SetJumpAddr(h.Jump.Addr(), h.Alt.Addr())
		got := uintptr(0)
		if err == nil {
			got, err = code.Call()
		}
		add("after set_jump_addr", got, 2, err)
	case h.Const != nil:
		err := code.SetConst(h.Const.Addr(), 0xDEADBEEF)
		got := uintptr(0)
		if err == nil {
			got, err = code.Call()
		}
		add("after set_const", got, 0xDEADBEEF, err)
	case p.Name == "fill":
		s, err := stack.Allocate(4096, int(e.cfg.StackMax))
		if err != nil {
			add("stack", 0, 0, err)
			break
		}
		defer s.Free()
		top, err := code.Call(s.Top, 4)
		add("top after 4 pushes", s.Top-top, 32, err)
	}
	e.out.table(rows)
	return failed
}

func signed(ws []uintptr) []int64 {
	out := make([]int64, len(ws))
	for i, w := range ws {
		out[i] = int64(w)
	}
	return out
}

func readSource(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func runAsm(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("asm", flag.ContinueOnError)
	archFlag := fs.String("arch", "", "Target architecture (default: config, then host)")
	out := fs.String("o", "", "Write the raw machine code to this file instead of dumping it")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("asm takes one listing file (or - for stdin)")
	}
	arch, err := e.cfg.target(*archFlag)
	if err != nil {
		return err
	}
	src, err := readSource(fs.Arg(0))
	if err != nil {
		return err
	}
	alloc, err := e.cfg.allocator(e.log)
	if err != nil {
		return err
	}
	code, sess, err := lirtext.Assemble(ctx, arch, e.cfg.options(e.log, alloc, nil), src)
	if err != nil {
		return err
	}
	defer code.Free()

	if *out != "" {
		if err := os.WriteFile(*out, code.Bytes(), 0o644); err != nil {
			return err
		}
		e.log.Info("wrote code", "path", *out, "arch", arch.String(), "size", units.BytesSize(float64(code.Size)))
		return nil
	}
	e.out.header(fmt.Sprintf("%s: %s, %d labels, %d jumps", fs.Arg(0), units.BytesSize(float64(code.Size)),
		len(sess.Labels), len(sess.Jumps)))
	e.out.hexdump(code.Bytes(), code.Entry)
	return nil
}

func parseWord(s string) (uintptr, error) {
	if v, err := strconv.ParseInt(s, 0, 64); err == nil {
		return uintptr(v), nil
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("argument %q is not a word", s)
	}
	return uintptr(v), nil
}

func runRun(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("run takes a listing file and word arguments")
	}
	src, err := readSource(fs.Arg(0))
	if err != nil {
		return err
	}
	var words []uintptr
	for _, a := range fs.Args()[1:] {
		w, err := parseWord(a)
		if err != nil {
			return err
		}
		words = append(words, w)
	}
	alloc, err := e.cfg.allocator(e.log)
	if err != nil {
		return err
	}
	code, _, err := lirtext.Assemble(ctx, lir.HostArch(), e.cfg.options(e.log, alloc, nil), src)
	if err != nil {
		return err
	}
	defer code.Free()
	r, err := code.Call(words...)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out.w, "%d (%#x)\n", int64(r), uint64(r))
	return nil
}

func runBench(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("bench", flag.ContinueOnError)
	archFlag := fs.String("arch", "", "Target architecture (default: config, then host)")
	n := fs.Int("n", 1000, "Number of compilations")
	if err := fs.Parse(args); err != nil {
		return err
	}
	name := "loop"
	if fs.NArg() > 0 {
		name = fs.Arg(0)
	}
	p, err := programs.Lookup(name)
	if err != nil {
		return err
	}
	arch, err := e.cfg.target(*archFlag)
	if err != nil {
		return err
	}
	alloc, err := e.cfg.allocator(e.log)
	if err != nil {
		return err
	}

	pb := progressbar.NewOptions64(int64(*n),
		progressbar.OptionSetDescription(fmt.Sprintf("%s/%s", p.Name, arch)),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetVisibility(e.out.styled),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	defer pb.Close()

	var size int
	start := time.Now()
	for i := 0; i < *n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		code, _, err := compile(ctx, e, alloc, arch, p, nil)
		if err != nil {
			return err
		}
		size = code.Size
		if err := code.Free(); err != nil {
			return err
		}
		pb.Add(1)
	}
	elapsed := time.Since(start)
	pb.Finish()

	if err := alloc.FreeUnused(); err != nil {
		e.log.Warn("release executable memory", "err", err)
	}
	per := elapsed / time.Duration(max(*n, 1))
	fmt.Fprintf(e.out.w, "%s on %s: %d compilations in %s, %s each, %s of code\n",
		p.Name, arch, *n, elapsed.Round(time.Millisecond), per, units.BytesSize(float64(size)))
	return nil
}
