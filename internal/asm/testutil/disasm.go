// Package testutil cross-checks the encoders against a system
// disassembler. Tests skip when no suitable disassembler is installed.
package testutil

import (
	"bufio"
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
)

// ISA selects the disassembler and the ELF machine of the wrapper object.
type ISA int

const (
	AMD64 ISA = iota
	ARM64
	RISCV64
)

func (isa ISA) machine() elf.Machine {
	switch isa {
	case ARM64:
		return elf.EM_AARCH64
	case RISCV64:
		return elf.EM_RISCV
	}
	return elf.EM_X86_64
}

// command picks a disassembler for isa. GNU objdump only handles the host
// ISA, so cross targets prefer llvm-objdump and then the binutils cross
// build. Aliases are disabled so mnemonics match the encoder names.
func (isa ISA) command() (string, []string) {
	args := []string{"-d", "--no-show-raw-insn"}
	switch isa {
	case ARM64:
		return lookTool("llvm-objdump", "aarch64-linux-gnu-objdump"), args
	case RISCV64:
		tool := lookTool("llvm-objdump", "riscv64-linux-gnu-objdump")
		args = append(args, "-M", "no-aliases")
		if tool == "llvm-objdump" {
			args = append(args, "--mattr=+m,+f,+d,+zbb")
		}
		return tool, args
	}
	return "objdump", append(args, "-M", "att")
}

func lookTool(names ...string) string {
	for _, name := range names {
		if _, err := exec.LookPath(name); err == nil {
			return name
		}
	}
	return names[0]
}

// Line is one decoded instruction.
type Line struct {
	Text       string
	Normalized string
	Mnemonic   string
}

// Disassemble wraps code in a relocatable ELF object and returns the
// instructions the disassembler finds in it.
func Disassemble(t *testing.T, isa ISA, code []byte) []Line {
	t.Helper()
	tool, args := isa.command()
	path, err := exec.LookPath(tool)
	if err != nil {
		t.Skipf("%s not found: %v", tool, err)
	}

	f, err := os.CreateTemp(t.TempDir(), "code-*.o")
	if err != nil {
		t.Fatalf("create object: %v", err)
	}
	if _, err := f.Write(object(isa.machine(), code)); err != nil {
		t.Fatalf("write object: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close object: %v", err)
	}

	out, err := exec.Command(path, append(args, f.Name())...).CombinedOutput()
	if err != nil {
		t.Fatalf("%s: %v\n\n%s", tool, err, out)
	}
	lines := parse(out)
	if len(lines) == 0 {
		t.Fatalf("%s found no instructions:\n%s", tool, out)
	}
	return lines
}

// object builds an ELF64 file holding code as .text.
func object(machine elf.Machine, code []byte) []byte {
	const (
		ehsize = 64
		shsize = 64
	)
	shstrtab := []byte("\x00.text\x00.shstrtab\x00")
	textOff := uint64(ehsize)
	strOff := textOff + uint64(len(code))
	shOff := (strOff + uint64(len(shstrtab)) + 7) &^ 7

	var buf bytes.Buffer
	hdr := elf.Header64{
		Type:      uint16(elf.ET_REL),
		Machine:   uint16(machine),
		Version:   uint32(elf.EV_CURRENT),
		Shoff:     shOff,
		Ehsize:    ehsize,
		Shentsize: shsize,
		Shnum:     3,
		Shstrndx:  2,
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	binary.Write(&buf, binary.LittleEndian, &hdr)
	buf.Write(code)
	buf.Write(shstrtab)
	buf.Write(make([]byte, shOff-uint64(buf.Len())))

	sections := []elf.Section64{
		{},
		{
			Name:      1,
			Type:      uint32(elf.SHT_PROGBITS),
			Flags:     uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
			Off:       textOff,
			Size:      uint64(len(code)),
			Addralign: 4,
		},
		{
			Name:      7,
			Type:      uint32(elf.SHT_STRTAB),
			Off:       strOff,
			Size:      uint64(len(shstrtab)),
			Addralign: 1,
		},
	}
	binary.Write(&buf, binary.LittleEndian, sections)
	return buf.Bytes()
}

// parse keeps the "addr: insn" lines of objdump output.
func parse(out []byte) []Line {
	var lines []Line
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		_, text, ok := strings.Cut(sc.Text(), ":")
		if !ok || !strings.HasPrefix(sc.Text(), " ") {
			continue
		}
		text = strings.TrimSpace(text)
		fields := strings.Fields(text)
		if len(fields) == 0 || strings.HasPrefix(text, "<") {
			continue
		}
		lines = append(lines, Line{
			Text:       text,
			Normalized: strings.Join(fields, " "),
			Mnemonic:   strings.ToLower(fields[0]),
		})
	}
	return lines
}

// Expectation describes one instruction of a Sink.
type Expectation struct {
	Name     string
	Mnemonic string
	Contains []string
}

func (e Expectation) check(l Line) error {
	if e.Mnemonic != "" && l.Mnemonic != e.Mnemonic {
		return fmt.Errorf("mnemonic %s, want %s", l.Mnemonic, e.Mnemonic)
	}
	for _, s := range e.Contains {
		if !strings.Contains(l.Normalized, s) {
			return fmt.Errorf("missing %q", s)
		}
	}
	return nil
}

// Sink collects encodings and what the disassembler should print for each.
type Sink struct {
	t      *testing.T
	isa    ISA
	code   []byte
	expect []Expectation
}

func NewSink(t *testing.T, isa ISA) *Sink { return &Sink{t: t, isa: isa} }

// Add appends an encoding returned with an error.
func (s *Sink) Add(name, mnemonic string, enc []byte, err error, contains ...string) {
	s.t.Helper()
	if err != nil {
		s.t.Fatalf("%s: %v", name, err)
	}
	s.code = append(s.code, enc...)
	s.expect = append(s.expect, Expectation{Name: name, Mnemonic: mnemonic, Contains: contains})
}

func (s *Sink) Raw(name, mnemonic string, enc []byte, contains ...string) {
	s.t.Helper()
	s.Add(name, mnemonic, enc, nil, contains...)
}

// Word appends a fixed-width instruction.
func (s *Sink) Word(name, mnemonic string, w uint32, contains ...string) {
	s.t.Helper()
	s.Add(name, mnemonic, binary.LittleEndian.AppendUint32(nil, w), nil, contains...)
}

func (s *Sink) WordErr(name, mnemonic string, w uint32, err error, contains ...string) {
	s.t.Helper()
	s.Add(name, mnemonic, binary.LittleEndian.AppendUint32(nil, w), err, contains...)
}

// Verify disassembles everything added so far and checks it in order.
// Trailing instructions are ignored.
func (s *Sink) Verify() {
	s.t.Helper()
	lines := Disassemble(s.t, s.isa, s.code)
	if len(lines) < len(s.expect) {
		s.t.Fatalf("disassembler returned %d instructions, want at least %d", len(lines), len(s.expect))
	}
	for i, e := range s.expect {
		if err := e.check(lines[i]); err != nil {
			s.t.Fatalf("%s (instruction %d): %v\n%s", e.Name, i, err, lines[i].Text)
		}
	}
}
