package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"golang.org/x/term"
)

// printer writes CLI output, styled only when stdout is a terminal.
type printer struct {
	w      io.Writer
	styled bool
	width  int
}

func newPrinter() *printer {
	p := &printer{w: os.Stdout, width: 80}
	fd := int(os.Stdout.Fd())
	if term.IsTerminal(fd) {
		p.styled = true
		if w, _, err := term.GetSize(fd); err == nil && w > 0 {
			p.width = w
		}
	}
	return p
}

func (p *printer) style(s ansi.Style, text string) string {
	if !p.styled {
		return text
	}
	return s.Styled(text)
}

func (p *printer) header(text string) {
	fmt.Fprintln(p.w, p.style(ansi.Style{}.Bold().Underline(true), text))
}

func (p *printer) status(ok bool) string {
	if ok {
		return p.style(ansi.Style{}.ForegroundColor(ansi.Green), "ok")
	}
	return p.style(ansi.Style{}.Bold().ForegroundColor(ansi.Red), "FAIL")
}

// table prints rows with columns padded to their widest cell. Widths
// ignore escape sequences.
func (p *printer) table(rows [][]string) {
	var widths []int
	for _, r := range rows {
		for i, cell := range r {
			if i >= len(widths) {
				widths = append(widths, 0)
			}
			widths[i] = max(widths[i], ansi.StringWidth(cell))
		}
	}
	for _, r := range rows {
		var sb strings.Builder
		for i, cell := range r {
			sb.WriteString(cell)
			if i < len(r)-1 {
				sb.WriteString(strings.Repeat(" ", widths[i]-ansi.StringWidth(cell)+2))
			}
		}
		fmt.Fprintln(p.w, ansi.Truncate(sb.String(), p.width, "…"))
	}
}

// hexdump prints code with its offsets, as many bytes per line as fit.
func (p *printer) hexdump(code []byte, base uintptr) {
	perLine := 16
	// "0000000000000000  " plus three columns per byte
	for perLine > 4 && 18+3*perLine > p.width {
		perLine /= 2
	}
	for off := 0; off < len(code); off += perLine {
		end := min(off+perLine, len(code))
		addr := fmt.Sprintf("%016x", uint64(base)+uint64(off))
		var sb strings.Builder
		for _, b := range code[off:end] {
			fmt.Fprintf(&sb, " %02x", b)
		}
		fmt.Fprintf(p.w, "%s %s\n", p.style(ansi.Style{}.Faint(), addr), sb.String())
	}
}
