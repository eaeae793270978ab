// Package ui renders install progress for humans and asks the reinstall
// question.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cfschilham/kryer/internal/binary"
	"github.com/fatih/color"
	"golang.org/x/term"
)

// Printer writes progress lines to out and warnings and errors to errOut.
// It implements binary.Reporter.
type Printer struct {
	out    io.Writer
	errOut io.Writer

	colorEnabled bool
	step         *color.Color
	success      *color.Color
	warn         *color.Color
	error        *color.Color
	faint        *color.Color
}

// NewPrinter constructs a Printer for stdout and stderr with colour enabled
// when stdout is a terminal and NO_COLOR is unset.
func NewPrinter() *Printer {
	enabled := supportsColor(os.Stdout) && os.Getenv("NO_COLOR") == ""
	return NewPrinterTo(os.Stdout, os.Stderr, enabled)
}

// NewPrinterTo constructs a Printer over arbitrary writers.
func NewPrinterTo(out, errOut io.Writer, colorEnabled bool) *Printer {
	p := &Printer{
		out:          out,
		errOut:       errOut,
		colorEnabled: colorEnabled,
		step:         color.New(color.FgBlue, color.Bold),
		success:      color.New(color.FgGreen, color.Bold),
		warn:         color.New(color.FgYellow, color.Bold),
		error:        color.New(color.FgRed, color.Bold),
		faint:        color.New(color.Faint),
	}

	for _, c := range []*color.Color{p.step, p.success, p.warn, p.error, p.faint} {
		if colorEnabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// Step prints one line per state transition. Idle and the clean-up step are
// silent; terminal states are reported by Summary and Error instead.
func (p *Printer) Step(state binary.State, detail string) {
	switch state {
	case binary.StateIdle, binary.StateCleaningUp, binary.StateAwaitingConfirmation:
		return
	}
	if state.Terminal() {
		return
	}

	label := strings.ToUpper(state.String()[:1]) + state.String()[1:]
	if detail == "" {
		fmt.Fprintf(p.out, "%s %s\n", p.step.Sprint("==>"), label)
		return
	}
	fmt.Fprintf(p.out, "%s %s %s\n", p.step.Sprint("==>"), label, p.faint.Sprint(detail))
}

// Warn prints a warning to errOut.
func (p *Printer) Warn(msg string) {
	fmt.Fprintf(p.errOut, "%s %s\n", p.warn.Sprint("warning:"), msg)
}

// Error prints a failure to errOut. Multi-line messages are indented under
// the first line.
func (p *Printer) Error(err error) {
	lines := strings.Split(err.Error(), "\n")
	fmt.Fprintf(p.errOut, "%s %s\n", p.error.Sprint("error:"), lines[0])
	for _, l := range lines[1:] {
		fmt.Fprintf(p.errOut, "       %s\n", l)
	}
}

// Summary reports the outcome of a run that did not fail.
func (p *Printer) Summary(res *binary.InstallResult) {
	if res == nil {
		return
	}
	if res.Declined {
		fmt.Fprintf(p.out, "Keeping the existing installation at %s.\n", res.BinaryPath)
		return
	}

	verb := "Installed"
	if res.Replaced {
		verb = "Reinstalled"
	}
	fmt.Fprintf(p.out, "%s %s %s to %s\n", p.success.Sprint("==>"), verb, res.Tag, res.BinaryPath)

	methods := make([]string, 0, len(res.Verification))
	for _, v := range res.Verification {
		if v.Success && v.Method != binary.VerificationNone {
			methods = append(methods, v.Method.String())
		}
	}
	if len(methods) > 0 {
		fmt.Fprintf(p.out, "    verified: %s\n", strings.Join(methods, ", "))
	} else {
		fmt.Fprintf(p.out, "    verified: %s\n", p.warn.Sprint("no"))
	}

	for _, f := range res.ConfigInstalled {
		fmt.Fprintf(p.out, "    config: %s\n", f)
	}
	for _, f := range res.ConfigSkipped {
		fmt.Fprintf(p.out, "    config: %s %s\n", f, p.faint.Sprint("(kept existing)"))
	}
}

func supportsColor(w *os.File) bool {
	return term.IsTerminal(int(w.Fd()))
}
