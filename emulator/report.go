package emulator

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/mattn/go-isatty"
	"github.com/mgutz/ansi"
)

var stderrTTY = isatty.IsTerminal(os.Stderr.Fd())

var ansiRe = regexp.MustCompile("\033\\[[0-9;]*m")

// paint colors a fragment when stderr is a terminal.
func paint(style, s string) string {
	if !stderrTTY {
		return s
	}
	return ansi.Color(s, style)
}

// Report writes a diagnostic line to stderr. Color codes embedded in
// the format are stripped when stderr is not a terminal.
func (e *Emulator) Report(format string, args ...interface{}) {
	s := fmt.Sprintf(format, args...)
	if !stderrTTY {
		s = ansiRe.ReplaceAllString(s, "")
	}
	fmt.Fprint(os.Stderr, s)
}

// Abort reports a fatal emulator diagnostic and exits the process.
func (e *Emulator) Abort(format string, args ...interface{}) {
	e.Report("==%d==  ABORT: %s\n", e.pid, fmt.Sprintf(format, args...))
	os.Exit(255)
}

// DumpBacktraceFor symbolicates and prints a list of return addresses.
func (e *Emulator) DumpBacktraceFor(addrs []uint32) {
	for _, addr := range addrs {
		sym, offset := e.ldr.Symbolicate(addr)
		if sym == "" {
			sym = "??"
		}
		if file, line, ok := e.ldr.SourceLine(addr); ok {
			e.Report("==%d==    %#08x  %s (%s:%d)\n", e.pid, addr, sym,
				paint("blue+b", filepath.Base(file)), line)
		} else {
			e.Report("==%d==    %#08x  %s +%#x\n", e.pid, addr, sym, offset)
		}
	}
}

// ReportTaint flags a control-affecting use of uninitialized data.
// Execution continues with the underlying value.
func (e *Emulator) ReportTaint(format string, args ...interface{}) {
	e.taints++
	e.Report("==%d==  \033[31;1mUse of uninitialized data: %s\033[0m\n",
		e.pid, fmt.Sprintf(format, args...))
	e.DumpBacktrace()
}

// TaintViolations counts the taint diagnostics reported so far.
func (e *Emulator) TaintViolations() int {
	return e.taints
}
