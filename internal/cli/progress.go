// Package cli provides colored output, a spinner and drift tables for settlectl.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/R3E-Network/settlement_layer/internal/app/services/reconcile"
)

// Color codes for terminal output
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorCyan   = "\033[36m"
	ColorBold   = "\033[1m"
)

// Printer writes status lines, colored when the target is a terminal.
type Printer struct {
	w     io.Writer
	color bool
}

// NewPrinter returns a printer for w. Color is enabled only for a terminal stdout.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{w: w, color: w == io.Writer(os.Stdout) && isTerminal()}
}

// Colorize returns text wrapped in color when the printer is colored.
func (p *Printer) Colorize(text, color string) string {
	if !p.color {
		return text
	}
	return color + text + ColorReset
}

func (p *Printer) line(mark, color, message string) {
	fmt.Fprintf(p.w, "%s %s\n", p.Colorize(mark, color), message)
}

// Success prints a success message
func (p *Printer) Success(message string) { p.line("✓", ColorGreen, message) }

// Error prints an error message
func (p *Printer) Error(message string) { p.line("✗", ColorRed, message) }

// Warning prints a warning message
func (p *Printer) Warning(message string) { p.line("⚠", ColorYellow, message) }

// Info prints an info message
func (p *Printer) Info(message string) { p.line("ℹ", ColorBlue, message) }

// DriftReport prints a reconciliation report. Drift rows are sorted by the job.
func (p *Printer) DriftReport(report reconcile.Report) {
	if len(report.Drifts) == 0 {
		p.Success(fmt.Sprintf("%d balances match the ledger (%s)", report.Checked, report.RanAt.Format(time.RFC3339)))
		return
	}
	p.Warning(fmt.Sprintf("%d of %d balances drifted across %d accounts",
		len(report.Drifts), report.Checked, report.Accounts))

	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, p.Colorize("WALLET\tFIELD\tLEDGER\tSTORED\tDIFF", ColorBold))
	for _, d := range report.Drifts {
		fmt.Fprintf(tw, "%s\t%s\t%.6f\t%.6f\t%+.6f\n", d.Wallet, d.Field, d.Ledger, d.Stored, d.Diff())
	}
	_ = tw.Flush()
}

// Spinner represents a loading spinner
type Spinner struct {
	frames  []string
	current int
	prefix  string
	mu      sync.Mutex
	out     *Printer
	active  bool
	done    chan struct{}
}

// NewSpinner creates a spinner that animates only on a colored printer.
func NewSpinner(out *Printer, prefix string) *Spinner {
	return &Spinner{
		frames: []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		prefix: prefix,
		out:    out,
		done:   make(chan struct{}),
	}
}

// Start starts the spinner
func (s *Spinner) Start() {
	s.mu.Lock()
	if s.active || !s.out.color {
		s.mu.Unlock()
		return
	}
	s.active = true
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.mu.Lock()
				if !s.active {
					s.mu.Unlock()
					return
				}
				frame := s.out.Colorize(s.frames[s.current], ColorCyan)
				fmt.Fprintf(s.out.w, "\r%s %s", frame, s.prefix)
				s.current = (s.current + 1) % len(s.frames)
				s.mu.Unlock()
			case <-s.done:
				return
			}
		}
	}()
}

// Stop stops the spinner and clears its line.
func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return
	}
	s.active = false
	close(s.done)
	fmt.Fprint(s.out.w, "\r"+strings.Repeat(" ", len(s.prefix)+4)+"\r")
}

// isTerminal checks if stdout is a terminal
func isTerminal() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}
