package formatter

import (
	"fmt"
	"strings"
)

// ANSI color codes.
const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiDim    = "\033[2m"
)

// CLIFormatter outputs reports for a terminal.
type CLIFormatter struct {
	Color   bool
	Verbose bool
}

// NewCLIFormatter creates a new CLIFormatter.
func NewCLIFormatter(color, verbose bool) *CLIFormatter {
	return &CLIFormatter{Color: color, Verbose: verbose}
}

// FormatDiscovery lists the winning strategy and, when verbose or when
// nothing was found, every failed attempt with its hint.
func (f *CLIFormatter) FormatDiscovery(r DiscoveryReport) string {
	var b strings.Builder

	if r.Found {
		b.WriteString(fmt.Sprintf("\n%s %s via %s in %dms\n",
			f.colorize("✅", ansiGreen),
			f.colorize(r.Host, ansiBold),
			f.colorize(r.Strategy, ansiCyan),
			r.DurationMs))
		b.WriteString(fmt.Sprintf("   %s\n", f.colorize(r.Description, ansiDim)))
		if r.TLSVerify {
			b.WriteString("   🔒 TLS verified\n")
		}
	} else {
		b.WriteString(fmt.Sprintf("\n%s %s\n",
			f.colorize("❌", ansiRed),
			f.colorize(r.Error, ansiBold)))
	}

	if len(r.Attempts) > 0 && (f.Verbose || !r.Found) {
		b.WriteString("\n")
		for _, a := range r.Attempts {
			b.WriteString(fmt.Sprintf("  %s %s %s\n",
				f.colorize("✗", ansiRed),
				f.colorize(a.Strategy, ansiBold),
				f.colorize(fmt.Sprintf("%dms", a.DurationMs), ansiDim)))
			if a.Description != "" {
				b.WriteString(fmt.Sprintf("    %s\n", f.colorize(a.Description, ansiDim)))
			}
			b.WriteString(fmt.Sprintf("    %s\n", f.colorize(a.Error, ansiRed)))
			if f.Verbose && a.RootCause != "" {
				b.WriteString(fmt.Sprintf("    root cause: %s\n", a.RootCause))
			}
			if a.Hint != "" {
				b.WriteString(fmt.Sprintf("      💡 %s\n", a.Hint))
			}
		}
	}

	return b.String()
}

// FormatUp lists every project container.
func (f *CLIFormatter) FormatUp(r UpReport) string {
	var b strings.Builder

	icon := f.colorize("✅", ansiGreen)
	status := "ready"
	if !r.OK {
		icon = f.colorize("❌", ansiRed)
		status = "failed"
	}
	b.WriteString(fmt.Sprintf("\n%s %s %s in %dms\n\n",
		icon,
		f.colorize("session "+r.SessionID, ansiBold),
		status,
		r.DurationMs))

	for _, c := range r.Containers {
		switch {
		case c.Error != "":
			b.WriteString(fmt.Sprintf("  %s %s %s\n", f.colorize("❌", ansiRed), f.colorize(c.Name, ansiBold), f.colorize(c.Image, ansiDim)))
			b.WriteString(fmt.Sprintf("    💥 %s\n", f.colorize(c.Error, ansiRed)))
		case c.Reused:
			b.WriteString(fmt.Sprintf("  ♻️  %s %s %s\n", f.colorize(c.Name, ansiBold), shortID(c.ID), f.colorize("reused", ansiYellow)))
		default:
			b.WriteString(fmt.Sprintf("  %s %s %s %s\n",
				f.colorize("✅", ansiGreen),
				f.colorize(c.Name, ansiBold),
				shortID(c.ID),
				f.colorize(fmt.Sprintf("%dms", c.DurationMs), ansiDim)))
		}
	}

	return b.String()
}

// FormatCleanup summarizes removed resources; ids are listed when verbose.
func (f *CLIFormatter) FormatCleanup(r CleanupReport) string {
	var b strings.Builder

	icon := f.colorize("🧹", ansiGreen)
	if r.Error != "" {
		icon = f.colorize("⚠️", ansiYellow)
	}
	b.WriteString(fmt.Sprintf("\n%s %s: %d container(s), %d network(s), %d volume(s), %d image(s) removed",
		icon,
		f.colorize(r.Scope, ansiBold),
		len(r.Containers), len(r.Networks), len(r.Volumes), len(r.Images)))
	if r.SpaceReclaimed > 0 {
		b.WriteString(fmt.Sprintf(", %s reclaimed", humanBytes(r.SpaceReclaimed)))
	}
	b.WriteString("\n")

	if f.Verbose {
		for _, group := range []struct {
			name string
			ids  []string
		}{
			{"container", r.Containers},
			{"network", r.Networks},
			{"volume", r.Volumes},
			{"image", r.Images},
		} {
			for _, id := range group.ids {
				b.WriteString(fmt.Sprintf("  %s %s\n", f.colorize(group.name, ansiDim), shortID(id)))
			}
		}
	}
	if r.Error != "" {
		b.WriteString(fmt.Sprintf("  %s\n", f.colorize(r.Error, ansiRed)))
	}

	return b.String()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func humanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func (f *CLIFormatter) colorize(s, code string) string {
	if !f.Color {
		return s
	}
	return code + s + ansiReset
}
