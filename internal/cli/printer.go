package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/mistakeknot/interlock/client"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	headerColor  = color.New(color.FgBlue, color.Bold)
	labelColor   = color.New(color.FgWhite, color.Bold)
	dimColor     = color.New(color.FgHiBlack)
)

// Printer renders command output. Colors follow fatih/color, which turns
// itself off for non-TTY writers and when NO_COLOR is set.
type Printer struct {
	Out io.Writer
	Err io.Writer
	Now func() time.Time
}

func NewPrinter(out, errOut io.Writer) *Printer {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	return &Printer{Out: out, Err: errOut, Now: time.Now}
}

func (p *Printer) Success(format string, a ...any) {
	_, _ = successColor.Fprintf(p.Out, "✓ %s\n", fmt.Sprintf(format, a...))
}

func (p *Printer) Warning(format string, a ...any) {
	_, _ = warningColor.Fprintf(p.Out, "⚠ %s\n", fmt.Sprintf(format, a...))
}

// Error prints to the error writer and returns an error suitable for cobra
// with SilenceErrors set.
func (p *Printer) Error(title string, suggestions ...string) error {
	_, _ = errorColor.Fprintf(p.Err, "✗ %s\n", title)
	for _, s := range suggestions {
		fmt.Fprintf(p.Err, "  %s\n", s)
	}
	return fmt.Errorf("%s", title)
}

func (p *Printer) section(title string) {
	_, _ = headerColor.Fprintf(p.Out, "▸ %s\n", title)
}

func (p *Printer) label(name, value string) {
	_, _ = labelColor.Fprintf(p.Out, "  %s: ", name)
	fmt.Fprintln(p.Out, value)
}

// Reservation prints one lease with a relative expiry.
func (p *Printer) Reservation(r client.Reservation) {
	p.section("reservation " + r.ID)
	p.label("agent", r.RequesterID)
	p.label("project", r.ProjectID)
	p.label("mode", r.Mode)
	p.label("patterns", strings.Join(r.Patterns, ", "))
	p.label("expires", p.relative(r.ExpiresAt))
	if r.RenewCount > 0 {
		p.label("renewals", fmt.Sprint(r.RenewCount))
	}
	if r.Metadata.Reason != "" {
		p.label("reason", r.Metadata.Reason)
	}
}

// Conflict prints a conflict and its ranked resolutions.
func (p *Printer) Conflict(c client.Conflict) {
	p.section(fmt.Sprintf("conflict %s (%s)", c.ID, c.Status))
	p.label("requester", fmt.Sprintf("%s wants %s %s", c.RequesterID, c.RequestedMode, strings.Join(c.RequestedPatterns, ", ")))
	p.label("holder", fmt.Sprintf("%s holds %s until %s", c.ExistingReservation.RequesterID, c.HeldPattern, p.relative(c.ExistingReservation.ExpiresAt)))
	p.label("overlap", c.OverlappingPattern)
	for i, res := range c.Resolutions {
		line := fmt.Sprintf("  %d. %-10s %3d%%", i+1, res.Type, res.Confidence)
		if res.AutoResolutionEligible {
			line += " auto"
		}
		fmt.Fprintln(p.Out, line)
		if res.Rationale != "" {
			_, _ = dimColor.Fprintf(p.Out, "     %s\n", res.Rationale)
		}
	}
	if c.ResolvedBy != "" {
		p.label("resolved by", c.ResolvedBy)
		if c.ResolutionReason != "" {
			p.label("reason", c.ResolutionReason)
		}
	}
}

// Check prints one line per path.
func (p *Printer) Check(resp client.CheckResponse) {
	for _, r := range resp.Results {
		if r.Allowed {
			_, _ = successColor.Fprintf(p.Out, "✓ %s\n", r.Path)
			continue
		}
		expires := ""
		if r.ExpiresAt != nil {
			expires = ", expires " + p.relative(*r.ExpiresAt)
		}
		_, _ = errorColor.Fprintf(p.Out, "✗ %s", r.Path)
		fmt.Fprintf(p.Out, " held by %s (%s %s%s)\n", r.HeldBy, r.Mode, r.Pattern, expires)
	}
}

func (p *Printer) Stats(s client.Stats) {
	p.section("reservations")
	p.label("active", humanize.Comma(int64(s.Total)))
	p.label("average renewals", humanize.FtoaWithDigits(s.AverageRenewCount, 2))
	for _, k := range sortedKeys(s.ByMode) {
		p.label("mode "+k, humanize.Comma(int64(s.ByMode[k])))
	}
	for _, k := range sortedKeys(s.ByProject) {
		p.label("project "+k, humanize.Comma(int64(s.ByProject[k])))
	}
	if len(s.Conflicts) == 0 {
		return
	}
	p.section("conflicts")
	projects := make([]string, 0, len(s.Conflicts))
	for k := range s.Conflicts {
		projects = append(projects, k)
	}
	sort.Strings(projects)
	for _, proj := range projects {
		counts := s.Conflicts[proj]
		parts := make([]string, 0, len(counts))
		for _, status := range sortedKeys(counts) {
			parts = append(parts, fmt.Sprintf("%d %s", counts[status], status))
		}
		p.label(proj, strings.Join(parts, ", "))
	}
}

func (p *Printer) relative(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.RelTime(t, p.Now(), "ago", "from now")
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
