// Package report renders run summaries, progress lines and backup listings.
package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/kebairia/pgsafe/internal/catalog"
	"github.com/kebairia/pgsafe/internal/operations"
)

// Printer writes human readable reports.
type Printer struct {
	w    io.Writer
	ok   *color.Color
	fail *color.Color
	skip *color.Color
	dim  *color.Color
	bold *color.Color
}

// NewPrinter returns a Printer writing to w, colored when colored is set.
func NewPrinter(w io.Writer, colored bool) *Printer {
	p := &Printer{
		w:    w,
		ok:   color.New(color.FgGreen),
		fail: color.New(color.FgRed),
		skip: color.New(color.FgYellow),
		dim:  color.New(color.Faint),
		bold: color.New(color.Bold),
	}
	if !colored {
		for _, c := range []*color.Color{p.ok, p.fail, p.skip, p.dim, p.bold} {
			c.DisableColor()
		}
	}
	return p
}

// IsTerminal reports whether f is an interactive terminal without NO_COLOR set.
func IsTerminal(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Summary prints one line per target, successes first, followed by totals.
// Skipped stages are listed apart from executed ones; failures show their
// first diagnostic line and the diagnostic log, if any.
func (p *Printer) Summary(result operations.RunResult) {
	p.bold.Fprintf(p.w, "%s summary\n", title(string(result.Kind)))

	for _, out := range result.Successes {
		fmt.Fprintf(p.w, "  %s %s", p.ok.Sprint("✓"), out.Label)
		if out.SizeBytes > 0 {
			fmt.Fprintf(p.w, "  %s", humanize.Bytes(uint64(out.SizeBytes)))
		}
		fmt.Fprintf(p.w, "  %s\n", formatDuration(out.Duration))
		p.stages(result.Kind, out)
	}
	for _, out := range result.Failures {
		fmt.Fprintf(p.w, "  %s %s  %s\n", p.fail.Sprint("✗"), out.Label, formatDuration(out.Duration))
		p.stages(result.Kind, out)
		fmt.Fprintf(p.w, "      %s\n", p.fail.Sprint(out.ErrorMessage()))
		if out.Failure.LogFilePath != "" {
			fmt.Fprintf(p.w, "      %s\n", p.dim.Sprintf("full output: %s", out.Failure.LogFilePath))
		}
	}

	status := p.ok.Sprintf("%d succeeded", len(result.Successes))
	if result.HasFailures() {
		status += ", " + p.fail.Sprintf("%d failed", len(result.Failures))
	}
	fmt.Fprintf(p.w, "%s in %s\n", status, formatDuration(result.TotalDuration))
}

func (p *Printer) stages(kind operations.Kind, out operations.Outcome) {
	var parts []string
	for _, stage := range operations.Stages(kind) {
		if out.IsSkipped(stage.Key) {
			parts = append(parts, p.skip.Sprintf("%s skipped", stage.Label))
			continue
		}
		if d, ok := out.StageDurations[stage.Key]; ok {
			parts = append(parts, fmt.Sprintf("%s %s", stage.Label, formatDuration(d)))
		}
	}
	if len(parts) > 0 {
		fmt.Fprintf(p.w, "      %s\n", strings.Join(parts, ", "))
	}
}

// Backups prints a table of cataloged backups.
func (p *Printer) Backups(sets []catalog.BackupSet) {
	if len(sets) == 0 {
		fmt.Fprintln(p.w, "no backups found")
		return
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSIZE\tCREATED\tTABLES\tROWS\tCOMPRESSION\tVERSION")
	for _, set := range sets {
		meta := set.Metadata
		created := "-"
		if !meta.CreatedAt.IsZero() {
			created = humanize.Time(meta.CreatedAt)
		}
		compression := meta.Compression
		if compression == "" {
			compression = "none"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			set.ID,
			humanize.Bytes(uint64(meta.SizeBytes)),
			created,
			meta.TableCount,
			humanize.Comma(meta.RowCount),
			compression,
			meta.PgVersion,
		)
	}
	tw.Flush()
}

func title(s string) string {
	if s == "" {
		return "Run"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(10 * time.Millisecond).String()
}
