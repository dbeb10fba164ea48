// Package render formats command results as styled text, JSON or YAML.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/AvraamMavridis/lore/internal/config"
	"github.com/AvraamMavridis/lore/internal/domain"
	"github.com/AvraamMavridis/lore/internal/merge"
	"github.com/AvraamMavridis/lore/internal/query"
	"github.com/AvraamMavridis/lore/internal/store"
)

// Palette
var (
	ColorAccent  = lipgloss.Color("39")
	ColorPath    = lipgloss.Color("212")
	ColorMuted   = lipgloss.Color("241")
	ColorSuccess = lipgloss.Color("42")
	ColorWarning = lipgloss.Color("214")
)

type styles struct {
	title   lipgloss.Style
	label   lipgloss.Style
	path    lipgloss.Style
	muted   lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
}

// Renderer writes results in one output format. Colour is used only when
// the writer is a terminal.
type Renderer struct {
	w      io.Writer
	format string
	s      styles
}

// New returns a renderer for format (text, json or yaml) writing to w.
func New(w io.Writer, format string) *Renderer {
	lr := lipgloss.NewRenderer(w)
	return &Renderer{
		w:      w,
		format: format,
		s: styles{
			title:   lr.NewStyle().Bold(true).Foreground(ColorAccent),
			label:   lr.NewStyle().Bold(true),
			path:    lr.NewStyle().Foreground(ColorPath),
			muted:   lr.NewStyle().Foreground(ColorMuted),
			success: lr.NewStyle().Foreground(ColorSuccess),
			warning: lr.NewStyle().Foreground(ColorWarning),
		},
	}
}

// structured writes v as JSON or YAML and reports whether it did.
func (r *Renderer) structured(v any) (bool, error) {
	switch r.format {
	case config.FormatJSON:
		enc := json.NewEncoder(r.w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case config.FormatYAML:
		enc := yaml.NewEncoder(r.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, err
		}
		return true, enc.Close()
	default:
		return false, nil
	}
}

// Entries renders a list result.
func (r *Renderer) Entries(res *query.Result, empty string) error {
	if ok, err := r.structured(res); ok {
		return err
	}
	if len(res.Entries) == 0 {
		fmt.Fprintln(r.w, r.s.muted.Render(empty))
	}
	for i, e := range res.Entries {
		if i > 0 {
			fmt.Fprintln(r.w)
		}
		r.entry(e)
	}
	r.skipped(res.Skipped)
	return nil
}

// Ranked renders a relevance-ordered search result.
func (r *Renderer) Ranked(res *query.RankedResult) error {
	if ok, err := r.structured(res); ok {
		return err
	}
	if len(res.Hits) == 0 {
		fmt.Fprintln(r.w, r.s.muted.Render("No matching entries."))
	}
	for i, h := range res.Hits {
		if i > 0 {
			fmt.Fprintln(r.w)
		}
		fmt.Fprintln(r.w, r.s.muted.Render(fmt.Sprintf("score %.3f", h.Score)))
		r.entry(h.Entry)
	}
	r.skipped(res.Skipped)
	return nil
}

func (r *Renderer) entry(e *domain.Entry) {
	fmt.Fprintln(r.w, r.s.title.Render("━━━ "+e.ID+" ━━━"))
	r.field("Intent", e.Intent)
	r.field("Agent", e.AgentID+r.s.muted.Render(" · "+e.Timestamp.Format("2006-01-02 15:04:05 MST")))

	files := make([]string, len(e.TargetFiles))
	for i, f := range e.TargetFiles {
		files[i] = r.s.path.Render(f)
	}
	loc := strings.Join(files, ", ")
	if e.LineRange != nil {
		loc += r.s.muted.Render(" (lines " + e.LineRange.String() + ")")
	}
	r.field("Files", loc)

	if e.CommitHash != "" {
		r.field("Commit", shortHash(e.CommitHash))
	}
	if len(e.Tags) > 0 {
		r.field("Tags", strings.Join(e.Tags, ", "))
	}
	if e.ReasoningTrace != "" {
		fmt.Fprintln(r.w, r.s.label.Render("Reasoning:"))
		for _, line := range strings.Split(strings.TrimRight(e.ReasoningTrace, "\n"), "\n") {
			fmt.Fprintln(r.w, "  "+line)
		}
	}
	if len(e.RejectedAlternatives) > 0 {
		fmt.Fprintln(r.w, r.s.label.Render("Rejected:"))
		for _, a := range e.RejectedAlternatives {
			line := "  - " + a.Name
			if a.Reason != "" {
				line += ": " + a.Reason
			}
			fmt.Fprintln(r.w, line)
		}
	}
}

func (r *Renderer) field(label, value string) {
	fmt.Fprintf(r.w, "%s %s\n", r.s.label.Render(fmt.Sprintf("%-8s", label+":")), value)
}

func (r *Renderer) skipped(n int) {
	if n > 0 {
		fmt.Fprintln(r.w, r.s.warning.Render(fmt.Sprintf("⚠ %d unreadable record(s) skipped", n)))
	}
}

// Status renders a coverage report for the repository at root.
func (r *Renderer) Status(root string, rep *query.StatusReport) error {
	if ok, err := r.structured(rep); ok {
		return err
	}
	fmt.Fprintln(r.w, r.s.title.Render("Reasoning status"))
	r.field("Root", root)
	r.field("Entries", fmt.Sprintf("%d (%d memberships)", rep.Entries, rep.EntryCount))
	r.field("Tracked", fmt.Sprintf("%d files", len(rep.Tracked)))
	if rep.HeadCommit != "" {
		r.field("HEAD", shortHash(rep.HeadCommit))
	}

	fmt.Fprintln(r.w)
	switch {
	case !rep.VCSAvailable:
		fmt.Fprintln(r.w, r.s.muted.Render("Version control unavailable; gap report skipped."))
	case len(rep.Gaps) == 0:
		fmt.Fprintln(r.w, r.s.success.Render("✓ Every changed file has reasoning."))
	default:
		fmt.Fprintln(r.w, r.s.warning.Render(fmt.Sprintf("Changed files without reasoning (%d):", len(rep.Gaps))))
		for _, p := range rep.Gaps {
			fmt.Fprintln(r.w, "  "+r.s.path.Render(p))
		}
	}
	if len(rep.Covered) > 0 {
		fmt.Fprintln(r.w, r.s.label.Render(fmt.Sprintf("Changed files with reasoning (%d):", len(rep.Covered))))
		for _, p := range rep.Covered {
			fmt.Fprintln(r.w, "  "+r.s.path.Render(p))
		}
	}

	if len(rep.TopFiles) > 0 {
		fmt.Fprintln(r.w)
		fmt.Fprintln(r.w, r.s.label.Render("Most documented:"))
		for _, fc := range rep.TopFiles {
			fmt.Fprintf(r.w, "  %s %s\n", r.s.path.Render(fc.Path), r.s.muted.Render(fmt.Sprintf("(%d)", fc.Entries)))
		}
	}
	if len(rep.Contributors) > 0 {
		fmt.Fprintln(r.w)
		fmt.Fprintln(r.w, r.s.label.Render("Contributors:"))
		for _, ac := range rep.Contributors {
			fmt.Fprintf(r.w, "  %s %s\n", ac.Agent, r.s.muted.Render(fmt.Sprintf("(%d)", ac.Entries)))
		}
	}
	r.skipped(rep.Skipped)
	return nil
}

// Recorded renders the outcome of a record command.
func (r *Renderer) Recorded(res *store.RecordResult) error {
	if ok, err := r.structured(res); ok {
		return err
	}
	fmt.Fprintf(r.w, "%s Recorded %s for %s\n",
		r.s.success.Render("✓"), r.s.title.Render(res.Entry.ID), strings.Join(res.Entry.TargetFiles, ", "))
	for _, p := range res.Missing {
		fmt.Fprintln(r.w, r.s.warning.Render("⚠ skipped missing file "+p))
	}
	return nil
}

// Merged renders merge statistics.
func (r *Renderer) Merged(stats merge.Stats) error {
	if ok, err := r.structured(stats); ok {
		return err
	}
	fmt.Fprintln(r.w, stats.Describe())
	return nil
}

// Repaired renders the outcome of a repair.
func (r *Renderer) Repaired(res *store.RepairResult) error {
	if ok, err := r.structured(res); ok {
		return err
	}
	msg := fmt.Sprintf("Re-attached %d membership(s)", res.Added)
	if res.Rebuilt {
		msg += "; index was corrupt and has been rebuilt"
	}
	fmt.Fprintln(r.w, r.s.success.Render("✓")+" "+msg)
	for _, id := range res.Orphans {
		fmt.Fprintln(r.w, "  "+r.s.muted.Render("orphan")+" "+id)
	}
	r.skipped(res.Skipped)
	return nil
}

// Message renders a one-line notice. Structured formats wrap it in an object.
func (r *Renderer) Message(msg string) error {
	if ok, err := r.structured(map[string]string{"message": msg}); ok {
		return err
	}
	fmt.Fprintln(r.w, msg)
	return nil
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
