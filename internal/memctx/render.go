package memctx

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/pilothq/recall/pkg/models"
)

// RenderMode selects the output format.
type RenderMode int

const (
	RenderMarkdown RenderMode = iota
	RenderANSI
)

// style carries the per-mode text decorators. Markdown mode uses plain
// Markdown syntax; ANSI mode wraps the same logical sections in colour.
type style struct {
	heading func(string) string
	section func(string) string
	entry   func(string) string
	dim     func(string) string
	tag     func(string) string
}

func markdownStyle() style {
	ident := func(s string) string { return s }
	return style{
		heading: func(s string) string { return "# " + s },
		section: func(s string) string { return "## " + s },
		entry:   func(s string) string { return "### " + s },
		dim:     ident,
		tag:     func(s string) string { return "[" + s + "]" },
	}
}

func ansiStyle() style {
	// The worker writes to an HTTP body, never a terminal, so colours
	// must be forced on.
	bold := color.New(color.Bold)
	bold.EnableColor()
	cyan := color.New(color.FgCyan, color.Bold)
	cyan.EnableColor()
	yellow := color.New(color.FgYellow)
	yellow.EnableColor()
	dim := color.New(color.Faint)
	dim.EnableColor()
	green := color.New(color.FgGreen)
	green.EnableColor()

	return style{
		heading: func(s string) string { return bold.Sprint(s) },
		section: func(s string) string { return cyan.Sprint(s) },
		entry:   func(s string) string { return yellow.Sprint(s) },
		dim:     func(s string) string { return dim.Sprint(s) },
		tag:     func(s string) string { return green.Sprint("[" + s + "]") },
	}
}

func styleFor(mode RenderMode) style {
	if mode == RenderANSI {
		return ansiStyle()
	}
	return markdownStyle()
}

// renderEmpty is the fixed template when a project has no memory yet.
func renderEmpty(project string, mode RenderMode) string {
	st := styleFor(mode)
	var b strings.Builder
	b.WriteString(st.heading("Project memory: " + project))
	b.WriteString("\n\n")
	b.WriteString("No memory recorded for this project yet. Observations and\n")
	b.WriteString("summaries will appear here after the first working session.\n")
	return b.String()
}

func formatEpoch(epoch int64) string {
	return time.UnixMilli(epoch).Format("2006-01-02 15:04")
}

func renderHeader(b *strings.Builder, st style, project string, eco Economics) {
	b.WriteString(st.heading("Project memory: " + project))
	b.WriteString("\n")
	b.WriteString(st.dim(fmt.Sprintf(
		"%d observations · %d discovery tokens recorded · ~%d tokens saved by reading this instead\n",
		eco.ObservationCount, eco.DiscoveryTokens, eco.SavedTokens)))
	b.WriteString("\n")
}

func renderTimeline(b *strings.Builder, st style, entries []timelineEntry, fullField string) {
	if len(entries) == 0 {
		return
	}
	b.WriteString(st.section("Timeline"))
	b.WriteString("\n\n")

	for _, entry := range entries {
		switch entry.kind {
		case entrySummary:
			renderSummaryEntry(b, st, entry.summary)
		case entryObservation:
			if entry.fullDetail {
				renderFullObservation(b, st, entry.observation, fullField)
			} else {
				renderBriefObservation(b, st, entry.observation)
			}
		}
	}
}

func renderBriefObservation(b *strings.Builder, st style, obs *models.Observation) {
	line := fmt.Sprintf("- %s %s %s",
		st.dim(formatEpoch(obs.CreatedAtEpoch)),
		st.tag(string(obs.Type)),
		obs.Title)
	if obs.Subtitle.Valid && obs.Subtitle.String != "" {
		line += st.dim(" — " + obs.Subtitle.String)
	}
	b.WriteString(line)
	b.WriteString("\n")
}

func renderFullObservation(b *strings.Builder, st style, obs *models.Observation, fullField string) {
	b.WriteString(st.entry(fmt.Sprintf("%s %s", st.tag(string(obs.Type)), obs.Title)))
	b.WriteString(st.dim("  (" + formatEpoch(obs.CreatedAtEpoch) + ")"))
	b.WriteString("\n")
	if obs.Subtitle.Valid && obs.Subtitle.String != "" {
		b.WriteString(obs.Subtitle.String)
		b.WriteString("\n")
	}

	switch fullField {
	case "narrative", "text":
		if obs.Narrative.Valid && obs.Narrative.String != "" {
			b.WriteString(obs.Narrative.String)
			b.WriteString("\n")
			break
		}
		fallthrough
	default: // facts
		for _, fact := range obs.Facts {
			b.WriteString("  - " + fact + "\n")
		}
	}

	if len(obs.FilesModified) > 0 {
		b.WriteString(st.dim("  modified: " + strings.Join(obs.FilesModified, ", ")))
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func renderSummaryEntry(b *strings.Builder, st style, sum *models.SessionSummary) {
	b.WriteString(st.entry("Session: " + sum.Request))
	b.WriteString(st.dim("  (" + formatEpoch(sum.CreatedAtEpoch) + ")"))
	b.WriteString("\n")
	writeSummaryNull(b, st, "Investigated", sum.Investigated)
	writeSummaryNull(b, st, "Learned", sum.Learned)
	writeSummaryNull(b, st, "Completed", sum.Completed)
	writeSummaryNull(b, st, "Next steps", sum.NextSteps)
	b.WriteString("\n")
}

func writeSummaryNull(b *strings.Builder, st style, label string, field sql.NullString) {
	if field.Valid {
		writeSummaryLine(b, st, label, field.String)
	}
}

func writeSummaryLine(b *strings.Builder, st style, label, value string) {
	if value == "" {
		return
	}
	b.WriteString("  " + st.dim(label+":") + " " + value + "\n")
}

func renderLastSession(b *strings.Builder, st style, sum *models.SessionSummary) {
	b.WriteString(st.section("Last session"))
	b.WriteString("\n\n")
	writeSummaryLine(b, st, "Request", sum.Request)
	if sum.Completed.Valid {
		writeSummaryLine(b, st, "Completed", sum.Completed.String)
	}
	if sum.NextSteps.Valid {
		writeSummaryLine(b, st, "Next steps", sum.NextSteps.String)
	}
	b.WriteString("\n")
}

func renderPreviously(b *strings.Builder, st style, lastMessage string) {
	b.WriteString(st.section("Previously"))
	b.WriteString("\n\n")
	b.WriteString(lastMessage)
	b.WriteString("\n\n")
}
