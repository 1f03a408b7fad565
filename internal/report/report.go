// Package report renders a job as Markdown and as an HTML page.
package report

import (
	"bytes"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"git.home.luguber.info/inful/loraci/internal/job"
)

// maxTailLines caps the output shown per step.
const maxTailLines = 40

var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Markdown renders the job summary, step table and failing output.
func Markdown(j *job.Job) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Job %s\n\n", j.ID)
	fmt.Fprintf(&b, "**Status:** %s %s\n\n", statusIcon(j.Status), j.Status)

	b.WriteString("| Field | Value |\n|---|---|\n")
	row(&b, "Ref", code(j.Ref))
	row(&b, "Branch", code(j.Branch))
	row(&b, "Commit", code(j.Commit))
	row(&b, "Trigger", string(j.Source))
	row(&b, "Queued", formatTime(j.QueuedAt))
	row(&b, "Started", formatTime(j.StartedAt))
	row(&b, "Finished", formatTime(j.FinishedAt))
	row(&b, "Duration", formatDuration(j.Duration()))
	row(&b, "Exit code", fmt.Sprint(j.ExitCode))
	if j.ErrorKind != "" {
		row(&b, "Error kind", code(j.ErrorKind))
	}
	b.WriteString("\n")

	if j.Error != "" {
		fmt.Fprintf(&b, "> %s\n\n", escapeInline(j.Error))
	}

	b.WriteString("## Steps\n\n")
	b.WriteString("| Step | Status | Exit code | Duration |\n|---|---|---|---|\n")
	for _, s := range j.Steps {
		exit := "-"
		if s.ExitCode >= 0 {
			exit = fmt.Sprint(s.ExitCode)
		}
		fmt.Fprintf(&b, "| %s | %s %s | %s | %s |\n",
			s.Name, stepIcon(s.Status), s.Status, exit, formatDuration(s.Duration))
	}
	b.WriteString("\n")

	for _, s := range j.Steps {
		if s.Command == "" && len(s.OutputTail) == 0 && s.Error == "" {
			continue
		}
		fmt.Fprintf(&b, "### %s\n\n", s.Name)
		if s.Command != "" {
			fmt.Fprintf(&b, "Command: %s\n\n", code(s.Command))
		}
		if s.Error != "" {
			fmt.Fprintf(&b, "Error: %s\n\n", escapeInline(s.Error))
		}
		if len(s.OutputTail) > 0 {
			tail := s.OutputTail
			if len(tail) > maxTailLines {
				tail = tail[len(tail)-maxTailLines:]
			}
			fence := fenceFor(tail)
			fmt.Fprintf(&b, "%stext\n%s\n%s\n\n", fence, strings.Join(tail, "\n"), fence)
		}
	}

	if len(j.Artifacts) > 0 {
		b.WriteString("## Artifacts\n\n")
		for _, a := range j.Artifacts {
			fmt.Fprintf(&b, "- %s\n", code(a))
		}
		b.WriteString("\n")
	}

	return b.String()
}

// HTML renders the Markdown report into a standalone page.
func HTML(j *job.Job) ([]byte, error) {
	var body bytes.Buffer
	if err := md.Convert([]byte(Markdown(j)), &body); err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}

	var page bytes.Buffer
	page.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\">")
	fmt.Fprintf(&page, "<title>loraci job %s</title>", html.EscapeString(j.ID))
	page.WriteString("<style>body{font-family:sans-serif;max-width:60em;margin:2em auto}" +
		"table{border-collapse:collapse}td,th{border:1px solid #ccc;padding:.2em .6em}" +
		"pre{background:#f6f8fa;padding:1em;overflow-x:auto}</style></head><body>\n")
	page.Write(body.Bytes())
	page.WriteString("</body></html>\n")
	return page.Bytes(), nil
}

func row(b *strings.Builder, k, v string) {
	if v == "" {
		v = "-"
	}
	fmt.Fprintf(b, "| %s | %s |\n", k, v)
}

// code wraps s in a backtick span long enough not to collide with its content.
func code(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "|", `\|`)
	ticks := "`"
	for strings.Contains(s, ticks) {
		ticks += "`"
	}
	if strings.HasPrefix(s, "`") || strings.HasSuffix(s, "`") {
		return ticks + " " + s + " " + ticks
	}
	return ticks + s + ticks
}

func escapeInline(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return html.EscapeString(s)
}

func fenceFor(lines []string) string {
	fence := "```"
	for _, l := range lines {
		for strings.Contains(l, fence) {
			fence += "`"
		}
	}
	return fence
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}

func statusIcon(s job.Status) string {
	switch s {
	case job.StatusSucceeded:
		return "✅"
	case job.StatusFailed:
		return "❌"
	case job.StatusCanceled:
		return "⏹"
	case job.StatusRunning:
		return "⏳"
	}
	return "•"
}

func stepIcon(s job.StepStatus) string {
	switch s {
	case job.StepSucceeded:
		return "✅"
	case job.StepFailed:
		return "❌"
	case job.StepCanceled:
		return "⏹"
	case job.StepRunning:
		return "⏳"
	}
	return "•"
}
