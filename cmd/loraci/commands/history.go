package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"git.home.luguber.info/inful/loraci/internal/config"
	"git.home.luguber.info/inful/loraci/internal/eventstore"
	"git.home.luguber.info/inful/loraci/internal/job"
	"git.home.luguber.info/inful/loraci/internal/report"
)

// HistoryCmd implements the 'history' command.
type HistoryCmd struct {
	Job    string `help:"Show one job in detail"`
	Limit  int    `short:"n" help:"Number of jobs to list" default:"20"`
	Format string `short:"f" help:"Output format" enum:"table,json,markdown" default:"table"`
}

func (h *HistoryCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.LoadConfig()
	if err != nil {
		return err
	}
	return ShowHistory(context.Background(), g.Out, cfg, *h)
}

// ShowHistory prints recorded jobs from the configured event store.
func ShowHistory(ctx context.Context, out io.Writer, cfg *config.Config, opts HistoryCmd) error {
	store, err := eventstore.Open(cfg.History)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if opts.Job != "" {
		j, err := eventstore.Replay(ctx, store, opts.Job)
		if err != nil {
			return err
		}
		switch opts.Format {
		case "json":
			return writeJSON(out, j)
		default:
			_, err = io.WriteString(out, report.Markdown(j))
			return err
		}
	}

	jobs, err := eventstore.List(ctx, store, opts.Limit)
	if err != nil {
		return err
	}
	switch opts.Format {
	case "json":
		return writeJSON(out, jobs)
	case "markdown":
		for _, j := range jobs {
			if _, err := io.WriteString(out, report.Markdown(j)+"\n"); err != nil {
				return err
			}
		}
		return nil
	}
	return writeTable(out, jobs)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	statusStyle = map[job.Status]lipgloss.Style{
		job.StatusSucceeded: cellStyle.Foreground(lipgloss.Color("42")),
		job.StatusFailed:    cellStyle.Foreground(lipgloss.Color("196")),
		job.StatusCanceled:  cellStyle.Foreground(lipgloss.Color("214")),
		job.StatusSkipped:   cellStyle.Foreground(lipgloss.Color("245")),
	}
)

const statusColumn = 3

func writeTable(out io.Writer, jobs []*job.Job) error {
	if len(jobs) == 0 {
		_, err := fmt.Fprintln(out, "no jobs recorded")
		return err
	}

	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		commit := j.Commit
		if len(commit) > 12 {
			commit = commit[:12]
		}
		rows = append(rows, []string{
			j.ID,
			j.Branch,
			string(j.Source),
			string(j.Status),
			fmt.Sprint(j.ExitCode),
			commit,
			j.QueuedAt.Local().Format(time.DateTime),
			j.Duration().Round(time.Second).String(),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "BRANCH", "SOURCE", "STATUS", "EXIT", "COMMIT", "QUEUED", "DURATION").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == statusColumn && row >= 0 && row < len(jobs) {
				if st, ok := statusStyle[jobs[row].Status]; ok {
					return st
				}
			}
			return cellStyle
		})
	_, err := fmt.Fprintln(out, t.String())
	return err
}
