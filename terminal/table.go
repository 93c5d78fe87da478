package terminal

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"ftpshell/jobs"
)

// JobsTable renders the running background jobs followed by a total line.
func JobsTable(w io.Writer, list []jobs.Job) error {
	table := tablewriter.NewWriter(w)
	table.Options(
		tablewriter.WithRendition(tw.Rendition{Borders: tw.Border{Left: tw.Pending, Right: tw.Pending, Top: tw.Pending, Bottom: tw.Pending}}),
	)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.MaxWidth = 0
		cfg.Header = tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignLeft},
		}
		cfg.Row = tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignLeft},
		}
	})
	table.Header("ID", "TYPE", "LOCAL", "REMOTE", "WORKER")

	for _, job := range list {
		table.Append([]string{
			strconv.Itoa(job.ID),
			job.Kind.String(),
			truncate(job.LocalPath, 30),
			truncate(job.RemotePath, 30),
			shortWorker(job.Worker),
		})
	}
	if err := table.Render(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "Total: %d\n", len(list))
	return err
}

// truncate shortens long paths, keeping the tail.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max+3:]
}

// shortWorker keeps the first block of a worker handle.
func shortWorker(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatSize formats a file size in human-readable format
func formatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
