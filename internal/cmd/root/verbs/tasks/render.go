package tasks

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/steamok/usmapctl/internal/taskstore"
)

const (
	maxNameWidth   = 32
	maxDetailWidth = 60
	columnGap      = "  "
)

// renderTasksText prints an aligned table. Display names are often CJK, so
// widths are measured in terminal cells rather than runes.
func renderTasksText(out io.Writer, list []taskstore.Task) error {
	if out == nil {
		return nil
	}
	if len(list) == 0 {
		_, err := fmt.Fprintln(out, "No tasks found.")
		return err
	}

	rows := [][]string{{"ID", "NAME", "STATUS", "UPDATED", "RESULT"}}
	for _, t := range list {
		result := t.ArtifactPath
		if t.Status == taskstore.Error {
			result = t.ErrorDetail
		}
		rows = append(rows, []string{
			t.ID,
			runewidth.Truncate(displayOrDash(t.DisplayName), maxNameWidth, "…"),
			string(t.Status),
			t.LastUpdated.Local().Format(time.DateTime),
			runewidth.Truncate(displayOrDash(result), maxDetailWidth, "…"),
		})
	}
	return writeTable(out, rows)
}

func renderHistoryText(out io.Writer, id string, entries []taskstore.JournalEntry) error {
	if out == nil {
		return nil
	}
	if len(entries) == 0 {
		_, err := fmt.Fprintf(out, "No recorded events for task %s.\n", id)
		return err
	}

	rows := [][]string{{"AT", "EVENT", "FROM", "TO", "DETAIL"}}
	for _, e := range entries {
		detail := e.Event.Task.ErrorDetail
		if detail == "" {
			detail = e.Event.Task.ArtifactPath
		}
		rows = append(rows, []string{
			e.At.Local().Format(time.DateTime),
			string(e.Event.Kind),
			displayOrDash(string(e.Event.From)),
			displayOrDash(string(e.Event.To)),
			runewidth.Truncate(displayOrDash(detail), maxDetailWidth, "…"),
		})
	}
	return writeTable(out, rows)
}

func writeTable(out io.Writer, rows [][]string) error {
	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], runewidth.StringWidth(cell))
		}
	}
	var b strings.Builder
	for _, row := range rows {
		b.Reset()
		for i, cell := range row {
			if i == len(row)-1 {
				b.WriteString(cell)
				break
			}
			b.WriteString(runewidth.FillRight(cell, widths[i]))
			b.WriteString(columnGap)
		}
		if _, err := fmt.Fprintln(out, b.String()); err != nil {
			return err
		}
	}
	return nil
}

func displayOrDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}
