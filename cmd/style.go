package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/tubeq/tubeq/internal/engine/events"
	"github.com/tubeq/tubeq/internal/engine/types"
	"github.com/tubeq/tubeq/internal/utils"
)

var (
	// Colors
	colorPrimary = lipgloss.Color("#bd93f9") // Dracula Purple
	colorSuccess = lipgloss.Color("#50fa7b") // Dracula Green
	colorError   = lipgloss.Color("#ff5555") // Dracula Red
	colorWarning = lipgloss.Color("#ffb86c") // Dracula Orange
	colorSubtext = lipgloss.Color("#6272a4") // Dracula Comment
	colorBorder  = lipgloss.Color("#44475a") // Dracula Selection

	idStyle      = lipgloss.NewStyle().Foreground(colorSubtext)
	titleStyle   = lipgloss.NewStyle().Bold(true)
	labelStyle   = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(colorSuccess)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError)
	warningStyle = lipgloss.NewStyle().Foreground(colorWarning)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorSubtext)
	headerStyle  = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
)

// barWidth is the number of cells in a rendered progress bar.
const barWidth = 20

func statusStyle(s types.Status) lipgloss.Style {
	switch s {
	case types.StatusCompleted:
		return successStyle
	case types.StatusFailed:
		return errorStyle
	case types.StatusCanceled:
		return warningStyle
	case types.StatusWaiting, types.StatusQueued:
		return mutedStyle
	}
	return labelStyle
}

func levelStyle(level string) lipgloss.Style {
	switch level {
	case events.LevelSuccess:
		return successStyle
	case events.LevelError:
		return errorStyle
	case events.LevelWarning:
		return warningStyle
	}
	return mutedStyle
}

func progressBar(pct float64) string {
	pct = min(max(pct, 0), 100)
	filled := int(pct / 100 * barWidth)
	return successStyle.Render(strings.Repeat("█", filled)) + mutedStyle.Render(strings.Repeat("░", barWidth-filled))
}

// renderEvent formats one bus message for the terminal. Unknown messages
// render as "".
func renderEvent(msg any) string {
	switch m := msg.(type) {
	case events.TaskQueuedMsg:
		return fmt.Sprintf("%s %s %s", idStyle.Render("["+shortID(m.TaskID)+"]"), mutedStyle.Render("Queued"), m.URL)
	case events.TaskStatusMsg:
		line := fmt.Sprintf("%s %s %s", idStyle.Render("["+shortID(m.TaskID)+"]"), statusStyle(m.To).Render(string(m.To)), titleStyle.Render(m.Title))
		if m.Err != nil {
			line += " " + errorStyle.Render(m.Err.Error())
		}
		return line
	case events.TaskLogMsg:
		return fmt.Sprintf("%s %s %s", idStyle.Render("["+shortID(m.TaskID)+"]"), levelStyle(m.Level).Render(m.Level), m.Message)
	case events.TaskProgressMsg:
		return renderProgress(m)
	}
	return ""
}

func renderProgress(m events.TaskProgressMsg) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %5.1f%%", idStyle.Render("["+shortID(m.TaskID)+"]"), progressBar(m.Progress), m.Progress)
	if m.Total > 0 {
		fmt.Fprintf(&b, "  %s / %s", utils.FormatBytes(m.Downloaded), utils.FormatBytes(m.Total))
	}
	if !m.Status.IsTerminal() {
		fmt.Fprintf(&b, "  %s  ETA %s", utils.FormatSpeed(m.Speed), utils.FormatETA(m.ETA))
	}
	if m.PlaylistTotal > 0 {
		fmt.Fprintf(&b, "  item %d/%d", m.PlaylistIndex, m.PlaylistTotal)
	}
	if m.Retries > 0 {
		fmt.Fprintf(&b, "  %s", warningStyle.Render(fmt.Sprintf("fallback %d", m.Retries)))
	}
	return b.String()
}

// renderTasks formats the task list as a table.
func renderTasks(tasks []types.TaskView) string {
	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, []string{
			shortID(t.ID),
			string(t.Status),
			fmt.Sprintf("%.1f%%", t.Progress),
			utils.FormatSpeed(t.Speed),
			string(t.Preset) + "/" + string(t.Format),
			truncateText(t.Title, 48),
		})
	}
	return newTable("ID", "STATUS", "PROGRESS", "SPEED", "QUALITY", "TITLE").Rows(rows...).Render()
}

// renderHistory formats history entries as a table.
func renderHistory(entries []types.HistoryEntry) string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		size := "-"
		if e.Size > 0 {
			size = utils.FormatBytes(e.Size)
		}
		rows = append(rows, []string{
			e.Timestamp.Local().Format("2006-01-02 15:04"),
			string(e.Status),
			size,
			string(e.Format),
			truncateText(e.Title, 48),
		})
	}
	return newTable("WHEN", "STATUS", "SIZE", "FORMAT", "TITLE").Rows(rows...).Render()
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorBorder)).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func truncateText(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
