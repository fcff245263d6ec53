package format

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// QueueCounts is the subset of queue statistics the CLI renders.
type QueueCounts struct {
	QueueName string `json:"queueName"`
	Waiting   int64  `json:"waiting"`
	Active    int64  `json:"active"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
	Delayed   int64  `json:"delayed"`
	Paused    bool   `json:"paused"`
	Total     int64  `json:"total"`
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true)

	statusStyles = map[string]lipgloss.Style{
		"waiting":   lipgloss.NewStyle().Foreground(lipgloss.Color("39")), // Cyan
		"active":    lipgloss.NewStyle().Foreground(lipgloss.Color("33")), // Blue
		"completed": lipgloss.NewStyle().Foreground(lipgloss.Color("10")), // Green
		"failed":    lipgloss.NewStyle().Foreground(lipgloss.Color("9")),  // Red
		"delayed":   lipgloss.NewStyle().Foreground(lipgloss.Color("11")), // Yellow
		"paused":    lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true),
	}
)

// StatusLabel renders a job or queue status, colored when enabled.
func StatusLabel(status string, colored bool) string {
	style, ok := statusStyles[strings.ToLower(status)]
	if !colored || !ok {
		return status
	}
	return style.Render(status)
}

// PrintQueueStats renders one queue's counters.
func (f *formatter) PrintQueueStats(stats QueueCounts) error {
	if f.mode == ModeJSON {
		return f.PrintJSON(stats)
	}

	state := "running"
	if stats.Paused {
		state = "paused"
	}
	title := fmt.Sprintf("Queue %s (%s)", stats.QueueName, StatusLabel(state, f.color))
	if f.color {
		title = titleStyle.Render("Queue "+stats.QueueName) + " (" + StatusLabel(state, true) + ")"
	}
	if _, err := fmt.Fprintln(f.stdout, title); err != nil {
		return err
	}

	rows := [][]string{
		{StatusLabel("waiting", f.color), fmt.Sprint(stats.Waiting)},
		{StatusLabel("active", f.color), fmt.Sprint(stats.Active)},
		{StatusLabel("delayed", f.color), fmt.Sprint(stats.Delayed)},
		{StatusLabel("completed", f.color), fmt.Sprint(stats.Completed)},
		{StatusLabel("failed", f.color), fmt.Sprint(stats.Failed)},
		{"total", fmt.Sprint(stats.Total)},
	}
	return f.PrintTable([]string{"Status", "Jobs"}, rows)
}
