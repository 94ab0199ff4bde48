package cli

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"reportbot/internal/health"
)

var (
	styleTitle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	styleLabel = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	styleHeader = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	styleCell = lipgloss.NewStyle().
			Padding(0, 1)

	styleBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)

	styleHelp = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

var (
	styleHealthy   = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	styleWarning   = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	styleInactive  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	styleUnhealthy = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
)

func statusStyle(s health.Status) lipgloss.Style {
	switch s {
	case health.Healthy:
		return styleHealthy
	case health.Warning:
		return styleWarning
	case health.Unhealthy:
		return styleUnhealthy
	default:
		return styleInactive
	}
}

func statusIcon(s health.Status) string {
	switch s {
	case health.Healthy:
		return "●"
	case health.Warning:
		return "▲"
	case health.Unhealthy:
		return "✖"
	default:
		return "○"
	}
}

// newTable returns a bordered table with padded cells.
func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return styleHeader
			}
			return styleCell
		})
}
