package tui

import "github.com/charmbracelet/lipgloss"

// Color palette - modern dark theme
var (
	primaryColor = lipgloss.Color("#7C3AED") // Purple
	successColor = lipgloss.Color("#10B981") // Green
	warningColor = lipgloss.Color("#F59E0B") // Amber
	errorColor   = lipgloss.Color("#EF4444") // Red
	mutedColor   = lipgloss.Color("#6B7280") // Gray
	textColor    = lipgloss.Color("#F9FAFB") // White
	borderColor  = lipgloss.Color("#374151") // Border
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true)

	headerStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Bold(true)

	rowStyle = lipgloss.NewStyle().
			Foreground(textColor)

	selectedRowStyle = lipgloss.NewStyle().
				Foreground(textColor).
				Background(borderColor).
				Bold(true)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	errStyle = lipgloss.NewStyle().
			Foreground(errorColor)
)

// decisionStyle colors a decision cell by its severity.
func decisionStyle(decision string) lipgloss.Style {
	switch decision {
	case "pass", "sampled-pass":
		return lipgloss.NewStyle().Foreground(successColor)
	case "regenerate", "quarantine":
		return lipgloss.NewStyle().Foreground(warningColor)
	case "escalate", "block":
		return lipgloss.NewStyle().Foreground(errorColor)
	default:
		return lipgloss.NewStyle().Foreground(mutedColor)
	}
}
