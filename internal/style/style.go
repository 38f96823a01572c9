// Package style provides terminal styling for roster output using Lipgloss.
package style

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/mindtastic/roster"
)

var (
	// Success style for positive outcomes
	Success = lipgloss.NewStyle().
		Foreground(lipgloss.Color("10")). // Green
		Bold(true)

	// Warning style for cautionary messages
	Warning = lipgloss.NewStyle().
		Foreground(lipgloss.Color("11")). // Yellow
		Bold(true)

	// Error style for failures
	Error = lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")). // Red
		Bold(true)

	// Dim style for secondary information
	Dim = lipgloss.NewStyle().
		Foreground(lipgloss.Color("8")) // Gray

	// Bold style for emphasis
	Bold = lipgloss.NewStyle().
		Bold(true)

	// SuccessPrefix is the checkmark prefix for success messages
	SuccessPrefix = Success.Render("✓")

	// ErrorPrefix is the error prefix
	ErrorPrefix = Error.Render("✗")
)

// Status renders a user status in the color of its meaning.
func Status(s roster.Status) string {
	switch s {
	case roster.StatusApproved:
		return Success.Render(string(s))
	case roster.StatusDeclined:
		return Error.Render(string(s))
	default:
		return Warning.Render(string(s))
	}
}

// Role renders a user role; admins stand out.
func Role(r roster.Role) string {
	if r == roster.RoleAdmin {
		return Bold.Render(string(r))
	}
	return string(r)
}
