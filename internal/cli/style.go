package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"LUCID/go-backend/internal/models"
)

var (
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	drowsyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	asleepStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

func stateLabel(s models.State) string {
	label := fmt.Sprintf("%-11s", s)
	switch s {
	case models.StateAsleep:
		return asleepStyle.Render(label)
	case models.StateDrowsySoon:
		return drowsyStyle.Render(label)
	case models.StateOK:
		return okStyle.Render(label)
	}
	return dimStyle.Render(label)
}

func clock(sec int) string {
	return fmt.Sprintf("%02d:%02d", sec/60, sec%60)
}

// progressBar renders completed/total as a fixed-width bar.
func progressBar(completed, total, width int) string {
	if total <= 0 {
		return strings.Repeat("░", width)
	}
	filled := completed * width / total
	if filled > width {
		filled = width
	}
	return okStyle.Render(strings.Repeat("█", filled)) + dimStyle.Render(strings.Repeat("░", width-filled))
}
