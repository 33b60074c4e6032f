// Package tui contains the two terminal clients: the participant chat and
// the operator console.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/crisos/relayd/internal/relay"
)

type theme struct {
	header    lipgloss.Style
	footer    lipgloss.Style
	status    lipgloss.Style
	errText   lipgloss.Style
	userMsg   lipgloss.Style
	agentMsg  lipgloss.Style
	systemMsg lipgloss.Style
	selected  lipgloss.Style
	activity  lipgloss.Style
	riskLow   lipgloss.Style
	riskMed   lipgloss.Style
	riskHigh  lipgloss.Style
}

func newTheme() theme {
	return theme{
		header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("25")).
			Padding(0, 1),
		footer:    lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
		status:    lipgloss.NewStyle().Foreground(lipgloss.Color("36")),
		errText:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		userMsg:   lipgloss.NewStyle().Foreground(lipgloss.Color("81")),
		agentMsg:  lipgloss.NewStyle().Foreground(lipgloss.Color("114")),
		systemMsg: lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true),
		selected:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("237")),
		activity:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
		riskLow:   lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Background(lipgloss.Color("28")).Padding(0, 1),
		riskMed:   lipgloss.NewStyle().Foreground(lipgloss.Color("16")).Background(lipgloss.Color("178")).Padding(0, 1),
		riskHigh:  lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Background(lipgloss.Color("124")).Padding(0, 1),
	}
}

// riskBadge renders the normalized risk as a colored "HIGH 90" style badge.
func (t theme) riskBadge(entry relay.QueueEntry) string {
	label := string(entry.RiskLevel)
	switch entry.RiskLevel {
	case relay.RiskHigh:
		return t.riskHigh.Render(label)
	case relay.RiskMedium:
		return t.riskMed.Render(label)
	default:
		return t.riskLow.Render(label)
	}
}
