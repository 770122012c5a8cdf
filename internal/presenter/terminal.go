package presenter

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const barWidth = 30

var (
	tumorColor = lipgloss.Color("#DC2626")
	clearColor = lipgloss.Color("#16A34A")
	mutedColor = lipgloss.Color("#6B7280")
)

// RenderTerminal draws the verdict as a bordered card with a confidence bar.
// A nil verdict renders as the empty string.
func RenderTerminal(v *Verdict) string {
	if v == nil {
		return ""
	}
	accent := clearColor
	if v.IsTumor() {
		accent = tumorColor
	}

	title := lipgloss.NewStyle().Bold(true).Foreground(accent).Render(v.Prediction)
	label := fmt.Sprintf("Confidence Level %d%%", v.Percent)
	bar := lipgloss.NewStyle().Foreground(accent).Render(confidenceBar(v.Percent))
	advisory := lipgloss.NewStyle().Foreground(mutedColor).Width(barWidth + 20).Render(v.Advisory)

	card := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(accent).
		Padding(0, 1)

	return card.Render(lipgloss.JoinVertical(lipgloss.Left, title, "", label, bar, "", advisory))
}

func confidenceBar(percent int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := percent * barWidth / 100
	return strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
}
