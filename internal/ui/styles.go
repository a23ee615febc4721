package ui

import "github.com/charmbracelet/lipgloss"

var (
	accent    = lipgloss.Color("#4F9DDE")
	highlight = lipgloss.Color("#7CC4F5")
	muted     = lipgloss.Color("#6B7280")
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(accent).
			MarginTop(1)

	LinkStyle = lipgloss.NewStyle().
			Foreground(highlight).
			Underline(true)

	SubtitleStyle = lipgloss.NewStyle().
			Foreground(muted).
			MarginBottom(1)

	SelectedStyle = lipgloss.NewStyle().
			Foreground(accent).
			Bold(true)

	UnselectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	CheckedStyle = lipgloss.NewStyle().
			Foreground(highlight).
			Bold(true)

	TagStyle = lipgloss.NewStyle().
			Foreground(highlight)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF4757")).
			Bold(true)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#2ED573")).
			Bold(true)

	HelpStyle = lipgloss.NewStyle().
			Foreground(muted).
			MarginTop(1)

	PreviewStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(muted).
			Padding(0, 1)

	LogStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), true, false).
			BorderForeground(muted)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(1, 2)
)
