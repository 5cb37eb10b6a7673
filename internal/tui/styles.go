package tui

import "github.com/charmbracelet/lipgloss"

// Dashboard palette. Chart series keep fixed colors so a panel reads the
// same across refreshes.
var (
	ColorNavy   = lipgloss.Color("17")
	ColorBlue   = lipgloss.Color("39")
	ColorGreen  = lipgloss.Color("42")
	ColorOrange = lipgloss.Color("208")
	ColorYellow = lipgloss.Color("220")
	ColorRed    = lipgloss.Color("196")
	ColorGray   = lipgloss.Color("240")
	ColorWhite  = lipgloss.Color("255")
)

var (
	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorGray).
			Padding(0, 1)

	activeSectionStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(ColorBlue).
				Padding(0, 1)

	chartTitleStyle = lipgloss.NewStyle().
			Foreground(ColorBlue).
			Bold(true)

	legendLabelStyle = lipgloss.NewStyle().
				Foreground(ColorGray)

	legendValueStyle = lipgloss.NewStyle().
				Foreground(ColorWhite)

	helpStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	errorStyle = lipgloss.NewStyle().
			Foreground(ColorRed)

	sourceLossStyle = lipgloss.NewStyle().
			Foreground(ColorBlue)

	targetLossStyle = lipgloss.NewStyle().
			Foreground(ColorOrange)

	miouBarStyle = lipgloss.NewStyle().
			Foreground(ColorGreen)

	bestMarkStyle = lipgloss.NewStyle().
			Foreground(ColorYellow)

	statusRunningStyle = lipgloss.NewStyle().
				Foreground(ColorGreen)

	statusStoppedStyle = lipgloss.NewStyle().
				Foreground(ColorOrange)

	statusErrorStyle = lipgloss.NewStyle().
				Foreground(ColorRed)

	statusFinishedStyle = lipgloss.NewStyle().
				Foreground(ColorBlue)
)
