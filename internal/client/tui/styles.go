package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorGreen  = lipgloss.Color("40")
	colorYellow = lipgloss.Color("220")
	colorRed    = lipgloss.Color("196")
	colorCyan   = lipgloss.Color("39")
	colorGray   = lipgloss.Color("244")
	colorWhite  = lipgloss.Color("255")
	colorDim    = lipgloss.Color("240")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorWhite)

	hintStyle = lipgloss.NewStyle().
			Foreground(colorDim)

	labelStyle = lipgloss.NewStyle().
			Width(20).
			Foreground(colorGray)

	valueStyle = lipgloss.NewStyle().
			Foreground(colorWhite)

	statusOnlineStyle = lipgloss.NewStyle().
				Foreground(colorGreen).
				Bold(true)

	statusConnectingStyle = lipgloss.NewStyle().
				Foreground(colorYellow)

	statusOfflineStyle = lipgloss.NewStyle().
				Foreground(colorRed)

	urlStyle = lipgloss.NewStyle().
			Foreground(colorCyan)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorRed)

	statsHeaderStyle = lipgloss.NewStyle().
				Foreground(colorGray).
				Width(10)

	statsValueStyle = lipgloss.NewStyle().
			Foreground(colorWhite).
			Width(10)

	phoneStyle = lipgloss.NewStyle().
			Foreground(colorCyan).
			Width(20)

	accountStyle = lipgloss.NewStyle().
			Foreground(colorWhite).
			Width(20)

	stateTrackingStyle = lipgloss.NewStyle().
				Foreground(colorYellow)

	stateSuccessStyle = lipgloss.NewStyle().
				Foreground(colorGreen)

	stateOtherStyle = lipgloss.NewStyle().
			Foreground(colorDim)

	usageFreeStyle = lipgloss.NewStyle().
			Foreground(colorGreen)

	usageFullStyle = lipgloss.NewStyle().
			Foreground(colorRed)

	durationStyle = lipgloss.NewStyle().
			Foreground(colorDim)
)

// StatusText returns styled connection status text
func StatusText(status string) string {
	switch status {
	case "online":
		return statusOnlineStyle.Render("online")
	case "connecting":
		return statusConnectingStyle.Render("connecting")
	case "reconnecting":
		return statusConnectingStyle.Render("reconnecting")
	case "offline":
		return statusOfflineStyle.Render("offline")
	default:
		return valueStyle.Render(status)
	}
}

// StateText styles a task's remote status by its tracking state.
func StateText(state, status string) string {
	switch state {
	case "success":
		return stateSuccessStyle.Render(status)
	case "submitting", "processing", "in_progress", "":
		return stateTrackingStyle.Render(status)
	default:
		return stateOtherStyle.Render(status)
	}
}

// UsageText renders used/capacity, red when the account is full.
func UsageText(usage, capacity int) string {
	s := fmt.Sprintf("%d/%d", usage, capacity)
	if capacity > 0 && usage >= capacity {
		return usageFullStyle.Render(s)
	}
	return usageFreeStyle.Render(s)
}
