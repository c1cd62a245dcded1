package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/germanamz/mediahub/pkg/hub"
	"github.com/germanamz/mediahub/pkg/models"
)

// ticksPerSecond is the server's duration unit: 100ns ticks.
const ticksPerSecond = 10_000_000

var (
	colorMuted   = lipgloss.Color("243")
	colorAccent  = lipgloss.Color("62")
	colorSuccess = lipgloss.Color("42")
	colorError   = lipgloss.Color("196")
	colorWarning = lipgloss.Color("214")

	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	clientStyle  = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(colorMuted)
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	upStyle      = lipgloss.NewStyle().Bold(true).Foreground(colorSuccess)
	downStyle    = lipgloss.NewStyle().Bold(true).Foreground(colorError)
	pausedStyle  = lipgloss.NewStyle().Foreground(colorWarning)
	addedStyle   = lipgloss.NewStyle().Foreground(colorSuccess)
	removedStyle = lipgloss.NewStyle().Foreground(colorError)
)

// formatTicks renders a tick count as h:mm:ss or m:ss.
func formatTicks(ticks int64) string {
	if ticks < 0 {
		ticks = 0
	}
	d := time.Duration(ticks/ticksPerSecond) * time.Second

	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// playback describes what a session is doing, e.g.
// "▶ Big Buck Bunny 0:42 / 9:56".
func playback(s models.Session) string {
	if s.NowPlayingItem == nil {
		return dimStyle.Render("idle")
	}

	item := s.NowPlayingItem
	name := item.Name
	if item.SeriesName != "" {
		name = item.SeriesName + " - " + name
	}

	icon := "▶"
	style := titleStyle
	var position int64
	if s.PlayState != nil {
		position = s.PlayState.PositionTicks
		if s.PlayState.IsPaused {
			icon = "⏸"
			style = pausedStyle
		}
	}

	out := style.Render(icon + " " + name)
	if item.RunTimeTicks > 0 {
		out += dimStyle.Render(fmt.Sprintf(" %s / %s", formatTicks(position), formatTicks(item.RunTimeTicks)))
	}
	return out
}

// renderSession is a one-line summary of a session.
func renderSession(s models.Session) string {
	var b strings.Builder
	b.WriteString(clientStyle.Render(s.Client))
	if s.DeviceName != "" {
		b.WriteString(dimStyle.Render(" on " + s.DeviceName))
	}
	if s.UserName != "" {
		b.WriteString(dimStyle.Render(" (" + s.UserName + ")"))
	}
	b.WriteString("  ")
	b.WriteString(playback(s))
	return b.String()
}

// renderChange renders one session_changed event.
func renderChange(c hub.SessionChange) string {
	switch {
	case c.Old == nil && c.New != nil:
		return addedStyle.Render("+ ") + renderSession(*c.New)
	case c.New == nil && c.Old != nil:
		return removedStyle.Render("- ") + renderSession(*c.Old)
	case c.New != nil:
		return "~ " + renderSession(*c.New)
	default:
		return ""
	}
}

func renderAvailability(available bool, serverName string) string {
	if serverName == "" {
		serverName = "server"
	}
	if available {
		return upStyle.Render("● " + serverName + " online")
	}
	return downStyle.Render("○ " + serverName + " offline")
}

func renderLibrary(key models.LibraryKey, res models.LibraryResult) string {
	names := make([]string, 0, len(res.Items))
	for _, it := range res.Items {
		names = append(names, it.Name)
	}
	return headerStyle.Render("library "+key.String()) + " " + strings.Join(names, ", ")
}

func timestamp(t time.Time) string {
	return dimStyle.Render(t.Format("15:04:05"))
}
