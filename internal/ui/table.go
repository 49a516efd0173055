package ui

import (
	"fmt"
	"time"

	"github.com/AgilWave/examina-proctor/internal/media"
	"github.com/AgilWave/examina-proctor/internal/peer"
	"github.com/AgilWave/examina-proctor/internal/session"
	"github.com/AgilWave/examina-proctor/internal/voice"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

func styled(selected int) func(row, col int) lipgloss.Style {
	return func(row, col int) lipgloss.Style {
		switch {
		case row == table.HeaderRow:
			return TableHeaderStyle
		case row == selected:
			return TableSelectedStyle
		case row%2 == 0:
			return TableRowStyle
		default:
			return TableRowAltStyle
		}
	}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

func flag(on bool, icon string) string {
	if on {
		return icon
	}
	return IconDisabled
}

func linkState(p session.ParticipantView) string {
	switch {
	case !p.Connected:
		return MutedStyle.Render("none")
	case p.Connection == peer.StateConnected:
		return SuccessStyle.Render("live")
	default:
		return WarningStyle.Render("connecting")
	}
}

func voiceState(s voice.State) string {
	switch s {
	case voice.StateConnected:
		return IconVoice
	case voice.StateRequested, voice.StateConnecting:
		return IconWaiting
	default:
		return IconDisabled
	}
}

// RosterTable renders the participants of a view. selected is the row index
// to highlight, or -1.
func RosterTable(rows []session.ParticipantView, selected int) string {
	if len(rows) == 0 {
		return MutedStyle.Render("Nobody else is in the room yet")
	}

	data := make([][]string, 0, len(rows))
	for i, p := range rows {
		av := flag(p.MediaStatus.Webcam, IconCamera) + " " + flag(p.MediaStatus.Mic, IconMic)
		switch {
		case !p.Reported():
			av = MutedStyle.Render("unknown")
		case p.Stale:
			av += " " + IconStale
		}
		chat := ""
		if p.Unread > 0 {
			chat = fmt.Sprintf("%s %d", IconChat, p.Unread)
		}
		data = append(data, []string{
			fmt.Sprintf("%d", i+1),
			truncate(p.Label, 32),
			string(p.Role),
			av,
			flag(p.HandRaised, IconHand),
			linkState(p),
			voiceState(p.Voice),
			chat,
		})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("#", "Participant", "Role", "Media", "Hand", "Link", "Voice", "Chat").
		Rows(data...).
		StyleFunc(styled(selected))

	return tbl.Render()
}

// DeviceTable renders capture devices.
func DeviceTable(devices []media.Device) string {
	if len(devices) == 0 {
		return MutedStyle.Render("No capture devices found")
	}
	data := make([][]string, 0, len(devices))
	for i, d := range devices {
		data = append(data, []string{fmt.Sprintf("%d", i+1), d.Kind.Label(), truncate(d.Label, 40), d.ID})
	}
	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("#", "Kind", "Label", "ID").
		Rows(data...).
		StyleFunc(styled(-1))
	return tbl.Render()
}

// FormatClock renders a wall-clock time for message lists.
func FormatClock(t time.Time) string {
	if t.IsZero() {
		return "--:--"
	}
	return t.Format("15:04")
}
