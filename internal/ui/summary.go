package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/AgilWave/examina-proctor/internal/session"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// SessionSummary is printed after leaving a room.
type SessionSummary struct {
	ExamID   string
	Role     string
	Duration time.Duration
	// Participants is the last view before teardown.
	Participants []session.ParticipantView
	Messages     int
}

// SummaryView renders the end-of-session table.
func SummaryView(s SessionSummary) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetTitle(fmt.Sprintf("%s Session Summary", IconExam))
	t.Style().Title.Align = text.AlignCenter
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Exam", s.ExamID},
		{"Role", s.Role},
		{"Duration", FormatDuration(s.Duration)},
		{"Participants", len(s.Participants)},
		{"Messages", s.Messages},
	})

	var raised, live int
	for _, p := range s.Participants {
		if p.HandRaised {
			raised++
		}
		if p.Connected {
			live++
		}
	}
	t.AppendSeparator()
	t.AppendRow(table.Row{"Live connections", live})
	t.AppendRow(table.Row{"Unanswered hands", raised})
	return t.Render()
}

// RenderSessionSummary writes the summary table to w.
func RenderSessionSummary(w io.Writer, s SessionSummary) {
	fmt.Fprintln(w, SummaryView(s))
}

// FormatDuration renders d as h/m/s.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	sec := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, sec)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, sec)
	default:
		return fmt.Sprintf("%ds", sec)
	}
}
