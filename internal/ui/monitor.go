package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// MonitorSession is the proctor side of a room session.
type MonitorSession interface {
	liveSession
	ToggleVoice(id string) error
}

// Monitor is the proctor view: the student roster with media, hand and voice
// state, plus private chat.
type Monitor struct {
	live
	s MonitorSession
}

// NewMonitor creates a monitor over s.
func NewMonitor(s MonitorSession) *Monitor {
	return &Monitor{live: newLive(s), s: s}
}

func (m *Monitor) Init() tea.Cmd {
	return m.init()
}

func (m *Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok && m.mode != modeCompose && key.String() == "v" {
		p, ok := m.selected()
		if !ok {
			return m, nil
		}
		s := m.s
		return m, action("voice", func() error { return s.ToggleVoice(p.ID) })
	}
	cmd, _ := m.update(msg)
	return m, cmd
}

func (m *Monitor) View() string {
	if m.done {
		return ""
	}
	var b strings.Builder
	b.WriteString(HeaderStyle.Render(fmt.Sprintf("%s Exam %s  %s", IconExam, m.view.ExamID, StatusStyle.Render(string(m.view.Role)))))
	b.WriteString("\n")
	if !m.ready {
		b.WriteString(m.spinner.View() + " Joining exam room...")
		return b.String()
	}

	var online, raised int
	for _, p := range m.view.Participants {
		if p.HandRaised {
			raised++
		}
		if p.Connected {
			online++
		}
	}
	fmt.Fprintf(&b, "%s %d students  %s %d live  %s %d raised\n",
		IconPeer, len(m.view.Participants), IconConnect, online, IconHand, raised)
	b.WriteString(RosterTable(m.view.Participants, m.cursor))
	b.WriteString("\n")

	if m.mode != modeRoster {
		b.WriteString(m.inboxView())
		b.WriteString("\n")
	}
	b.WriteString(m.footer("↑/↓ select • enter inbox • m message • v voice • q quit"))
	return b.String()
}
