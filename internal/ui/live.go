package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/AgilWave/examina-proctor/internal/chat"
	"github.com/AgilWave/examina-proctor/internal/session"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// refreshInterval redraws staleness and packet counters between updates.
const refreshInterval = time.Second

// liveSession is what both live views need from a room session.
type liveSession interface {
	Snapshot() (session.View, error)
	Inbox(id string) (chat.Inbox, error)
	SendMessage(id, text string) error
	OpenInbox(id string) error
	CloseInbox(id string) error
	Updates() <-chan session.Update
	Done() <-chan struct{}
}

type mode int

const (
	modeRoster mode = iota
	modeInbox
	modeCompose
)

type (
	updateMsg session.Update
	viewMsg   struct {
		view  session.View
		inbox *chat.Inbox
	}
	actionMsg struct {
		what string
		err  error
	}
	tickMsg time.Time
	doneMsg struct{}
)

func waitUpdate(s liveSession) tea.Cmd {
	return func() tea.Msg {
		select {
		case u := <-s.Updates():
			return updateMsg(u)
		case <-s.Done():
			return doneMsg{}
		}
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func action(what string, fn func() error) tea.Cmd {
	return func() tea.Msg { return actionMsg{what: what, err: fn()} }
}

// live holds the state shared by the monitor and exam views.
type live struct {
	s       liveSession
	view    session.View
	mode    mode
	back    mode
	cursor  int
	inbox   *chat.Inbox
	inboxID string
	input   textinput.Model
	spinner spinner.Model
	notice  string
	status  string
	ready   bool
	done    bool
}

func newLive(s liveSession) live {
	in := textinput.New()
	in.Placeholder = "Type a message"
	in.CharLimit = 500
	in.Width = 60

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = SpinnerStyle

	return live{s: s, input: in, spinner: sp}
}

func (l *live) init() tea.Cmd {
	return tea.Batch(l.spinner.Tick, waitUpdate(l.s), l.fetch(), tick())
}

func (l *live) fetch() tea.Cmd {
	s, inboxID := l.s, l.inboxID
	return func() tea.Msg {
		v, err := s.Snapshot()
		if err != nil {
			return doneMsg{}
		}
		msg := viewMsg{view: v}
		if inboxID != "" {
			if in, err := s.Inbox(inboxID); err == nil {
				msg.inbox = &in
			}
		}
		return msg
	}
}

// selected returns the participant under the cursor.
func (l *live) selected() (session.ParticipantView, bool) {
	if l.cursor < 0 || l.cursor >= len(l.view.Participants) {
		return session.ParticipantView{}, false
	}
	return l.view.Participants[l.cursor], true
}

// update handles everything but role-specific keys. handled is false for key
// presses the caller should interpret.
func (l *live) update(msg tea.Msg) (cmd tea.Cmd, handled bool) {
	switch msg := msg.(type) {
	case updateMsg:
		if msg.Kind == session.UpdateNotice && msg.Err != nil {
			l.notice = msg.Err.Error()
		}
		return tea.Batch(waitUpdate(l.s), l.fetch()), true

	case viewMsg:
		l.view = msg.view
		l.ready = true
		if msg.inbox != nil && msg.inbox.Counterpart == l.inboxID {
			l.inbox = msg.inbox
		}
		if l.cursor >= len(l.view.Participants) {
			l.cursor = max(0, len(l.view.Participants)-1)
		}
		return nil, true

	case tickMsg:
		return tea.Batch(l.fetch(), tick()), true

	case actionMsg:
		if msg.err != nil {
			l.status = ErrorStyle.Render(fmt.Sprintf("%s failed: %v", msg.what, msg.err))
		} else {
			l.status = ""
		}
		return l.fetch(), true

	case doneMsg:
		l.done = true
		return tea.Quit, true

	case spinner.TickMsg:
		var c tea.Cmd
		l.spinner, c = l.spinner.Update(msg)
		return c, true

	case tea.KeyMsg:
		return l.key(msg)
	}
	return nil, false
}

func (l *live) key(msg tea.KeyMsg) (tea.Cmd, bool) {
	if msg.String() == "ctrl+c" {
		return tea.Quit, true
	}

	if l.mode == modeCompose {
		switch msg.String() {
		case "esc":
			l.input.Blur()
			l.input.Reset()
			l.mode = l.back
			return nil, true
		case "enter":
			text := l.input.Value()
			l.input.Reset()
			l.input.Blur()
			l.mode = modeInbox
			id := l.inboxID
			s := l.s
			return action("send message", func() error {
				if err := s.SendMessage(id, text); err != nil {
					return err
				}
				return s.OpenInbox(id)
			}), true
		}
		var c tea.Cmd
		l.input, c = l.input.Update(msg)
		return c, true
	}

	switch msg.String() {
	case "q":
		if l.mode == modeInbox {
			return l.closeInbox(), true
		}
		return tea.Quit, true
	case "esc":
		if l.mode == modeInbox {
			return l.closeInbox(), true
		}
		return nil, true
	case "up", "k":
		if l.cursor > 0 {
			l.cursor--
		}
		return nil, true
	case "down", "j":
		if l.cursor < len(l.view.Participants)-1 {
			l.cursor++
		}
		return nil, true
	case "enter":
		p, ok := l.selected()
		if !ok {
			return nil, true
		}
		l.openInbox(p.ID)
		s := l.s
		return action("open inbox", func() error { return s.OpenInbox(p.ID) }), true
	case "m":
		p, ok := l.selected()
		if !ok {
			return nil, true
		}
		l.back = l.mode
		if l.mode != modeInbox {
			l.openInbox(p.ID)
		}
		l.mode = modeCompose
		return l.input.Focus(), true
	}
	return nil, false
}

func (l *live) openInbox(id string) {
	if l.inboxID != id {
		l.inbox = nil
	}
	l.inboxID = id
	l.mode = modeInbox
}

func (l *live) closeInbox() tea.Cmd {
	id := l.inboxID
	l.mode = modeRoster
	l.inboxID = ""
	l.inbox = nil
	s := l.s
	return action("close inbox", func() error { return s.CloseInbox(id) })
}

func (l *live) name(id string) string {
	if id == l.view.LocalID {
		return "You"
	}
	if p, ok := l.view.Participant(id); ok {
		return p.Label
	}
	return id
}

func (l *live) inboxView() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n\n", IconChat, BoldStyle.Render(l.name(l.inboxID)))
	if l.inbox == nil || len(l.inbox.Records) == 0 {
		b.WriteString(MutedStyle.Render("No messages yet"))
	} else {
		for _, r := range l.inbox.Records {
			who := r.SenderName
			if r.Outgoing {
				who = "You"
			} else if who == "" {
				who = l.name(r.From)
			}
			fmt.Fprintf(&b, "%s %s %s\n", MutedStyle.Render(FormatClock(r.At)), BoldStyle.Render(who+":"), r.Text)
		}
	}
	if l.mode == modeCompose {
		b.WriteString("\n" + l.input.View())
	}
	return InboxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func (l *live) footer(keys string) string {
	var lines []string
	if l.notice != "" {
		lines = append(lines, NoticeStyle.Render(IconWarning+" "+l.notice))
	}
	if l.status != "" {
		lines = append(lines, l.status)
	}
	switch l.mode {
	case modeCompose:
		keys = "enter send • esc cancel"
	case modeInbox:
		keys = "m reply • esc close"
	}
	lines = append(lines, FooterStyle.Render(keys))
	return strings.Join(lines, "\n")
}
