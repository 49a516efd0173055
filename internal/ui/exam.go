package ui

import (
	"fmt"
	"strings"

	"github.com/AgilWave/examina-proctor/internal/media"
	"github.com/AgilWave/examina-proctor/internal/voice"
	tea "github.com/charmbracelet/bubbletea"
)

// ExamSession is the student side of a room session.
type ExamSession interface {
	liveSession
	RaiseHand() error
	EndVoice(id string) error
	SwitchDevices(videoDeviceID, audioDeviceID string) error
}

// Exam is the student view: local publishing state, the proctors in the room,
// help requests and chat.
type Exam struct {
	live
	s       ExamSession
	cameras []media.Device
	camera  int
	audioID string
}

// NewExam creates a student view. cameras is the list d cycles through,
// starting after videoDeviceID. audioDeviceID stays fixed across switches.
func NewExam(s ExamSession, cameras []media.Device, videoDeviceID, audioDeviceID string) *Exam {
	e := &Exam{live: newLive(s), s: s, cameras: cameras, audioID: audioDeviceID}
	for i, c := range cameras {
		if c.ID == videoDeviceID {
			e.camera = i
		}
	}
	return e
}

func (e *Exam) Init() tea.Cmd {
	return e.init()
}

func (e *Exam) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok && e.mode != modeCompose {
		switch key.String() {
		case "h":
			s := e.s
			return e, action("raise hand", s.RaiseHand)
		case "x":
			id, ok := e.voicePeer()
			if !ok {
				e.status = WarningStyle.Render("No voice call to end")
				return e, nil
			}
			s := e.s
			return e, action("end voice", func() error { return s.EndVoice(id) })
		case "d":
			if len(e.cameras) < 2 {
				e.status = WarningStyle.Render("No other camera to switch to")
				return e, nil
			}
			e.camera = (e.camera + 1) % len(e.cameras)
			s, video, audio := e.s, e.cameras[e.camera].ID, e.audioID
			return e, action("switch camera", func() error { return s.SwitchDevices(video, audio) })
		}
	}
	cmd, _ := e.update(msg)
	return e, cmd
}

func (e *Exam) View() string {
	if e.done {
		return ""
	}
	var b strings.Builder
	b.WriteString(HeaderStyle.Render(fmt.Sprintf("%s Exam %s", IconExam, e.view.ExamID)))
	b.WriteString("\n")
	if !e.ready {
		b.WriteString(e.spinner.View() + " Joining exam room...")
		return b.String()
	}

	fmt.Fprintf(&b, "Publishing  %s camera  %s microphone\n",
		publishing(e.view.Webcam, IconCamera), publishing(e.view.Mic, IconMic))
	if len(e.cameras) > 0 {
		fmt.Fprintf(&b, "%s\n", MutedStyle.Render("Camera: "+e.cameras[e.camera].Label))
	}
	b.WriteString(RosterTable(e.view.Participants, e.cursor))
	b.WriteString("\n")

	if e.mode != modeRoster {
		b.WriteString(e.inboxView())
		b.WriteString("\n")
	}
	b.WriteString(e.footer("↑/↓ select • h raise hand • d switch camera • x end voice • enter/m chat • q quit"))
	return b.String()
}

// voicePeer picks the selected proctor when a call with them exists, else the
// first proctor with one.
func (e *Exam) voicePeer() (string, bool) {
	if p, ok := e.selected(); ok && p.Voice != voice.StateIdle {
		return p.ID, true
	}
	for _, p := range e.view.Participants {
		if p.Voice != voice.StateIdle {
			return p.ID, true
		}
	}
	return "", false
}

func publishing(on bool, icon string) string {
	if on {
		return SuccessStyle.Render(icon + " on")
	}
	return ErrorStyle.Render(icon + " off")
}
