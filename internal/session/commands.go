package session

import (
	"github.com/AgilWave/examina-proctor/internal/chat"
	"github.com/AgilWave/examina-proctor/internal/media"
	"github.com/AgilWave/examina-proctor/internal/signaling"
	"github.com/AgilWave/examina-proctor/internal/voice"
)

// Snapshot returns the current state for rendering.
func (s *Session) Snapshot() (View, error) {
	var v View
	err := s.call(func() error {
		v = s.view()
		return nil
	})
	return v, err
}

func (s *Session) view() View {
	v := View{
		ExamID:  s.opts.ExamID,
		LocalID: s.localID,
		Role:    s.opts.Role,
	}
	if s.publisher != nil {
		v.Webcam, v.Mic = s.publisher.Status()
	}

	members := s.roster.Snapshot()
	if s.opts.Role.Proctor() {
		members = s.roster.Students()
	}
	for _, p := range members {
		row := ParticipantView{
			Participant: p,
			Label:       p.Label(),
			Stale:       s.roster.Stale(p.ID),
			Voice:       s.voice.State(p.ID),
			Unread:      s.chat.Unread(p.ID),
		}
		if e, ok := s.peers.Get(p.ID); ok {
			row.Connected = true
			row.Connection = e.State
		}
		row.VideoPackets, row.AudioPackets = s.stats.get(p.ID)
		v.Participants = append(v.Participants, row)
	}
	return v
}

// Inbox returns the conversation with id.
func (s *Session) Inbox(id string) (chat.Inbox, error) {
	var in chat.Inbox
	err := s.call(func() error {
		in = s.chat.Inbox(id)
		return nil
	})
	return in, err
}

// SendMessage sends a private message to id.
func (s *Session) SendMessage(id, text string) error {
	return s.call(func() error {
		err := s.chat.Send(id, text)
		s.notify(Update{Kind: UpdateMessage, RemoteID: id})
		return err
	})
}

// OpenInbox shows the conversation with id and acknowledges a raised hand.
func (s *Session) OpenInbox(id string) error {
	return s.call(func() error {
		s.chat.Open(id)
		return nil
	})
}

// CloseInbox hides the conversation with id.
func (s *Session) CloseInbox(id string) error {
	return s.call(func() error {
		s.chat.Close(id)
		return nil
	})
}

// RaiseHand asks every proctor in the room for help.
func (s *Session) RaiseHand() error {
	if s.opts.Role != signaling.RoleStudent {
		return ErrNotAllowed
	}
	return s.call(func() error {
		return s.opts.Channel.Send(signaling.HelpRequest{From: s.localID, ExamID: s.opts.ExamID})
	})
}

// ToggleVoice opens the voice channel to id, or closes it when one exists.
func (s *Session) ToggleVoice(id string) error {
	if !s.opts.Role.Proctor() {
		return ErrNotAllowed
	}
	return s.call(func() error {
		if s.voice.State(id) != voice.StateIdle {
			return s.voice.Disconnect(id)
		}
		err := s.voice.Request(id)
		if media.IsAccessError(err) {
			s.notify(Update{Kind: UpdateNotice, RemoteID: id, Err: err})
		}
		return err
	})
}

// SwitchDevices replaces the published camera and microphone without
// recreating any connection.
func (s *Session) SwitchDevices(videoDeviceID, audioDeviceID string) error {
	if s.publisher == nil {
		return ErrNotAllowed
	}
	return s.call(func() error {
		err := s.publisher.Switch(videoDeviceID, audioDeviceID)
		if media.IsAccessError(err) {
			s.notify(Update{Kind: UpdateNotice, Err: err})
			return err
		}
		s.sendStatus()
		return err
	})
}

// EndVoice hangs up the voice channel with id from either side. Nothing is
// sent when no channel exists.
func (s *Session) EndVoice(id string) error {
	return s.call(func() error {
		if s.voice.State(id) == voice.StateIdle {
			return nil
		}
		return s.voice.Disconnect(id)
	})
}
