package session

import (
	"sync"
	"sync/atomic"

	"github.com/AgilWave/examina-proctor/internal/peer"
	"github.com/AgilWave/examina-proctor/internal/roster"
	"github.com/AgilWave/examina-proctor/internal/signaling"
	"github.com/AgilWave/examina-proctor/internal/voice"
	"github.com/pion/webrtc/v4"
)

// UpdateKind says what changed.
type UpdateKind int

const (
	UpdateRoster UpdateKind = iota
	UpdateConnection
	UpdateVoice
	UpdateMessage
	UpdateTrack
	// UpdateNotice carries a media access failure for the user.
	UpdateNotice
)

// Update tells a view to redraw. Err is only set for UpdateNotice.
type Update struct {
	Kind     UpdateKind
	RemoteID string
	Err      error
}

// ParticipantView is one roster row with its connection state.
type ParticipantView struct {
	roster.Participant
	Label      string
	Stale      bool
	Connected  bool
	Connection peer.State
	Voice      voice.State
	Unread     int
	// Packets received per media kind on the main connection.
	VideoPackets uint64
	AudioPackets uint64
}

// View is a copy of the session state for rendering.
type View struct {
	ExamID       string
	LocalID      string
	Role         signaling.Role
	Participants []ParticipantView
	// Webcam and Mic report what the local side publishes.
	Webcam bool
	Mic    bool
}

// Participant returns the row for id.
func (v View) Participant(id string) (ParticipantView, bool) {
	for _, p := range v.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return ParticipantView{}, false
}

type counter struct {
	video atomic.Uint64
	audio atomic.Uint64
}

// trackStats counts RTP packets read from remote tracks. Readers run on their
// own goroutines, so access is locked.
type trackStats struct {
	mu     sync.Mutex
	byPeer map[string]*counter
}

func newTrackStats() *trackStats {
	return &trackStats{byPeer: make(map[string]*counter)}
}

func (t *trackStats) counter(remoteID string) *counter {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.byPeer[remoteID]
	if !ok {
		c = &counter{}
		t.byPeer[remoteID] = c
	}
	return c
}

func (t *trackStats) get(remoteID string) (video, audio uint64) {
	t.mu.Lock()
	c, ok := t.byPeer[remoteID]
	t.mu.Unlock()
	if !ok {
		return 0, 0
	}
	return c.video.Load(), c.audio.Load()
}

func (t *trackStats) forget(remoteID string) {
	t.mu.Lock()
	delete(t.byPeer, remoteID)
	t.mu.Unlock()
}

// drain reads track until it ends, counting packets.
func (t *trackStats) drain(remoteID string, track *webrtc.TrackRemote) {
	c := t.counter(remoteID)
	n := &c.video
	if track.Kind() == webrtc.RTPCodecTypeAudio {
		n = &c.audio
	}
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			return
		}
		n.Add(1)
	}
}
