package session_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/AgilWave/examina-proctor/internal/media"
	"github.com/AgilWave/examina-proctor/internal/media/mediatest"
	"github.com/AgilWave/examina-proctor/internal/peer"
	"github.com/AgilWave/examina-proctor/internal/peer/peertest"
	"github.com/AgilWave/examina-proctor/internal/session"
	"github.com/AgilWave/examina-proctor/internal/signaling"
	"github.com/AgilWave/examina-proctor/internal/voice"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const examID = "exam-42"

type channel struct {
	id string

	mu   sync.Mutex
	sent []signaling.Event
	subs map[int]func(signaling.Event)
	next int
}

func newChannel(id string) *channel {
	return &channel{id: id, subs: make(map[int]func(signaling.Event))}
}

func (c *channel) ID() string { return c.id }

func (c *channel) Send(ev signaling.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, ev)
	return nil
}

func (c *channel) Subscribe(fn func(signaling.Event)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.next
	c.next++
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *channel) deliver(ev signaling.Event) {
	c.mu.Lock()
	subs := make([]func(signaling.Event), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (c *channel) subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

func (c *channel) events() []signaling.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]signaling.Event(nil), c.sent...)
}

func (c *channel) last() signaling.Event {
	evs := c.events()
	if len(evs) == 0 {
		return nil
	}
	return evs[len(evs)-1]
}

type harness struct {
	s       *session.Session
	ch      *channel
	factory *peertest.Factory
	devices *mediatest.Devices
	stop    func()
}

func start(t *testing.T, localID string, role signaling.Role, devices *mediatest.Devices) *harness {
	t.Helper()
	return startWith(t, localID, role, devices, &peertest.Factory{})
}

func startWith(t *testing.T, localID string, role signaling.Role, devices *mediatest.Devices, factory *peertest.Factory) *harness {
	t.Helper()
	h := &harness{ch: newChannel(localID), factory: factory, devices: devices}
	s, err := session.New(session.Options{
		ExamID:      examID,
		Role:        role,
		DisplayName: "Local " + localID,
		Channel:     h.ch,
		Factory:     h.factory,
		Media:       media.NewAcquirer(devices, nil),
		StatusTTL:   time.Minute,
	})
	require.NoError(t, err)
	h.s = s

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		for _, ev := range h.ch.events() {
			if _, ok := ev.(signaling.JoinExam); ok {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
	// the loop only serves commands once the join sequence is done
	_, err = s.Snapshot()
	require.NoError(t, err)

	var once sync.Once
	h.stop = func() {
		once.Do(func() {
			cancel()
			require.NoError(t, <-errc)
		})
	}
	t.Cleanup(h.stop)
	return h
}

func (h *harness) view(t *testing.T) session.View {
	t.Helper()
	v, err := h.s.Snapshot()
	require.NoError(t, err)
	return v
}

func waitNotice(t *testing.T, s *session.Session) session.Update {
	t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case u := <-s.Updates():
			if u.Kind == session.UpdateNotice {
				return u
			}
		case <-timeout:
			t.Fatal("no notice")
			return session.Update{}
		}
	}
}

func TestProctorLifecycle(t *testing.T) {
	h := start(t, "a1", signaling.RoleAdmin, mediatest.New(nil, []string{"mic"}))
	assert.Equal(t, signaling.JoinExam{ExamID: examID, Role: signaling.RoleAdmin, DisplayName: "Local a1"}, h.ch.events()[0])

	h.ch.deliver(signaling.ExistingUsers{Users: []signaling.Member{
		{ID: "s1", Role: signaling.RoleStudent, DisplayName: "Nimal"},
		{ID: "a2", Role: signaling.RoleLecturer},
		{ID: "a1", Role: signaling.RoleAdmin},
	}})
	v := h.view(t)

	// only the student is shown and connected, as initiator
	require.Len(t, v.Participants, 1)
	assert.Equal(t, "Nimal", v.Participants[0].Label)
	assert.True(t, v.Participants[0].Stale)
	require.Len(t, h.factory.Conns(), 1)
	conn := h.factory.Last("s1")
	assert.True(t, conn.Config.Initiator)
	assert.Empty(t, conn.Config.Tracks)
	assert.Equal(t, []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio}, conn.Config.Receive)

	// callbacks fired from transport goroutines are serialized on the loop
	conn.EmitSignal(peertest.Offer)
	conn.Connect()
	v = h.view(t)
	assert.Equal(t, signaling.Signal{To: "s1", SignalData: signaling.SignalData(peertest.Offer)}, h.ch.last())
	p, ok := v.Participant("s1")
	require.True(t, ok)
	assert.True(t, p.Connected)
	assert.Equal(t, peer.StateConnected, p.Connection)

	h.ch.deliver(signaling.MediaStatus{Sender: "s1", Webcam: true, ExamID: examID})
	h.ch.deliver(signaling.MediaStatus{Sender: "s1", Mic: true, ExamID: "other-exam"})
	h.ch.deliver(signaling.HelpRequest{From: "s1", ExamID: examID})
	h.ch.deliver(signaling.PrivateMessage{From: "s1", To: "a1", Message: "help", ParticipantID: "s1"})
	p, _ = h.view(t).Participant("s1")
	assert.True(t, p.MediaStatus.Webcam)
	assert.False(t, p.MediaStatus.Mic)
	assert.False(t, p.Stale)
	assert.True(t, p.HandRaised)
	assert.Equal(t, 1, p.Unread)

	require.NoError(t, h.s.OpenInbox("s1"))
	p, _ = h.view(t).Participant("s1")
	assert.False(t, p.HandRaised, "opening the inbox acknowledges")
	assert.Zero(t, p.Unread)

	in, err := h.s.Inbox("s1")
	require.NoError(t, err)
	require.Len(t, in.Records, 1)
	assert.Equal(t, "help", in.Records[0].Text)

	h.ch.deliver(signaling.UserLeft{ID: "s1"})
	assert.Empty(t, h.view(t).Participants)
	assert.Equal(t, 1, conn.Closed())
}

func TestStudentPublishesAndSwitchesInPlace(t *testing.T) {
	devices := mediatest.New([]string{"cam-1", "cam-2"}, []string{"mic-1"})
	devices.Exclusive = true
	h := start(t, "s1", signaling.RoleStudent, devices)

	assert.Equal(t, signaling.MediaStatus{Sender: "s1", Webcam: true, Mic: true, ExamID: examID}, h.ch.last())

	h.ch.deliver(signaling.UserJoined{ID: "a1", Role: signaling.RoleAdmin})
	h.ch.deliver(signaling.UserJoined{ID: "s2", Role: signaling.RoleStudent})
	v := h.view(t)
	assert.True(t, v.Webcam)
	assert.Len(t, v.Participants, 2)

	require.Len(t, h.factory.Conns(), 1, "students never connect to each other")
	conn := h.factory.Last("a1")
	assert.False(t, conn.Config.Initiator)
	assert.Len(t, conn.Config.Tracks, 2)
	conn.Connect()

	before := len(h.ch.events())
	require.NoError(t, h.s.SwitchDevices("cam-2", "mic-1"))
	p, _ := h.view(t).Participant("a1")
	assert.Equal(t, peer.StateConnected, p.Connection)
	require.Len(t, conn.Replaced(), 1, "only the camera is replaced")
	assert.Equal(t, webrtc.RTPCodecTypeVideo, conn.Replaced()[0].Kind())
	assert.Len(t, h.factory.Conns(), 1)

	// the switch only repeats the media status
	after := h.ch.events()[before:]
	require.Len(t, after, 1)
	assert.IsType(t, signaling.MediaStatus{}, after[0])

	require.NoError(t, h.s.RaiseHand())
	assert.Equal(t, signaling.HelpRequest{From: "s1", ExamID: examID}, h.ch.last())
	assert.ErrorIs(t, h.s.ToggleVoice("a1"), session.ErrNotAllowed)
}

func TestStudentWithoutCameraKeepsSession(t *testing.T) {
	devices := mediatest.New([]string{"cam"}, []string{"mic"})
	devices.SetDeny(media.VideoInput, true)
	h := start(t, "s1", signaling.RoleStudent, devices)

	u := waitNotice(t, h.s)
	assert.True(t, media.IsAccessError(u.Err))
	assert.Equal(t, signaling.MediaStatus{Sender: "s1", ExamID: examID}, h.ch.last())

	h.ch.deliver(signaling.UserJoined{ID: "a1", Role: signaling.RoleAdmin})
	assert.Len(t, h.view(t).Participants, 1)
}

func TestVoiceDeniedOnStudentSide(t *testing.T) {
	devices := mediatest.New([]string{"cam"}, []string{"mic"})
	h := start(t, "s1", signaling.RoleStudent, devices)
	h.ch.deliver(signaling.UserJoined{ID: "a1", Role: signaling.RoleAdmin})
	h.view(t)
	video := h.factory.Last("a1")
	require.NotNil(t, video)
	video.Connect()

	devices.SetDeny(media.AudioInput, true)
	before := len(h.ch.events())
	h.ch.deliver(signaling.VoiceConnectRequest{To: "s1", From: "a1"})

	u := waitNotice(t, h.s)
	assert.Equal(t, "a1", u.RemoteID)
	assert.ErrorIs(t, u.Err, media.ErrPermissionDenied)

	p, _ := h.view(t).Participant("a1")
	assert.Equal(t, voice.StateIdle, p.Voice)
	assert.Equal(t, peer.StateConnected, p.Connection)
	assert.Zero(t, video.Closed())
	assert.Len(t, h.ch.events(), before, "nothing is sent back")
	assert.Len(t, h.factory.Conns(), 1)
}

func TestProctorVoiceToggle(t *testing.T) {
	h := start(t, "a1", signaling.RoleAdmin, mediatest.New(nil, []string{"mic"}))
	h.ch.deliver(signaling.UserJoined{ID: "s1", Role: signaling.RoleStudent})

	require.NoError(t, h.s.ToggleVoice("s1"))
	assert.Equal(t, signaling.VoiceConnectRequest{To: "s1", From: "a1"}, h.ch.last())
	p, _ := h.view(t).Participant("s1")
	assert.Equal(t, voice.StateRequested, p.Voice)

	h.ch.deliver(signaling.VoiceSignal{Sender: "s1", To: "a1", SignalData: signaling.SignalData(peertest.Offer)})
	p, _ = h.view(t).Participant("s1")
	assert.Equal(t, voice.StateConnecting, p.Voice)
	require.Len(t, h.factory.Conns(), 2)

	require.NoError(t, h.s.ToggleVoice("s1"))
	assert.Equal(t, signaling.VoiceDisconnect{To: "s1", From: "a1"}, h.ch.last())
	p, _ = h.view(t).Participant("s1")
	assert.Equal(t, voice.StateIdle, p.Voice)
	assert.True(t, p.Connected, "the media connection stays")
	assert.Empty(t, h.devices.Live())
}

func TestTeardownLeavesChannelOpen(t *testing.T) {
	h := start(t, "a1", signaling.RoleAdmin, mediatest.New(nil, []string{"mic"}))
	h.ch.deliver(signaling.ExistingUsers{Users: []signaling.Member{{ID: "s1", Role: signaling.RoleStudent}, {ID: "s2", Role: signaling.RoleStudent}}})
	require.NoError(t, h.s.ToggleVoice("s1"))
	assert.Len(t, h.view(t).Participants, 2)

	h.stop()
	<-h.s.Done()

	assert.Zero(t, h.ch.subscribers())
	for _, c := range h.factory.Conns() {
		assert.Equal(t, 1, c.Closed())
	}
	assert.Empty(t, h.devices.Live())

	// late completions and commands are no-ops
	h.factory.Last("s1").Connect()
	h.ch.deliver(signaling.UserJoined{ID: "s3", Role: signaling.RoleStudent})
	_, err := h.s.Snapshot()
	assert.ErrorIs(t, err, session.ErrSessionClosed)
	assert.Len(t, h.factory.Conns(), 2)
}

func TestRunRequiresConnectedChannel(t *testing.T) {
	s, err := session.New(session.Options{
		ExamID:  examID,
		Role:    signaling.RoleAdmin,
		Channel: newChannel(""),
		Factory: &peertest.Factory{},
	})
	require.NoError(t, err)
	assert.ErrorIs(t, s.Run(context.Background()), session.ErrNotConnected)

	_, err = session.New(session.Options{ExamID: examID, Role: "guest", Channel: newChannel("x"), Factory: &peertest.Factory{}})
	assert.Error(t, err)
}

func TestBurstOfOffersKeepsLoopResponsive(t *testing.T) {
	factory := &peertest.Factory{AnswerOffers: true}
	h := startWith(t, "a1", signaling.RoleAdmin, mediatest.New(nil, []string{"mic"}), factory)

	const students = 400
	go func() {
		for i := 0; i < students; i++ {
			id := fmt.Sprintf("s%03d", i)
			h.ch.deliver(signaling.UserJoined{ID: id, Role: signaling.RoleStudent})
			h.ch.deliver(signaling.Signal{Sender: id, To: "a1", SignalData: signaling.SignalData(peertest.Offer)})
		}
	}()

	// every answer produced inside the loop is sent, and commands still run
	answers := func() int {
		n := 0
		for _, ev := range h.ch.events() {
			if sig, ok := ev.(signaling.Signal); ok && string(sig.SignalData) == peertest.Answer {
				n++
			}
		}
		return n
	}
	require.Eventually(t, func() bool {
		v, err := h.s.Snapshot()
		return err == nil && len(v.Participants) == students && answers() == students
	}, 5*time.Second, 10*time.Millisecond)
	assert.Len(t, factory.Conns(), students)
}

func TestStudentEndsVoice(t *testing.T) {
	h := start(t, "s1", signaling.RoleStudent, mediatest.New([]string{"cam"}, []string{"mic"}))
	h.ch.deliver(signaling.UserJoined{ID: "a1", Role: signaling.RoleLecturer})
	h.view(t)
	video := h.factory.Last("a1")
	require.NotNil(t, video)

	before := len(h.ch.events())
	require.NoError(t, h.s.EndVoice("a1"))
	assert.Len(t, h.ch.events(), before, "no channel, nothing sent")

	h.ch.deliver(signaling.VoiceConnectRequest{To: "s1", From: "a1"})
	p, _ := h.view(t).Participant("a1")
	require.NotEqual(t, voice.StateIdle, p.Voice)
	require.Len(t, h.factory.Conns(), 2)
	voiceConn := h.factory.Conns()[1]

	require.NoError(t, h.s.EndVoice("a1"))
	assert.Equal(t, signaling.VoiceDisconnect{To: "a1", From: "s1"}, h.ch.last())
	p, _ = h.view(t).Participant("a1")
	assert.Equal(t, voice.StateIdle, p.Voice)
	assert.Equal(t, 1, voiceConn.Closed())
	assert.Zero(t, video.Closed(), "video is untouched")
}
