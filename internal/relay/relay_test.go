package relay_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AgilWave/examina-proctor/internal/relay"
	"github.com/AgilWave/examina-proctor/internal/signaling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type participant struct {
	c   *signaling.Client
	evs chan signaling.Event
}

func startRelay(t *testing.T) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := relay.NewHub(nil)
	go hub.Run(ctx)

	srv := httptest.NewServer(relay.NewMux(hub))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func connect(t *testing.T, url string, codec signaling.Codec) *participant {
	t.Helper()
	p := &participant{
		c:   signaling.NewClient(url, codec),
		evs: make(chan signaling.Event, 64),
	}
	p.c.Subscribe(func(ev signaling.Event) { p.evs <- ev })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.c.Connect(ctx))
	require.NotEmpty(t, p.c.ID())
	t.Cleanup(func() { p.c.Close() })
	return p
}

// next returns the next event of type T, skipping others.
func next[T signaling.Event](t *testing.T, p *participant) T {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-p.evs:
			if v, ok := ev.(T); ok {
				return v
			}
		case <-timeout:
			var zero T
			t.Fatalf("no %T received", zero)
			return zero
		}
	}
}

func TestExamRoomRelay(t *testing.T) {
	url := startRelay(t)

	admin := connect(t, url, signaling.JSONCodec{})
	require.NoError(t, admin.c.Send(signaling.JoinExam{ExamID: "e1", Role: signaling.RoleAdmin, DisplayName: "Invigilator"}))
	assert.Empty(t, next[signaling.ExistingUsers](t, admin).Users)

	// mixed codecs share one room
	student := connect(t, url, signaling.MsgpackCodec{})
	require.NoError(t, student.c.Send(signaling.JoinExam{ExamID: "e1", Role: signaling.RoleStudent, ExternalID: "IT21001"}))

	existing := next[signaling.ExistingUsers](t, student)
	require.Len(t, existing.Users, 1)
	assert.Equal(t, signaling.Member{ID: admin.c.ID(), Role: signaling.RoleAdmin, DisplayName: "Invigilator"}, existing.Users[0])

	joined := next[signaling.UserJoined](t, admin)
	assert.Equal(t, student.c.ID(), joined.ID)
	assert.Equal(t, "IT21001", joined.ExternalID)

	roster := next[signaling.RosterUpdate](t, admin)
	assert.Len(t, roster.Users, 2)

	// addressed events are stamped with the sender
	offer := signaling.SignalData(`{"type":"offer","sdp":"v=0"}`)
	require.NoError(t, student.c.Send(signaling.Signal{To: admin.c.ID(), SignalData: offer}))
	sig := next[signaling.Signal](t, admin)
	assert.Equal(t, student.c.ID(), sig.Sender)
	assert.JSONEq(t, string(offer), string(sig.SignalData))

	require.NoError(t, student.c.Send(signaling.HelpRequest{ExamID: "e1"}))
	help := next[signaling.HelpRequest](t, admin)
	assert.Equal(t, student.c.ID(), help.From)

	require.NoError(t, admin.c.Send(signaling.PrivateMessage{To: student.c.ID(), Message: "noted", ParticipantID: student.c.ID()}))
	msg := next[signaling.PrivateMessage](t, student)
	assert.Equal(t, admin.c.ID(), msg.From)
	assert.Equal(t, "noted", msg.Message)

	require.NoError(t, admin.c.Send(signaling.VoiceConnectRequest{To: "ghost"}))
	assert.Contains(t, next[signaling.ServerError](t, admin).Message, "ghost")

	student.c.Close()
	left := next[signaling.UserLeft](t, admin)
	assert.Equal(t, student.c.ID(), left.ID)
}

func TestHelpRequestsReachProctorsOnly(t *testing.T) {
	url := startRelay(t)

	s1 := connect(t, url, signaling.JSONCodec{})
	require.NoError(t, s1.c.Send(signaling.JoinExam{ExamID: "e1", Role: signaling.RoleStudent}))
	next[signaling.ExistingUsers](t, s1)

	s2 := connect(t, url, signaling.JSONCodec{})
	require.NoError(t, s2.c.Send(signaling.JoinExam{ExamID: "e1", Role: signaling.RoleStudent}))
	next[signaling.ExistingUsers](t, s2)

	lecturer := connect(t, url, signaling.JSONCodec{})
	require.NoError(t, lecturer.c.Send(signaling.JoinExam{ExamID: "e1", Role: signaling.RoleLecturer}))
	next[signaling.ExistingUsers](t, lecturer)

	require.NoError(t, s1.c.Send(signaling.HelpRequest{ExamID: "e1"}))
	assert.Equal(t, s1.c.ID(), next[signaling.HelpRequest](t, lecturer).From)

	// s2 sees the lecturer join but never the help request
	next[signaling.UserJoined](t, s2)
	require.NoError(t, s1.c.Send(signaling.PrivateMessage{To: s2.c.ID(), Message: "marker"}))
	for {
		ev := <-s2.evs
		if _, ok := ev.(signaling.HelpRequest); ok {
			t.Fatal("student received a help request")
		}
		if pm, ok := ev.(signaling.PrivateMessage); ok {
			assert.Equal(t, "marker", pm.Message)
			break
		}
	}
}

func TestRoutedBeforeJoinIsRejected(t *testing.T) {
	url := startRelay(t)
	p := connect(t, url, signaling.JSONCodec{})
	require.NoError(t, p.c.Send(signaling.HelpRequest{ExamID: "e1"}))
	assert.Contains(t, next[signaling.ServerError](t, p).Message, "join")
}

func TestHealthAndBadCodec(t *testing.T) {
	hub := relay.NewHub(nil)
	srv := httptest.NewServer(relay.NewMux(hub))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "healthy")

	resp, err = http.Get(srv.URL + "/ws?codec=xml")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
