package peer_test

import (
	"errors"
	"math/rand"
	"sort"
	"testing"

	"github.com/AgilWave/examina-proctor/internal/peer"
	"github.com/AgilWave/examina-proctor/internal/peer/peertest"
	"github.com/AgilWave/examina-proctor/internal/signaling"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	to   string
	data string
}

type harness struct {
	m       *peer.Manager
	f       *peertest.Factory
	sent    []sent
	removed []string
}

func newHarness(localID string) *harness {
	h := &harness{f: &peertest.Factory{}}
	h.m = peer.NewManager(peer.Options{
		Keyspace: "media",
		LocalID:  localID,
		Factory:  h.f,
		Send: func(to string, data signaling.SignalData) error {
			h.sent = append(h.sent, sent{to: to, data: string(data)})
			return nil
		},
		OnRemoved: func(id string, _ error) { h.removed = append(h.removed, id) },
	})
	return h
}

func TestLiveEntriesTrackMembership(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	ids := []string{"s1", "s2", "s3", "s4", "s5", "a1"}

	h := newHarness("self")
	joined := map[string]bool{}

	for i := 0; i < 500; i++ {
		id := ids[rng.Intn(len(ids))]
		if rng.Intn(2) == 0 {
			h.m.OnParticipantJoined(id)
			joined[id] = true
		} else {
			h.m.OnParticipantLeft(id)
			delete(joined, id)
		}

		want := make([]string, 0, len(joined))
		for id := range joined {
			want = append(want, id)
		}
		sort.Strings(want)
		require.Equal(t, want, h.m.IDs(), "step %d", i)
	}
}

func TestLateJoinerInitiates(t *testing.T) {
	// S1 is alone in the room; A1 joins afterwards.
	s1 := newHarness("s1")
	a1 := newHarness("a1")

	a1.m.OnRosterSnapshot([]string{"s1", "a1"})
	s1.m.OnParticipantJoined("a1")

	ea, ok := a1.m.Get("s1")
	require.True(t, ok)
	assert.True(t, ea.Initiator)
	assert.True(t, a1.f.Last("s1").Config.Initiator)

	es, ok := s1.m.Get("a1")
	require.True(t, ok)
	assert.False(t, es.Initiator)

	_, self := a1.m.Get("a1")
	assert.False(t, self)
}

func TestEnsureIsIdempotent(t *testing.T) {
	h := newHarness("self")

	first, err := h.m.Ensure("s1", true)
	require.NoError(t, err)
	second, err := h.m.Ensure("s1", false)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.True(t, second.Initiator)
	assert.Len(t, h.f.Conns(), 1)
	assert.Zero(t, h.f.Conns()[0].Closed())
	assert.Equal(t, 1, h.m.Len())
}

func TestEnsureRejectsSelf(t *testing.T) {
	h := newHarness("self")
	_, err := h.m.Ensure("self", true)
	assert.ErrorIs(t, err, peer.ErrSelfConnection)
	assert.Zero(t, h.m.Len())
}

func TestTeardownIgnoresLateCallbacks(t *testing.T) {
	h := newHarness("self")
	h.m.OnRosterSnapshot([]string{"s1", "s2"})
	conns := h.f.Conns()
	require.Len(t, conns, 2)

	h.m.TeardownAll()
	assert.Zero(t, h.m.Len())

	for _, c := range conns {
		assert.Equal(t, 1, c.Closed())
		c.EmitSignal(peertest.Offer)
		c.Connect()
		c.Fail(errors.New("ice failed"))
		c.RemoteClose()
	}

	assert.Zero(t, h.m.Len())
	assert.Empty(t, h.sent)
	assert.Empty(t, h.removed)

	h.m.TeardownAll()
	assert.Zero(t, h.m.Len())
}

func TestOutboundSignalsAddressedToRemote(t *testing.T) {
	h := newHarness("self")
	h.m.OnRosterSnapshot([]string{"s1", "s2"})

	h.f.Last("s2").EmitSignal(peertest.Offer)
	h.f.Last("s1").EmitSignal(peertest.Candidate)

	assert.Equal(t, []sent{
		{to: "s2", data: peertest.Offer},
		{to: "s1", data: peertest.Candidate},
	}, h.sent)
}

func TestOnSignalRouting(t *testing.T) {
	tests := []struct {
		name      string
		existing  *bool
		signal    string
		wantErr   error
		applied   bool
		initiator bool
	}{
		{name: "offer without entry creates answerer", signal: peertest.Offer, applied: true},
		{name: "candidate without entry dropped", signal: peertest.Candidate, wantErr: peer.ErrNoConnection},
		{name: "answer without entry dropped", signal: peertest.Answer, wantErr: peer.ErrNoConnection},
		{name: "answer to initiator applied", existing: ptr(true), signal: peertest.Answer, applied: true, initiator: true},
		{name: "answer to answerer discarded", existing: ptr(false), signal: peertest.Answer, wantErr: peer.ErrProtocolViolation},
		{name: "offer to answerer applied", existing: ptr(false), signal: peertest.Offer, applied: true},
		{name: "candidate to initiator applied", existing: ptr(true), signal: peertest.Candidate, applied: true, initiator: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// "z" sorts after every sender so it never yields in glare.
			h := newHarness("z")
			if tt.existing != nil {
				_, err := h.m.Ensure("s1", *tt.existing)
				require.NoError(t, err)
			}

			err := h.m.OnSignal("s1", signaling.SignalData(tt.signal))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}

			if !tt.applied {
				if c := h.f.Last("s1"); c != nil {
					assert.Empty(t, c.Signals())
				}
				return
			}
			e, ok := h.m.Get("s1")
			require.True(t, ok)
			assert.Equal(t, tt.initiator, e.Initiator)
			assert.Equal(t, []signaling.SignalData{signaling.SignalData(tt.signal)}, h.f.Last("s1").Signals())
		})
	}
}

func TestGlareLeavesExactlyOneConnection(t *testing.T) {
	// Both sides believe they joined late and initiate at the same time.
	a := newHarness("a1")
	s := newHarness("s1")
	a.m.OnRosterSnapshot([]string{"s1"})
	s.m.OnRosterSnapshot([]string{"a1"})

	a.f.Last("s1").EmitSignal(peertest.Offer)
	s.f.Last("a1").EmitSignal(peertest.Offer)
	require.Len(t, a.sent, 1)
	require.Len(t, s.sent, 1)

	// Deliver the crossing offers.
	errA := a.m.OnSignal("s1", signaling.SignalData(s.sent[0].data))
	errS := s.m.OnSignal("a1", signaling.SignalData(a.sent[0].data))

	// "a1" < "s1": a1 yields and answers, s1 discards the contradicting offer.
	assert.NoError(t, errA)
	assert.ErrorIs(t, errS, peer.ErrProtocolViolation)

	ea, _ := a.m.Get("s1")
	es, _ := s.m.Get("a1")
	assert.False(t, ea.Initiator)
	assert.True(t, es.Initiator)
	assert.Equal(t, 1, a.m.Len())
	assert.Equal(t, 1, s.m.Len())

	// a1's abandoned initiator connection was closed without a removal report.
	conns := a.f.Conns()
	require.Len(t, conns, 2)
	assert.Equal(t, 1, conns[0].Closed())
	assert.Zero(t, conns[1].Closed())
	assert.Empty(t, a.removed)

	// The answer completes the surviving pairing.
	a.f.Last("s1").EmitSignal(peertest.Answer)
	require.NoError(t, s.m.OnSignal("a1", signaling.SignalData(a.sent[len(a.sent)-1].data)))
	assert.Len(t, s.f.Last("a1").Signals(), 1)
}

func TestOfferAgainstConnectedInitiatorDiscarded(t *testing.T) {
	h := newHarness("a1")
	e, err := h.m.Ensure("s1", true)
	require.NoError(t, err)
	h.f.Last("s1").Connect()
	assert.Equal(t, peer.StateConnected, e.State)

	err = h.m.OnSignal("s1", signaling.SignalData(peertest.Offer))
	assert.ErrorIs(t, err, peer.ErrProtocolViolation)
	assert.Len(t, h.f.Conns(), 1)
}

func TestErrorRemovesOnlyThatEntry(t *testing.T) {
	h := newHarness("self")
	h.m.OnRosterSnapshot([]string{"s1", "s2"})

	h.f.Last("s1").Fail(errors.New("dtls handshake failed"))

	assert.Equal(t, []string{"s2"}, h.m.IDs())
	assert.Equal(t, []string{"s1"}, h.removed)
	assert.Equal(t, 1, h.f.Last("s1").Closed())

	h.f.Last("s2").RemoteClose()
	assert.Zero(t, h.m.Len())
	assert.Equal(t, []string{"s1", "s2"}, h.removed)
}

func TestSignalApplyFailureDestroysEntry(t *testing.T) {
	h := newHarness("self")
	_, err := h.m.Ensure("s1", true)
	require.NoError(t, err)
	h.f.Last("s1").FailNextSignal(errors.New("bad sdp"))

	err = h.m.OnSignal("s1", signaling.SignalData(peertest.Answer))
	assert.Error(t, err)
	assert.Zero(t, h.m.Len())
	assert.Equal(t, []string{"s1"}, h.removed)
}

func TestFactoryFailureLeavesNoEntry(t *testing.T) {
	h := newHarness("self")
	h.f.Err = errors.New("no ice servers")

	_, err := h.m.Ensure("s1", true)
	assert.ErrorIs(t, err, peer.ErrConnectionFailed)
	assert.Zero(t, h.m.Len())
}

func TestReplaceTrackKeepsState(t *testing.T) {
	h := newHarness("s1")
	cam1 := peertest.Track(webrtc.RTPCodecTypeVideo, "cam-1")
	mic := peertest.Track(webrtc.RTPCodecTypeAudio, "mic-1")
	h.m.SetLocalTracks(cam1, mic)

	h.m.OnParticipantJoined("a1")
	h.m.OnParticipantJoined("l1")
	for _, c := range h.f.Conns() {
		c.Connect()
		assert.Len(t, c.Config.Tracks, 2)
	}

	cam2 := peertest.Track(webrtc.RTPCodecTypeVideo, "cam-2")
	require.NoError(t, h.m.ReplaceTrack(cam2))

	for _, id := range []string{"a1", "l1"} {
		e, ok := h.m.Get(id)
		require.True(t, ok)
		assert.Equal(t, peer.StateConnected, e.State)
		assert.Same(t, cam2, e.Outbound[webrtc.RTPCodecTypeVideo])
		assert.Same(t, mic, e.Outbound[webrtc.RTPCodecTypeAudio])
		assert.Equal(t, []webrtc.TrackLocal{cam2}, h.f.Last(id).Replaced())
		assert.Zero(t, h.f.Last(id).Closed())
	}
	assert.Len(t, h.f.Conns(), 2)

	// New connections pick up the replacement.
	h.m.OnParticipantJoined("a2")
	var ids []string
	for _, tr := range h.f.Last("a2").Config.Tracks {
		ids = append(ids, tr.ID())
	}
	assert.ElementsMatch(t, []string{"cam-2", "mic-1"}, ids)
}

func ptr[T any](v T) *T { return &v }
