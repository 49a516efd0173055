// Package voice manages the audio-only side channel between a proctor and a
// student. Its connections live in their own keyspace and never touch the
// main media connections.
package voice

import (
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/AgilWave/examina-proctor/internal/media"
	"github.com/AgilWave/examina-proctor/internal/peer"
	"github.com/AgilWave/examina-proctor/internal/signaling"
	"github.com/pion/webrtc/v4"
)

// DefaultRequestTimeout is how long a request may stay unanswered.
const DefaultRequestTimeout = 30 * time.Second

var (
	ErrActive    = errors.New("voice channel already active")
	ErrNoRequest = errors.New("no voice request for participant")
)

// State of a voice pairing.
type State int

const (
	StateIdle State = iota
	StateRequested
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateRequested:
		return "requested"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "idle"
	}
}

// AudioSource opens a microphone-only stream.
type AudioSource interface {
	AcquireAudio(audioDeviceID string) (*media.Stream, error)
}

// Options configures a Manager.
type Options struct {
	LocalID       string
	Factory       peer.Factory
	Audio         AudioSource
	AudioDeviceID string
	Send          func(ev signaling.Event) error

	// OnState reports every transition, including the return to idle. err is
	// set when the pairing ended because of a failure.
	OnState func(remoteID string, state State, err error)
	OnTrack func(remoteID string, track *webrtc.TrackRemote)
	// OnAccessError reports a microphone that could not be opened for a
	// remote request.
	OnAccessError func(remoteID string, err error)

	RequestTimeout time.Duration
	Logger         *slog.Logger
	Now            func() time.Time
}

// maxEarlySignals bounds the payloads held for a requester before the
// offer arrives.
const maxEarlySignals = 32

type pairing struct {
	state       State
	stream      *media.Stream
	requestedAt time.Time
	// early holds payloads that arrived before the remote offer.
	early []signaling.SignalData
}

// Manager owns every voice pairing of the local participant. Like
// peer.Manager it is driven from a single goroutine.
type Manager struct {
	opts     Options
	log      *slog.Logger
	peers    *peer.Manager
	pairings map[string]*pairing
}

// NewManager creates a voice manager.
func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Send == nil {
		opts.Send = func(signaling.Event) error { return nil }
	}

	m := &Manager{
		opts:     opts,
		log:      opts.Logger.With("keyspace", "voice"),
		pairings: make(map[string]*pairing),
	}
	m.peers = peer.NewManager(peer.Options{
		Keyspace: "voice",
		LocalID:  opts.LocalID,
		Factory:  opts.Factory,
		Send: func(to string, data signaling.SignalData) error {
			return m.opts.Send(signaling.VoiceSignal{To: to, SignalData: data})
		},
		Receive:   []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio},
		OnState:   m.onPeerState,
		OnTrack:   opts.OnTrack,
		OnRemoved: m.onPeerRemoved,
		Logger:    opts.Logger,
		Now:       opts.Now,
	})
	return m
}

// SetLocalID sets the id stamped on requests.
func (m *Manager) SetLocalID(id string) {
	m.opts.LocalID = id
	m.peers.SetLocalID(id)
}

// State returns the pairing state for remoteID.
func (m *Manager) State(remoteID string) State {
	if p, ok := m.pairings[remoteID]; ok {
		return p.state
	}
	return StateIdle
}

// Connections returns the remote ids with a live voice connection.
func (m *Manager) Connections() []string {
	return m.peers.IDs()
}

// Request asks targetID to open a voice channel. The local microphone is
// opened first; an AccessError aborts the request.
func (m *Manager) Request(targetID string) error {
	if m.State(targetID) != StateIdle {
		return peer.NewError("voice request", targetID, ErrActive)
	}
	stream, err := m.opts.Audio.AcquireAudio(m.opts.AudioDeviceID)
	if err != nil {
		return err
	}
	if err := m.opts.Send(signaling.VoiceConnectRequest{To: targetID, From: m.opts.LocalID}); err != nil {
		stream.Release()
		return err
	}
	m.pairings[targetID] = &pairing{state: StateRequested, stream: stream, requestedAt: m.opts.Now()}
	m.setState(targetID, StateRequested, nil)
	return nil
}

// OnRequest answers a remote request by opening the microphone and
// initiating a voice connection back to the requester. Nothing is sent when
// the microphone is unavailable.
func (m *Manager) OnRequest(req signaling.VoiceConnectRequest) {
	from := req.From
	if _, ok := m.pairings[from]; ok {
		m.teardown(from)
	}

	stream, err := m.opts.Audio.AcquireAudio(m.opts.AudioDeviceID)
	if err != nil {
		m.log.Warn("voice request refused", "remote", from, "error", err)
		if m.opts.OnAccessError != nil {
			m.opts.OnAccessError(from, err)
		}
		return
	}

	m.pairings[from] = &pairing{state: StateRequested, stream: stream, requestedAt: m.opts.Now()}
	if err := m.ensure(from, true, stream); err != nil {
		delete(m.pairings, from)
		stream.Release()
		m.log.Warn("failed to create voice connection", "remote", from, "error", err)
		return
	}
}

// OnSignal routes a voice-signal payload. The requester creates its answerer
// on the offer from the participant it asked; payloads that overtake the
// offer are held and replayed once the answerer exists.
func (m *Manager) OnSignal(senderID string, data signaling.SignalData) error {
	p, ok := m.pairings[senderID]
	if !ok {
		return peer.NewError("voice signal", senderID, ErrNoRequest)
	}

	if _, live := m.peers.Get(senderID); live {
		return m.peers.OnSignal(senderID, data)
	}
	if data.Kind() != signaling.SignalOffer {
		if len(p.early) >= maxEarlySignals {
			return peer.NewError("voice signal", senderID, peer.ErrProtocolViolation)
		}
		p.early = append(p.early, data)
		return nil
	}

	m.peers.SetLocalTracks(p.stream.Tracks()...)
	err := m.peers.OnSignal(senderID, data)
	m.peers.SetLocalTracks()
	if err != nil {
		return err
	}

	early := p.early
	p.early = nil
	for _, d := range early {
		if err := m.peers.OnSignal(senderID, d); err != nil {
			return err
		}
	}
	return nil
}

// Disconnect ends the pairing with targetID and tells the remote side.
func (m *Manager) Disconnect(targetID string) error {
	m.teardown(targetID)
	return m.opts.Send(signaling.VoiceDisconnect{To: targetID, From: m.opts.LocalID})
}

// OnDisconnect ends the pairing with the sender unconditionally.
func (m *Manager) OnDisconnect(ev signaling.VoiceDisconnect) {
	m.teardown(ev.From)
}

// OnParticipantLeft ends any pairing with a departed participant.
func (m *Manager) OnParticipantLeft(remoteID string) {
	m.teardown(remoteID)
}

// Expire returns requests older than the request timeout to idle and reports
// their ids.
func (m *Manager) Expire(now time.Time) []string {
	var expired []string
	for id, p := range m.pairings {
		if p.state == StateRequested && now.Sub(p.requestedAt) >= m.opts.RequestTimeout {
			expired = append(expired, id)
		}
	}
	sort.Strings(expired)
	for _, id := range expired {
		m.log.Info("voice request timed out", "remote", id)
		m.teardown(id)
	}
	return expired
}

// TeardownAll ends every pairing without notifying remotes.
func (m *Manager) TeardownAll() {
	m.peers.TeardownAll()
	for id, p := range m.pairings {
		p.stream.Release()
		delete(m.pairings, id)
	}
}

func (m *Manager) ensure(remoteID string, initiator bool, stream *media.Stream) error {
	m.peers.SetLocalTracks(stream.Tracks()...)
	defer m.peers.SetLocalTracks()
	_, err := m.peers.Ensure(remoteID, initiator)
	return err
}

func (m *Manager) onPeerState(remoteID string, s peer.State) {
	p, ok := m.pairings[remoteID]
	if !ok {
		return
	}
	switch s {
	case peer.StateConnecting:
		if p.state != StateConnecting {
			p.state = StateConnecting
			m.setState(remoteID, StateConnecting, nil)
		}
	case peer.StateConnected:
		p.state = StateConnected
		m.setState(remoteID, StateConnected, nil)
	}
}

func (m *Manager) onPeerRemoved(remoteID string, err error) {
	p, ok := m.pairings[remoteID]
	if !ok {
		return
	}
	delete(m.pairings, remoteID)
	p.stream.Release()
	m.setState(remoteID, StateIdle, err)
}

func (m *Manager) teardown(remoteID string) {
	m.peers.Close(remoteID)
	p, ok := m.pairings[remoteID]
	if !ok {
		return
	}
	delete(m.pairings, remoteID)
	p.stream.Release()
	m.setState(remoteID, StateIdle, nil)
}

func (m *Manager) setState(remoteID string, s State, err error) {
	m.log.Debug("voice state", "remote", remoteID, "state", s)
	if m.opts.OnState != nil {
		m.opts.OnState(remoteID, s, err)
	}
}
