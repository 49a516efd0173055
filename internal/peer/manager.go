package peer

import (
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/AgilWave/examina-proctor/internal/signaling"
	"github.com/pion/webrtc/v4"
)

// State of a connection entry.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "closed"
	}
}

// Entry is the local side of one pairing. Initiator never changes after
// creation.
type Entry struct {
	RemoteID  string
	Initiator bool
	State     State
	Conn      Conn
	CreatedAt time.Time

	// Outbound holds the track currently sent per kind.
	Outbound map[webrtc.RTPCodecType]webrtc.TrackLocal
}

// Options configures a Manager.
type Options struct {
	// Keyspace names the manager in logs ("media", "voice").
	Keyspace string
	LocalID  string
	Factory  Factory
	// Send delivers an outbound payload addressed to one participant.
	Send func(to string, data signaling.SignalData) error
	// Receive lists kinds accepted from remotes when not sending them.
	Receive []webrtc.RTPCodecType

	OnState   func(remoteID string, state State)
	OnTrack   func(remoteID string, track *webrtc.TrackRemote)
	OnRemoved func(remoteID string, err error)

	Logger *slog.Logger
	Now    func() time.Time
}

// Manager keeps at most one live connection per remote participant. It is
// not safe for concurrent use; the owning session serializes all calls and
// connection callbacks.
type Manager struct {
	opts    Options
	log     *slog.Logger
	entries map[string]*Entry
	tracks  map[webrtc.RTPCodecType]webrtc.TrackLocal
}

// NewManager creates a manager for one keyspace.
func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Send == nil {
		opts.Send = func(string, signaling.SignalData) error { return nil }
	}
	return &Manager{
		opts:    opts,
		log:     opts.Logger.With("keyspace", opts.Keyspace),
		entries: make(map[string]*Entry),
		tracks:  make(map[webrtc.RTPCodecType]webrtc.TrackLocal),
	}
}

// SetLocalID sets the id used to skip self in snapshots and to break glare.
func (m *Manager) SetLocalID(id string) {
	m.opts.LocalID = id
}

// SetLocalTracks sets the tracks attached to connections created from now on.
// Existing connections are not touched; use ReplaceTrack for those.
func (m *Manager) SetLocalTracks(tracks ...webrtc.TrackLocal) {
	m.tracks = make(map[webrtc.RTPCodecType]webrtc.TrackLocal, len(tracks))
	for _, t := range tracks {
		if t != nil {
			m.tracks[t.Kind()] = t
		}
	}
}

// Get returns the live entry for remoteID.
func (m *Manager) Get(remoteID string) (*Entry, bool) {
	e, ok := m.entries[remoteID]
	return e, ok
}

// Len returns the number of live entries.
func (m *Manager) Len() int {
	return len(m.entries)
}

// IDs returns the remote ids with a live entry, sorted.
func (m *Manager) IDs() []string {
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Ensure returns the live entry for remoteID, creating one with the given
// role when none exists. An existing entry is returned unchanged.
func (m *Manager) Ensure(remoteID string, initiator bool) (*Entry, error) {
	if e, ok := m.entries[remoteID]; ok {
		return e, nil
	}
	return m.create(remoteID, initiator)
}

func (m *Manager) create(remoteID string, initiator bool) (*Entry, error) {
	if remoteID == "" || remoteID == m.opts.LocalID {
		return nil, NewError("create", remoteID, ErrSelfConnection)
	}
	if old, ok := m.entries[remoteID]; ok {
		m.destroy(old, nil, false)
	}

	e := &Entry{
		RemoteID:  remoteID,
		Initiator: initiator,
		State:     StateConnecting,
		CreatedAt: m.opts.Now(),
		Outbound:  make(map[webrtc.RTPCodecType]webrtc.TrackLocal, len(m.tracks)),
	}
	tracks := make([]webrtc.TrackLocal, 0, len(m.tracks))
	for kind, t := range m.tracks {
		e.Outbound[kind] = t
		tracks = append(tracks, t)
	}
	m.entries[remoteID] = e

	conn, err := m.opts.Factory.New(Config{
		RemoteID:  remoteID,
		Initiator: initiator,
		Tracks:    tracks,
		Receive:   m.opts.Receive,
		Events:    m.events(e),
	})
	if err != nil {
		if m.entries[remoteID] == e {
			delete(m.entries, remoteID)
		}
		e.State = StateClosed
		return nil, WrapError("create", remoteID, ErrConnectionFailed, err.Error())
	}
	if m.entries[remoteID] != e {
		// torn down by a callback fired during construction
		conn.Close()
		return nil, NewError("create", remoteID, ErrConnectionClosed)
	}
	e.Conn = conn

	m.log.Debug("connection created", "remote", remoteID, "initiator", initiator)
	if m.opts.OnState != nil {
		m.opts.OnState(remoteID, StateConnecting)
	}
	return e, nil
}

// live reports whether e is still the entry stored for its id. Callbacks of
// replaced or destroyed entries are ignored.
func (m *Manager) live(e *Entry) bool {
	return m.entries[e.RemoteID] == e
}

func (m *Manager) events(e *Entry) Events {
	return Events{
		OnSignal: func(data signaling.SignalData) {
			if !m.live(e) {
				return
			}
			if err := m.opts.Send(e.RemoteID, data); err != nil {
				m.log.Warn("failed to send signal", "remote", e.RemoteID, "error", err)
			}
		},
		OnConnect: func() {
			if !m.live(e) || e.State == StateConnected {
				return
			}
			e.State = StateConnected
			m.log.Debug("connection established", "remote", e.RemoteID)
			if m.opts.OnState != nil {
				m.opts.OnState(e.RemoteID, StateConnected)
			}
		},
		OnTrack: func(track *webrtc.TrackRemote) {
			if !m.live(e) {
				return
			}
			if m.opts.OnTrack != nil {
				m.opts.OnTrack(e.RemoteID, track)
			}
		},
		OnError: func(err error) {
			if !m.live(e) {
				return
			}
			m.destroy(e, WrapError("negotiate", e.RemoteID, ErrConnectionFailed, err.Error()), true)
		},
		OnClose: func() {
			if !m.live(e) {
				return
			}
			m.destroy(e, NewError("close", e.RemoteID, ErrConnectionClosed), true)
		},
	}
}

// OnRosterSnapshot is called once after joining a populated room. The late
// joiner initiates toward every existing member.
func (m *Manager) OnRosterSnapshot(memberIDs []string) {
	for _, id := range memberIDs {
		if id == m.opts.LocalID {
			continue
		}
		if _, ok := m.entries[id]; ok {
			continue
		}
		if _, err := m.Ensure(id, true); err != nil {
			m.log.Warn("failed to create connection", "remote", id, "error", err)
		}
	}
}

// OnParticipantJoined answers toward a participant that joined after us.
func (m *Manager) OnParticipantJoined(remoteID string) {
	if remoteID == m.opts.LocalID {
		return
	}
	if _, err := m.Ensure(remoteID, false); err != nil {
		m.log.Warn("failed to create connection", "remote", remoteID, "error", err)
	}
}

// OnSignal routes an inbound payload to the sender's entry.
//
// An offer with no entry creates an answerer. Offers against an initiator
// and answers against an answerer are discarded with ErrProtocolViolation,
// except during glare: when both sides are still connecting as initiators,
// the side with the lower id yields and answers the remote offer.
func (m *Manager) OnSignal(senderID string, data signaling.SignalData) error {
	kind := data.Kind()
	e, ok := m.entries[senderID]

	switch {
	case !ok && kind == signaling.SignalOffer:
		created, err := m.create(senderID, false)
		if err != nil {
			return err
		}
		e = created

	case !ok:
		return NewError("signal", senderID, ErrNoConnection)

	case kind == signaling.SignalOffer && e.Initiator:
		if e.State != StateConnecting || !m.yields(senderID) {
			m.log.Debug("discarding offer for initiator entry", "remote", senderID)
			return NewError("signal", senderID, ErrProtocolViolation)
		}
		m.log.Debug("glare: yielding to remote offer", "remote", senderID)
		created, err := m.create(senderID, false)
		if err != nil {
			return err
		}
		e = created

	case kind == signaling.SignalAnswer && !e.Initiator:
		m.log.Debug("discarding answer for answerer entry", "remote", senderID)
		return NewError("signal", senderID, ErrProtocolViolation)
	}

	if err := e.Conn.Signal(data); err != nil {
		if m.live(e) {
			m.destroy(e, WrapError("signal", senderID, ErrConnectionFailed, err.Error()), true)
		}
		return err
	}
	return nil
}

// yields reports whether the local side gives up its own offer in glare.
func (m *Manager) yields(remoteID string) bool {
	return m.opts.LocalID < remoteID
}

// OnParticipantLeft destroys the entry for a departed participant.
func (m *Manager) OnParticipantLeft(remoteID string) {
	if e, ok := m.entries[remoteID]; ok {
		m.destroy(e, nil, true)
	}
}

// OnError destroys the entry after an unrecoverable connection error.
func (m *Manager) OnError(remoteID string, err error) {
	if e, ok := m.entries[remoteID]; ok {
		m.destroy(e, NewError("error", remoteID, err), true)
	}
}

// Close destroys one entry without reporting it as removed.
func (m *Manager) Close(remoteID string) {
	if e, ok := m.entries[remoteID]; ok {
		m.destroy(e, nil, false)
	}
}

// TeardownAll destroys every entry. It is safe to call repeatedly and with
// connections that are already closed.
func (m *Manager) TeardownAll() {
	for _, id := range m.IDs() {
		m.destroy(m.entries[id], nil, false)
	}
	m.entries = make(map[string]*Entry)
}

// ReplaceTrack swaps the outbound track of its kind on every live entry
// without renegotiating. Entries keep their state.
func (m *Manager) ReplaceTrack(track webrtc.TrackLocal) error {
	kind := track.Kind()
	m.tracks[kind] = track

	var errs []error
	for _, id := range m.IDs() {
		e := m.entries[id]
		if err := e.Conn.ReplaceTrack(track); err != nil {
			errs = append(errs, WrapError("replace track", id, ErrConnectionFailed, err.Error()))
			continue
		}
		e.Outbound[kind] = track
	}
	return errors.Join(errs...)
}

func (m *Manager) destroy(e *Entry, reason error, notify bool) {
	if m.entries[e.RemoteID] == e {
		delete(m.entries, e.RemoteID)
	}
	if e.State == StateClosed {
		return
	}
	e.State = StateClosed

	if e.Conn != nil {
		if err := e.Conn.Close(); err != nil {
			m.log.Debug("close failed", "remote", e.RemoteID, "error", err)
		}
	}

	if reason != nil {
		m.log.Info("connection removed", "remote", e.RemoteID, "reason", reason)
	} else {
		m.log.Debug("connection removed", "remote", e.RemoteID)
	}

	if notify && m.opts.OnRemoved != nil {
		m.opts.OnRemoved(e.RemoteID, reason)
	}
}
