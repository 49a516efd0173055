// Package session runs one participant's presence in an exam room. A single
// loop goroutine owns the connection managers, the roster and the inboxes;
// relay events, connection callbacks and user commands are all posted onto
// it.
package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/AgilWave/examina-proctor/internal/chat"
	"github.com/AgilWave/examina-proctor/internal/media"
	"github.com/AgilWave/examina-proctor/internal/peer"
	"github.com/AgilWave/examina-proctor/internal/roster"
	"github.com/AgilWave/examina-proctor/internal/signaling"
	"github.com/AgilWave/examina-proctor/internal/voice"
	"github.com/pion/webrtc/v4"
)

const (
	defaultTickInterval   = time.Second
	defaultStatusInterval = 15 * time.Second
	updateQueueSize       = 64
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrNotConnected  = errors.New("signaling client has no id")
	ErrNotAllowed    = errors.New("operation not allowed for role")
	ErrNoMedia       = errors.New("no media acquirer configured")
)

// Channel is the part of the signaling client a session uses. The client is
// owned by the caller and outlives the session.
type Channel interface {
	ID() string
	Send(ev signaling.Event) error
	Subscribe(fn func(signaling.Event)) (cancel func())
}

// Options configures a Session.
type Options struct {
	ExamID      string
	Role        signaling.Role
	ExternalID  string
	DisplayName string

	Channel Channel
	Factory peer.Factory
	// Media opens local devices. Students publish from it and proctors use it
	// for the voice channel.
	Media         *media.Acquirer
	VideoDeviceID string
	AudioDeviceID string

	StatusTTL           time.Duration
	VoiceRequestTimeout time.Duration
	// StatusInterval is how often a student repeats its media status.
	StatusInterval time.Duration
	TickInterval   time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// Session is one participant's view of an exam room.
type Session struct {
	opts Options
	log  *slog.Logger

	peers     *peer.Manager
	voice     *voice.Manager
	roster    *roster.Roster
	chat      *chat.Relay
	publisher *media.Publisher
	stats     *trackStats

	localID string
	ops     *opQueue
	updates chan Update
	done    chan struct{}
}

// New builds a session. Nothing is sent until Run.
func New(opts Options) (*Session, error) {
	if opts.Channel == nil || opts.Factory == nil {
		return nil, errors.New("session: channel and factory are required")
	}
	if opts.ExamID == "" {
		return nil, errors.New("session: exam id is required")
	}
	if !opts.Role.Valid() {
		return nil, errors.New("session: invalid role " + string(opts.Role))
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.StatusInterval == 0 {
		opts.StatusInterval = defaultStatusInterval
	}
	if opts.TickInterval == 0 {
		opts.TickInterval = defaultTickInterval
	}

	s := &Session{
		opts:    opts,
		log:     opts.Logger.With("exam", opts.ExamID, "role", opts.Role),
		roster:  roster.New(opts.StatusTTL, opts.Now),
		stats:   newTrackStats(),
		ops:     newOpQueue(),
		updates: make(chan Update, updateQueueSize),
		done:    make(chan struct{}),
	}
	factory := loopFactory{inner: opts.Factory, post: s.post}

	var receive []webrtc.RTPCodecType
	if opts.Role.Proctor() {
		receive = []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio}
	}
	s.peers = peer.NewManager(peer.Options{
		Keyspace: "media",
		Factory:  factory,
		Send: func(to string, data signaling.SignalData) error {
			return opts.Channel.Send(signaling.Signal{To: to, SignalData: data})
		},
		Receive: receive,
		OnState: func(id string, _ peer.State) {
			s.notify(Update{Kind: UpdateConnection, RemoteID: id})
		},
		OnTrack:   s.onTrack,
		OnRemoved: s.onPeerRemoved,
		Logger:    opts.Logger,
		Now:       opts.Now,
	})

	var audio voice.AudioSource
	if opts.Media != nil {
		audio = opts.Media
	} else {
		audio = noAudio{}
	}
	s.voice = voice.NewManager(voice.Options{
		Factory:       factory,
		Audio:         audio,
		AudioDeviceID: opts.AudioDeviceID,
		Send:          opts.Channel.Send,
		OnState: func(id string, _ voice.State, err error) {
			if err != nil {
				s.log.Info("voice channel ended", "remote", id, "error", err)
			}
			s.notify(Update{Kind: UpdateVoice, RemoteID: id})
		},
		OnAccessError: func(id string, err error) {
			s.notify(Update{Kind: UpdateNotice, RemoteID: id, Err: err})
		},
		RequestTimeout: opts.VoiceRequestTimeout,
		Logger:         opts.Logger,
		Now:            opts.Now,
	})

	s.chat = chat.New(chat.Options{
		LocalName: opts.DisplayName,
		LocalRole: opts.Role,
		Send:      opts.Channel.Send,
		OnOpen:    s.acknowledge,
		Now:       opts.Now,
	})

	if opts.Role == signaling.RoleStudent && opts.Media != nil {
		s.publisher = media.NewPublisher(opts.Media, s.peers, opts.Logger)
	}
	return s, nil
}

type noAudio struct{}

func (noAudio) AcquireAudio(string) (*media.Stream, error) {
	return nil, &media.AccessError{Kind: media.AudioInput, Err: ErrNoMedia}
}

// Updates delivers change notifications. Updates are dropped when the reader
// falls behind; a view should redraw from Snapshot on every update.
func (s *Session) Updates() <-chan Update {
	return s.updates
}

// Done is closed once the session has torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) notify(u Update) {
	select {
	case s.updates <- u:
	default:
	}
}

// Run joins the room and processes events until ctx is cancelled. Everything
// the session created is torn down before Run returns; the channel itself is
// left open.
func (s *Session) Run(ctx context.Context) error {
	s.localID = s.opts.Channel.ID()
	if s.localID == "" {
		close(s.done)
		return ErrNotConnected
	}
	s.log = s.log.With("local", s.localID)
	s.peers.SetLocalID(s.localID)
	s.voice.SetLocalID(s.localID)
	s.chat.SetLocalID(s.localID)
	s.roster.SetLocalID(s.localID)

	unsubscribe := s.opts.Channel.Subscribe(func(ev signaling.Event) {
		s.post(func() { s.handle(ev) })
	})
	defer s.teardown(unsubscribe)

	if s.publisher != nil {
		if err := s.publisher.Start(s.opts.VideoDeviceID, s.opts.AudioDeviceID); err != nil {
			s.log.Warn("publishing without media", "error", err)
			s.notify(Update{Kind: UpdateNotice, Err: err})
		}
	}

	if err := s.opts.Channel.Send(signaling.JoinExam{
		ExamID:      s.opts.ExamID,
		Role:        s.opts.Role,
		ExternalID:  s.opts.ExternalID,
		DisplayName: s.opts.DisplayName,
	}); err != nil {
		return err
	}
	s.log.Info("joined exam room")
	if s.opts.Role == signaling.RoleStudent {
		s.sendStatus()
	}

	tick := time.NewTicker(s.opts.TickInterval)
	defer tick.Stop()
	lastStatus := s.opts.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.ops.wake:
			for _, fn := range s.ops.take() {
				fn()
			}
		case <-tick.C:
			now := s.opts.Now()
			for _, id := range s.voice.Expire(now) {
				s.notify(Update{Kind: UpdateVoice, RemoteID: id})
			}
			if s.opts.Role == signaling.RoleStudent && now.Sub(lastStatus) >= s.opts.StatusInterval {
				s.sendStatus()
				lastStatus = now
			}
			if s.opts.Role.Proctor() && s.opts.StatusTTL > 0 {
				s.notify(Update{Kind: UpdateRoster})
			}
		}
	}
}

func (s *Session) teardown(unsubscribe func()) {
	unsubscribe()
	s.peers.TeardownAll()
	s.voice.TeardownAll()
	if s.publisher != nil {
		s.publisher.Release()
	}
	s.roster.Clear()
	s.chat.Clear()
	close(s.done)
	s.log.Info("left exam room")
}

// counterpart reports whether a media connection is built toward a member of
// role r. Proctors pair with students only; unknown roles are paired.
func (s *Session) counterpart(r signaling.Role) bool {
	if r == "" {
		return true
	}
	return r.Proctor() != s.opts.Role.Proctor()
}

func (s *Session) handle(ev signaling.Event) {
	switch ev := ev.(type) {
	case signaling.Connected:
		// the client consumes the handshake; a second one is ignored

	case signaling.ExistingUsers:
		var ids []string
		for _, u := range ev.Users {
			if u.ID == s.localID {
				continue
			}
			s.roster.Join(u)
			if s.counterpart(u.Role) {
				ids = append(ids, u.ID)
			}
		}
		s.peers.OnRosterSnapshot(ids)
		s.notify(Update{Kind: UpdateRoster})

	case signaling.UserJoined:
		if ev.ID == s.localID {
			return
		}
		s.roster.Join(ev.Member())
		if s.counterpart(ev.Role) {
			s.peers.OnParticipantJoined(ev.ID)
			if s.opts.Role == signaling.RoleStudent {
				s.sendStatus()
			}
		}
		s.notify(Update{Kind: UpdateRoster, RemoteID: ev.ID})

	case signaling.UserLeft:
		s.peers.OnParticipantLeft(ev.ID)
		s.voice.OnParticipantLeft(ev.ID)
		s.roster.Remove(ev.ID)
		s.stats.forget(ev.ID)
		s.notify(Update{Kind: UpdateRoster, RemoteID: ev.ID})

	case signaling.RosterUpdate:
		s.roster.Correlate(ev.Users)
		s.notify(Update{Kind: UpdateRoster})

	case signaling.Signal:
		s.logSignalError(s.peers.OnSignal(ev.Sender, ev.SignalData), ev.Sender)

	case signaling.VoiceSignal:
		s.logSignalError(s.voice.OnSignal(ev.Sender, ev.SignalData), ev.Sender)

	case signaling.VoiceConnectRequest:
		if s.opts.Role.Proctor() {
			s.log.Debug("ignoring voice request", "remote", ev.From)
			return
		}
		s.voice.OnRequest(ev)

	case signaling.VoiceDisconnect:
		s.voice.OnDisconnect(ev)

	case signaling.MediaStatus:
		if ev.ExamID != s.opts.ExamID {
			return
		}
		s.roster.SetMediaStatus(ev.Sender, ev.Webcam, ev.Mic)
		s.notify(Update{Kind: UpdateRoster, RemoteID: ev.Sender})

	case signaling.HelpRequest:
		if !s.opts.Role.Proctor() || ev.ExamID != s.opts.ExamID {
			return
		}
		s.roster.RaiseHand(ev.From)
		s.notify(Update{Kind: UpdateRoster, RemoteID: ev.From})

	case signaling.PrivateMessage:
		s.chat.OnReceive(ev)
		s.notify(Update{Kind: UpdateMessage, RemoteID: ev.From})

	case signaling.ServerError:
		s.log.Warn("relay error", "error", ev.Message)

	default:
		s.log.Debug("unhandled event", "type", ev.Type())
	}
}

func (s *Session) logSignalError(err error, sender string) {
	switch {
	case err == nil:
	case errors.Is(err, peer.ErrProtocolViolation), errors.Is(err, peer.ErrNoConnection), errors.Is(err, voice.ErrNoRequest):
		s.log.Debug("signal discarded", "remote", sender, "error", err)
	default:
		s.log.Warn("signal failed", "remote", sender, "error", err)
	}
}

func (s *Session) onTrack(remoteID string, track *webrtc.TrackRemote) {
	s.log.Debug("remote track", "remote", remoteID, "kind", track.Kind())
	go s.stats.drain(remoteID, track)
	s.notify(Update{Kind: UpdateTrack, RemoteID: remoteID})
}

func (s *Session) onPeerRemoved(remoteID string, err error) {
	if err != nil {
		s.log.Warn("connection lost", "remote", remoteID, "error", err)
	}
	s.roster.Remove(remoteID)
	s.stats.forget(remoteID)
	s.notify(Update{Kind: UpdateRoster, RemoteID: remoteID})
}

func (s *Session) acknowledge(remoteID string) {
	s.roster.Acknowledge(remoteID)
	s.notify(Update{Kind: UpdateRoster, RemoteID: remoteID})
}

func (s *Session) sendStatus() {
	var webcam, mic bool
	if s.publisher != nil {
		webcam, mic = s.publisher.Status()
	}
	if err := s.opts.Channel.Send(signaling.MediaStatus{
		Sender: s.localID,
		Webcam: webcam,
		Mic:    mic,
		ExamID: s.opts.ExamID,
	}); err != nil {
		s.log.Debug("media status not sent", "error", err)
	}
}
