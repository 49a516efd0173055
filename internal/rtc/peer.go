// Package rtc implements peer.Conn on top of pion/webrtc.
package rtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AgilWave/examina-proctor/internal/config"
	"github.com/AgilWave/examina-proctor/internal/peer"
	"github.com/AgilWave/examina-proctor/internal/signaling"
	pion "github.com/pion/webrtc/v4"
)

var (
	ErrNoSender        = errors.New("no outbound sender for track kind")
	ErrClosed          = errors.New("peer connection closed")
	ErrUnexpectedKind  = errors.New("unexpected signal kind")
	ErrMalformedSignal = errors.New("malformed signal payload")
)

// ICEConfiguration builds the pion configuration from the loaded config.
// Relay-only transport is used when forced or when the host looks like it
// sits behind a VPN or CGNAT, provided TURN is configured.
func ICEConfiguration(cfg *config.Config) pion.Configuration {
	var iceServers []pion.ICEServer
	if stun := cfg.GetSTUNServers(); len(stun) > 0 {
		iceServers = append(iceServers, pion.ICEServer{URLs: stun})
	}

	turnServers := cfg.GetTURNServers()
	if turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, pion.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	policy := pion.ICETransportPolicyAll
	if turnServers != nil && (cfg.ForceRelay || relayRecommended()) {
		policy = pion.ICETransportPolicyRelay
	}

	return pion.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	}
}

// Factory creates pion-backed connections sharing one API instance.
type Factory struct {
	api    *pion.API
	config pion.Configuration
	log    *slog.Logger
}

// FactoryOption configures a Factory.
type FactoryOption func(*factoryOptions)

type factoryOptions struct {
	mediaSetup []func(*pion.MediaEngine) error
	settings   *pion.SettingEngine
	logger     *slog.Logger
}

// WithMediaEngine lets a capture backend register its codecs. Without any,
// the pion default codecs are registered.
func WithMediaEngine(setup func(*pion.MediaEngine) error) FactoryOption {
	return func(o *factoryOptions) { o.mediaSetup = append(o.mediaSetup, setup) }
}

// WithSettingEngine overrides the pion setting engine.
func WithSettingEngine(se pion.SettingEngine) FactoryOption {
	return func(o *factoryOptions) { o.settings = &se }
}

// WithLogger sets the factory's logger.
func WithLogger(l *slog.Logger) FactoryOption {
	return func(o *factoryOptions) { o.logger = l }
}

// NewFactory builds the pion API for the given ICE configuration.
func NewFactory(iceConfig pion.Configuration, opts ...FactoryOption) (*Factory, error) {
	o := factoryOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	m := &pion.MediaEngine{}
	if len(o.mediaSetup) == 0 {
		if err := m.RegisterDefaultCodecs(); err != nil {
			return nil, fmt.Errorf("register codecs: %w", err)
		}
	}
	for _, setup := range o.mediaSetup {
		if err := setup(m); err != nil {
			return nil, fmt.Errorf("configure media engine: %w", err)
		}
	}

	apiOpts := []func(*pion.API){pion.WithMediaEngine(m)}
	if o.settings != nil {
		apiOpts = append(apiOpts, pion.WithSettingEngine(*o.settings))
	}

	return &Factory{
		api:    pion.NewAPI(apiOpts...),
		config: iceConfig,
		log:    o.logger,
	}, nil
}

// New creates a connection. An initiator starts negotiating right away.
func (f *Factory) New(cfg peer.Config) (peer.Conn, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, peer.WrapError("create peer connection", cfg.RemoteID, err, "pion")
	}

	c := &Conn{
		pc:        pc,
		remoteID:  cfg.RemoteID,
		initiator: cfg.Initiator,
		events:    cfg.Events,
		log:       f.log.With("remote", cfg.RemoteID),
		senders:   make(map[pion.RTPCodecType]*pion.RTPSender),
	}

	for _, track := range cfg.Tracks {
		sender, err := pc.AddTrack(track)
		if err != nil {
			pc.Close()
			return nil, peer.WrapError("add track", cfg.RemoteID, err, track.Kind().String())
		}
		c.senders[track.Kind()] = sender
		go drainRTCP(sender)
	}

	if cfg.Initiator {
		for _, kind := range cfg.Receive {
			if _, sending := c.senders[kind]; sending {
				continue
			}
			if _, err := pc.AddTransceiverFromKind(kind, pion.RTPTransceiverInit{
				Direction: pion.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				pc.Close()
				return nil, peer.WrapError("add transceiver", cfg.RemoteID, err, kind.String())
			}
		}
	}

	c.setupHandlers()

	if cfg.Initiator {
		go c.offer()
	}
	return c, nil
}

// drainRTCP reads incoming RTCP so interceptors keep working.
func drainRTCP(sender *pion.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// Conn is one pion peer connection. Remote candidates that arrive before the
// remote description are buffered.
type Conn struct {
	pc        *pion.PeerConnection
	remoteID  string
	initiator bool
	events    peer.Events
	log       *slog.Logger

	mu        sync.Mutex
	senders   map[pion.RTPCodecType]*pion.RTPSender
	pending   []pion.ICECandidateInit
	remoteSet bool
	closed    bool

	errOnce sync.Once
}

type candidateSignal struct {
	Type      string                `json:"type,omitempty"`
	Candidate *pion.ICECandidateInit `json:"candidate"`
}

func (c *Conn) setupHandlers() {
	c.pc.OnICECandidate(func(candidate *pion.ICECandidate) {
		if candidate == nil {
			return
		}
		init := candidate.ToJSON()
		data, err := json.Marshal(candidateSignal{Type: "candidate", Candidate: &init})
		if err != nil {
			return
		}
		c.emit(data)
	})

	c.pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		c.log.Debug("remote track", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		if c.events.OnTrack != nil {
			c.events.OnTrack(track)
		}
	})

	c.pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		c.log.Debug("connection state", "state", state.String())
		switch state {
		case pion.PeerConnectionStateConnected:
			if c.events.OnConnect != nil {
				c.events.OnConnect()
			}
		case pion.PeerConnectionStateFailed:
			c.fail(peer.ErrConnectionFailed)
		case pion.PeerConnectionStateClosed:
			c.mu.Lock()
			local := c.closed
			c.mu.Unlock()
			if !local && c.events.OnClose != nil {
				c.events.OnClose()
			}
		}
	})
}

func (c *Conn) emit(data []byte) {
	if c.events.OnSignal != nil {
		c.events.OnSignal(signaling.SignalData(data))
	}
}

// fail reports the first error only.
func (c *Conn) fail(err error) {
	c.errOnce.Do(func() {
		if c.events.OnError != nil {
			c.events.OnError(err)
		}
	})
}

func (c *Conn) offer() {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		c.fail(peer.NewError("create offer", c.remoteID, err))
		return
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		c.fail(peer.NewError("set local description", c.remoteID, err))
		return
	}
	c.sendDescription()
}

func (c *Conn) sendDescription() {
	data, err := json.Marshal(c.pc.LocalDescription())
	if err != nil {
		c.fail(peer.NewError("encode description", c.remoteID, err))
		return
	}
	c.emit(data)
}

// Signal applies an offer, answer or candidate.
func (c *Conn) Signal(data signaling.SignalData) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	switch data.Kind() {
	case signaling.SignalOffer, signaling.SignalAnswer:
		return c.applyDescription(data)
	case signaling.SignalCandidate:
		return c.applyCandidate(data)
	default:
		c.log.Debug("ignoring signal", "payload", string(data))
		return nil
	}
}

func (c *Conn) applyDescription(data signaling.SignalData) error {
	var desc pion.SessionDescription
	if err := json.Unmarshal(data, &desc); err != nil {
		return peer.WrapError("parse description", c.remoteID, ErrMalformedSignal, err.Error())
	}

	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return peer.NewError("set remote description", c.remoteID, err)
	}

	c.mu.Lock()
	c.remoteSet = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, candidate := range pending {
		c.addCandidate(candidate)
	}

	if desc.Type != pion.SDPTypeOffer {
		return nil
	}

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return peer.NewError("create answer", c.remoteID, err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return peer.NewError("set local description", c.remoteID, err)
	}
	c.sendDescription()
	return nil
}

func (c *Conn) applyCandidate(data signaling.SignalData) error {
	var sig candidateSignal
	if err := json.Unmarshal(data, &sig); err != nil || sig.Candidate == nil {
		return peer.WrapError("parse ICE candidate", c.remoteID, ErrMalformedSignal, string(data))
	}

	c.mu.Lock()
	if !c.remoteSet {
		c.pending = append(c.pending, *sig.Candidate)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.addCandidate(*sig.Candidate)
	return nil
}

// addCandidate failures are expected for candidates of abandoned offers and
// are not fatal.
func (c *Conn) addCandidate(candidate pion.ICECandidateInit) {
	if err := c.pc.AddICECandidate(candidate); err != nil {
		c.log.Debug("ignoring ICE candidate", "error", err)
	}
}

// Pending returns the number of buffered remote candidates.
func (c *Conn) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// ReplaceTrack swaps the outbound track of the same kind without
// renegotiation.
func (c *Conn) ReplaceTrack(track pion.TrackLocal) error {
	c.mu.Lock()
	sender, ok := c.senders[track.Kind()]
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if !ok {
		return peer.WrapError("replace track", c.remoteID, ErrNoSender, track.Kind().String())
	}
	if err := sender.ReplaceTrack(track); err != nil {
		return peer.NewError("replace track", c.remoteID, err)
	}
	return nil
}

// Close releases the peer connection. Calling it twice is harmless.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	return c.pc.Close()
}
