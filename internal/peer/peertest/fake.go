// Package peertest provides an in-memory peer.Factory for tests.
package peertest

import (
	"errors"
	"sync"

	"github.com/AgilWave/examina-proctor/internal/peer"
	"github.com/AgilWave/examina-proctor/internal/signaling"
	"github.com/pion/webrtc/v4"
)

// Conn is a fake connection that records what the manager does to it and
// lets the test fire its callbacks.
type Conn struct {
	Config peer.Config
	// answerOffers makes Signal reply to an offer before it returns.
	answerOffers bool

	mu       sync.Mutex
	signals  []signaling.SignalData
	replaced []webrtc.TrackLocal
	closed   int
	failNext error
}

func (c *Conn) Signal(data signaling.SignalData) error {
	c.mu.Lock()
	if c.failNext != nil {
		err := c.failNext
		c.failNext = nil
		c.mu.Unlock()
		return err
	}
	c.signals = append(c.signals, data)
	answer := c.answerOffers
	c.mu.Unlock()

	if answer {
		if data.Kind() == signaling.SignalOffer {
			c.EmitSignal(Answer)
		}
	}
	return nil
}

func (c *Conn) ReplaceTrack(track webrtc.TrackLocal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed > 0 {
		return errors.New("replace on closed connection")
	}
	c.replaced = append(c.replaced, track)
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

// FailNextSignal makes the next Signal call return err.
func (c *Conn) FailNextSignal(err error) {
	c.mu.Lock()
	c.failNext = err
	c.mu.Unlock()
}

// Signals returns the payloads applied so far.
func (c *Conn) Signals() []signaling.SignalData {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]signaling.SignalData(nil), c.signals...)
}

// Replaced returns the tracks swapped in so far.
func (c *Conn) Replaced() []webrtc.TrackLocal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webrtc.TrackLocal(nil), c.replaced...)
}

// Closed reports how many times Close was called.
func (c *Conn) Closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// EmitSignal fires the outgoing-signal callback.
func (c *Conn) EmitSignal(data string) {
	if f := c.Config.Events.OnSignal; f != nil {
		f(signaling.SignalData(data))
	}
}

// Connect fires the connect callback.
func (c *Conn) Connect() {
	if f := c.Config.Events.OnConnect; f != nil {
		f()
	}
}

// Fail fires the error callback.
func (c *Conn) Fail(err error) {
	if f := c.Config.Events.OnError; f != nil {
		f(err)
	}
}

// RemoteClose fires the close callback.
func (c *Conn) RemoteClose() {
	if f := c.Config.Events.OnClose; f != nil {
		f()
	}
}

// Factory builds fake connections and remembers all of them.
type Factory struct {
	mu    sync.Mutex
	conns []*Conn
	Err   error
	// AnswerOffers makes every connection answer offers synchronously from
	// inside Signal, as a pion connection does.
	AnswerOffers bool
}

func (f *Factory) New(cfg peer.Config) (peer.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	c := &Conn{Config: cfg, answerOffers: f.AnswerOffers}
	f.conns = append(f.conns, c)
	return c, nil
}

// Conns returns every connection built, in creation order.
func (f *Factory) Conns() []*Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Conn(nil), f.conns...)
}

// Last returns the most recent connection built for remoteID.
func (f *Factory) Last(remoteID string) *Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.conns) - 1; i >= 0; i-- {
		if f.conns[i].Config.RemoteID == remoteID {
			return f.conns[i]
		}
	}
	return nil
}

// Offer and Answer are minimal payloads of each kind.
const (
	Offer     = `{"type":"offer","sdp":"v=0"}`
	Answer    = `{"type":"answer","sdp":"v=0"}`
	Candidate = `{"candidate":{"candidate":"candidate:1 1 udp 2130706431 192.0.2.1 50000 typ host","sdpMid":"0"}}`
)

// Track returns a local track of the given kind usable without a network.
func Track(kind webrtc.RTPCodecType, id string) webrtc.TrackLocal {
	mime := webrtc.MimeTypeVP8
	if kind == webrtc.RTPCodecTypeAudio {
		mime = webrtc.MimeTypeOpus
	}
	t, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, id, "local")
	if err != nil {
		panic(err)
	}
	return t
}
