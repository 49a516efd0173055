package peer

import (
	"github.com/AgilWave/examina-proctor/internal/signaling"
	"github.com/pion/webrtc/v4"
)

// Conn is one negotiated media connection to a single remote participant.
type Conn interface {
	// Signal applies an inbound negotiation payload.
	Signal(data signaling.SignalData) error
	// ReplaceTrack swaps the outbound track of track.Kind() in place.
	ReplaceTrack(track webrtc.TrackLocal) error
	Close() error
}

// Events are the callbacks a Conn reports through. Each is invoked at most
// from one goroutine at a time and may be nil.
type Events struct {
	OnSignal  func(data signaling.SignalData)
	OnConnect func()
	OnTrack   func(track *webrtc.TrackRemote)
	OnError   func(err error)
	OnClose   func()
}

// Config describes the connection a Factory should build.
type Config struct {
	RemoteID  string
	Initiator bool
	// Tracks are sent from the start. Kinds without a track are received only.
	Tracks []webrtc.TrackLocal
	// Receive lists kinds to accept from the remote when no local track exists.
	Receive []webrtc.RTPCodecType
	Events  Events
}

// Factory builds connections.
type Factory interface {
	New(cfg Config) (Conn, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(cfg Config) (Conn, error)

func (f FactoryFunc) New(cfg Config) (Conn, error) {
	return f(cfg)
}
