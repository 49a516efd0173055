// Package media enumerates capture devices and owns the local streams sent
// to remote participants.
package media

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
)

// DeviceKind identifies an input device class.
type DeviceKind string

const (
	VideoInput DeviceKind = "videoinput"
	AudioInput DeviceKind = "audioinput"
)

// Label returns a human name for the device class.
func (k DeviceKind) Label() string {
	switch k {
	case VideoInput:
		return "camera"
	case AudioInput:
		return "microphone"
	default:
		return string(k)
	}
}

// Device is one enumerated input device.
type Device struct {
	ID    string
	Label string
	Kind  DeviceKind
}

// Track is a captured local track. Close stops capture.
type Track interface {
	webrtc.TrackLocal
	Close() error
}

// Constraints select the devices to open. An empty device id picks the
// backend default for that kind.
type Constraints struct {
	Video         bool
	VideoDeviceID string
	Audio         bool
	AudioDeviceID string
}

// Devices is a capture backend.
type Devices interface {
	Enumerate() ([]Device, error)
	Open(c Constraints) ([]Track, error)
}

// Stream is a set of tracks with exactly one owner, who must Release it.
type Stream struct {
	tracks        []Track
	videoDeviceID string
	audioDeviceID string

	once     sync.Once
	released bool
	mu       sync.Mutex
}

// Tracks returns the stream's tracks for attaching to connections.
func (s *Stream) Tracks() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

// Track returns the track of kind, or nil.
func (s *Stream) Track(kind webrtc.RTPCodecType) webrtc.TrackLocal {
	for _, t := range s.tracks {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

// HasVideo reports whether the stream carries a camera track.
func (s *Stream) HasVideo() bool { return s.Track(webrtc.RTPCodecTypeVideo) != nil }

// HasAudio reports whether the stream carries a microphone track.
func (s *Stream) HasAudio() bool { return s.Track(webrtc.RTPCodecTypeAudio) != nil }

// DeviceIDs returns the ids of the opened camera and microphone.
func (s *Stream) DeviceIDs() (video, audio string) {
	return s.videoDeviceID, s.audioDeviceID
}

// Released reports whether Release has run.
func (s *Stream) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// Release stops every track. Later calls do nothing.
func (s *Stream) Release() {
	s.once.Do(func() {
		for _, t := range s.tracks {
			t.Close()
		}
		s.mu.Lock()
		s.released = true
		s.mu.Unlock()
	})
}

// adopt moves from's tracks of the kinds s lacks into s. It is used when a
// switch reopens only some devices.
func (s *Stream) adopt(from *Stream) {
	for _, t := range from.tracks {
		if s.Track(t.Kind()) != nil {
			continue
		}
		s.tracks = append(s.tracks, t)
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			s.videoDeviceID = from.videoDeviceID
		} else {
			s.audioDeviceID = from.audioDeviceID
		}
	}
}

// releaseExcept marks s released and stops its tracks other than keep.
func (s *Stream) releaseExcept(keep *Stream) {
	s.once.Do(func() {
		for _, t := range s.tracks {
			if keep.owns(t) {
				continue
			}
			t.Close()
		}
		s.mu.Lock()
		s.released = true
		s.mu.Unlock()
	})
}

func (s *Stream) owns(t Track) bool {
	for _, o := range s.tracks {
		if o == t {
			return true
		}
	}
	return false
}

// Acquirer opens streams from a capture backend.
type Acquirer struct {
	devices Devices
	log     *slog.Logger
}

// NewAcquirer wraps a backend.
func NewAcquirer(devices Devices, logger *slog.Logger) *Acquirer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Acquirer{devices: devices, log: logger}
}

// ListDevices returns a fresh snapshot of input devices. Call it again after
// permissions change.
func (a *Acquirer) ListDevices() ([]Device, error) {
	all, err := a.devices.Enumerate()
	if err != nil {
		return nil, err
	}
	out := all[:0:0]
	for _, d := range all {
		if d.Kind == VideoInput || d.Kind == AudioInput {
			out = append(out, d)
		}
	}
	return out, nil
}

// Acquire opens a camera and microphone stream.
func (a *Acquirer) Acquire(videoDeviceID, audioDeviceID string) (*Stream, error) {
	return a.open(Constraints{
		Video:         true,
		VideoDeviceID: videoDeviceID,
		Audio:         true,
		AudioDeviceID: audioDeviceID,
	})
}

// Open opens the kinds c asks for.
func (a *Acquirer) Open(c Constraints) (*Stream, error) {
	return a.open(c)
}

// AcquireAudio opens a microphone-only stream.
func (a *Acquirer) AcquireAudio(audioDeviceID string) (*Stream, error) {
	return a.open(Constraints{Audio: true, AudioDeviceID: audioDeviceID})
}

func (a *Acquirer) open(c Constraints) (*Stream, error) {
	if err := a.checkDevices(c); err != nil {
		return nil, err
	}

	tracks, err := a.devices.Open(c)
	if err != nil {
		kind := VideoInput
		id := c.VideoDeviceID
		if !c.Video {
			kind, id = AudioInput, c.AudioDeviceID
		}
		var ae *AccessError
		if errors.As(err, &ae) {
			return nil, err
		}
		return nil, &AccessError{Kind: kind, DeviceID: id, Err: err}
	}

	s := &Stream{tracks: tracks, videoDeviceID: c.VideoDeviceID, audioDeviceID: c.AudioDeviceID}
	if c.Video && !s.HasVideo() {
		s.Release()
		return nil, &AccessError{Kind: VideoInput, DeviceID: c.VideoDeviceID, Err: ErrNoDevice}
	}
	if c.Audio && !s.HasAudio() {
		s.Release()
		return nil, &AccessError{Kind: AudioInput, DeviceID: c.AudioDeviceID, Err: ErrNoDevice}
	}

	if t := s.Track(webrtc.RTPCodecTypeVideo); t != nil && s.videoDeviceID == "" {
		s.videoDeviceID = t.ID()
	}
	if t := s.Track(webrtc.RTPCodecTypeAudio); t != nil && s.audioDeviceID == "" {
		s.audioDeviceID = t.ID()
	}

	a.log.Debug("stream acquired", "video", c.VideoDeviceID, "audio", c.AudioDeviceID, "tracks", len(tracks))
	return s, nil
}

// checkDevices rejects explicit device ids that are not present.
func (a *Acquirer) checkDevices(c Constraints) error {
	if c.VideoDeviceID == "" && c.AudioDeviceID == "" {
		return nil
	}
	devices, err := a.ListDevices()
	if err != nil {
		return nil
	}
	has := func(kind DeviceKind, id string) bool {
		for _, d := range devices {
			if d.Kind == kind && d.ID == id {
				return true
			}
		}
		return false
	}
	if c.Video && c.VideoDeviceID != "" && !has(VideoInput, c.VideoDeviceID) {
		return &AccessError{Kind: VideoInput, DeviceID: c.VideoDeviceID, Err: ErrNoDevice}
	}
	if c.Audio && c.AudioDeviceID != "" && !has(AudioInput, c.AudioDeviceID) {
		return &AccessError{Kind: AudioInput, DeviceID: c.AudioDeviceID, Err: ErrNoDevice}
	}
	return nil
}
