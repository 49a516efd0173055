// Package mediatest provides an in-memory capture backend for tests.
package mediatest

import (
	"errors"
	"sync"

	"github.com/AgilWave/examina-proctor/internal/media"
	"github.com/pion/webrtc/v4"
)

// Track is a fake captured track that counts Close calls.
type Track struct {
	*webrtc.TrackLocalStaticSample
	DeviceID string

	mu     sync.Mutex
	closed int
}

func (t *Track) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed++
	return nil
}

// Closed reports how many times Close was called.
func (t *Track) Closed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// NewTrack builds a fake track for a device.
func NewTrack(kind media.DeviceKind, deviceID string) *Track {
	mime := webrtc.MimeTypeVP8
	if kind == media.AudioInput {
		mime = webrtc.MimeTypeOpus
	}
	s, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, deviceID, "local")
	if err != nil {
		panic(err)
	}
	return &Track{TrackLocalStaticSample: s, DeviceID: deviceID}
}

// ErrBusy is returned by an Exclusive backend for a device already open.
var ErrBusy = errors.New("device busy")

// Devices is a fake backend. Deny makes Open fail for that device kind.
type Devices struct {
	mu   sync.Mutex
	List []media.Device
	Deny map[media.DeviceKind]bool
	// Exclusive refuses to open a device that has a live track, as real
	// capture drivers do.
	Exclusive bool

	opened  []*Track
	opens   int
	enumErr error
}

// New returns a backend with one camera and one microphone per id given.
func New(cameras, mics []string) *Devices {
	d := &Devices{Deny: map[media.DeviceKind]bool{}}
	for _, id := range cameras {
		d.List = append(d.List, media.Device{ID: id, Label: "Camera " + id, Kind: media.VideoInput})
	}
	for _, id := range mics {
		d.List = append(d.List, media.Device{ID: id, Label: "Microphone " + id, Kind: media.AudioInput})
	}
	return d
}

// SetDeny toggles permission for a device kind.
func (d *Devices) SetDeny(kind media.DeviceKind, deny bool) {
	d.mu.Lock()
	d.Deny[kind] = deny
	d.mu.Unlock()
}

func (d *Devices) Enumerate() ([]media.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.enumErr != nil {
		return nil, d.enumErr
	}
	return append([]media.Device(nil), d.List...), nil
}

func (d *Devices) Open(c media.Constraints) ([]media.Track, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++

	if c.Video && d.Deny[media.VideoInput] {
		return nil, &media.AccessError{Kind: media.VideoInput, DeviceID: c.VideoDeviceID, Err: media.ErrPermissionDenied}
	}
	if c.Audio && d.Deny[media.AudioInput] {
		return nil, &media.AccessError{Kind: media.AudioInput, DeviceID: c.AudioDeviceID, Err: media.ErrPermissionDenied}
	}

	if d.Exclusive {
		if c.Video {
			if id, ok := d.pick(media.VideoInput, c.VideoDeviceID); ok && d.busy(id) {
				return nil, &media.AccessError{Kind: media.VideoInput, DeviceID: id, Err: ErrBusy}
			}
		}
		if c.Audio {
			if id, ok := d.pick(media.AudioInput, c.AudioDeviceID); ok && d.busy(id) {
				return nil, &media.AccessError{Kind: media.AudioInput, DeviceID: id, Err: ErrBusy}
			}
		}
	}

	var tracks []media.Track
	if c.Video {
		if id, ok := d.pick(media.VideoInput, c.VideoDeviceID); ok {
			t := NewTrack(media.VideoInput, id)
			d.opened = append(d.opened, t)
			tracks = append(tracks, t)
		}
	}
	if c.Audio {
		if id, ok := d.pick(media.AudioInput, c.AudioDeviceID); ok {
			t := NewTrack(media.AudioInput, id)
			d.opened = append(d.opened, t)
			tracks = append(tracks, t)
		}
	}
	return tracks, nil
}

func (d *Devices) pick(kind media.DeviceKind, id string) (string, bool) {
	for _, dev := range d.List {
		if dev.Kind == kind && (id == "" || dev.ID == id) {
			return dev.ID, true
		}
	}
	return "", false
}

func (d *Devices) busy(deviceID string) bool {
	for _, t := range d.opened {
		if t.DeviceID == deviceID && t.Closed() == 0 {
			return true
		}
	}
	return false
}

// Opened returns every track handed out, in order.
func (d *Devices) Opened() []*Track {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Track(nil), d.opened...)
}

// Opens reports how many times Open was called.
func (d *Devices) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Live returns tracks not yet closed.
func (d *Devices) Live() []*Track {
	var live []*Track
	for _, t := range d.Opened() {
		if t.Closed() == 0 {
			live = append(live, t)
		}
	}
	return live
}

// FailEnumerate makes Enumerate return err.
func (d *Devices) FailEnumerate(err error) {
	d.mu.Lock()
	d.enumErr = err
	d.mu.Unlock()
}
