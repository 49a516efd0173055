package media

import (
	"fmt"
	"log/slog"

	"github.com/pion/webrtc/v4"
)

// TrackReplacer is the connection set a publisher feeds.
type TrackReplacer interface {
	SetLocalTracks(tracks ...webrtc.TrackLocal)
	ReplaceTrack(track webrtc.TrackLocal) error
}

// Publisher owns the stream currently sent to every connection and swaps it
// on device change without recreating connections.
type Publisher struct {
	acq     *Acquirer
	target  TrackReplacer
	current *Stream
	log     *slog.Logger
}

// NewPublisher creates a publisher feeding target.
func NewPublisher(acq *Acquirer, target TrackReplacer, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{acq: acq, target: target, log: logger}
}

// Start acquires the initial stream. New connections are created with its
// tracks.
func (p *Publisher) Start(videoDeviceID, audioDeviceID string) error {
	s, err := p.acq.Acquire(videoDeviceID, audioDeviceID)
	if err != nil {
		return err
	}
	if p.current != nil {
		p.current.Release()
	}
	p.current = s
	p.target.SetLocalTracks(s.Tracks()...)
	return nil
}

// Switch replaces the outbound tracks in place and releases what they
// replace. An empty id keeps the current device. Only devices whose id
// changed are reopened, so a capture device is never opened twice. When
// acquisition fails the previous stream keeps playing.
func (p *Publisher) Switch(videoDeviceID, audioDeviceID string) error {
	cur := p.current
	c := Constraints{Video: true, VideoDeviceID: videoDeviceID, Audio: true, AudioDeviceID: audioDeviceID}
	if cur != nil {
		curVideo, curAudio := cur.DeviceIDs()
		if videoDeviceID == "" {
			videoDeviceID, c.VideoDeviceID = curVideo, curVideo
		}
		if audioDeviceID == "" {
			audioDeviceID, c.AudioDeviceID = curAudio, curAudio
		}
		c.Video = videoDeviceID != curVideo || !cur.HasVideo()
		c.Audio = audioDeviceID != curAudio || !cur.HasAudio()
		if !c.Video && !c.Audio {
			return nil
		}
	}

	next, err := p.acq.Open(c)
	if err != nil {
		return err
	}

	var replaceErr error
	for _, t := range next.Tracks() {
		if err := p.target.ReplaceTrack(t); err != nil {
			replaceErr = err
		}
	}

	if cur != nil {
		next.adopt(cur)
		cur.releaseExcept(next)
	}
	p.current = next

	p.log.Debug("devices switched", "video", c.Video, "audio", c.Audio, "videoDevice", videoDeviceID, "audioDevice", audioDeviceID)
	if replaceErr != nil {
		return fmt.Errorf("switch devices: %w", replaceErr)
	}
	return nil
}

// Current returns the stream being sent, or nil.
func (p *Publisher) Current() *Stream {
	return p.current
}

// Status reports whether a camera and a microphone are being sent.
func (p *Publisher) Status() (webcam, mic bool) {
	if p.current == nil || p.current.Released() {
		return false, false
	}
	return p.current.HasVideo(), p.current.HasAudio()
}

// Release stops the current stream.
func (p *Publisher) Release() {
	if p.current != nil {
		p.current.Release()
		p.current = nil
	}
}
