// Package pionmedia captures camera and microphone input with
// pion/mediadevices. It needs cgo for the VP8 and Opus encoders.
package pionmedia

import (
	"fmt"
	"time"

	"github.com/AgilWave/examina-proctor/internal/media"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"     // registers camera adapter
	_ "github.com/pion/mediadevices/pkg/driver/microphone" // registers microphone adapter
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

// Proctoring streams favor stable delivery over quality.
const (
	videoWidth     = 640
	videoHeight    = 480
	videoFrameRate = 15
	videoBitRate   = 300_000
	audioBitRate   = 32_000
)

// Devices is a media.Devices backed by the host's capture drivers.
type Devices struct {
	selector *mediadevices.CodecSelector
}

// New prepares VP8 and Opus encoders.
func New() (*Devices, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("failed to create VP8 params: %w", err)
	}
	vpxParams.BitRate = videoBitRate
	vpxParams.KeyFrameInterval = 30
	vpxParams.RateControlEndUsage = vpx.RateControlVBR
	vpxParams.Deadline = 200 * time.Millisecond

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("failed to create Opus params: %w", err)
	}
	opusParams.BitRate = audioBitRate
	opusParams.Latency = opus.Latency20ms

	return &Devices{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

// ConfigureMediaEngine registers the encoder codecs with pion. Pass it to
// rtc.WithMediaEngine.
func (d *Devices) ConfigureMediaEngine(m *webrtc.MediaEngine) error {
	d.selector.Populate(m)
	return nil
}

func (d *Devices) Enumerate() ([]media.Device, error) {
	var out []media.Device
	for _, info := range mediadevices.EnumerateDevices() {
		var kind media.DeviceKind
		switch info.Kind {
		case mediadevices.VideoInput:
			kind = media.VideoInput
		case mediadevices.AudioInput:
			kind = media.AudioInput
		default:
			continue
		}
		out = append(out, media.Device{ID: info.DeviceID, Label: info.Label, Kind: kind})
	}
	return out, nil
}

func (d *Devices) Open(c media.Constraints) ([]media.Track, error) {
	constraints := mediadevices.MediaStreamConstraints{Codec: d.selector}

	if c.Video {
		constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
			if c.VideoDeviceID != "" {
				mc.DeviceID = prop.String(c.VideoDeviceID)
			}
			mc.FrameFormat = prop.FrameFormat(frame.FormatYUY2)
			mc.Width = prop.Int(videoWidth)
			mc.Height = prop.Int(videoHeight)
			mc.FrameRate = prop.Float(videoFrameRate)
		}
	}
	if c.Audio {
		constraints.Audio = func(mc *mediadevices.MediaTrackConstraints) {
			if c.AudioDeviceID != "" {
				mc.DeviceID = prop.String(c.AudioDeviceID)
			}
			mc.SampleRate = prop.Int(48000)
			mc.ChannelCount = prop.Int(1)
			mc.Latency = prop.Duration(20 * time.Millisecond)
		}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		kind, id := media.VideoInput, c.VideoDeviceID
		if !c.Video {
			kind, id = media.AudioInput, c.AudioDeviceID
		}
		return nil, &media.AccessError{Kind: kind, DeviceID: id, Err: fmt.Errorf("%w: %v", media.ErrPermissionDenied, err)}
	}

	var tracks []media.Track
	for _, t := range stream.GetTracks() {
		tracks = append(tracks, t)
	}
	return tracks, nil
}
