// Package capture acquires local camera and microphone media through
// the platform drivers and hands it to the transport as webrtc tracks.
package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"     // registers the camera driver
	_ "github.com/pion/mediadevices/pkg/driver/microphone" // registers the microphone driver
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/RameeshKp/Holostream/internal/core"
)

// Capture floor for profiles that leave it unset.
const (
	defaultWidth     = 640
	defaultHeight    = 480
	defaultFrameRate = 30
)

// Device opens real capture hardware. One codec selector is built up
// front so every acquisition, including the reacquire on a camera
// switch, encodes the same way and matches what the transport offers.
type Device struct {
	selector *mediadevices.CodecSelector
	engine   *webrtc.MediaEngine
}

func NewDevice() (*Device, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 1_000_000
	vpxParams.KeyFrameInterval = 30

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}
	opusParams.BitRate = 32_000
	opusParams.Latency = opus.Latency20ms

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	engine := &webrtc.MediaEngine{}
	if err := engine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	selector.Populate(engine)

	return &Device{selector: selector, engine: engine}, nil
}

// Engine returns the media engine carrying the capture codecs. The
// transport API must be built on it so offers advertise exactly what
// the encoders produce.
func (d *Device) Engine() *webrtc.MediaEngine { return d.engine }

func (d *Device) Open(ctx context.Context, p core.MediaProfile) (core.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ms, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: d.videoConstraints(p),
		Audio: audioConstraints,
		Codec: d.selector,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMediaAccessDenied, err)
	}
	videos, audios := ms.GetVideoTracks(), ms.GetAudioTracks()
	if len(videos) == 0 || len(audios) == 0 {
		for _, t := range ms.GetTracks() {
			_ = t.Close()
		}
		return nil, fmt.Errorf("%w: driver returned no usable track", core.ErrMediaAccessDenied)
	}
	log.Info().
		Str("module", "capture").
		Str("video", videos[0].ID()).
		Str("audio", audios[0].ID()).
		Msg("capture acquired")
	return &hwStream{dev: d, video: videos[0], audio: audios[0]}, nil
}

func (d *Device) videoConstraints(p core.MediaProfile) func(*mediadevices.MediaTrackConstraints) {
	width, height, rate := p.MinWidth, p.MinHeight, p.MinFrameRate
	if width == 0 {
		width = defaultWidth
	}
	if height == 0 {
		height = defaultHeight
	}
	if rate == 0 {
		rate = defaultFrameRate
	}
	return func(c *mediadevices.MediaTrackConstraints) {
		if p.CameraID != "" {
			c.DeviceID = prop.String(p.CameraID)
		}
		c.Width = prop.Int(width)
		c.Height = prop.Int(height)
		c.FrameRate = prop.Float(rate)
	}
}

func audioConstraints(c *mediadevices.MediaTrackConstraints) {
	c.SampleRate = prop.Int(48000)
	c.ChannelCount = prop.Int(1)
	c.Latency = prop.Duration(20 * time.Millisecond)
}

// Cameras lists the video input devices the drivers expose, in driver
// order. Driver order is stable for the life of the process, which is
// what the camera-switch cycle relies on.
func (d *Device) Cameras() []string {
	var out []string
	for _, info := range mediadevices.EnumerateDevices() {
		if info.Kind == mediadevices.VideoInput {
			out = append(out, info.DeviceID)
		}
	}
	return out
}

// hwStream is one live acquisition. The video track may be swapped by
// ReplaceVideo; the audio track lives for the whole stream.
type hwStream struct {
	dev *Device

	mu     sync.Mutex
	video  mediadevices.Track
	audio  mediadevices.Track
	closed bool
}

func (s *hwStream) VideoTrack() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.video
}

func (s *hwStream) AudioTrack() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio
}

// ReplaceVideo reacquires video only. The old track is closed after the
// new one is live, so a failed reacquire leaves the current capture
// running.
func (s *hwStream) ReplaceVideo(ctx context.Context, p core.MediaProfile) (webrtc.TrackLocal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("replace video: capture closed")
	}
	ms, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: s.dev.videoConstraints(p),
		Codec: s.dev.selector,
	})
	if err != nil {
		return nil, fmt.Errorf("reacquire camera %q: %w", p.CameraID, err)
	}
	videos := ms.GetVideoTracks()
	if len(videos) == 0 {
		return nil, fmt.Errorf("reacquire camera %q: no video track", p.CameraID)
	}
	old := s.video
	s.video = videos[0]
	if old != nil {
		if err := old.Close(); err != nil {
			log.Warn().Err(err).Str("module", "capture").Msg("old video track close")
		}
	}
	log.Info().
		Str("module", "capture").
		Str("camera", p.CameraID).
		Str("track", videos[0].ID()).
		Msg("video reacquired")
	return videos[0], nil
}

func (s *hwStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, t := range []mediadevices.Track{s.video, s.audio} {
		if t == nil {
			continue
		}
		if err := t.Close(); err != nil {
			log.Warn().Err(err).Str("module", "capture").Msg("track close")
		}
	}
	log.Info().Str("module", "capture").Msg("capture released")
}
