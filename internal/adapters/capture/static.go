package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/RameeshKp/Holostream/internal/core"
)

const staticStreamID = "holostream-static"

// StaticDevice satisfies the capture contract without hardware: its
// tracks negotiate VP8 and opus but never produce samples. It backs
// headless runs and tests, where the signaling path matters and the
// pixels do not.
type StaticDevice struct {
	cameras []string
}

// NewStaticDevice builds a device exposing the given camera ids; with
// none given it exposes a single "static-0".
func NewStaticDevice(cameras ...string) *StaticDevice {
	if len(cameras) == 0 {
		cameras = []string{"static-0"}
	}
	return &StaticDevice{cameras: cameras}
}

func (d *StaticDevice) Open(ctx context.Context, p core.MediaProfile) (core.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := p.CameraID
	if id == "" {
		id = d.cameras[0]
	}
	video, err := newStaticVideo(id)
	if err != nil {
		return nil, err
	}
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio-static", staticStreamID)
	if err != nil {
		return nil, fmt.Errorf("static audio track: %w", err)
	}
	return &staticStream{video: video, audio: audio}, nil
}

func (d *StaticDevice) Cameras() []string {
	out := make([]string, len(d.cameras))
	copy(out, d.cameras)
	return out
}

func newStaticVideo(camera string) (*webrtc.TrackLocalStaticSample, error) {
	t, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video-"+camera, staticStreamID)
	if err != nil {
		return nil, fmt.Errorf("static video track: %w", err)
	}
	return t, nil
}

type staticStream struct {
	mu     sync.Mutex
	video  *webrtc.TrackLocalStaticSample
	audio  *webrtc.TrackLocalStaticSample
	closed bool
}

func (s *staticStream) VideoTrack() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.video
}

func (s *staticStream) AudioTrack() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio
}

func (s *staticStream) ReplaceVideo(_ context.Context, p core.MediaProfile) (webrtc.TrackLocal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("replace video: capture closed")
	}
	t, err := newStaticVideo(p.CameraID)
	if err != nil {
		return nil, err
	}
	s.video = t
	return t, nil
}

func (s *staticStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}
