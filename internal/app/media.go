package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/RameeshKp/Holostream/internal/core"
)

// ErrNoAlternateCamera is returned by a camera switch when the device
// has nothing to switch to.
var ErrNoAlternateCamera = errors.New("no alternate camera available")

// MediaController owns the local capture: acquisition, the camera/audio
// capability flags, and device cycling. It knows nothing about peer
// connections or the store; the session applies its decisions there.
type MediaController struct {
	mu        sync.Mutex
	dev       core.CaptureDevice
	profile   core.MediaProfile
	stream    core.LocalStream
	camera    bool
	audio     bool
	cameraIdx int
}

func NewMediaController(dev core.CaptureDevice, profile core.MediaProfile) *MediaController {
	return &MediaController{dev: dev, profile: profile}
}

// Open acquires camera and microphone at the configured floor. Both
// capability flags start enabled. Open on an open controller is a no-op.
func (m *MediaController) Open(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream != nil {
		return nil
	}
	st, err := m.dev.Open(ctx, m.profile)
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}
	m.stream = st
	m.camera, m.audio = true, true
	log.Info().Str("module", "app.media").Msg("local capture open")
	return nil
}

// Tracks returns the current outgoing tracks, video first. New peer
// connections attach exactly these at creation time.
func (m *MediaController) Tracks() []webrtc.TrackLocal {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return nil
	}
	out := make([]webrtc.TrackLocal, 0, 2)
	if t := m.stream.VideoTrack(); t != nil {
		out = append(out, t)
	}
	if t := m.stream.AudioTrack(); t != nil {
		out = append(out, t)
	}
	return out
}

func (m *MediaController) Flags() (camera, audio bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.camera, m.audio
}

func (m *MediaController) ToggleCamera() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.camera = !m.camera
	return m.camera
}

func (m *MediaController) ToggleAudio() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audio = !m.audio
	return m.audio
}

// SwitchCamera reacquires video from the next camera and returns the
// replacement track. The audio capture is never touched.
func (m *MediaController) SwitchCamera(ctx context.Context) (webrtc.TrackLocal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return nil, fmt.Errorf("switch camera: capture not open")
	}
	cams := m.dev.Cameras()
	if len(cams) < 2 {
		return nil, ErrNoAlternateCamera
	}
	m.cameraIdx = (m.cameraIdx + 1) % len(cams)
	p := m.profile
	p.CameraID = cams[m.cameraIdx]
	track, err := m.stream.ReplaceVideo(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("switch camera to %s: %w", p.CameraID, err)
	}
	m.profile = p
	log.Info().Str("module", "app.media").Str("camera", p.CameraID).Msg("camera switched")
	return track, nil
}

// Close stops every local capture. Safe to call twice.
func (m *MediaController) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return
	}
	m.stream.Close()
	m.stream = nil
	log.Info().Str("module", "app.media").Msg("local capture closed")
}

// ToggleCamera flips the outgoing video on every open connection and
// publishes the new capability flags for the remote side to display.
// No renegotiation happens on either operation.
func (s *Session) ToggleCamera(ctx context.Context) (bool, error) {
	links, ref, role, err := s.controlSnapshot()
	if err != nil {
		return false, err
	}
	on := s.media.ToggleCamera()
	for _, l := range links {
		if err := l.conn.SetVideoEnabled(on); err != nil {
			log.Warn().Err(err).
				Str("module", "app.session").
				Str("slot", string(l.slot)).
				Msg("video toggle failed on slot")
		}
	}
	camera, audio := s.media.Flags()
	if err := s.sig.PublishStatus(ctx, ref, role, camera, audio); err != nil {
		return on, err
	}
	return on, nil
}

func (s *Session) ToggleAudio(ctx context.Context) (bool, error) {
	links, ref, role, err := s.controlSnapshot()
	if err != nil {
		return false, err
	}
	on := s.media.ToggleAudio()
	for _, l := range links {
		if err := l.conn.SetAudioEnabled(on); err != nil {
			log.Warn().Err(err).
				Str("module", "app.session").
				Str("slot", string(l.slot)).
				Msg("audio toggle failed on slot")
		}
	}
	camera, audio := s.media.Flags()
	if err := s.sig.PublishStatus(ctx, ref, role, camera, audio); err != nil {
		return on, err
	}
	return on, nil
}

// SwitchCamera swaps the outgoing video track across every open
// connection. Established slots keep their state and stream identity;
// connections created while the switch runs attach the new track at
// creation and are skipped here.
func (s *Session) SwitchCamera(ctx context.Context) error {
	links, _, _, err := s.controlSnapshot()
	if err != nil {
		return err
	}
	track, err := s.media.SwitchCamera(ctx)
	if err != nil {
		return err
	}
	for _, l := range links {
		if err := l.conn.ReplaceVideoTrack(track); err != nil {
			log.Warn().Err(err).
				Str("module", "app.session").
				Str("slot", string(l.slot)).
				Msg("track replace failed on slot")
		}
	}
	return nil
}
