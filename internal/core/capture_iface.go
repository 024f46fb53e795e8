package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// MediaProfile is the minimum capture quality asked of a device, plus
// which camera to use. An empty CameraID means "any".
type MediaProfile struct {
	MinWidth     int
	MinHeight    int
	MinFrameRate float64
	CameraID     string
}

// LocalStream owns one acquisition of camera and microphone.
type LocalStream interface {
	VideoTrack() webrtc.TrackLocal
	AudioTrack() webrtc.TrackLocal
	// ReplaceVideo stops the current camera capture and reacquires with
	// the camera in p, returning the replacement track. The audio track
	// is never touched.
	ReplaceVideo(ctx context.Context, p MediaProfile) (webrtc.TrackLocal, error)
	// Close stops every capture owned by the stream. Safe to call twice.
	Close()
}

// CaptureDevice acquires local media.
type CaptureDevice interface {
	Open(ctx context.Context, p MediaProfile) (LocalStream, error)
	// Cameras lists selectable camera ids, in a stable order. Used to
	// cycle to the next device on camera switch.
	Cameras() []string
}
