package core

import (
	"context"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// RemoteTrack is one inbound media track surfaced by a connection. The
// stream id groups the audio and video tracks of one remote participant.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	// ReadRTP blocks for the next packet; it returns an error once the
	// track or its connection is gone.
	ReadRTP() (*rtp.Packet, error)
}

// MediaConnection is one negotiated transport to a single remote slot.
type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close stops all underlying media resources. Safe to call twice.
	Close()
	IsClosed() bool

	// CreateOffer produces an offer and installs it as the local
	// description. Candidates trickle through OnICECandidate afterwards.
	CreateOffer() (*webrtc.SessionDescription, error)
	// AcceptOffer applies a remote offer and produces the local answer.
	AcceptOffer(webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	// AcceptAnswer applies the remote answer.
	AcceptAnswer(webrtc.SessionDescription) error
	HasRemoteDescription() bool

	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error

	// AddLocalTrack attaches an outgoing track and keeps its sender by kind.
	AddLocalTrack(track webrtc.TrackLocal) error
	// ReplaceVideoTrack swaps the outbound video sender's track in place,
	// without renegotiation. A muted connection keeps the new track for
	// when it is unmuted.
	ReplaceVideoTrack(track webrtc.TrackLocal) error
	// SetVideoEnabled and SetAudioEnabled pause or resume the outbound
	// sender of that kind, again without renegotiation.
	SetVideoEnabled(bool) error
	SetAudioEnabled(bool) error

	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(track RemoteTrack))
	// OnStateChange reports transport state transitions.
	OnStateChange(func(webrtc.PeerConnectionState))
	// OnClosed sets a callback for cleanup after the connection dies.
	OnClosed(func())
}
