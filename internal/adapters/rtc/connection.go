package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/RameeshKp/Holostream/internal/core"
	"github.com/RameeshKp/Holostream/internal/domain"
)

// Connection wraps one pion PeerConnection negotiated against a single
// remote slot. Candidates trickle: CreateOffer and AcceptOffer return as
// soon as the local description is installed and gathered candidates
// arrive through OnICECandidate afterwards.
//
// Callbacks must be set before Start.
type Connection struct {
	pc   *webrtc.PeerConnection
	slot domain.SlotID

	mu      sync.Mutex
	senders map[webrtc.RTPCodecType]*webrtc.RTPSender
	current map[webrtc.RTPCodecType]webrtc.TrackLocal
	muted   map[webrtc.RTPCodecType]bool
	closed  bool

	cancel context.CancelFunc

	onICE    func(webrtc.ICECandidateInit)
	onTrack  func(track core.RemoteTrack)
	onState  func(webrtc.PeerConnectionState)
	onClosed func()
}

// remoteTrack narrows pion's TrackRemote to the core contract.
type remoteTrack struct {
	tr *webrtc.TrackRemote
}

func (r remoteTrack) ID() string                { return r.tr.ID() }
func (r remoteTrack) StreamID() string          { return r.tr.StreamID() }
func (r remoteTrack) Kind() webrtc.RTPCodecType { return r.tr.Kind() }

func (r remoteTrack) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := r.tr.ReadRTP()
	return pkt, err
}

func newConnection(pc *webrtc.PeerConnection, slot domain.SlotID) *Connection {
	return &Connection{
		pc:      pc,
		slot:    slot,
		senders: make(map[webrtc.RTPCodecType]*webrtc.RTPSender),
		current: make(map[webrtc.RTPCodecType]webrtc.TrackLocal),
		muted:   make(map[webrtc.RTPCodecType]bool),
	}
}

func (c *Connection) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("slot", string(c.slot)).Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("slot", string(c.slot)).Str("peer_connection_state", s.String()).Msg("Peer state")
		if c.onState != nil {
			c.onState(s)
		}
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed {
			cancel()
			if c.onClosed != nil {
				c.onClosed()
			}
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && c.onICE != nil {
			c.onICE(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("slot", string(c.slot)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if c.onTrack != nil {
			c.onTrack(remoteTrack{tr: track})
		}
	})

	// Bind the connection lifetime to ctx.
	go func() {
		<-ctx.Done()
		c.Close()
	}()

	return nil
}

func (c *Connection) CreateOffer() (*webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local offer: %w", err)
	}
	return c.pc.LocalDescription(), nil
}

func (c *Connection) AcceptOffer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local answer: %w", err)
	}
	return c.pc.LocalDescription(), nil
}

func (c *Connection) AcceptAnswer(answer webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}

func (c *Connection) HasRemoteDescription() bool {
	return c.pc.RemoteDescription() != nil
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

// AddLocalTrack attaches an outgoing track and remembers its sender so
// replace and mute can find it later.
func (c *Connection) AddLocalTrack(track webrtc.TrackLocal) error {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("add %s track: %w", track.Kind(), err)
	}
	c.mu.Lock()
	c.senders[track.Kind()] = sender
	c.current[track.Kind()] = track
	c.mu.Unlock()
	return nil
}

// ReplaceVideoTrack swaps the video sender's track in place; the session
// stays negotiated and the remote stream identity does not change. On a
// muted connection only the pending track is updated.
func (c *Connection) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	c.mu.Lock()
	sender := c.senders[webrtc.RTPCodecTypeVideo]
	muted := c.muted[webrtc.RTPCodecTypeVideo]
	c.current[webrtc.RTPCodecTypeVideo] = track
	c.mu.Unlock()
	if sender == nil {
		return fmt.Errorf("replace video on %s: no video sender: %w", c.slot, core.ErrNegotiationFailed)
	}
	if muted {
		return nil
	}
	if err := sender.ReplaceTrack(track); err != nil {
		return fmt.Errorf("replace video on %s: %w", c.slot, err)
	}
	return nil
}

func (c *Connection) SetVideoEnabled(enabled bool) error {
	return c.setEnabled(webrtc.RTPCodecTypeVideo, enabled)
}

func (c *Connection) SetAudioEnabled(enabled bool) error {
	return c.setEnabled(webrtc.RTPCodecTypeAudio, enabled)
}

// setEnabled pauses or resumes one outbound kind by parking the sender
// on a nil track, which needs no renegotiation.
func (c *Connection) setEnabled(kind webrtc.RTPCodecType, enabled bool) error {
	c.mu.Lock()
	sender := c.senders[kind]
	track := c.current[kind]
	c.muted[kind] = !enabled
	c.mu.Unlock()
	if sender == nil {
		return nil
	}
	if !enabled {
		track = nil
	}
	if err := sender.ReplaceTrack(track); err != nil {
		return fmt.Errorf("set %s enabled=%t on %s: %w", kind, enabled, c.slot, err)
	}
	return nil
}

func (c *Connection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("slot", string(c.slot)).Msg("close error")
	} else {
		log.Info().Str("module", "rtc").Str("slot", string(c.slot)).Msg("closed")
	}
	if c.onClosed != nil {
		c.onClosed()
	}
}

func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.onICE = fn
}

// OnTrack sets the application-level callback for remote tracks.
func (c *Connection) OnTrack(fn func(track core.RemoteTrack)) {
	c.onTrack = fn
}

// OnStateChange sets the application-level callback for transport state.
func (c *Connection) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	c.onState = fn
}

// OnClosed sets the application-level callback for cleanup.
func (c *Connection) OnClosed(fn func()) { c.onClosed = fn }
