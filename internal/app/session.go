// Package app drives a call end to end: it owns the per-slot signaling
// state machine, the peer connection set, the remote stream set and the
// local media controller, and turns room-directory events into transport
// operations. All mutable call state lives on the Session and changes
// only under its lock; store and transport callbacks take the lock,
// check the keyed guards and apply their transition, so duplicate or
// out-of-order deliveries fall out as no-ops.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/RameeshKp/Holostream/internal/core"
	"github.com/RameeshKp/Holostream/internal/domain"
	"github.com/RameeshKp/Holostream/internal/signal"
)

// ErrNotInCall guards the in-call controls.
var ErrNotInCall = errors.New("no call in progress")

// errSlotBusy reports a lost race for a slot key; the winner's link stands.
var errSlotBusy = errors.New("slot already linked")

// ConnFactory builds one transport connection for a remote slot.
// rtc.Factory.NewConnection satisfies it.
type ConnFactory func(slot domain.SlotID) (core.MediaConnection, error)

// Session is one call, hosted or joined, from start to teardown. A
// Session is single-use: after it ends a new one must be created.
type Session struct {
	sig     *signal.Adapter
	media   *MediaController
	connect ConnFactory

	// ctx bounds every watch and connection of this call; end cancels it.
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	hub    *eventHub

	mu             sync.Mutex
	started        bool
	closed         bool
	role           domain.Role
	slot           domain.SlotID
	code           domain.RoomCode
	ref            domain.RoomRef
	primaryClaimed bool
	links          *connSet
	streams        *streamSet
	announced      map[domain.SlotID]bool
	subs           []func()
}

func NewSession(sig *signal.Adapter, media *MediaController, connect ConnFactory) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		sig:       sig,
		media:     media,
		connect:   connect,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		hub:       newEventHub(),
		links:     newConnSet(),
		streams:   newStreamSet(),
		announced: make(map[domain.SlotID]bool),
	}
}

// Subscribe returns a live feed of call events. The channel closes when
// the session ends.
func (s *Session) Subscribe() (<-chan core.CallEvent, func()) {
	return s.hub.subscribe()
}

// Done is closed once the session has fully torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// SlotSnapshot is the read-only view of one peer link.
type SlotSnapshot struct {
	Slot  domain.SlotID `json:"slot"`
	State string        `json:"state"`
}

// Snapshot is the session state exposed to the control surface.
type Snapshot struct {
	Role    domain.Role      `json:"role,omitempty"`
	Room    domain.RoomCode  `json:"room,omitempty"`
	State   string           `json:"state"`
	Slots   []SlotSnapshot   `json:"slots,omitempty"`
	Streams []StreamSnapshot `json:"streams,omitempty"`
	Camera  bool             `json:"camera"`
	Audio   bool             `json:"audio"`
}

func (s *Session) Snapshot() Snapshot {
	camera, audio := s.media.Flags()
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Role:    s.role,
		Room:    s.code,
		Camera:  camera,
		Audio:   audio,
		Streams: s.streams.snapshot(),
	}
	connected := false
	for _, l := range s.links.snapshot() {
		snap.Slots = append(snap.Slots, SlotSnapshot{Slot: l.slot, State: l.state.String()})
		if l.state == SlotConnected {
			connected = true
		}
	}
	switch {
	case s.closed:
		snap.State = "ended"
	case !s.started:
		snap.State = "idle"
	case connected:
		snap.State = "in_call"
	case s.links.size() > 0:
		snap.State = "connecting"
	default:
		snap.State = "waiting"
	}
	return snap
}

// begin reserves the session for one role; it refuses reuse.
func (s *Session) begin(role domain.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.ErrSessionClosed
	}
	if s.started {
		return fmt.Errorf("session already started as %s", s.role)
	}
	s.started = true
	s.role = role
	if role == domain.RoleHost {
		s.slot = domain.HostSlot
	} else {
		s.slot = domain.NewGuestSlot()
	}
	return nil
}

// abortStart unwinds a failed Host or Join back to the pre-call state:
// no links, no media, no watches, ready for another attempt. It does not
// cancel the session context, so a retry on the same Session works.
func (s *Session) abortStart(ctx context.Context, endRoom bool) {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	links := s.links.drain()
	s.streams.clear()
	ref := s.ref
	s.ref, s.code = "", ""
	s.started = false
	s.primaryClaimed = false
	s.mu.Unlock()

	for _, cancel := range subs {
		cancel()
	}
	for _, l := range links {
		if l.stopCand != nil {
			l.stopCand()
		}
		l.conn.Close()
	}
	s.media.Close()
	if endRoom && ref != "" {
		if err := s.sig.EndRoom(ctx, ref); err != nil {
			log.Warn().Err(err).Str("module", "app.session").Msg("room cleanup after failed start")
		}
	}
}

// addSub registers a watch cancel for teardown. If the session already
// ended, the subscription is cancelled on the spot.
func (s *Session) addSub(cancel func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return
	}
	s.subs = append(s.subs, cancel)
	s.mu.Unlock()
}

// openLink builds a connection for a remote slot: local tracks attached
// first, callbacks bound to this link, then registered in the set.
// errSlotBusy means another trigger linked the slot first.
func (s *Session) openLink(slot domain.SlotID) (*peerLink, error) {
	conn, err := s.connect(slot)
	if err != nil {
		return nil, fmt.Errorf("connection for %s: %w", slot, err)
	}
	for _, t := range s.media.Tracks() {
		if err := conn.AddLocalTrack(t); err != nil {
			conn.Close()
			return nil, fmt.Errorf("attach local track for %s: %w", slot, err)
		}
	}
	link := &peerLink{slot: slot, conn: conn, state: SlotIdle}
	conn.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		go s.publishLocalCandidate(ci)
	})
	conn.OnTrack(func(track core.RemoteTrack) {
		s.onRemoteTrack(link, track)
	})
	conn.OnStateChange(func(st webrtc.PeerConnectionState) {
		go s.onConnState(link, st)
	})
	conn.OnClosed(func() {
		go s.onConnClosed(link)
	})
	if err := conn.Start(s.ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("start connection for %s: %w", slot, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return nil, core.ErrSessionClosed
	}
	if !s.links.add(link) {
		s.mu.Unlock()
		conn.Close()
		return nil, errSlotBusy
	}
	s.mu.Unlock()
	return link, nil
}

func (s *Session) setSlotState(link *peerLink, st SlotState) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	link.state = st
	slot := link.slot
	s.mu.Unlock()
	s.publish(core.CallEvent{Kind: core.EventStateChanged, Slot: slot, State: st.String()})
}

// markJoined emits peer_joined once per slot, whichever of answer claim
// or participant announcement lands first.
func (s *Session) markJoined(slot domain.SlotID) {
	s.mu.Lock()
	if s.closed || s.announced[slot] {
		s.mu.Unlock()
		return
	}
	s.announced[slot] = true
	s.mu.Unlock()
	s.publish(core.CallEvent{Kind: core.EventPeerJoined, Slot: slot})
}

// publishLocalCandidate forwards one locally gathered candidate, tagged
// with this participant's own slot so the remote side can filter on it.
func (s *Session) publishLocalCandidate(ci webrtc.ICECandidateInit) {
	s.mu.Lock()
	if s.closed || s.ref == "" {
		s.mu.Unlock()
		return
	}
	ref, own := s.ref, s.slot
	s.mu.Unlock()
	if err := s.sig.PublishCandidate(s.ctx, ref, own, ci); err != nil {
		log.Warn().Err(err).Str("module", "app.session").Msg("candidate publish failed")
	}
}

// onConnState maps transport state onto the slot lifecycle. A failed or
// disconnected transport is that slot's departure, nothing more.
func (s *Session) onConnState(link *peerLink, st webrtc.PeerConnectionState) {
	switch st {
	case webrtc.PeerConnectionStateConnected:
		s.mu.Lock()
		if s.closed || !s.links.isCurrent(link) || link.state == SlotConnected {
			s.mu.Unlock()
			return
		}
		link.state = SlotConnected
		slot := link.slot
		s.mu.Unlock()
		s.publish(core.CallEvent{Kind: core.EventStateChanged, Slot: slot, State: SlotConnected.String()})
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
		s.dropPeer(link, true)
	}
}

// onConnClosed covers transport deaths that never report failed, for
// example a context-bound close of the underlying connection.
func (s *Session) onConnClosed(link *peerLink) {
	s.dropPeer(link, true)
}

// dropPeer removes exactly one slot: its connection, its candidate pump
// and its streams. Other slots are untouched. For a guest the host link
// is the whole call, so its loss ends the session.
func (s *Session) dropPeer(link *peerLink, failed bool) {
	s.mu.Lock()
	if s.closed || !s.links.isCurrent(link) {
		s.mu.Unlock()
		return
	}
	s.links.remove(link.slot)
	if failed {
		link.state = SlotFailed
	} else {
		link.state = SlotClosed
	}
	slot := link.slot
	removed := s.streams.removeBySlot(slot)
	delete(s.announced, slot)
	guest := s.role == domain.RoleGuest
	s.mu.Unlock()

	if link.stopCand != nil {
		link.stopCand()
	}
	link.conn.Close()

	for _, id := range removed {
		s.publish(core.CallEvent{Kind: core.EventStreamRemoved, Slot: slot, StreamID: id})
	}
	if failed {
		s.publish(core.CallEvent{Kind: core.EventSlotFailed, Slot: slot, Reason: core.EndReasonRemoteClosed})
	}
	s.publish(core.CallEvent{Kind: core.EventPeerLeft, Slot: slot})
	log.Info().
		Str("module", "app.session").
		Str("slot", string(slot)).
		Bool("failed", failed).
		Msg("peer departed")

	if guest && slot == domain.HostSlot {
		_ = s.end(context.Background(), core.EndReasonRemoteClosed)
	}
}

// dropLink abandons a link that never finished negotiating.
func (s *Session) dropLink(link *peerLink, err error) {
	s.mu.Lock()
	if s.links.isCurrent(link) {
		s.links.remove(link.slot)
	}
	slot := link.slot
	s.mu.Unlock()
	link.conn.Close()
	log.Warn().Err(err).
		Str("module", "app.session").
		Str("slot", string(slot)).
		Msg("slot negotiation abandoned")
	s.publish(core.CallEvent{Kind: core.EventSlotFailed, Slot: slot, Reason: "negotiation"})
}

// controlSnapshot guards the in-call controls and hands them the links
// to operate on outside the lock.
func (s *Session) controlSnapshot() ([]*peerLink, domain.RoomRef, domain.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, "", "", core.ErrSessionClosed
	}
	if !s.started || s.ref == "" {
		return nil, "", "", ErrNotInCall
	}
	return s.links.snapshot(), s.ref, s.role, nil
}

func (s *Session) statusLoop(ch <-chan signal.StatusEvent) {
	for ev := range ch {
		s.handleStatus(ev)
	}
}

// handleStatus surfaces the remote side's capability flags. Own echoes
// and removals are dropped; a removal always accompanies a departure
// that is reported through the participant or transport path.
func (s *Session) handleStatus(ev signal.StatusEvent) {
	s.mu.Lock()
	own := s.role
	closed := s.closed
	s.mu.Unlock()
	if closed || ev.Removed || ev.Role == own {
		return
	}
	camera, audio := ev.Camera, ev.Audio
	s.publish(core.CallEvent{Kind: core.EventPeerStatus, Camera: &camera, Audio: &audio})
}

func (s *Session) publish(ev core.CallEvent) {
	ev.At = time.Now().UTC()
	if ev.Room == "" {
		s.mu.Lock()
		ev.Room = s.code
		s.mu.Unlock()
	}
	s.hub.publish(ev)
}
