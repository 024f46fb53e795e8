package core

import (
	"time"

	"github.com/RameeshKp/Holostream/internal/domain"
)

// EventKind labels a call event published to observers (CLI, event feed).
type EventKind string

const (
	EventStateChanged  EventKind = "state_changed"
	EventPeerJoined    EventKind = "peer_joined"
	EventPeerLeft      EventKind = "peer_left"
	EventStreamAdded   EventKind = "stream_added"
	EventStreamRemoved EventKind = "stream_removed"
	EventPeerStatus    EventKind = "peer_status"
	EventCallEnded     EventKind = "call_ended"
	EventSlotFailed    EventKind = "slot_failed"
)

// End reasons carried by EventCallEnded.
const (
	EndReasonHangup       = "hangup"
	EndReasonRemoteClosed = "remote_disconnected"
	EndReasonRoomEnded    = "room_ended"
	EndReasonRoomGone     = "room_gone"
)

// CallEvent is a read-only view of one session transition.
type CallEvent struct {
	Kind     EventKind       `json:"kind"`
	Room     domain.RoomCode `json:"room,omitempty"`
	Slot     domain.SlotID   `json:"slot,omitempty"`
	State    string          `json:"state,omitempty"`
	StreamID string          `json:"stream_id,omitempty"`
	Camera   *bool           `json:"camera,omitempty"`
	Audio    *bool           `json:"audio,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	At       time.Time       `json:"at"`
}
