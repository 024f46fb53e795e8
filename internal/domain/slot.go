package domain

import "github.com/google/uuid"

// SlotID identifies a logical participant position: one peer connection
// and its signaling documents.
type SlotID string

// HostSlot keys the initial offer so a joining guest can find it without
// knowing anything about the host.
const HostSlot SlotID = "host"

type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// NewGuestSlot mints a slot id for a responder connection.
func NewGuestSlot() SlotID {
	return SlotID(uuid.NewString())
}

// StatusDocID maps a role onto its participant-status document id. The
// store keys status docs by role label, not by slot.
func (r Role) StatusDocID() string {
	if r == RoleHost {
		return "broadcaster"
	}
	return "viewer"
}
