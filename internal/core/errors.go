package core

import "errors"

// Failure taxonomy of the call engine. Failures scoped to one peer slot
// (candidate application, a single connection dropping) are contained by
// the session and surface only as that slot's departure; these sentinels
// classify the operation-level failures callers see.
var (
	ErrStoreUnavailable  = errors.New("room directory unavailable")
	ErrRoomNotFound      = errors.New("no active room with that code")
	ErrRoomCodeTaken     = errors.New("room code already taken by an active room")
	ErrOfferNotFound     = errors.New("host offer not published yet")
	ErrMediaAccessDenied = errors.New("camera or microphone unavailable")
	ErrNegotiationFailed = errors.New("negotiation failed")
	ErrPeerDisconnected  = errors.New("peer disconnected")
	ErrSessionClosed     = errors.New("session already closed")

	// ErrNoDocument is the driver-level miss reported by directory reads;
	// the store adapter maps it onto the taxonomy above.
	ErrNoDocument = errors.New("document does not exist")
)
