package core

import (
	"context"

	"github.com/RameeshKp/Holostream/internal/domain"
)

// ChangeKind classifies one document change delivered by a watch.
type ChangeKind int

const (
	DocAdded ChangeKind = iota
	DocModified
	DocRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case DocAdded:
		return "added"
	case DocModified:
		return "modified"
	case DocRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is one document change event. Decode unmarshals the document
// into a tagged struct; it is nil for DocRemoved.
type Change struct {
	Kind   ChangeKind
	DocID  string
	Decode func(into any) error
}

// Doc is one snapshot document returned by a one-shot read.
type Doc struct {
	ID     string
	Decode func(into any) error
}

// Filter matches documents whose named fields equal the given values.
// A nil Filter matches everything.
type Filter map[string]any

// Subscription is a live change feed. Cancel is synchronous: once it
// returns no further events are delivered and Events is closed. The
// driver also closes Events when its upstream stream dies.
type Subscription interface {
	Events() <-chan Change
	Cancel()
}

// Directory is the shared document store used as the signaling channel.
// It only moves documents around; all call semantics live above it.
//
// Every operation is a network call on the real driver; none of them may
// block other in-flight operations. Watches deliver added/modified/
// removed in per-collection commit order, with no ordering guarantee
// across collections.
type Directory interface {
	// EnsureRoom creates the room document, refusing a second active
	// room with the same code (ErrRoomCodeTaken).
	EnsureRoom(ctx context.Context, doc domain.RoomDoc) (domain.RoomRef, error)
	// ActiveRoom resolves a code to the room whose status is "active";
	// ErrNoDocument when there is none.
	ActiveRoom(ctx context.Context, code domain.RoomCode) (domain.RoomRef, domain.RoomDoc, error)
	// UpdateRoom patches fields of the room document in place.
	UpdateRoom(ctx context.Context, ref domain.RoomRef, fields map[string]any) error
	// WatchRoom streams changes of the room document itself.
	WatchRoom(ctx context.Context, ref domain.RoomRef) (Subscription, error)

	// Put writes a document under a caller-chosen id, last write wins.
	Put(ctx context.Context, ref domain.RoomRef, collection, docID string, doc any) error
	// Append inserts a document under a store-chosen id.
	Append(ctx context.Context, ref domain.RoomRef, collection string, doc any) (string, error)
	// Get reads a single document; ErrNoDocument on a miss.
	Get(ctx context.Context, ref domain.RoomRef, collection, docID string) (Doc, error)
	// Query reads all documents matching the filter.
	Query(ctx context.Context, ref domain.RoomRef, collection string, filter Filter) ([]Doc, error)
	// Watch streams changes of a sub-collection matching the filter.
	Watch(ctx context.Context, ref domain.RoomRef, collection string, filter Filter) (Subscription, error)
	// Delete removes a document; deleting a missing document is not an
	// error.
	Delete(ctx context.Context, ref domain.RoomRef, collection, docID string) error
}
