package domain

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Collection names are the store contract shared with every other client
// of the directory; renaming one orphans existing rooms.
const (
	RoomsCollection        = "rooms"
	ParticipantsCollection = "participants"
	OffersCollection       = "offers"
	AnswersCollection      = "answers"
	CandidatesCollection   = "ice-candidates"
	StatusCollection       = "participant-status"
)

// Field names used in filters and partial updates.
const (
	RoomStatusField     = "status"
	RoomCodeField       = "roomId"
	RoomCreatedField    = "createdAt"
	RoomEndedField      = "endedAt"
	CandidateOwnerField = "participantId"
)

// RoomDoc is the top-level room document.
type RoomDoc struct {
	Status    RoomStatus `bson:"status" json:"status" validate:"required,oneof=active inactive"`
	Code      RoomCode   `bson:"roomId" json:"roomId" validate:"required,len=4,number"`
	CreatedAt time.Time  `bson:"createdAt" json:"createdAt" validate:"required"`
	EndedAt   *time.Time `bson:"endedAt,omitempty" json:"endedAt,omitempty"`
}

// ParticipantDoc announces a joined slot so the host can offer to it.
type ParticipantDoc struct {
	Slot     SlotID    `bson:"slot" json:"slot" validate:"required"`
	Role     Role      `bson:"role" json:"role" validate:"required,oneof=host guest"`
	JoinedAt time.Time `bson:"joinedAt" json:"joinedAt" validate:"required"`
}

// DescriptionDoc is an offer or answer, immutable once published.
// The doc id is the slot it belongs to.
type DescriptionDoc struct {
	SDP       string    `bson:"sdp" json:"sdp" validate:"required"`
	Type      string    `bson:"type" json:"type" validate:"required,oneof=offer answer"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt" validate:"required"`
}

// CandidateDoc is one append-only ICE candidate entry. Candidate is the
// serialized init payload, opaque to the directory; Owner is the slot
// that published it, consumers filter on the other side's slot.
type CandidateDoc struct {
	Candidate string    `bson:"candidate" json:"candidate" validate:"required"`
	Owner     SlotID    `bson:"participantId" json:"participantId" validate:"required"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt" validate:"required"`
}

// StatusDoc holds one participant's capability flags, overwritten in
// place on every toggle. The doc id is the role label.
type StatusDoc struct {
	Camera    bool      `bson:"camera" json:"camera"`
	Audio     bool      `bson:"audio" json:"audio"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt" validate:"required"`
}

var validate = validator.New()

func (d RoomDoc) Validate() error        { return validate.Struct(d) }
func (d ParticipantDoc) Validate() error { return validate.Struct(d) }
func (d DescriptionDoc) Validate() error { return validate.Struct(d) }
func (d CandidateDoc) Validate() error   { return validate.Struct(d) }
func (d StatusDoc) Validate() error      { return validate.Struct(d) }
