package signal

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/RameeshKp/Holostream/internal/core"
	"github.com/RameeshKp/Holostream/internal/domain"
)

// feedBuffer smooths bursts on the typed feeds; consumers drain their
// feed in a dedicated goroutine until it closes.
const feedBuffer = 16

func logMalformed(collection, docID string, err error) {
	log.Warn().Err(err).
		Str("module", "signal").
		Str("collection", collection).
		Str("doc", docID).
		Msg("malformed document dropped")
}

// DescriptionEvent is one offer or answer arriving on a watch.
type DescriptionEvent struct {
	Slot domain.SlotID
	Desc webrtc.SessionDescription
}

// WatchAnswers streams answers as they are published. Modified changes
// are forwarded too: a guest that lost the race for the host's first
// offer republishes its answer in place, and that overwrite is the only
// answer the host must still react to. Duplicates are the consumer's
// problem (it checks the remote description before applying).
func (a *Adapter) WatchAnswers(ctx context.Context, ref domain.RoomRef) (<-chan DescriptionEvent, func(), error) {
	sub, err := a.dir.Watch(ctx, ref, domain.AnswersCollection, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("watch answers: %w", err)
	}
	out := make(chan DescriptionEvent, feedBuffer)
	go func() {
		defer close(out)
		for ch := range sub.Events() {
			if ch.Kind == core.DocRemoved {
				continue
			}
			slot := domain.SlotID(ch.DocID)
			desc, err := decodeDescription(core.Doc{ID: ch.DocID, Decode: ch.Decode}, slot)
			if err != nil {
				logMalformed(domain.AnswersCollection, ch.DocID, err)
				continue
			}
			out <- DescriptionEvent{Slot: slot, Desc: desc}
		}
	}()
	return out, sub.Cancel, nil
}

// WatchOffers streams offers published for one slot; a guest uses it to
// wait for the offer the host targets at it.
func (a *Adapter) WatchOffers(ctx context.Context, ref domain.RoomRef, slot domain.SlotID) (<-chan DescriptionEvent, func(), error) {
	sub, err := a.dir.Watch(ctx, ref, domain.OffersCollection, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("watch offers: %w", err)
	}
	out := make(chan DescriptionEvent, feedBuffer)
	go func() {
		defer close(out)
		for ch := range sub.Events() {
			if ch.Kind != core.DocAdded || ch.DocID != string(slot) {
				continue
			}
			desc, err := decodeDescription(core.Doc{ID: ch.DocID, Decode: ch.Decode}, slot)
			if err != nil {
				logMalformed(domain.OffersCollection, ch.DocID, err)
				continue
			}
			out <- DescriptionEvent{Slot: slot, Desc: desc}
		}
	}()
	return out, sub.Cancel, nil
}

// WatchCandidates streams candidates published by the given slot, which
// is always the peer side of one connection.
func (a *Adapter) WatchCandidates(ctx context.Context, ref domain.RoomRef, owner domain.SlotID) (<-chan Candidate, func(), error) {
	filter := core.Filter{domain.CandidateOwnerField: string(owner)}
	sub, err := a.dir.Watch(ctx, ref, domain.CandidatesCollection, filter)
	if err != nil {
		return nil, nil, fmt.Errorf("watch candidates of %s: %w", owner, err)
	}
	out := make(chan Candidate, feedBuffer)
	go func() {
		defer close(out)
		for ch := range sub.Events() {
			if ch.Kind != core.DocAdded {
				continue
			}
			cand, err := decodeCandidate(ch.DocID, ch.Decode)
			if err != nil {
				logMalformed(domain.CandidatesCollection, ch.DocID, err)
				continue
			}
			out <- cand
		}
	}()
	return out, sub.Cancel, nil
}

// ParticipantEvent reports one slot joining or leaving the room.
type ParticipantEvent struct {
	Slot domain.SlotID
	Role domain.Role
	Left bool
}

func (a *Adapter) WatchParticipants(ctx context.Context, ref domain.RoomRef) (<-chan ParticipantEvent, func(), error) {
	sub, err := a.dir.Watch(ctx, ref, domain.ParticipantsCollection, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("watch participants: %w", err)
	}
	out := make(chan ParticipantEvent, feedBuffer)
	go func() {
		defer close(out)
		for ch := range sub.Events() {
			switch ch.Kind {
			case core.DocAdded:
				var doc domain.ParticipantDoc
				if err := ch.Decode(&doc); err != nil {
					logMalformed(domain.ParticipantsCollection, ch.DocID, err)
					continue
				}
				if err := doc.Validate(); err != nil {
					logMalformed(domain.ParticipantsCollection, ch.DocID, err)
					continue
				}
				out <- ParticipantEvent{Slot: doc.Slot, Role: doc.Role}
			case core.DocRemoved:
				out <- ParticipantEvent{Slot: domain.SlotID(ch.DocID), Left: true}
			case core.DocModified:
				// participant docs are written once and deleted once
			}
		}
	}()
	return out, sub.Cancel, nil
}

// StatusEvent is one capability-flag change of a remote participant.
type StatusEvent struct {
	Role    domain.Role
	Camera  bool
	Audio   bool
	Removed bool
}

func roleOfStatusDoc(id string) (domain.Role, bool) {
	switch id {
	case domain.RoleHost.StatusDocID():
		return domain.RoleHost, true
	case domain.RoleGuest.StatusDocID():
		return domain.RoleGuest, true
	default:
		return "", false
	}
}

func (a *Adapter) WatchStatus(ctx context.Context, ref domain.RoomRef) (<-chan StatusEvent, func(), error) {
	sub, err := a.dir.Watch(ctx, ref, domain.StatusCollection, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("watch status: %w", err)
	}
	out := make(chan StatusEvent, feedBuffer)
	go func() {
		defer close(out)
		for ch := range sub.Events() {
			role, ok := roleOfStatusDoc(ch.DocID)
			if !ok {
				logMalformed(domain.StatusCollection, ch.DocID, fmt.Errorf("unknown status doc id"))
				continue
			}
			if ch.Kind == core.DocRemoved {
				out <- StatusEvent{Role: role, Removed: true}
				continue
			}
			var doc domain.StatusDoc
			if err := ch.Decode(&doc); err != nil {
				logMalformed(domain.StatusCollection, ch.DocID, err)
				continue
			}
			if err := doc.Validate(); err != nil {
				logMalformed(domain.StatusCollection, ch.DocID, err)
				continue
			}
			out <- StatusEvent{Role: role, Camera: doc.Camera, Audio: doc.Audio}
		}
	}()
	return out, sub.Cancel, nil
}

// RoomEvent reports the room document turning inactive or disappearing.
type RoomEvent struct {
	Status domain.RoomStatus
	Gone   bool
}

func (a *Adapter) WatchRoom(ctx context.Context, ref domain.RoomRef) (<-chan RoomEvent, func(), error) {
	sub, err := a.dir.WatchRoom(ctx, ref)
	if err != nil {
		return nil, nil, fmt.Errorf("watch room: %w", err)
	}
	out := make(chan RoomEvent, feedBuffer)
	go func() {
		defer close(out)
		for ch := range sub.Events() {
			if ch.Kind == core.DocRemoved {
				out <- RoomEvent{Gone: true}
				continue
			}
			var doc domain.RoomDoc
			if err := ch.Decode(&doc); err != nil {
				logMalformed(domain.RoomsCollection, ch.DocID, err)
				continue
			}
			out <- RoomEvent{Status: doc.Status}
		}
	}()
	return out, sub.Cancel, nil
}
