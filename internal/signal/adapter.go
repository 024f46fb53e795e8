// Package signal adapts call-domain operations onto the room directory's
// document primitives. All schema knowledge, validation and error
// translation lives at this boundary; the session above only ever sees
// typed documents and taxonomy errors.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/RameeshKp/Holostream/internal/core"
	"github.com/RameeshKp/Holostream/internal/domain"
)

type Adapter struct {
	dir core.Directory
}

func New(dir core.Directory) *Adapter {
	return &Adapter{dir: dir}
}

// CreateRoom publishes a fresh active room document for the code.
func (a *Adapter) CreateRoom(ctx context.Context, code domain.RoomCode) (domain.RoomRef, error) {
	doc := domain.RoomDoc{Status: domain.RoomActive, Code: code, CreatedAt: time.Now().UTC()}
	if err := doc.Validate(); err != nil {
		return "", fmt.Errorf("room doc: %w", err)
	}
	ref, err := a.dir.EnsureRoom(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("create room %s: %w", code, err)
	}
	return ref, nil
}

// FindActiveRoom resolves a code to a room reference, considering only
// rooms whose status is active at query time.
func (a *Adapter) FindActiveRoom(ctx context.Context, code domain.RoomCode) (domain.RoomRef, error) {
	ref, _, err := a.dir.ActiveRoom(ctx, code)
	if errors.Is(err, core.ErrNoDocument) {
		return "", fmt.Errorf("room %s: %w", code, core.ErrRoomNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("find room %s: %w", code, err)
	}
	return ref, nil
}

// EndRoom marks the room inactive and stamps the end time.
func (a *Adapter) EndRoom(ctx context.Context, ref domain.RoomRef) error {
	fields := map[string]any{
		domain.RoomStatusField: string(domain.RoomInactive),
		domain.RoomEndedField:  time.Now().UTC(),
	}
	if err := a.dir.UpdateRoom(ctx, ref, fields); err != nil {
		return fmt.Errorf("end room: %w", err)
	}
	return nil
}

// AnnounceParticipant publishes the participant document keyed by slot,
// which is what lets the host offer to late joiners.
func (a *Adapter) AnnounceParticipant(ctx context.Context, ref domain.RoomRef, slot domain.SlotID, role domain.Role) error {
	doc := domain.ParticipantDoc{Slot: slot, Role: role, JoinedAt: time.Now().UTC()}
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("participant doc: %w", err)
	}
	if err := a.dir.Put(ctx, ref, domain.ParticipantsCollection, string(slot), doc); err != nil {
		return fmt.Errorf("announce participant %s: %w", slot, err)
	}
	return nil
}

func (a *Adapter) RemoveParticipant(ctx context.Context, ref domain.RoomRef, slot domain.SlotID) error {
	if err := a.dir.Delete(ctx, ref, domain.ParticipantsCollection, string(slot)); err != nil {
		return fmt.Errorf("remove participant %s: %w", slot, err)
	}
	return nil
}

// PublishOffer writes the session description keyed by the slot it is
// meant for. Offers are immutable; publishing twice for one slot is a
// protocol bug upstream, not something enforced here.
func (a *Adapter) PublishOffer(ctx context.Context, ref domain.RoomRef, slot domain.SlotID, desc webrtc.SessionDescription) error {
	return a.publishDescription(ctx, ref, domain.OffersCollection, slot, desc)
}

func (a *Adapter) PublishAnswer(ctx context.Context, ref domain.RoomRef, slot domain.SlotID, desc webrtc.SessionDescription) error {
	return a.publishDescription(ctx, ref, domain.AnswersCollection, slot, desc)
}

func (a *Adapter) publishDescription(ctx context.Context, ref domain.RoomRef, collection string, slot domain.SlotID, desc webrtc.SessionDescription) error {
	doc := domain.DescriptionDoc{SDP: desc.SDP, Type: desc.Type.String(), CreatedAt: time.Now().UTC()}
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("%s doc: %w", collection, err)
	}
	if err := a.dir.Put(ctx, ref, collection, string(slot), doc); err != nil {
		return fmt.Errorf("publish %s/%s: %w", collection, slot, err)
	}
	return nil
}

// FetchOffer reads the offer published for a slot, ErrOfferNotFound when
// the host has not published yet.
func (a *Adapter) FetchOffer(ctx context.Context, ref domain.RoomRef, slot domain.SlotID) (webrtc.SessionDescription, error) {
	d, err := a.dir.Get(ctx, ref, domain.OffersCollection, string(slot))
	if errors.Is(err, core.ErrNoDocument) {
		return webrtc.SessionDescription{}, fmt.Errorf("offer %s: %w", slot, core.ErrOfferNotFound)
	}
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("fetch offer %s: %w", slot, err)
	}
	return decodeDescription(d, slot)
}

// FetchAnswers returns every published answer keyed by its slot.
func (a *Adapter) FetchAnswers(ctx context.Context, ref domain.RoomRef) (map[domain.SlotID]webrtc.SessionDescription, error) {
	docs, err := a.dir.Query(ctx, ref, domain.AnswersCollection, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch answers: %w", err)
	}
	out := make(map[domain.SlotID]webrtc.SessionDescription, len(docs))
	for _, d := range docs {
		slot := domain.SlotID(d.ID)
		desc, err := decodeDescription(d, slot)
		if err != nil {
			logMalformed(domain.AnswersCollection, d.ID, err)
			continue
		}
		out[slot] = desc
	}
	return out, nil
}

func decodeDescription(d core.Doc, slot domain.SlotID) (webrtc.SessionDescription, error) {
	var doc domain.DescriptionDoc
	if err := d.Decode(&doc); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("decode description %s: %w", slot, err)
	}
	if err := doc.Validate(); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("description %s: %w", slot, err)
	}
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(doc.Type), SDP: doc.SDP}, nil
}

// PublishCandidate appends one ICE candidate tagged with the slot that
// generated it. The init payload travels as an opaque JSON string.
func (a *Adapter) PublishCandidate(ctx context.Context, ref domain.RoomRef, owner domain.SlotID, init webrtc.ICECandidateInit) error {
	raw, err := json.Marshal(init)
	if err != nil {
		return fmt.Errorf("encode candidate: %w", err)
	}
	doc := domain.CandidateDoc{Candidate: string(raw), Owner: owner, CreatedAt: time.Now().UTC()}
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("candidate doc: %w", err)
	}
	if _, err := a.dir.Append(ctx, ref, domain.CandidatesCollection, doc); err != nil {
		return fmt.Errorf("publish candidate from %s: %w", owner, err)
	}
	return nil
}

// Candidate is one decoded ICE candidate with the document id the
// at-most-once guard is keyed by.
type Candidate struct {
	DocID string
	Init  webrtc.ICECandidateInit
}

// FetchCandidates is the catch-up read for candidates the peer published
// before our subscription existed.
func (a *Adapter) FetchCandidates(ctx context.Context, ref domain.RoomRef, owner domain.SlotID) ([]Candidate, error) {
	filter := core.Filter{domain.CandidateOwnerField: string(owner)}
	docs, err := a.dir.Query(ctx, ref, domain.CandidatesCollection, filter)
	if err != nil {
		return nil, fmt.Errorf("fetch candidates of %s: %w", owner, err)
	}
	out := make([]Candidate, 0, len(docs))
	for _, d := range docs {
		cand, err := decodeCandidate(d.ID, d.Decode)
		if err != nil {
			logMalformed(domain.CandidatesCollection, d.ID, err)
			continue
		}
		out = append(out, cand)
	}
	return out, nil
}

func decodeCandidate(docID string, decode func(any) error) (Candidate, error) {
	var doc domain.CandidateDoc
	if err := decode(&doc); err != nil {
		return Candidate{}, fmt.Errorf("decode candidate: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return Candidate{}, err
	}
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(doc.Candidate), &init); err != nil {
		return Candidate{}, fmt.Errorf("decode candidate payload: %w", err)
	}
	return Candidate{DocID: docID, Init: init}, nil
}

// PublishStatus overwrites the participant's capability flags in place.
func (a *Adapter) PublishStatus(ctx context.Context, ref domain.RoomRef, role domain.Role, camera, audio bool) error {
	doc := domain.StatusDoc{Camera: camera, Audio: audio, UpdatedAt: time.Now().UTC()}
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("status doc: %w", err)
	}
	if err := a.dir.Put(ctx, ref, domain.StatusCollection, role.StatusDocID(), doc); err != nil {
		return fmt.Errorf("publish status %s: %w", role, err)
	}
	return nil
}

func (a *Adapter) DeleteStatus(ctx context.Context, ref domain.RoomRef, role domain.Role) error {
	if err := a.dir.Delete(ctx, ref, domain.StatusCollection, role.StatusDocID()); err != nil {
		return fmt.Errorf("delete status %s: %w", role, err)
	}
	return nil
}
