// Package memdir is an in-process room directory, used by tests and by
// the memory store driver when both call legs run in one process.
package memdir

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/RameeshKp/Holostream/internal/core"
	"github.com/RameeshKp/Holostream/internal/domain"
)

// subBuffer bounds how far a slow watcher may lag before events are
// dropped; signaling traffic is tiny so this never fills in practice.
const subBuffer = 64

type Store struct {
	mu      sync.Mutex
	rooms   map[domain.RoomRef]*roomRecord
	offline bool
}

type roomRecord struct {
	doc     []byte
	subs    map[int]*subscription
	nextSub int
	cols    map[string]*collection
}

type collection struct {
	docs    map[string][]byte
	order   []string
	subs    map[int]*subscription
	nextSub int
}

func New() *Store {
	return &Store{rooms: make(map[domain.RoomRef]*roomRecord)}
}

// SetOffline makes every following operation fail with
// core.ErrStoreUnavailable, for exercising connectivity loss.
func (s *Store) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
}

func (s *Store) checkOnline() error {
	if s.offline {
		return core.ErrStoreUnavailable
	}
	return nil
}

func marshalDoc(doc any) ([]byte, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return raw, nil
}

func decodeInto(raw []byte) func(any) error {
	payload := append([]byte(nil), raw...)
	return func(into any) error {
		return json.Unmarshal(payload, into)
	}
}

// matches compares the filtered fields of a stored document by their
// printed form; the engine only filters on string-valued fields.
func matches(raw []byte, f core.Filter) bool {
	if len(f) == 0 {
		return true
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false
	}
	for k, want := range f {
		got, ok := doc[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func (s *Store) EnsureRoom(_ context.Context, doc domain.RoomDoc) (domain.RoomRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOnline(); err != nil {
		return "", err
	}
	for ref, rec := range s.rooms {
		var existing domain.RoomDoc
		if err := json.Unmarshal(rec.doc, &existing); err != nil {
			continue
		}
		if existing.Code == doc.Code && existing.Status == domain.RoomActive {
			return "", fmt.Errorf("room %s held by %s: %w", doc.Code, ref, core.ErrRoomCodeTaken)
		}
	}
	raw, err := marshalDoc(doc)
	if err != nil {
		return "", err
	}
	ref := domain.RoomRef(uuid.NewString())
	s.rooms[ref] = &roomRecord{
		doc:  raw,
		subs: make(map[int]*subscription),
		cols: make(map[string]*collection),
	}
	log.Debug().Str("module", "memdir").Str("ref", string(ref)).Str("room", string(doc.Code)).Msg("room created")
	return ref, nil
}

func (s *Store) ActiveRoom(_ context.Context, code domain.RoomCode) (domain.RoomRef, domain.RoomDoc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOnline(); err != nil {
		return "", domain.RoomDoc{}, err
	}
	for ref, rec := range s.rooms {
		var doc domain.RoomDoc
		if err := json.Unmarshal(rec.doc, &doc); err != nil {
			continue
		}
		if doc.Code == code && doc.Status == domain.RoomActive {
			return ref, doc, nil
		}
	}
	return "", domain.RoomDoc{}, fmt.Errorf("active room %s: %w", code, core.ErrNoDocument)
}

func (s *Store) UpdateRoom(_ context.Context, ref domain.RoomRef, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOnline(); err != nil {
		return err
	}
	rec, ok := s.rooms[ref]
	if !ok {
		return fmt.Errorf("room %s: %w", ref, core.ErrNoDocument)
	}
	var doc map[string]any
	if err := json.Unmarshal(rec.doc, &doc); err != nil {
		return fmt.Errorf("decode room %s: %w", ref, err)
	}
	for k, v := range fields {
		doc[k] = v
	}
	raw, err := marshalDoc(doc)
	if err != nil {
		return err
	}
	rec.doc = raw
	ch := core.Change{Kind: core.DocModified, DocID: string(ref), Decode: decodeInto(raw)}
	for _, sub := range rec.subs {
		sub.deliver(ch)
	}
	return nil
}

// DeleteRoom removes the room document entirely. Not part of the
// directory contract (hosts mark rooms inactive instead); kept for
// exercising the "room gone" path.
func (s *Store) DeleteRoom(ref domain.RoomRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rooms[ref]
	if !ok {
		return
	}
	ch := core.Change{Kind: core.DocRemoved, DocID: string(ref)}
	for _, sub := range rec.subs {
		sub.deliver(ch)
	}
	delete(s.rooms, ref)
}

func (s *Store) WatchRoom(_ context.Context, ref domain.RoomRef) (core.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOnline(); err != nil {
		return nil, err
	}
	rec, ok := s.rooms[ref]
	if !ok {
		return nil, fmt.Errorf("room %s: %w", ref, core.ErrNoDocument)
	}
	id := rec.nextSub
	rec.nextSub++
	sub := &subscription{ch: make(chan core.Change, subBuffer)}
	sub.cancel = func() {
		s.mu.Lock()
		delete(rec.subs, id)
		s.mu.Unlock()
		close(sub.ch)
	}
	rec.subs[id] = sub
	return sub, nil
}

func (s *Store) col(ref domain.RoomRef, name string) (*collection, error) {
	rec, ok := s.rooms[ref]
	if !ok {
		return nil, fmt.Errorf("room %s: %w", ref, core.ErrNoDocument)
	}
	c, ok := rec.cols[name]
	if !ok {
		c = &collection{docs: make(map[string][]byte), subs: make(map[int]*subscription)}
		rec.cols[name] = c
	}
	return c, nil
}

func (s *Store) Put(_ context.Context, ref domain.RoomRef, collection, docID string, doc any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOnline(); err != nil {
		return err
	}
	c, err := s.col(ref, collection)
	if err != nil {
		return err
	}
	raw, err := marshalDoc(doc)
	if err != nil {
		return err
	}
	kind := core.DocAdded
	if _, exists := c.docs[docID]; exists {
		kind = core.DocModified
	} else {
		c.order = append(c.order, docID)
	}
	c.docs[docID] = raw
	c.notify(core.Change{Kind: kind, DocID: docID, Decode: decodeInto(raw)}, raw)
	return nil
}

func (s *Store) Append(ctx context.Context, ref domain.RoomRef, collection string, doc any) (string, error) {
	docID := uuid.NewString()
	return docID, s.Put(ctx, ref, collection, docID, doc)
}

func (s *Store) Get(_ context.Context, ref domain.RoomRef, collection, docID string) (core.Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOnline(); err != nil {
		return core.Doc{}, err
	}
	c, err := s.col(ref, collection)
	if err != nil {
		return core.Doc{}, err
	}
	raw, ok := c.docs[docID]
	if !ok {
		return core.Doc{}, fmt.Errorf("%s/%s: %w", collection, docID, core.ErrNoDocument)
	}
	return core.Doc{ID: docID, Decode: decodeInto(raw)}, nil
}

func (s *Store) Query(_ context.Context, ref domain.RoomRef, collection string, filter core.Filter) ([]core.Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOnline(); err != nil {
		return nil, err
	}
	c, err := s.col(ref, collection)
	if err != nil {
		return nil, err
	}
	out := make([]core.Doc, 0, len(c.order))
	for _, id := range c.order {
		raw, ok := c.docs[id]
		if !ok || !matches(raw, filter) {
			continue
		}
		out = append(out, core.Doc{ID: id, Decode: decodeInto(raw)})
	}
	return out, nil
}

func (s *Store) Watch(_ context.Context, ref domain.RoomRef, collection string, filter core.Filter) (core.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOnline(); err != nil {
		return nil, err
	}
	c, err := s.col(ref, collection)
	if err != nil {
		return nil, err
	}
	id := c.nextSub
	c.nextSub++
	sub := &subscription{ch: make(chan core.Change, subBuffer), filter: filter}
	sub.cancel = func() {
		s.mu.Lock()
		delete(c.subs, id)
		s.mu.Unlock()
		close(sub.ch)
	}
	c.subs[id] = sub
	return sub, nil
}

func (s *Store) Delete(_ context.Context, ref domain.RoomRef, collection, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOnline(); err != nil {
		return err
	}
	c, err := s.col(ref, collection)
	if err != nil {
		return err
	}
	if _, ok := c.docs[docID]; !ok {
		return nil
	}
	delete(c.docs, docID)
	for i, id := range c.order {
		if id == docID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.notify(core.Change{Kind: core.DocRemoved, DocID: docID}, nil)
	return nil
}

// notify runs with the store lock held, which is what makes delivery
// per-collection FIFO. Removals are fanned out to every watcher since
// there is no document left to match against.
func (c *collection) notify(ch core.Change, raw []byte) {
	for _, sub := range c.subs {
		if ch.Kind != core.DocRemoved && !matches(raw, sub.filter) {
			continue
		}
		sub.deliver(ch)
	}
}

type subscription struct {
	ch     chan core.Change
	filter core.Filter
	cancel func()
	once   sync.Once
}

func (s *subscription) Events() <-chan core.Change { return s.ch }

func (s *subscription) Cancel() { s.once.Do(s.cancel) }

func (s *subscription) deliver(ch core.Change) {
	select {
	case s.ch <- ch:
	default:
		log.Warn().Str("module", "memdir").Str("doc", ch.DocID).Msg("watcher lagging, change dropped")
	}
}
