package mongodir

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/RameeshKp/Holostream/internal/core"
	"github.com/RameeshKp/Holostream/internal/domain"
)

const subBuffer = 64

type subscription struct {
	events chan core.Change
	stop   context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) Events() <-chan core.Change { return s.events }

// Cancel stops the stream and waits for the feed goroutine, so after it
// returns nothing more is delivered.
func (s *subscription) Cancel() {
	s.once.Do(func() {
		s.stop()
		<-s.done
	})
}

func (s *subscription) deliver(ch core.Change) {
	select {
	case s.events <- ch:
	default:
		log.Warn().
			Str("module", "mongodir").
			Str("doc", ch.DocID).
			Msg("watcher lagging, change dropped")
	}
}

// subEvent is the slice of a change event the sub-collection watch
// needs. Delete events leave FullDocument empty.
type subEvent struct {
	OperationType string `bson:"operationType"`
	DocumentKey   struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument bson.Raw `bson:"fullDocument"`
}

type roomEvent struct {
	OperationType string `bson:"operationType"`
	DocumentKey   struct {
		ID primitive.ObjectID `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument bson.Raw `bson:"fullDocument"`
}

func mapSubEvent(ref domain.RoomRef, raw bson.Raw) (core.Change, bool) {
	var ev subEvent
	if err := bson.Unmarshal(raw, &ev); err != nil {
		log.Warn().Err(err).Str("module", "mongodir").Msg("undecodable change event")
		return core.Change{}, false
	}
	kind, ok := mapOperation(ev.OperationType)
	if !ok {
		return core.Change{}, false
	}
	docID, ok := splitKey(ref, ev.DocumentKey.ID)
	if !ok {
		return core.Change{}, false
	}
	ch := core.Change{Kind: kind, DocID: docID}
	if kind != core.DocRemoved {
		ch.Decode = decodeRaw(ev.FullDocument)
	}
	return ch, true
}

func mapRoomEvent(ref domain.RoomRef, raw bson.Raw) (core.Change, bool) {
	var ev roomEvent
	if err := bson.Unmarshal(raw, &ev); err != nil {
		log.Warn().Err(err).Str("module", "mongodir").Msg("undecodable change event")
		return core.Change{}, false
	}
	kind, ok := mapOperation(ev.OperationType)
	if !ok {
		return core.Change{}, false
	}
	if ev.DocumentKey.ID.Hex() != string(ref) {
		return core.Change{}, false
	}
	ch := core.Change{Kind: kind, DocID: string(ref)}
	if kind != core.DocRemoved {
		ch.Decode = decodeRaw(ev.FullDocument)
	}
	return ch, true
}

// Watch opens a change stream over one room's slice of a collection.
// The feed starts at the moment of the call; callers needing existing
// documents query for them separately.
func (s *Store) Watch(ctx context.Context, ref domain.RoomRef, collection string, filter core.Filter) (core.Subscription, error) {
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	cs, err := s.db.Collection(collection).Watch(ctx, subPipeline(ref, filter), opts)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", collection, err)
	}
	return s.feed(ctx, cs, collection, func(raw bson.Raw) (core.Change, bool) {
		return mapSubEvent(ref, raw)
	}), nil
}

func (s *Store) WatchRoom(ctx context.Context, ref domain.RoomRef) (core.Subscription, error) {
	oid, err := roomOID(ref)
	if err != nil {
		return nil, err
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	cs, err := s.db.Collection(domain.RoomsCollection).Watch(ctx, roomPipeline(oid), opts)
	if err != nil {
		return nil, fmt.Errorf("watch room %s: %w", ref, err)
	}
	return s.feed(ctx, cs, domain.RoomsCollection, func(raw bson.Raw) (core.Change, bool) {
		return mapRoomEvent(ref, raw)
	}), nil
}

func (s *Store) feed(parent context.Context, cs *mongo.ChangeStream, collection string, mapFn func(bson.Raw) (core.Change, bool)) core.Subscription {
	ctx, stop := context.WithCancel(parent)
	sub := &subscription{
		events: make(chan core.Change, subBuffer),
		stop:   stop,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(sub.done)
		defer close(sub.events)
		defer cs.Close(context.Background())
		for cs.Next(ctx) {
			ch, ok := mapFn(cs.Current)
			if !ok {
				continue
			}
			sub.deliver(ch)
		}
		if err := cs.Err(); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).
				Str("module", "mongodir").
				Str("collection", collection).
				Msg("change stream closed with error")
		}
	}()
	return sub
}
