package mongodir

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/RameeshKp/Holostream/internal/domain"
)

// ensureIndexes creates the indexes the engine relies on. CreateMany is
// idempotent for an unchanged spec, so this runs on every Dial.
//
// The rooms index is partial over active rooms only: it is what makes
// EnsureRoom's code-collision check atomic, while ended rooms keep
// their codes without blocking reuse.
func (s *Store) ensureIndexes(ctx context.Context) error {
	rooms := []mongo.IndexModel{{
		Keys: bson.D{{Key: domain.RoomCodeField, Value: 1}},
		Options: options.Index().
			SetUnique(true).
			SetPartialFilterExpression(bson.M{domain.RoomStatusField: string(domain.RoomActive)}),
	}}
	if _, err := s.db.Collection(domain.RoomsCollection).Indexes().CreateMany(ctx, rooms); err != nil {
		return fmt.Errorf("room indexes: %w", err)
	}

	byRoom := []mongo.IndexModel{{
		Keys: bson.D{{Key: roomRefField, Value: 1}},
	}}
	subs := []string{
		domain.ParticipantsCollection,
		domain.OffersCollection,
		domain.AnswersCollection,
		domain.CandidatesCollection,
		domain.StatusCollection,
	}
	for _, name := range subs {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, byRoom); err != nil {
			return fmt.Errorf("%s indexes: %w", name, err)
		}
	}
	return nil
}
