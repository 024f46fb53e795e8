// Package mongodir backs the room directory with MongoDB: one
// collection per document kind, sub-collection documents keyed by room,
// and change streams as the watch feed.
//
// Sub-collection documents carry their room twice: a roomRef field for
// queries, and a "<ref>/<docID>" _id. Delete events in a change stream
// carry only the document key, so the _id must be enough to route the
// event back to its room and document.
package mongodir

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/RameeshKp/Holostream/internal/core"
	"github.com/RameeshKp/Holostream/internal/domain"
)

const roomRefField = "roomRef"

type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Dial connects, verifies the server is reachable and ensures the
// indexes the engine relies on.
func Dial(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	s := &Store{client: client, db: client.Database(database)}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	log.Info().
		Str("module", "mongodir").
		Str("database", database).
		Msg("room directory connected")
	return s, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// subKey builds the _id of a sub-collection document.
func subKey(ref domain.RoomRef, docID string) string {
	return string(ref) + "/" + docID
}

// splitKey recovers the doc id from a sub-collection _id; false when
// the key belongs to another room.
func splitKey(ref domain.RoomRef, key string) (string, bool) {
	prefix := string(ref) + "/"
	if !strings.HasPrefix(key, prefix) {
		return "", false
	}
	return key[len(prefix):], true
}

// withKeys marshals the payload and injects the _id and roomRef fields;
// the payload's own bson tags are kept as-is.
func withKeys(ref domain.RoomRef, key string, doc any) (bson.D, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var fields bson.D
	if err := bson.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	out := bson.D{
		{Key: "_id", Value: key},
		{Key: roomRefField, Value: string(ref)},
	}
	for _, f := range fields {
		if f.Key == "_id" || f.Key == roomRefField {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func decodeRaw(raw bson.Raw) func(any) error {
	payload := append(bson.Raw(nil), raw...)
	return func(into any) error {
		return bson.Unmarshal(payload, into)
	}
}

func roomOID(ref domain.RoomRef) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(string(ref))
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("room ref %q: %w", ref, core.ErrNoDocument)
	}
	return oid, nil
}

// EnsureRoom inserts the room document. The partial unique index on
// active rooms turns a code collision into a duplicate-key error.
func (s *Store) EnsureRoom(ctx context.Context, doc domain.RoomDoc) (domain.RoomRef, error) {
	res, err := s.db.Collection(domain.RoomsCollection).InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return "", core.ErrRoomCodeTaken
	}
	if err != nil {
		return "", fmt.Errorf("insert room: %w", err)
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("insert room: unexpected id type %T", res.InsertedID)
	}
	return domain.RoomRef(oid.Hex()), nil
}

func (s *Store) ActiveRoom(ctx context.Context, code domain.RoomCode) (domain.RoomRef, domain.RoomDoc, error) {
	filter := bson.M{domain.RoomCodeField: code, domain.RoomStatusField: domain.RoomActive}
	raw, err := s.db.Collection(domain.RoomsCollection).FindOne(ctx, filter).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", domain.RoomDoc{}, fmt.Errorf("room %s: %w", code, core.ErrNoDocument)
	}
	if err != nil {
		return "", domain.RoomDoc{}, fmt.Errorf("find room %s: %w", code, err)
	}
	var doc domain.RoomDoc
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return "", domain.RoomDoc{}, fmt.Errorf("decode room %s: %w", code, err)
	}
	var key struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err := bson.Unmarshal(raw, &key); err != nil {
		return "", domain.RoomDoc{}, fmt.Errorf("decode room %s: %w", code, err)
	}
	return domain.RoomRef(key.ID.Hex()), doc, nil
}

func (s *Store) UpdateRoom(ctx context.Context, ref domain.RoomRef, fields map[string]any) error {
	oid, err := roomOID(ref)
	if err != nil {
		return err
	}
	res, err := s.db.Collection(domain.RoomsCollection).UpdateByID(ctx, oid, bson.M{"$set": bson.M(fields)})
	if err != nil {
		return fmt.Errorf("update room %s: %w", ref, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("room %s: %w", ref, core.ErrNoDocument)
	}
	return nil
}

func (s *Store) Put(ctx context.Context, ref domain.RoomRef, collection, docID string, doc any) error {
	key := subKey(ref, docID)
	body, err := withKeys(ref, key, doc)
	if err != nil {
		return err
	}
	_, err = s.db.Collection(collection).ReplaceOne(
		ctx, bson.M{"_id": key}, body, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", collection, docID, err)
	}
	return nil
}

func (s *Store) Append(ctx context.Context, ref domain.RoomRef, collection string, doc any) (string, error) {
	docID := primitive.NewObjectID().Hex()
	key := subKey(ref, docID)
	body, err := withKeys(ref, key, doc)
	if err != nil {
		return "", err
	}
	if _, err := s.db.Collection(collection).InsertOne(ctx, body); err != nil {
		return "", fmt.Errorf("append to %s: %w", collection, err)
	}
	return docID, nil
}

func (s *Store) Get(ctx context.Context, ref domain.RoomRef, collection, docID string) (core.Doc, error) {
	raw, err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": subKey(ref, docID)}).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return core.Doc{}, fmt.Errorf("%s/%s: %w", collection, docID, core.ErrNoDocument)
	}
	if err != nil {
		return core.Doc{}, fmt.Errorf("get %s/%s: %w", collection, docID, err)
	}
	return core.Doc{ID: docID, Decode: decodeRaw(raw)}, nil
}

func (s *Store) Query(ctx context.Context, ref domain.RoomRef, collection string, filter core.Filter) ([]core.Doc, error) {
	match := bson.M{roomRefField: string(ref)}
	for k, v := range filter {
		match[k] = v
	}
	cur, err := s.db.Collection(collection).Find(ctx, match)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer cur.Close(ctx)

	var out []core.Doc
	for cur.Next(ctx) {
		raw := append(bson.Raw(nil), cur.Current...)
		key, ok := raw.Lookup("_id").StringValueOK()
		if !ok {
			continue
		}
		docID, ok := splitKey(ref, key)
		if !ok {
			continue
		}
		out = append(out, core.Doc{ID: docID, Decode: decodeRaw(raw)})
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, ref domain.RoomRef, collection, docID string) error {
	_, err := s.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": subKey(ref, docID)})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, docID, err)
	}
	return nil
}

// Change-stream operation types, per the MongoDB change event spec.
const (
	opInsert  = "insert"
	opUpdate  = "update"
	opReplace = "replace"
	opDelete  = "delete"
)

func mapOperation(op string) (core.ChangeKind, bool) {
	switch op {
	case opInsert:
		return core.DocAdded, true
	case opUpdate, opReplace:
		return core.DocModified, true
	case opDelete:
		return core.DocRemoved, true
	default:
		return 0, false
	}
}

// subPipeline matches this room's documents by their _id prefix, which
// unlike fullDocument is present on every event type including deletes.
// Field filters apply to non-delete events only; removals pass through
// unfiltered, same as the in-process driver.
func subPipeline(ref domain.RoomRef, filter core.Filter) mongo.Pipeline {
	match := bson.D{
		{Key: "operationType", Value: bson.M{"$in": []string{opInsert, opUpdate, opReplace, opDelete}}},
		{Key: "documentKey._id", Value: primitive.Regex{Pattern: "^" + regexp.QuoteMeta(string(ref)) + "/"}},
	}
	if len(filter) > 0 {
		keys := make([]string, 0, len(filter))
		for k := range filter {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields := bson.D{}
		for _, k := range keys {
			fields = append(fields, bson.E{Key: "fullDocument." + k, Value: filter[k]})
		}
		match = append(match, bson.E{Key: "$or", Value: bson.A{
			bson.M{"operationType": opDelete},
			fields,
		}})
	}
	return mongo.Pipeline{bson.D{{Key: "$match", Value: match}}}
}

func roomPipeline(oid primitive.ObjectID) mongo.Pipeline {
	return mongo.Pipeline{bson.D{{Key: "$match", Value: bson.D{
		{Key: "operationType", Value: bson.M{"$in": []string{opInsert, opUpdate, opReplace, opDelete}}},
		{Key: "documentKey._id", Value: oid},
	}}}}
}
