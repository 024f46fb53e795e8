package mongodir

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/RameeshKp/Holostream/internal/core"
	"github.com/RameeshKp/Holostream/internal/domain"
)

var _ core.Directory = (*Store)(nil)

// rawDoc marshals a literal into the wire form a change stream hands us.
func rawDoc(t *testing.T, v any) bson.Raw {
	t.Helper()
	b, err := bson.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return bson.Raw(b)
}

func TestSubKeyRoundTrip(t *testing.T) {
	ref := domain.RoomRef("64f0aa11bb22cc33dd44ee55")

	key := subKey(ref, "slot-1")
	if key != "64f0aa11bb22cc33dd44ee55/slot-1" {
		t.Fatalf("unexpected key %q", key)
	}
	docID, ok := splitKey(ref, key)
	if !ok || docID != "slot-1" {
		t.Fatalf("split = %q, %v", docID, ok)
	}

	if _, ok := splitKey(domain.RoomRef("other"), key); ok {
		t.Fatal("foreign room key must not split")
	}
	if _, ok := splitKey(ref, "slot-1"); ok {
		t.Fatal("bare doc id must not split")
	}
}

func TestWithKeysInjectsAndPreserves(t *testing.T) {
	ref := domain.RoomRef("64f0aa11bb22cc33dd44ee55")
	now := time.Now().UTC().Truncate(time.Millisecond)
	in := domain.CandidateDoc{Candidate: `{"candidate":"cand-1"}`, Owner: "host", CreatedAt: now}

	body, err := withKeys(ref, subKey(ref, "c1"), in)
	if err != nil {
		t.Fatalf("withKeys: %v", err)
	}
	raw := rawDoc(t, body)

	var fields bson.M
	if err := bson.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if fields["_id"] != "64f0aa11bb22cc33dd44ee55/c1" {
		t.Fatalf("_id = %v", fields["_id"])
	}
	if fields[roomRefField] != string(ref) {
		t.Fatalf("roomRef = %v", fields[roomRefField])
	}

	var out domain.CandidateDoc
	if err := decodeRaw(raw)(&out); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if out.Candidate != in.Candidate || out.Owner != in.Owner || !out.CreatedAt.Equal(now) {
		t.Fatalf("payload mangled: %+v", out)
	}
}

func TestWithKeysDropsConflictingKeys(t *testing.T) {
	ref := domain.RoomRef("aaaabbbbccccddddeeeeffff")
	body, err := withKeys(ref, subKey(ref, "d1"), bson.M{"_id": "evil", roomRefField: "elsewhere", "x": int32(7)})
	if err != nil {
		t.Fatalf("withKeys: %v", err)
	}

	var fields bson.M
	if err := bson.Unmarshal(rawDoc(t, body), &fields); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fields["_id"] != subKey(ref, "d1") {
		t.Fatalf("_id = %v, payload key must lose", fields["_id"])
	}
	if fields[roomRefField] != string(ref) {
		t.Fatalf("roomRef = %v", fields[roomRefField])
	}
	if fields["x"] != int32(7) {
		t.Fatalf("x = %v", fields["x"])
	}
}

func TestDecodeRawCopiesPayload(t *testing.T) {
	src, err := bson.Marshal(bson.M{"sdp": "v=0", "type": "offer", "createdAt": time.Now().UTC()})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	decode := decodeRaw(src)
	for i := range src {
		src[i] = 0
	}
	var out domain.DescriptionDoc
	if err := decode(&out); err != nil {
		t.Fatalf("decode after source reuse: %v", err)
	}
	if out.SDP != "v=0" || out.Type != "offer" {
		t.Fatalf("decoded %+v", out)
	}
}

func TestMapOperation(t *testing.T) {
	cases := []struct {
		op   string
		kind core.ChangeKind
		ok   bool
	}{
		{opInsert, core.DocAdded, true},
		{opUpdate, core.DocModified, true},
		{opReplace, core.DocModified, true},
		{opDelete, core.DocRemoved, true},
		{"drop", 0, false},
		{"", 0, false},
	}
	for _, c := range cases {
		kind, ok := mapOperation(c.op)
		if ok != c.ok || (ok && kind != c.kind) {
			t.Errorf("mapOperation(%q) = %v, %v", c.op, kind, ok)
		}
	}
}

func TestMapSubEvent(t *testing.T) {
	ref := domain.RoomRef("64f0aa11bb22cc33dd44ee55")
	joined := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("insert carries the document", func(t *testing.T) {
		full, err := bson.Marshal(domain.ParticipantDoc{Slot: "slot-1", Role: domain.RoleGuest, JoinedAt: joined})
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		raw := rawDoc(t, bson.M{
			"operationType": opInsert,
			"documentKey":   bson.M{"_id": subKey(ref, "slot-1")},
			"fullDocument":  bson.Raw(full),
		})

		ch, ok := mapSubEvent(ref, raw)
		if !ok {
			t.Fatal("event dropped")
		}
		if ch.Kind != core.DocAdded || ch.DocID != "slot-1" {
			t.Fatalf("change = %v %q", ch.Kind, ch.DocID)
		}
		var doc domain.ParticipantDoc
		if err := ch.Decode(&doc); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if doc.Slot != "slot-1" || doc.Role != domain.RoleGuest || !doc.JoinedAt.Equal(joined) {
			t.Fatalf("decoded %+v", doc)
		}
	})

	t.Run("replace maps to modified", func(t *testing.T) {
		full, err := bson.Marshal(domain.StatusDoc{Camera: false, Audio: true, UpdatedAt: joined})
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		raw := rawDoc(t, bson.M{
			"operationType": opReplace,
			"documentKey":   bson.M{"_id": subKey(ref, "broadcaster")},
			"fullDocument":  bson.Raw(full),
		})

		ch, ok := mapSubEvent(ref, raw)
		if !ok || ch.Kind != core.DocModified || ch.DocID != "broadcaster" {
			t.Fatalf("change = %+v, %v", ch, ok)
		}
		var doc domain.StatusDoc
		if err := ch.Decode(&doc); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if doc.Camera || !doc.Audio {
			t.Fatalf("decoded %+v", doc)
		}
	})

	t.Run("delete has no decode", func(t *testing.T) {
		raw := rawDoc(t, bson.M{
			"operationType": opDelete,
			"documentKey":   bson.M{"_id": subKey(ref, "slot-1")},
		})

		ch, ok := mapSubEvent(ref, raw)
		if !ok || ch.Kind != core.DocRemoved || ch.DocID != "slot-1" {
			t.Fatalf("change = %+v, %v", ch, ok)
		}
		if ch.Decode != nil {
			t.Fatal("removed change must not carry a decoder")
		}
	})

	t.Run("foreign room is dropped", func(t *testing.T) {
		raw := rawDoc(t, bson.M{
			"operationType": opInsert,
			"documentKey":   bson.M{"_id": "ffffffffffffffffffffffff/slot-1"},
		})
		if _, ok := mapSubEvent(ref, raw); ok {
			t.Fatal("foreign room event must be dropped")
		}
	})

	t.Run("unknown operation is dropped", func(t *testing.T) {
		raw := rawDoc(t, bson.M{
			"operationType": "invalidate",
			"documentKey":   bson.M{"_id": subKey(ref, "slot-1")},
		})
		if _, ok := mapSubEvent(ref, raw); ok {
			t.Fatal("unknown operation must be dropped")
		}
	})
}

func TestMapRoomEvent(t *testing.T) {
	oid := primitive.NewObjectID()
	ref := domain.RoomRef(oid.Hex())
	created := time.Now().UTC().Truncate(time.Millisecond)

	full, err := bson.Marshal(domain.RoomDoc{Status: domain.RoomInactive, Code: "4821", CreatedAt: created})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	raw := rawDoc(t, bson.M{
		"operationType": opUpdate,
		"documentKey":   bson.M{"_id": oid},
		"fullDocument":  bson.Raw(full),
	})

	ch, ok := mapRoomEvent(ref, raw)
	if !ok || ch.Kind != core.DocModified || ch.DocID != string(ref) {
		t.Fatalf("change = %+v, %v", ch, ok)
	}
	var doc domain.RoomDoc
	if err := ch.Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Status != domain.RoomInactive || doc.Code != "4821" {
		t.Fatalf("decoded %+v", doc)
	}

	gone := rawDoc(t, bson.M{
		"operationType": opDelete,
		"documentKey":   bson.M{"_id": oid},
	})
	ch, ok = mapRoomEvent(ref, gone)
	if !ok || ch.Kind != core.DocRemoved || ch.Decode != nil {
		t.Fatalf("delete change = %+v, %v", ch, ok)
	}

	other := rawDoc(t, bson.M{
		"operationType": opDelete,
		"documentKey":   bson.M{"_id": primitive.NewObjectID()},
	})
	if _, ok := mapRoomEvent(ref, other); ok {
		t.Fatal("another room's event must be dropped")
	}
}

func TestSubPipelineShape(t *testing.T) {
	ref := domain.RoomRef("64f0aa11bb22cc33dd44ee55")

	t.Run("no filter", func(t *testing.T) {
		p := subPipeline(ref, nil)
		if len(p) != 1 || len(p[0]) != 1 || p[0][0].Key != "$match" {
			t.Fatalf("pipeline shape: %+v", p)
		}
		match := p[0][0].Value.(bson.D)
		if len(match) != 2 {
			t.Fatalf("match without filter: %+v", match)
		}
		if match[0].Key != "operationType" || match[1].Key != "documentKey._id" {
			t.Fatalf("match keys: %+v", match)
		}
		re := match[1].Value.(primitive.Regex)
		if re.Pattern != "^64f0aa11bb22cc33dd44ee55/" {
			t.Fatalf("key pattern %q", re.Pattern)
		}
	})

	t.Run("filter spares deletes", func(t *testing.T) {
		p := subPipeline(ref, core.Filter{
			domain.CandidateOwnerField: "host",
			"b":                        1,
		})
		match := p[0][0].Value.(bson.D)
		if len(match) != 3 || match[2].Key != "$or" {
			t.Fatalf("match with filter: %+v", match)
		}
		or := match[2].Value.(bson.A)
		if len(or) != 2 {
			t.Fatalf("$or arms: %+v", or)
		}
		if del := or[0].(bson.M); del["operationType"] != opDelete {
			t.Fatalf("delete arm: %+v", del)
		}
		fields := or[1].(bson.D)
		if len(fields) != 2 || fields[0].Key != "fullDocument.b" || fields[1].Key != "fullDocument."+domain.CandidateOwnerField {
			t.Fatalf("field arm: %+v", fields)
		}
		if fields[1].Value != "host" {
			t.Fatalf("field value: %v", fields[1].Value)
		}
	})
}

func TestRoomPipelineMatchesExactKey(t *testing.T) {
	oid := primitive.NewObjectID()
	p := roomPipeline(oid)
	if len(p) != 1 || p[0][0].Key != "$match" {
		t.Fatalf("pipeline shape: %+v", p)
	}
	match := p[0][0].Value.(bson.D)
	if match[1].Key != "documentKey._id" || match[1].Value != oid {
		t.Fatalf("match: %+v", match)
	}
}

func TestSubscriptionDeliverNeverBlocks(t *testing.T) {
	sub := &subscription{events: make(chan core.Change, 2)}
	for i := 0; i < 5; i++ {
		sub.deliver(core.Change{Kind: core.DocAdded, DocID: "d"})
	}
	if len(sub.events) != 2 {
		t.Fatalf("buffered %d changes, want 2", len(sub.events))
	}
}
