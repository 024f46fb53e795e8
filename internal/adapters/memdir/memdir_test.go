package memdir

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/RameeshKp/Holostream/internal/core"
	"github.com/RameeshKp/Holostream/internal/domain"
)

func newRoom(t *testing.T, s *Store, code domain.RoomCode) domain.RoomRef {
	t.Helper()
	ref, err := s.EnsureRoom(context.Background(), domain.RoomDoc{
		Status:    domain.RoomActive,
		Code:      code,
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("EnsureRoom: %v", err)
	}
	return ref
}

func recv(t *testing.T, sub core.Subscription) core.Change {
	t.Helper()
	select {
	case ch, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscription closed")
		}
		return ch
	case <-time.After(time.Second):
		t.Fatal("no change delivered")
	}
	return core.Change{}
}

func TestEnsureRoomRefusesActiveDuplicate(t *testing.T) {
	s := New()
	ctx := context.Background()
	newRoom(t, s, "4821")

	_, err := s.EnsureRoom(ctx, domain.RoomDoc{Status: domain.RoomActive, Code: "4821", CreatedAt: time.Now()})
	if !errors.Is(err, core.ErrRoomCodeTaken) {
		t.Fatalf("duplicate active code: got %v, want ErrRoomCodeTaken", err)
	}
}

func TestEnsureRoomAllowsReuseAfterInactive(t *testing.T) {
	s := New()
	ctx := context.Background()
	ref := newRoom(t, s, "4821")

	if err := s.UpdateRoom(ctx, ref, map[string]any{domain.RoomStatusField: string(domain.RoomInactive)}); err != nil {
		t.Fatalf("UpdateRoom: %v", err)
	}
	if _, err := s.EnsureRoom(ctx, domain.RoomDoc{Status: domain.RoomActive, Code: "4821", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("reuse after inactive: %v", err)
	}
}

func TestActiveRoomIgnoresInactive(t *testing.T) {
	s := New()
	ctx := context.Background()
	ref := newRoom(t, s, "4821")

	if _, _, err := s.ActiveRoom(ctx, "4821"); err != nil {
		t.Fatalf("ActiveRoom while active: %v", err)
	}
	if err := s.UpdateRoom(ctx, ref, map[string]any{domain.RoomStatusField: string(domain.RoomInactive)}); err != nil {
		t.Fatalf("UpdateRoom: %v", err)
	}
	_, _, err := s.ActiveRoom(ctx, "4821")
	if !errors.Is(err, core.ErrNoDocument) {
		t.Fatalf("ActiveRoom after inactive: got %v, want ErrNoDocument", err)
	}
}

func TestWatchDeliversInCommitOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	ref := newRoom(t, s, "4821")

	sub, err := s.Watch(ctx, ref, domain.CandidatesCollection, nil)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer sub.Cancel()

	ids := make([]string, 3)
	for i := range ids {
		id, err := s.Append(ctx, ref, domain.CandidatesCollection, domain.CandidateDoc{
			Candidate: "{}", Owner: "host", CreatedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		ids[i] = id
	}
	for i := range ids {
		ch := recv(t, sub)
		if ch.Kind != core.DocAdded || ch.DocID != ids[i] {
			t.Fatalf("change %d = %v %q, want added %q", i, ch.Kind, ch.DocID, ids[i])
		}
	}
}

func TestWatchDoesNotReplayExisting(t *testing.T) {
	s := New()
	ctx := context.Background()
	ref := newRoom(t, s, "4821")

	if _, err := s.Append(ctx, ref, domain.CandidatesCollection, domain.CandidateDoc{
		Candidate: "{}", Owner: "host", CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	sub, err := s.Watch(ctx, ref, domain.CandidatesCollection, nil)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer sub.Cancel()

	select {
	case ch := <-sub.Events():
		t.Fatalf("unexpected replay of %q", ch.DocID)
	case <-time.After(50 * time.Millisecond):
	}

	// The pre-subscription document comes back through the catch-up read.
	docs, err := s.Query(ctx, ref, domain.CandidatesCollection, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("catch-up returned %d docs, want 1", len(docs))
	}
}

func TestWatchFilter(t *testing.T) {
	s := New()
	ctx := context.Background()
	ref := newRoom(t, s, "4821")

	sub, err := s.Watch(ctx, ref, domain.CandidatesCollection, core.Filter{domain.CandidateOwnerField: "host"})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer sub.Cancel()

	if _, err := s.Append(ctx, ref, domain.CandidatesCollection, domain.CandidateDoc{
		Candidate: "{}", Owner: "guest-a", CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	want, err := s.Append(ctx, ref, domain.CandidatesCollection, domain.CandidateDoc{
		Candidate: "{}", Owner: "host", CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	ch := recv(t, sub)
	if ch.DocID != want {
		t.Fatalf("filtered watch delivered %q, want %q", ch.DocID, want)
	}
	var doc domain.CandidateDoc
	if err := ch.Decode(&doc); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if doc.Owner != "host" {
		t.Fatalf("owner = %q, want host", doc.Owner)
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	s := New()
	ctx := context.Background()
	ref := newRoom(t, s, "4821")

	sub, err := s.Watch(ctx, ref, domain.OffersCollection, nil)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	sub.Cancel()
	sub.Cancel() // idempotent

	if err := s.Put(ctx, ref, domain.OffersCollection, "host", domain.DescriptionDoc{
		SDP: "v=0", Type: "offer", CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, ok := <-sub.Events(); ok {
		t.Fatal("event delivered after Cancel")
	}
}

func TestPutOverwriteIsModified(t *testing.T) {
	s := New()
	ctx := context.Background()
	ref := newRoom(t, s, "4821")

	sub, err := s.Watch(ctx, ref, domain.StatusCollection, nil)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer sub.Cancel()

	st := domain.StatusDoc{Camera: true, Audio: true, UpdatedAt: time.Now()}
	if err := s.Put(ctx, ref, domain.StatusCollection, "broadcaster", st); err != nil {
		t.Fatalf("Put: %v", err)
	}
	st.Camera = false
	if err := s.Put(ctx, ref, domain.StatusCollection, "broadcaster", st); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}

	if ch := recv(t, sub); ch.Kind != core.DocAdded {
		t.Fatalf("first change = %v, want added", ch.Kind)
	}
	ch := recv(t, sub)
	if ch.Kind != core.DocModified {
		t.Fatalf("second change = %v, want modified", ch.Kind)
	}
	var got domain.StatusDoc
	if err := ch.Decode(&got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Camera {
		t.Fatal("overwrite not visible in decoded change")
	}
}

func TestDeleteMissingIsNoError(t *testing.T) {
	s := New()
	ctx := context.Background()
	ref := newRoom(t, s, "4821")

	if err := s.Delete(ctx, ref, domain.StatusCollection, "viewer"); err != nil {
		t.Fatalf("Delete of missing doc: %v", err)
	}
}

func TestRoomWatchSeesInactiveAndGone(t *testing.T) {
	s := New()
	ctx := context.Background()
	ref := newRoom(t, s, "4821")

	sub, err := s.WatchRoom(ctx, ref)
	if err != nil {
		t.Fatalf("WatchRoom: %v", err)
	}
	defer sub.Cancel()

	if err := s.UpdateRoom(ctx, ref, map[string]any{domain.RoomStatusField: string(domain.RoomInactive)}); err != nil {
		t.Fatalf("UpdateRoom: %v", err)
	}
	ch := recv(t, sub)
	if ch.Kind != core.DocModified {
		t.Fatalf("change = %v, want modified", ch.Kind)
	}
	var doc domain.RoomDoc
	if err := ch.Decode(&doc); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if doc.Status != domain.RoomInactive {
		t.Fatalf("status = %q, want inactive", doc.Status)
	}

	s.DeleteRoom(ref)
	if ch := recv(t, sub); ch.Kind != core.DocRemoved {
		t.Fatalf("change = %v, want removed", ch.Kind)
	}
}

func TestOffline(t *testing.T) {
	s := New()
	ctx := context.Background()
	ref := newRoom(t, s, "4821")

	s.SetOffline(true)
	if _, _, err := s.ActiveRoom(ctx, "4821"); !errors.Is(err, core.ErrStoreUnavailable) {
		t.Fatalf("ActiveRoom offline: got %v", err)
	}
	if err := s.Put(ctx, ref, domain.OffersCollection, "host", domain.DescriptionDoc{}); !errors.Is(err, core.ErrStoreUnavailable) {
		t.Fatalf("Put offline: got %v", err)
	}
	s.SetOffline(false)
	if _, _, err := s.ActiveRoom(ctx, "4821"); err != nil {
		t.Fatalf("ActiveRoom back online: %v", err)
	}
}
