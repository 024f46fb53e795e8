package signal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/RameeshKp/Holostream/internal/adapters/memdir"
	"github.com/RameeshKp/Holostream/internal/core"
	"github.com/RameeshKp/Holostream/internal/domain"
)

func setup(t *testing.T) (*Adapter, *memdir.Store, domain.RoomRef) {
	t.Helper()
	store := memdir.New()
	a := New(store)
	ref, err := a.CreateRoom(context.Background(), "4821")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	return a, store, ref
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatal("feed closed")
		}
		return v
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
	var zero T
	return zero
}

func TestFindActiveRoom(t *testing.T) {
	a, _, _ := setup(t)
	ctx := context.Background()

	if _, err := a.FindActiveRoom(ctx, "4821"); err != nil {
		t.Fatalf("FindActiveRoom: %v", err)
	}
	_, err := a.FindActiveRoom(ctx, "9999")
	if !errors.Is(err, core.ErrRoomNotFound) {
		t.Fatalf("unknown code: got %v, want ErrRoomNotFound", err)
	}
}

func TestEndRoomHidesIt(t *testing.T) {
	a, _, ref := setup(t)
	ctx := context.Background()

	if err := a.EndRoom(ctx, ref); err != nil {
		t.Fatalf("EndRoom: %v", err)
	}
	_, err := a.FindActiveRoom(ctx, "4821")
	if !errors.Is(err, core.ErrRoomNotFound) {
		t.Fatalf("ended room still found: %v", err)
	}
}

func TestCreateRoomCodeTaken(t *testing.T) {
	a, _, _ := setup(t)
	_, err := a.CreateRoom(context.Background(), "4821")
	if !errors.Is(err, core.ErrRoomCodeTaken) {
		t.Fatalf("duplicate create: got %v, want ErrRoomCodeTaken", err)
	}
}

func TestOfferRoundtrip(t *testing.T) {
	a, _, ref := setup(t)
	ctx := context.Background()

	_, err := a.FetchOffer(ctx, ref, domain.HostSlot)
	if !errors.Is(err, core.ErrOfferNotFound) {
		t.Fatalf("missing offer: got %v, want ErrOfferNotFound", err)
	}

	in := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\n"}
	if err := a.PublishOffer(ctx, ref, domain.HostSlot, in); err != nil {
		t.Fatalf("PublishOffer: %v", err)
	}
	got, err := a.FetchOffer(ctx, ref, domain.HostSlot)
	if err != nil {
		t.Fatalf("FetchOffer: %v", err)
	}
	if got.Type != webrtc.SDPTypeOffer || got.SDP != in.SDP {
		t.Fatalf("offer roundtrip = %v %q", got.Type, got.SDP)
	}
}

func TestCandidateRoundtrip(t *testing.T) {
	a, _, ref := setup(t)
	ctx := context.Background()

	mid := "0"
	var idx uint16 = 1
	in := webrtc.ICECandidateInit{
		Candidate:     "candidate:1 1 udp 2130706431 192.0.2.1 54321 typ host",
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}
	if err := a.PublishCandidate(ctx, ref, "guest-a", in); err != nil {
		t.Fatalf("PublishCandidate: %v", err)
	}

	cands, err := a.FetchCandidates(ctx, ref, "guest-a")
	if err != nil {
		t.Fatalf("FetchCandidates: %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("fetched %d candidates, want 1", len(cands))
	}
	got := cands[0].Init
	if got.Candidate != in.Candidate || got.SDPMid == nil || *got.SDPMid != mid ||
		got.SDPMLineIndex == nil || *got.SDPMLineIndex != idx {
		t.Fatalf("candidate roundtrip = %+v", got)
	}

	// Candidates of other slots stay invisible.
	other, err := a.FetchCandidates(ctx, ref, domain.HostSlot)
	if err != nil {
		t.Fatalf("FetchCandidates host: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("host fetch returned %d candidates, want 0", len(other))
	}
}

func TestWatchAnswersSkipsMalformed(t *testing.T) {
	a, store, ref := setup(t)
	ctx := context.Background()

	feed, cancel, err := a.WatchAnswers(ctx, ref)
	if err != nil {
		t.Fatalf("WatchAnswers: %v", err)
	}
	defer cancel()

	// A document that does not decode into a description must be logged
	// and dropped without stalling the feed.
	if err := store.Put(ctx, ref, domain.AnswersCollection, "broken", map[string]any{"sdp": 5}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	good := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0\r\n"}
	if err := a.PublishAnswer(ctx, ref, "guest-a", good); err != nil {
		t.Fatalf("PublishAnswer: %v", err)
	}

	ev := waitFor(t, feed)
	if ev.Slot != "guest-a" || ev.Desc.Type != webrtc.SDPTypeAnswer {
		t.Fatalf("answer event = %+v", ev)
	}
}

func TestWatchOffersOnlyOwnSlot(t *testing.T) {
	a, _, ref := setup(t)
	ctx := context.Background()

	feed, cancel, err := a.WatchOffers(ctx, ref, "guest-b")
	if err != nil {
		t.Fatalf("WatchOffers: %v", err)
	}
	defer cancel()

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"}
	if err := a.PublishOffer(ctx, ref, "guest-a", offer); err != nil {
		t.Fatalf("PublishOffer a: %v", err)
	}
	if err := a.PublishOffer(ctx, ref, "guest-b", offer); err != nil {
		t.Fatalf("PublishOffer b: %v", err)
	}

	ev := waitFor(t, feed)
	if ev.Slot != "guest-b" {
		t.Fatalf("offer for slot %q leaked through", ev.Slot)
	}
}

func TestWatchParticipants(t *testing.T) {
	a, _, ref := setup(t)
	ctx := context.Background()

	feed, cancel, err := a.WatchParticipants(ctx, ref)
	if err != nil {
		t.Fatalf("WatchParticipants: %v", err)
	}
	defer cancel()

	if err := a.AnnounceParticipant(ctx, ref, "guest-a", domain.RoleGuest); err != nil {
		t.Fatalf("AnnounceParticipant: %v", err)
	}
	ev := waitFor(t, feed)
	if ev.Left || ev.Slot != "guest-a" || ev.Role != domain.RoleGuest {
		t.Fatalf("join event = %+v", ev)
	}

	if err := a.RemoveParticipant(ctx, ref, "guest-a"); err != nil {
		t.Fatalf("RemoveParticipant: %v", err)
	}
	ev = waitFor(t, feed)
	if !ev.Left || ev.Slot != "guest-a" {
		t.Fatalf("leave event = %+v", ev)
	}
}

func TestWatchStatus(t *testing.T) {
	a, _, ref := setup(t)
	ctx := context.Background()

	feed, cancel, err := a.WatchStatus(ctx, ref)
	if err != nil {
		t.Fatalf("WatchStatus: %v", err)
	}
	defer cancel()

	if err := a.PublishStatus(ctx, ref, domain.RoleHost, true, true); err != nil {
		t.Fatalf("PublishStatus: %v", err)
	}
	ev := waitFor(t, feed)
	if ev.Role != domain.RoleHost || !ev.Camera || !ev.Audio || ev.Removed {
		t.Fatalf("status event = %+v", ev)
	}

	if err := a.PublishStatus(ctx, ref, domain.RoleHost, false, true); err != nil {
		t.Fatalf("PublishStatus toggle: %v", err)
	}
	ev = waitFor(t, feed)
	if ev.Camera || !ev.Audio {
		t.Fatalf("toggled status event = %+v", ev)
	}

	if err := a.DeleteStatus(ctx, ref, domain.RoleHost); err != nil {
		t.Fatalf("DeleteStatus: %v", err)
	}
	ev = waitFor(t, feed)
	if !ev.Removed || ev.Role != domain.RoleHost {
		t.Fatalf("removed status event = %+v", ev)
	}
}

func TestWatchRoom(t *testing.T) {
	a, store, ref := setup(t)
	ctx := context.Background()

	feed, cancel, err := a.WatchRoom(ctx, ref)
	if err != nil {
		t.Fatalf("WatchRoom: %v", err)
	}
	defer cancel()

	if err := a.EndRoom(ctx, ref); err != nil {
		t.Fatalf("EndRoom: %v", err)
	}
	ev := waitFor(t, feed)
	if ev.Gone || ev.Status != domain.RoomInactive {
		t.Fatalf("room event = %+v", ev)
	}

	store.DeleteRoom(ref)
	ev = waitFor(t, feed)
	if !ev.Gone {
		t.Fatalf("room event after delete = %+v", ev)
	}
}

func TestStoreUnavailablePassesThrough(t *testing.T) {
	a, store, ref := setup(t)
	ctx := context.Background()

	store.SetOffline(true)
	if err := a.PublishStatus(ctx, ref, domain.RoleHost, true, true); !errors.Is(err, core.ErrStoreUnavailable) {
		t.Fatalf("offline publish: got %v, want ErrStoreUnavailable", err)
	}
	if _, err := a.FindActiveRoom(ctx, "4821"); !errors.Is(err, core.ErrStoreUnavailable) {
		t.Fatalf("offline find: got %v, want ErrStoreUnavailable", err)
	}
}
