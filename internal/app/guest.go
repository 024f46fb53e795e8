package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/RameeshKp/Holostream/internal/core"
	"github.com/RameeshKp/Holostream/internal/domain"
	"github.com/RameeshKp/Holostream/internal/signal"
)

// Join enters an existing call by room code. The room is resolved before
// any media or transport resource is touched, so an unknown code leaves
// the session exactly as it was. If no guest has answered yet the host's
// first offer is claimed directly; otherwise the guest announces itself
// and waits for the offer the host targets back at it.
func (s *Session) Join(ctx context.Context, code domain.RoomCode) error {
	if err := code.Validate(); err != nil {
		return err
	}
	if err := s.begin(domain.RoleGuest); err != nil {
		return err
	}
	ref, err := s.sig.FindActiveRoom(ctx, code)
	if err != nil {
		s.abortStart(ctx, false)
		return err
	}
	if err := s.media.Open(ctx); err != nil {
		s.abortStart(ctx, false)
		return err
	}
	s.mu.Lock()
	s.code, s.ref = code, ref
	slot := s.slot
	s.mu.Unlock()

	// Subscriptions come first: the room ending, a status flip or the
	// targeted offer must not slip through while the join is in flight.
	if err := s.watchAsGuest(ref, slot); err != nil {
		s.abortStart(ctx, false)
		return err
	}

	answers, err := s.sig.FetchAnswers(ctx, ref)
	if err != nil {
		s.abortStart(ctx, false)
		return err
	}
	if len(answers) == 0 {
		if err := s.claimPrimary(ctx, ref); err != nil {
			s.abortStart(ctx, false)
			return err
		}
	}

	// Announced after the claim answer so the host processes them in
	// that order; for a late joiner this is what requests the offer.
	if err := s.sig.AnnounceParticipant(ctx, ref, slot, domain.RoleGuest); err != nil {
		s.abortStart(ctx, false)
		return err
	}
	camera, audio := s.media.Flags()
	if err := s.sig.PublishStatus(ctx, ref, domain.RoleGuest, camera, audio); err != nil {
		s.abortStart(ctx, false)
		return err
	}

	log.Info().
		Str("module", "app.session").
		Str("room", string(code)).
		Str("slot", string(slot)).
		Msg("joined")
	return nil
}

func (s *Session) watchAsGuest(ref domain.RoomRef, slot domain.SlotID) error {
	room, stopRoom, err := s.sig.WatchRoom(s.ctx, ref)
	if err != nil {
		return err
	}
	s.addSub(stopRoom)
	offers, stopOffers, err := s.sig.WatchOffers(s.ctx, ref, slot)
	if err != nil {
		return err
	}
	s.addSub(stopOffers)
	status, stopStatus, err := s.sig.WatchStatus(s.ctx, ref)
	if err != nil {
		return err
	}
	s.addSub(stopStatus)

	go s.roomLoop(room)
	go s.offerLoop(offers)
	go s.statusLoop(status)
	return nil
}

// claimPrimary answers the offer the host published at room creation.
func (s *Session) claimPrimary(ctx context.Context, ref domain.RoomRef) error {
	offer, err := s.sig.FetchOffer(ctx, ref, domain.HostSlot)
	if err != nil {
		return err
	}
	link, err := s.openLink(domain.HostSlot)
	if err != nil {
		return err
	}
	answer, err := link.conn.AcceptOffer(offer)
	if err != nil {
		s.dropLink(link, err)
		return fmt.Errorf("accept host offer: %w", err)
	}
	s.mu.Lock()
	slot := s.slot
	s.mu.Unlock()
	if err := s.sig.PublishAnswer(ctx, ref, slot, *answer); err != nil {
		s.dropLink(link, err)
		return err
	}
	s.setSlotState(link, SlotAwaitingAnswer)
	s.startCandidatePump(link)
	return nil
}

func (s *Session) offerLoop(ch <-chan signal.DescriptionEvent) {
	for ev := range ch {
		s.handleTargetedOffer(ev)
	}
}

// handleTargetedOffer answers an offer the host keyed by this guest's
// slot. It arrives on the late-join path, or after the claim answer lost
// the race for the host's first offer; in the latter case the tentative
// connection is discarded and rebuilt against the targeted offer. A link
// already built this way, or already connected, ignores duplicates.
func (s *Session) handleTargetedOffer(ev signal.DescriptionEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	old, had := s.links.get(domain.HostSlot)
	if had && (old.fromTargeted || old.state == SlotConnected) {
		s.mu.Unlock()
		return
	}
	if had {
		s.links.remove(domain.HostSlot)
	}
	ref := s.ref
	slot := s.slot
	s.mu.Unlock()

	if had {
		if old.stopCand != nil {
			old.stopCand()
		}
		old.conn.Close()
		log.Info().
			Str("module", "app.session").
			Str("slot", string(slot)).
			Msg("claim lost, rebuilding against targeted offer")
	}

	link, err := s.openLink(domain.HostSlot)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.session").Msg("targeted offer connection failed")
		s.publish(core.CallEvent{Kind: core.EventSlotFailed, Slot: domain.HostSlot, Reason: "negotiation"})
		_ = s.end(context.Background(), core.EndReasonRemoteClosed)
		return
	}
	s.mu.Lock()
	link.fromTargeted = true
	s.mu.Unlock()

	answer, err := link.conn.AcceptOffer(ev.Desc)
	if err != nil {
		s.dropLink(link, err)
		_ = s.end(context.Background(), core.EndReasonRemoteClosed)
		return
	}
	if err := s.sig.PublishAnswer(s.ctx, ref, slot, *answer); err != nil {
		s.dropLink(link, err)
		_ = s.end(context.Background(), core.EndReasonRemoteClosed)
		return
	}
	s.setSlotState(link, SlotAwaitingAnswer)
	s.startCandidatePump(link)
}

// roomLoop is the guest's remote-ended detector: the host marking the
// room inactive and the room document disappearing both end the call
// locally, under different user-facing reasons.
func (s *Session) roomLoop(ch <-chan signal.RoomEvent) {
	for ev := range ch {
		if ev.Gone {
			_ = s.end(context.Background(), core.EndReasonRoomGone)
			return
		}
		if ev.Status == domain.RoomInactive {
			_ = s.end(context.Background(), core.EndReasonRoomEnded)
			return
		}
	}
}
