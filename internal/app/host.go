package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/RameeshKp/Holostream/internal/core"
	"github.com/RameeshKp/Holostream/internal/domain"
	"github.com/RameeshKp/Holostream/internal/signal"
)

// createRoomAttempts bounds the retry on a colliding room code.
const createRoomAttempts = 5

// Host starts a call: acquires local media, creates an active room under
// a fresh code, publishes the capability flags and the first offer, and
// waits for guests through the store watches. On any failure the session
// unwinds to the pre-call state and the error is returned once.
func (s *Session) Host(ctx context.Context) (domain.RoomCode, error) {
	if err := s.begin(domain.RoleHost); err != nil {
		return "", err
	}
	if err := s.media.Open(ctx); err != nil {
		s.abortStart(ctx, false)
		return "", err
	}

	code, ref, err := s.createRoom(ctx)
	if err != nil {
		s.abortStart(ctx, false)
		return "", err
	}
	s.mu.Lock()
	s.code, s.ref = code, ref
	s.mu.Unlock()

	camera, audio := s.media.Flags()
	if err := s.sig.PublishStatus(ctx, ref, domain.RoleHost, camera, audio); err != nil {
		s.abortStart(ctx, true)
		return "", err
	}

	// The first connection is keyed by the host slot until an answer
	// claims it for the guest that sent it.
	link, err := s.openLink(domain.HostSlot)
	if err != nil {
		s.abortStart(ctx, true)
		return "", err
	}

	// Watches start before the offer is public so the first answer
	// cannot slip past the subscription.
	if err := s.watchAsHost(ref); err != nil {
		s.abortStart(ctx, true)
		return "", err
	}

	s.setSlotState(link, SlotOffering)
	offer, err := link.conn.CreateOffer()
	if err != nil {
		s.abortStart(ctx, true)
		return "", fmt.Errorf("host offer: %w", err)
	}
	if err := s.sig.PublishOffer(ctx, ref, domain.HostSlot, *offer); err != nil {
		s.abortStart(ctx, true)
		return "", err
	}
	s.setSlotState(link, SlotAwaitingAnswer)

	log.Info().
		Str("module", "app.session").
		Str("room", string(code)).
		Msg("hosting")
	return code, nil
}

// createRoom draws fresh codes until one is free of an active room.
func (s *Session) createRoom(ctx context.Context) (domain.RoomCode, domain.RoomRef, error) {
	for range createRoomAttempts {
		code := domain.NewRoomCode()
		ref, err := s.sig.CreateRoom(ctx, code)
		if errors.Is(err, core.ErrRoomCodeTaken) {
			log.Info().Str("module", "app.session").Str("room", string(code)).Msg("code taken, redrawing")
			continue
		}
		if err != nil {
			return "", "", err
		}
		return code, ref, nil
	}
	return "", "", fmt.Errorf("no free room code in %d draws: %w", createRoomAttempts, core.ErrRoomCodeTaken)
}

func (s *Session) watchAsHost(ref domain.RoomRef) error {
	answers, stopAnswers, err := s.sig.WatchAnswers(s.ctx, ref)
	if err != nil {
		return err
	}
	s.addSub(stopAnswers)
	parts, stopParts, err := s.sig.WatchParticipants(s.ctx, ref)
	if err != nil {
		return err
	}
	s.addSub(stopParts)
	status, stopStatus, err := s.sig.WatchStatus(s.ctx, ref)
	if err != nil {
		return err
	}
	s.addSub(stopStatus)

	go s.answerLoop(answers)
	go s.participantLoop(parts)
	go s.statusLoop(status)
	return nil
}

func (s *Session) answerLoop(ch <-chan signal.DescriptionEvent) {
	for ev := range ch {
		s.handleAnswer(ev)
	}
}

// handleAnswer routes one published answer. The first answer claims the
// connection opened at room creation; an answer for a slot that already
// holds a remote description is a duplicate delivery and is ignored; an
// answer from a slot with no connection at all belongs to a guest that
// lost the claim race, who gets a dedicated offer instead.
func (s *Session) handleAnswer(ev signal.DescriptionEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	link, ok := s.links.get(ev.Slot)
	if !ok && !s.primaryClaimed {
		link, ok = s.links.rekey(domain.HostSlot, ev.Slot)
		if ok {
			s.primaryClaimed = true
		}
	}
	s.mu.Unlock()

	if !ok {
		s.offerToSlot(ev.Slot)
		return
	}
	if link.conn.HasRemoteDescription() {
		return
	}
	if err := link.conn.AcceptAnswer(ev.Desc); err != nil {
		log.Warn().Err(err).
			Str("module", "app.session").
			Str("slot", string(ev.Slot)).
			Msg("answer rejected")
		return
	}
	s.markJoined(ev.Slot)
	s.startCandidatePump(link)
}

func (s *Session) participantLoop(ch <-chan signal.ParticipantEvent) {
	for ev := range ch {
		s.handleParticipant(ev)
	}
}

// handleParticipant reacts to guests announcing themselves or leaving.
// An announcement for a slot that already has a connection only confirms
// the join; an unseen slot gets a dedicated offer.
func (s *Session) handleParticipant(ev signal.ParticipantEvent) {
	if ev.Slot == domain.HostSlot || (!ev.Left && ev.Role == domain.RoleHost) {
		return
	}
	if ev.Left {
		s.mu.Lock()
		link, ok := s.links.get(ev.Slot)
		s.mu.Unlock()
		if ok {
			s.dropPeer(link, false)
		}
		return
	}
	s.markJoined(ev.Slot)
	s.mu.Lock()
	known := s.links.has(ev.Slot)
	s.mu.Unlock()
	if !known {
		s.offerToSlot(ev.Slot)
	}
}

// offerToSlot opens a dedicated connection for one guest slot and
// publishes an offer keyed by it. Safe against concurrent triggers for
// the same slot: the second one loses the slot key and backs off.
func (s *Session) offerToSlot(slot domain.SlotID) {
	s.mu.Lock()
	if s.closed || s.links.has(slot) {
		s.mu.Unlock()
		return
	}
	ref := s.ref
	s.mu.Unlock()

	link, err := s.openLink(slot)
	if errors.Is(err, errSlotBusy) || errors.Is(err, core.ErrSessionClosed) {
		return
	}
	if err != nil {
		log.Warn().Err(err).
			Str("module", "app.session").
			Str("slot", string(slot)).
			Msg("slot connection failed")
		s.publish(core.CallEvent{Kind: core.EventSlotFailed, Slot: slot, Reason: "negotiation"})
		return
	}
	s.setSlotState(link, SlotOffering)
	offer, err := link.conn.CreateOffer()
	if err != nil {
		s.dropLink(link, err)
		return
	}
	if err := s.sig.PublishOffer(s.ctx, ref, slot, *offer); err != nil {
		s.dropLink(link, err)
		return
	}
	s.setSlotState(link, SlotAwaitingAnswer)
}
