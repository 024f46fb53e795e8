package app

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"github.com/RameeshKp/Holostream/internal/core"
	"github.com/RameeshKp/Holostream/internal/domain"
)

// Hangup ends the call from this side. Calling it again, or racing it
// against a remote-triggered end, is a no-op.
func (s *Session) Hangup(ctx context.Context) error {
	return s.end(ctx, core.EndReasonHangup)
}

// end is the one teardown path, shared by explicit hang-up and every
// remote trigger. Order matters: subscriptions go first so none of the
// cleanup writes echo back into the handlers, then transport, then local
// media, then the store cleanup. Store failures are collected and
// logged; teardown always runs to completion.
func (s *Session) end(ctx context.Context, reason string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	links := s.links.drain()
	s.streams.clear()
	started := s.started
	ref := s.ref
	role := s.role
	slot := s.slot
	code := s.code
	s.mu.Unlock()

	for _, cancel := range subs {
		cancel()
	}
	for _, l := range links {
		if l.stopCand != nil {
			l.stopCand()
		}
		l.conn.Close()
	}
	s.media.Close()

	var errs error
	if started && ref != "" {
		if role == domain.RoleGuest {
			errs = multierr.Append(errs, s.sig.RemoveParticipant(ctx, ref, slot))
		}
		errs = multierr.Append(errs, s.sig.DeleteStatus(ctx, ref, role))
		if role == domain.RoleHost {
			errs = multierr.Append(errs, s.sig.EndRoom(ctx, ref))
		}
	}
	s.cancel()

	s.publish(core.CallEvent{Kind: core.EventCallEnded, Room: code, Reason: reason})
	s.hub.close()
	close(s.done)

	if errs != nil {
		log.Warn().Err(errs).
			Str("module", "app.session").
			Str("reason", reason).
			Msg("teardown finished with store errors")
	} else {
		log.Info().
			Str("module", "app.session").
			Str("reason", reason).
			Msg("call ended")
	}
	return errs
}
