package app

import (
	"github.com/rs/zerolog/log"

	"github.com/RameeshKp/Holostream/internal/core"
	"github.com/RameeshKp/Holostream/internal/domain"
	"github.com/RameeshKp/Holostream/internal/signal"
)

// SlotState tracks one peer connection through its signaling lifecycle.
type SlotState int

const (
	SlotIdle SlotState = iota
	SlotOffering
	SlotAwaitingAnswer
	SlotConnected
	SlotFailed
	SlotClosed
)

func (s SlotState) String() string {
	switch s {
	case SlotIdle:
		return "idle"
	case SlotOffering:
		return "offering"
	case SlotAwaitingAnswer:
		return "awaiting_answer"
	case SlotConnected:
		return "connected"
	case SlotFailed:
		return "failed"
	case SlotClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// peerLink is one remote slot's connection plus its signaling baggage.
type peerLink struct {
	slot  domain.SlotID
	conn  core.MediaConnection
	state SlotState

	// stopCand cancels the candidate pump, nil until the pump runs.
	stopCand func()
	// fromTargeted marks a guest link rebuilt from a targeted offer;
	// further targeted offers for the same slot are duplicates.
	fromTargeted bool
}

// connSet is the slot-keyed set of live peer links. The session owns it
// and only touches it under the session lock; methods do not lock.
type connSet struct {
	links map[domain.SlotID]*peerLink
}

func newConnSet() *connSet {
	return &connSet{links: make(map[domain.SlotID]*peerLink)}
}

func (c *connSet) get(slot domain.SlotID) (*peerLink, bool) {
	l, ok := c.links[slot]
	return l, ok
}

func (c *connSet) has(slot domain.SlotID) bool {
	_, ok := c.links[slot]
	return ok
}

// add inserts the link unless its slot is taken.
func (c *connSet) add(l *peerLink) bool {
	if _, taken := c.links[l.slot]; taken {
		return false
	}
	c.links[l.slot] = l
	return true
}

func (c *connSet) remove(slot domain.SlotID) {
	delete(c.links, slot)
}

// rekey moves a link to a new slot id. The host uses it when the first
// answer claims the connection opened at room creation.
func (c *connSet) rekey(from, to domain.SlotID) (*peerLink, bool) {
	l, ok := c.links[from]
	if !ok {
		return nil, false
	}
	if _, taken := c.links[to]; taken {
		return nil, false
	}
	delete(c.links, from)
	l.slot = to
	c.links[to] = l
	return l, true
}

// isCurrent reports whether l is still the link the set holds for its
// slot; stale callbacks from replaced connections fail this check.
func (c *connSet) isCurrent(l *peerLink) bool {
	cur, ok := c.links[l.slot]
	return ok && cur == l
}

func (c *connSet) snapshot() []*peerLink {
	out := make([]*peerLink, 0, len(c.links))
	for _, l := range c.links {
		out = append(out, l)
	}
	return out
}

// drain empties the set and returns what it held.
func (c *connSet) drain() []*peerLink {
	out := c.snapshot()
	c.links = make(map[domain.SlotID]*peerLink)
	return out
}

func (c *connSet) size() int { return len(c.links) }

// startCandidatePump subscribes to the peer's candidates and replays the
// ones published before the subscription existed. Called once per link,
// after both descriptions are in place.
func (s *Session) startCandidatePump(link *peerLink) {
	s.mu.Lock()
	if s.closed || !s.links.isCurrent(link) || link.stopCand != nil {
		s.mu.Unlock()
		return
	}
	ref := s.ref
	peer := link.slot
	s.mu.Unlock()

	feed, stop, err := s.sig.WatchCandidates(s.ctx, ref, peer)
	if err != nil {
		log.Warn().Err(err).
			Str("module", "app.session").
			Str("slot", string(peer)).
			Msg("candidate watch failed")
		return
	}

	s.mu.Lock()
	if s.closed || !s.links.isCurrent(link) || link.stopCand != nil {
		s.mu.Unlock()
		stop()
		return
	}
	link.stopCand = stop
	s.mu.Unlock()

	go s.candidateLoop(link, ref, feed)
}

func (s *Session) candidateLoop(link *peerLink, ref domain.RoomRef, feed <-chan signal.Candidate) {
	seen := make(map[string]bool)

	// Catch-up fetch: the subscription is already live, so anything the
	// fetch and the feed both report is deduplicated by document id.
	got, err := s.sig.FetchCandidates(s.ctx, ref, link.slot)
	if err != nil {
		log.Warn().Err(err).
			Str("module", "app.session").
			Str("slot", string(link.slot)).
			Msg("candidate catch-up failed")
	}
	for _, c := range got {
		s.applyCandidate(link, c, seen)
	}
	for c := range feed {
		s.applyCandidate(link, c, seen)
	}
}

// applyCandidate is at-most-once per document; a rejected candidate is
// logged and never aborts the slot (ICE tolerates candidate loss).
func (s *Session) applyCandidate(link *peerLink, c signal.Candidate, seen map[string]bool) {
	if seen[c.DocID] {
		return
	}
	seen[c.DocID] = true
	if err := link.conn.AddICECandidate(c.Init); err != nil {
		log.Warn().Err(err).
			Str("module", "app.session").
			Str("slot", string(link.slot)).
			Str("doc", c.DocID).
			Msg("candidate rejected")
	}
}
