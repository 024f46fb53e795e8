package app

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/RameeshKp/Holostream/internal/core"
	"github.com/RameeshKp/Holostream/internal/domain"
)

// remoteStream is one inbound media stream, tagged with the slot it came
// from. Both tracks of a stream (audio and video) count into packets.
type remoteStream struct {
	id      string
	slot    domain.SlotID
	packets atomic.Uint64
}

// StreamSnapshot is the read-only view of one remote stream.
type StreamSnapshot struct {
	ID      string        `json:"id"`
	Slot    domain.SlotID `json:"slot"`
	Packets uint64        `json:"packets"`
}

// streamSet holds the remote streams in arrival order. Owned by the
// session and only touched under the session lock.
type streamSet struct {
	order []*remoteStream
	byID  map[string]*remoteStream
}

func newStreamSet() *streamSet {
	return &streamSet{byID: make(map[string]*remoteStream)}
}

// add registers a stream id unless present; fresh reports whether this
// call created it. Duplicate ontrack deliveries for one stream land on
// the existing entry.
func (ss *streamSet) add(id string, slot domain.SlotID) (rs *remoteStream, fresh bool) {
	if cur, ok := ss.byID[id]; ok {
		return cur, false
	}
	rs = &remoteStream{id: id, slot: slot}
	ss.byID[id] = rs
	ss.order = append(ss.order, rs)
	return rs, true
}

// removeBySlot drops every stream of one slot and returns their ids.
// Streams of other slots are untouched.
func (ss *streamSet) removeBySlot(slot domain.SlotID) []string {
	var removed []string
	kept := ss.order[:0]
	for _, rs := range ss.order {
		if rs.slot == slot {
			removed = append(removed, rs.id)
			delete(ss.byID, rs.id)
			continue
		}
		kept = append(kept, rs)
	}
	ss.order = kept
	return removed
}

func (ss *streamSet) clear() {
	ss.order = nil
	ss.byID = make(map[string]*remoteStream)
}

func (ss *streamSet) snapshot() []StreamSnapshot {
	out := make([]StreamSnapshot, 0, len(ss.order))
	for _, rs := range ss.order {
		out = append(out, StreamSnapshot{ID: rs.id, Slot: rs.slot, Packets: rs.packets.Load()})
	}
	return out
}

// onRemoteTrack wires an inbound track into the stream set and starts
// draining it. Fired by the connection for every track; the stream-level
// add is deduplicated, the drain runs per track.
func (s *Session) onRemoteTrack(link *peerLink, track core.RemoteTrack) {
	s.mu.Lock()
	if s.closed || !s.links.isCurrent(link) {
		s.mu.Unlock()
		return
	}
	slot := link.slot
	rs, fresh := s.streams.add(track.StreamID(), slot)
	s.mu.Unlock()

	if fresh {
		s.publish(core.CallEvent{Kind: core.EventStreamAdded, Slot: slot, StreamID: rs.id})
	}
	go drainTrack(s.ctx, rs, track)
}

// drainTrack keeps reading inbound RTP so the transport's receive path
// stays healthy, counting packets for the state snapshot. It exits when
// the track errors out (connection closed) or the session context ends.
func drainTrack(ctx context.Context, rs *remoteStream, track core.RemoteTrack) {
	logger := log.With().
		Str("module", "app.stream").
		Str("stream", rs.id).
		Str("kind", track.Kind().String()).
		Logger()
	logger.Info().Msg("remote track up")
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("remote track drain stopped")
			return
		default:
		}
		if _, err := track.ReadRTP(); err != nil {
			logger.Info().Err(err).Msg("remote track done")
			return
		}
		rs.packets.Add(1)
	}
}
