package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/RameeshKp/Holostream/internal/app"
	"github.com/RameeshKp/Holostream/internal/core"
	"github.com/RameeshKp/Holostream/internal/prefs"
)

// runCall prints the event feed until the call ends or the user
// interrupts, then hangs up.
func runCall(ctx context.Context, sess *app.Session, events <-chan core.CallEvent) error {
	firstRunHint()
	for {
		select {
		case <-ctx.Done():
			hangCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return sess.Hangup(hangCtx)
		case <-sess.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			printEvent(ev)
		}
	}
}

// firstRunHint explains the controls once per profile.
func firstRunHint() {
	p, err := prefs.OpenDefault()
	if err != nil {
		log.Debug().Err(err).Msg("prefs unavailable")
		return
	}
	if p.Bool(prefs.TutorialShown) {
		return
	}
	fmt.Println("Share the room code with the other party; Ctrl-C hangs up.")
	if err := p.SetBool(prefs.TutorialShown, true); err != nil {
		log.Debug().Err(err).Msg("prefs not saved")
	}
}

func printEvent(ev core.CallEvent) {
	switch ev.Kind {
	case core.EventPeerJoined:
		fmt.Printf("👋 peer joined (%s)\n", ev.Slot)
	case core.EventPeerLeft:
		fmt.Printf("peer left (%s)\n", ev.Slot)
	case core.EventStreamAdded:
		fmt.Printf("🎥 receiving stream %s from %s\n", ev.StreamID, ev.Slot)
	case core.EventStreamRemoved:
		fmt.Printf("stream %s ended\n", ev.StreamID)
	case core.EventStateChanged:
		fmt.Printf("slot %s is %s\n", ev.Slot, ev.State)
	case core.EventPeerStatus:
		fmt.Printf("peer toggles: camera=%v audio=%v\n", boolFlag(ev.Camera), boolFlag(ev.Audio))
	case core.EventSlotFailed:
		fmt.Printf("slot %s failed (%s)\n", ev.Slot, ev.Reason)
	case core.EventCallEnded:
		fmt.Printf("☎️ call ended: %s\n", ev.Reason)
	}
}

func boolFlag(v *bool) bool {
	return v != nil && *v
}
