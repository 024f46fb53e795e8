package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/RameeshKp/Holostream/internal/adapters/capture"
	"github.com/RameeshKp/Holostream/internal/adapters/memdir"
	"github.com/RameeshKp/Holostream/internal/adapters/mongodir"
	"github.com/RameeshKp/Holostream/internal/adapters/rtc"
	"github.com/RameeshKp/Holostream/internal/app"
	"github.com/RameeshKp/Holostream/internal/config"
	"github.com/RameeshKp/Holostream/internal/core"
	"github.com/RameeshKp/Holostream/internal/signal"
)

// engine bundles the wired call stack: one directory connection, one
// transport factory and one capture device, shared by every session the
// process creates.
type engine struct {
	sig     *signal.Adapter
	factory *rtc.Factory
	dev     core.CaptureDevice
	profile core.MediaProfile
	cleanup func()
}

func buildDirectory(ctx context.Context, cfg *config.Config) (core.Directory, func(), error) {
	switch cfg.StoreDriver {
	case "", "memory":
		return memdir.New(), func() {}, nil
	case "mongo":
		store, err := mongodir.Dial(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		cleanup := func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = store.Close(closeCtx)
		}
		return store, cleanup, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func newEngine(ctx context.Context, cfg *config.Config) (*engine, error) {
	dir, cleanup, err := buildDirectory(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// The hardware device carries the codecs its encoders produce; the
	// transport API has to be built around the same media engine so the
	// SDP it negotiates matches what capture emits.
	var (
		dev core.CaptureDevice
		me  *webrtc.MediaEngine
	)
	if flagHeadless {
		dev = capture.NewStaticDevice()
	} else {
		hw, err := capture.NewDevice()
		if err != nil {
			cleanup()
			return nil, err
		}
		dev = hw
		me = hw.Engine()
	}

	api, err := rtc.NewAPI(me)
	if err != nil {
		cleanup()
		return nil, err
	}
	factory, err := rtc.NewFactory(rtc.Config{
		STUNURLs:          cfg.STUNURLs,
		CandidatePoolSize: uint8(cfg.CandidatePoolSize),
	}, api)
	if err != nil {
		cleanup()
		return nil, err
	}

	return &engine{
		sig:     signal.New(dir),
		factory: factory,
		dev:     dev,
		profile: core.MediaProfile{
			MinWidth:     cfg.VideoWidth,
			MinHeight:    cfg.VideoHeight,
			MinFrameRate: cfg.FrameRate,
		},
		cleanup: cleanup,
	}, nil
}

// newSession builds a single-use call session over the shared stack.
func (e *engine) newSession() *app.Session {
	return app.NewSession(e.sig, app.NewMediaController(e.dev, e.profile), e.factory.NewConnection)
}
