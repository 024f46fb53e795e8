package rtc

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/RameeshKp/Holostream/internal/core"
	"github.com/RameeshKp/Holostream/internal/domain"
)

// Config is the fixed NAT-traversal setup shared by every connection of
// a call: public STUN endpoints plus a pre-allocated candidate pool.
type Config struct {
	STUNURLs          []string
	CandidatePoolSize uint8
}

func DefaultConfig() Config {
	return Config{
		STUNURLs: []string{
			"stun:stun1.l.google.com:19302",
			"stun:stun2.l.google.com:19302",
		},
		CandidatePoolSize: 10,
	}
}

func (c Config) configuration() webrtc.Configuration {
	urls := c.STUNURLs
	if len(urls) == 0 {
		urls = DefaultConfig().STUNURLs
	}
	return webrtc.Configuration{
		ICEServers:           []webrtc.ICEServer{{URLs: urls}},
		ICECandidatePoolSize: c.CandidatePoolSize,
	}
}

// NewAPI builds the pion API shared by all connections, with pion's
// internal logging routed through ours. me carries the capture codecs;
// nil means the default codec set.
func NewAPI(me *webrtc.MediaEngine) (*webrtc.API, error) {
	if me == nil {
		me = &webrtc.MediaEngine{}
		if err := me.RegisterDefaultCodecs(); err != nil {
			return nil, fmt.Errorf("register codecs: %w", err)
		}
	}
	se := webrtc.SettingEngine{LoggerFactory: NewLoggerFactory()}
	return webrtc.NewAPI(webrtc.WithSettingEngine(se), webrtc.WithMediaEngine(me)), nil
}

// Factory creates one Connection per remote slot, all sharing the same
// API and NAT-traversal configuration.
type Factory struct {
	api *webrtc.API
	cfg webrtc.Configuration
}

func NewFactory(cfg Config, api *webrtc.API) (*Factory, error) {
	if api == nil {
		var err error
		api, err = NewAPI(nil)
		if err != nil {
			return nil, err
		}
	}
	return &Factory{api: api, cfg: cfg.configuration()}, nil
}

func (f *Factory) NewConnection(slot domain.SlotID) (core.MediaConnection, error) {
	pc, err := f.api.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection for %s: %w", slot, err)
	}
	return newConnection(pc, slot), nil
}
