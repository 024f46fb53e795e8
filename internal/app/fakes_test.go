package app

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/RameeshKp/Holostream/internal/adapters/memdir"
	"github.com/RameeshKp/Holostream/internal/core"
	"github.com/RameeshKp/Holostream/internal/domain"
	"github.com/RameeshKp/Holostream/internal/signal"
)

// fakeConn stands in for a transport connection. Descriptions are plain
// strings, candidates are recorded, and the test drives state changes
// and inbound tracks by hand.
type fakeConn struct {
	mu          sync.Mutex
	slot        domain.SlotID
	started     bool
	closeCount  int
	local       *webrtc.SessionDescription
	remote      *webrtc.SessionDescription
	tracks      []webrtc.TrackLocal
	candidates  []webrtc.ICECandidateInit
	replaced    []webrtc.TrackLocal
	videoSet    []bool
	audioSet    []bool
	acceptCalls int

	failCandidate error

	onICE    func(webrtc.ICECandidateInit)
	onTrack  func(core.RemoteTrack)
	onState  func(webrtc.PeerConnectionState)
	onClosed func()
}

func (f *fakeConn) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	f.closeCount++
	first := f.closeCount == 1
	fn := f.onClosed
	f.mu.Unlock()
	if first && fn != nil {
		fn()
	}
}

func (f *fakeConn) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCount > 0
}

func (f *fakeConn) CreateOffer() (*webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer for " + string(f.slot)}
	f.local = &d
	return &d, nil
}

func (f *fakeConn) AcceptOffer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remote = &offer
	d := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}
	f.local = &d
	return &d, nil
}

func (f *fakeConn) AcceptAnswer(answer webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acceptCalls++
	if f.remote != nil {
		return errors.New("remote description already set")
	}
	f.remote = &answer
	return nil
}

func (f *fakeConn) HasRemoteDescription() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remote != nil
}

func (f *fakeConn) AddICECandidate(ci webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCandidate != nil {
		return f.failCandidate
	}
	f.candidates = append(f.candidates, ci)
	return nil
}

func (f *fakeConn) AddLocalTrack(track webrtc.TrackLocal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks = append(f.tracks, track)
	return nil
}

func (f *fakeConn) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaced = append(f.replaced, track)
	return nil
}

func (f *fakeConn) SetVideoEnabled(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.videoSet = append(f.videoSet, on)
	return nil
}

func (f *fakeConn) SetAudioEnabled(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audioSet = append(f.audioSet, on)
	return nil
}

func (f *fakeConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) { f.onICE = fn }
func (f *fakeConn) OnTrack(fn func(core.RemoteTrack))               { f.onTrack = fn }
func (f *fakeConn) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	f.onState = fn
}
func (f *fakeConn) OnClosed(fn func()) { f.onClosed = fn }

func (f *fakeConn) fireICE(ci webrtc.ICECandidateInit) {
	f.mu.Lock()
	fn := f.onICE
	f.mu.Unlock()
	if fn != nil {
		fn(ci)
	}
}

func (f *fakeConn) fireState(st webrtc.PeerConnectionState) {
	f.mu.Lock()
	fn := f.onState
	f.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

func (f *fakeConn) fireTrack(tr core.RemoteTrack) {
	f.mu.Lock()
	fn := f.onTrack
	f.mu.Unlock()
	if fn != nil {
		fn(tr)
	}
}

func (f *fakeConn) remoteSDP() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remote == nil {
		return ""
	}
	return f.remote.SDP
}

func (f *fakeConn) candidateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.candidates)
}

func (f *fakeConn) lastVideoSet() (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.videoSet) == 0 {
		return false, false
	}
	return f.videoSet[len(f.videoSet)-1], true
}

func (f *fakeConn) replaceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.replaced)
}

func (f *fakeConn) acceptCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acceptCalls
}

func (f *fakeConn) setFailCandidate(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failCandidate = err
}

type fakeFactory struct {
	mu    sync.Mutex
	conns []*fakeConn
	fail  error
}

func (ff *fakeFactory) make(slot domain.SlotID) (core.MediaConnection, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if ff.fail != nil {
		return nil, ff.fail
	}
	fc := &fakeConn{slot: slot}
	ff.conns = append(ff.conns, fc)
	return fc, nil
}

func (ff *fakeFactory) count() int {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return len(ff.conns)
}

func (ff *fakeFactory) conn(i int) *fakeConn {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return ff.conns[i]
}

func mustVideoTrack(id string) webrtc.TrackLocal {
	tr, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, id, "local-stream")
	if err != nil {
		panic(err)
	}
	return tr
}

func mustAudioTrack(id string) webrtc.TrackLocal {
	tr, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, id, "local-stream")
	if err != nil {
		panic(err)
	}
	return tr
}

type fakeStream struct {
	mu          sync.Mutex
	video       webrtc.TrackLocal
	audio       webrtc.TrackLocal
	closeCount  int
	replaceFunc func(ctx context.Context, p core.MediaProfile) (webrtc.TrackLocal, error)
}

func (fs *fakeStream) VideoTrack() webrtc.TrackLocal {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.video
}

func (fs *fakeStream) AudioTrack() webrtc.TrackLocal {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.audio
}

func (fs *fakeStream) ReplaceVideo(ctx context.Context, p core.MediaProfile) (webrtc.TrackLocal, error) {
	fs.mu.Lock()
	fn := fs.replaceFunc
	fs.mu.Unlock()
	if fn != nil {
		return fn(ctx, p)
	}
	nt := mustVideoTrack("cam-" + p.CameraID)
	fs.mu.Lock()
	fs.video = nt
	fs.mu.Unlock()
	return nt, nil
}

func (fs *fakeStream) Close() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.closeCount++
}

type fakeCapture struct {
	mu      sync.Mutex
	opens   int
	fail    error
	cameras []string
	stream  *fakeStream
}

func (fc *fakeCapture) Open(context.Context, core.MediaProfile) (core.LocalStream, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.opens++
	if fc.fail != nil {
		return nil, fc.fail
	}
	fc.stream = &fakeStream{video: mustVideoTrack("cam"), audio: mustAudioTrack("mic")}
	return fc.stream, nil
}

func (fc *fakeCapture) Cameras() []string {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.cameras
}

func (fc *fakeCapture) openCount() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.opens
}

func (fc *fakeCapture) setFail(err error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.fail = err
}

// fakeTrack feeds canned RTP to the stream drain. A fresh track with no
// packets reports EOF immediately.
type fakeTrack struct {
	id     string
	stream string
	kind   webrtc.RTPCodecType
	pkts   chan *rtp.Packet
}

func newFakeTrack(stream, id string, kind webrtc.RTPCodecType, packets int) *fakeTrack {
	ft := &fakeTrack{id: id, stream: stream, kind: kind, pkts: make(chan *rtp.Packet, packets)}
	for i := 0; i < packets; i++ {
		ft.pkts <- &rtp.Packet{}
	}
	close(ft.pkts)
	return ft
}

func (ft *fakeTrack) ID() string                { return ft.id }
func (ft *fakeTrack) StreamID() string          { return ft.stream }
func (ft *fakeTrack) Kind() webrtc.RTPCodecType { return ft.kind }

func (ft *fakeTrack) ReadRTP() (*rtp.Packet, error) {
	pkt, ok := <-ft.pkts
	if !ok {
		return nil, io.EOF
	}
	return pkt, nil
}

// harness is one shared room directory with per-peer sessions on top.
type harness struct {
	store *memdir.Store
	sig   *signal.Adapter
}

func newHarness() *harness {
	store := memdir.New()
	return &harness{store: store, sig: signal.New(store)}
}

func (h *harness) newPeer(t *testing.T, cams ...string) (*Session, *fakeFactory, *fakeCapture) {
	t.Helper()
	if len(cams) == 0 {
		cams = []string{"cam0"}
	}
	capture := &fakeCapture{cameras: cams}
	ff := &fakeFactory{}
	media := NewMediaController(capture, core.MediaProfile{MinWidth: 640, MinHeight: 480, MinFrameRate: 24})
	s := NewSession(h.sig, media, ff.make)
	t.Cleanup(func() { _ = s.Hangup(context.Background()) })
	return s, ff, capture
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func waitEvent(t *testing.T, ch <-chan core.CallEvent, kind core.EventKind) core.CallEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("event feed closed while waiting for %s", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event within deadline", kind)
		}
	}
}
