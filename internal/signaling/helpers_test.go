package signaling

import (
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-signaling/internal/executor"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-signaling/internal/negotiation"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const hostCandidate = "candidate:1 1 udp 2130706431 10.0.0.1 50000 typ host"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echoTransport completes every request immediately: created descriptions
// carry a recognizable SDP and sets succeed.
type echoTransport struct {
	name string

	mu      sync.Mutex
	added   []negotiation.ICECandidate
	remotes []negotiation.SessionDescription
	closes  int
}

func (f *echoTransport) CreateOffer(c *negotiation.DescriptionCompletion) {
	c.Resolve(negotiation.SessionDescription{Type: negotiation.SDPTypeOffer, SDP: "v=0 offer from " + f.name})
}

func (f *echoTransport) CreateAnswer(c *negotiation.DescriptionCompletion) {
	c.Resolve(negotiation.SessionDescription{Type: negotiation.SDPTypeAnswer, SDP: "v=0 answer from " + f.name})
}

func (f *echoTransport) SetLocalDescription(desc negotiation.SessionDescription, c *negotiation.DescriptionCompletion) {
	c.Resolve(desc)
}

func (f *echoTransport) SetRemoteDescription(desc negotiation.SessionDescription, c *negotiation.DescriptionCompletion) {
	f.mu.Lock()
	f.remotes = append(f.remotes, desc)
	f.mu.Unlock()
	c.Resolve(desc)
}

func (f *echoTransport) AddICECandidate(c negotiation.ICECandidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, c)
	return nil
}

func (f *echoTransport) OnLocalCandidate(func(negotiation.ICECandidate)) {}

func (f *echoTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *echoTransport) addedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.added)
}

// recordingChannel keeps everything the Machine sends.
type recordingChannel struct {
	mu    sync.Mutex
	descs []negotiation.SessionDescription
	cands []negotiation.ICECandidate
}

func (r *recordingChannel) SendDescription(desc negotiation.SessionDescription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descs = append(r.descs, desc)
	return nil
}

func (r *recordingChannel) SendCandidate(c negotiation.ICECandidate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cands = append(r.cands, c)
	return nil
}

func (r *recordingChannel) sent() []negotiation.SessionDescription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]negotiation.SessionDescription(nil), r.descs...)
}

func newTestMachine(t *testing.T, tr negotiation.Transport, ch negotiation.SignalingChannel) *negotiation.Machine {
	t.Helper()
	exec := executor.New(discardLogger())
	m, err := negotiation.NewMachine(negotiation.Config{
		Executor:  exec,
		Transport: tr,
		Channel:   ch,
		Logger:    discardLogger(),
		Metrics:   metrics.New(),
	})
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	t.Cleanup(func() {
		_ = m.Close()
		exec.Close()
	})
	return m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
