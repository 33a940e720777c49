package webrtcpeer_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pion/ice/v4"
	"github.com/pion/logging"
	"github.com/pion/transport/v3/vnet"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-signaling/internal/negotiation"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-signaling/internal/webrtcpeer"
)

// pipe delivers one side's signaling to the other side's Machine in order,
// off both executors.
type pipe struct {
	queue chan func()
	done  chan struct{}
}

func newPipe() *pipe {
	p := &pipe{queue: make(chan func(), 64), done: make(chan struct{})}
	go func() {
		defer close(p.done)
		for f := range p.queue {
			f()
		}
	}()
	return p
}

func (p *pipe) close() {
	close(p.queue)
	<-p.done
}

type pipeChannel struct {
	t          *testing.T
	p          *pipe
	remote     func() *negotiation.Machine
	autoAnswer bool
}

func (c *pipeChannel) SendDescription(desc negotiation.SessionDescription) error {
	c.p.queue <- func() {
		m := c.remote()
		ctx := context.Background()
		if err := m.ApplyRemoteDescription(ctx, desc); err != nil {
			c.t.Logf("ApplyRemoteDescription(%v): %v", desc.Type, err)
			return
		}
		if c.autoAnswer && desc.Type == negotiation.SDPTypeOffer {
			if err := m.CreateAnswer(ctx); err != nil {
				c.t.Logf("CreateAnswer: %v", err)
			}
		}
	}
	return nil
}

func (c *pipeChannel) SendCandidate(cand negotiation.ICECandidate) error {
	c.p.queue <- func() {
		if err := c.remote().AddRemoteCandidate(cand); err != nil {
			c.t.Logf("AddRemoteCandidate: %v", err)
		}
	}
	return nil
}

type vnetPeer struct {
	rt        *webrtcpeer.Runtime
	h         *webrtcpeer.Handle
	transport *webrtcpeer.Transport
	machine   *negotiation.Machine
	connected chan struct{}
}

func newVNetPeer(t *testing.T, n *vnet.Net, ch negotiation.SignalingChannel) *vnetPeer {
	t.Helper()
	rt, err := webrtcpeer.NewRuntime(config.Config{}, slog.Default(), func(se *webrtc.SettingEngine) {
		se.SetNet(n)
		se.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
	})
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	h, err := rt.NewConnection()
	if err != nil {
		t.Fatalf("NewConnection: %v", err)
	}
	tr, err := webrtcpeer.NewTransport(h, nil)
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	m, err := negotiation.NewMachine(negotiation.Config{
		Executor:  rt.Executor(),
		Transport: tr,
		Channel:   ch,
	})
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	m.OnError(func(err error) { t.Logf("negotiation error: %v", err) })

	p := &vnetPeer{rt: rt, h: h, transport: tr, machine: m, connected: make(chan struct{})}
	var once sync.Once
	h.PeerConnection().OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateConnected {
			once.Do(func() { close(p.connected) })
		}
	})
	rt.Register(m)
	return p
}

func TestMachines_NegotiateOverVirtualNetwork(t *testing.T) {
	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(func() { _ = router.Stop() })

	netA, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.1"}})
	if err != nil {
		t.Fatalf("new net A: %v", err)
	}
	netB, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.2"}})
	if err != nil {
		t.Fatalf("new net B: %v", err)
	}
	if err := router.AddNet(netA); err != nil {
		t.Fatalf("add net A: %v", err)
	}
	if err := router.AddNet(netB); err != nil {
		t.Fatalf("add net B: %v", err)
	}
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}

	toB, toA := newPipe(), newPipe()
	var a, b *vnetPeer
	a = newVNetPeer(t, netA, &pipeChannel{t: t, p: toB, remote: func() *negotiation.Machine { return b.machine }, autoAnswer: true})
	b = newVNetPeer(t, netB, &pipeChannel{t: t, p: toA, remote: func() *negotiation.Machine { return a.machine }})
	t.Cleanup(func() {
		_ = a.rt.Close()
		_ = b.rt.Close()
		toB.close()
		toA.close()
	})

	track, err := webrtcpeer.NewMediaEngine(a.h, "stream1", nil).CreateVideoTrack("video", nil)
	if err != nil {
		t.Fatalf("CreateVideoTrack: %v", err)
	}
	track.Start(context.Background())
	t.Cleanup(track.Stop)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.machine.CreateOffer(ctx); err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}

	for name, p := range map[string]*vnetPeer{"A": a, "B": b} {
		select {
		case <-p.connected:
		case <-ctx.Done():
			t.Fatalf("peer %s: timed out waiting for connection", name)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for a.machine.State() != negotiation.StateStable || b.machine.State() != negotiation.StateStable {
		if time.Now().After(deadline) {
			t.Fatalf("states=%v/%v, want stable/stable", a.machine.State(), b.machine.State())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTransport_CloseReleasesConnection(t *testing.T) {
	rt, err := webrtcpeer.NewRuntime(config.Config{}, nil)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	defer rt.Close()

	h, err := rt.NewConnection()
	if err != nil {
		t.Fatalf("NewConnection: %v", err)
	}
	tr, err := webrtcpeer.NewTransport(h, nil)
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	if got := h.Refs(); got != 2 {
		t.Fatalf("refs=%d, want 2", got)
	}

	if err := h.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	select {
	case <-h.Closed():
		t.Fatalf("closed while the transport still holds a reference")
	default:
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	select {
	case <-h.Closed():
	case <-time.After(5 * time.Second):
		t.Fatalf("connection not closed after last release")
	}
	if err := h.Acquire(); err == nil {
		t.Fatalf("Acquire succeeded on a released handle")
	}
}

func TestTransport_CreateOfferAfterCloseIsRejected(t *testing.T) {
	rt, err := webrtcpeer.NewRuntime(config.Config{}, nil)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	defer rt.Close()

	h, err := rt.NewConnection()
	if err != nil {
		t.Fatalf("NewConnection: %v", err)
	}
	defer h.Release()
	tr, err := webrtcpeer.NewTransport(h, nil)
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	_ = tr.Close()

	failed := make(chan error, 1)
	c := negotiation.NewDescriptionCompletion(rt.Executor(),
		func(negotiation.SessionDescription) { t.Errorf("offer created after close") },
		func(err error) { failed <- err },
	)
	tr.CreateOffer(c)
	select {
	case err := <-failed:
		if err == nil {
			t.Fatalf("nil error")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("completion never rejected")
	}
}

func TestRuntime_CloseOrderAndNoNewConnections(t *testing.T) {
	rt, err := webrtcpeer.NewRuntime(config.Config{}, nil)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	h, err := rt.NewConnection()
	if err != nil {
		t.Fatalf("NewConnection: %v", err)
	}

	var order []string
	rt.Register(closerFunc(func() error {
		select {
		case <-h.Closed():
			order = append(order, "closer-after-connection")
		default:
			order = append(order, "closer")
		}
		if !rt.Executor().Schedule(func() {}) {
			order = append(order, "executor-already-closed")
		}
		return nil
	}))

	if err := rt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(order) != 1 || order[0] != "closer" {
		t.Fatalf("order=%v, want [closer]", order)
	}
	select {
	case <-h.Closed():
	default:
		t.Fatalf("connection left open")
	}
	if _, err := rt.NewConnection(); err == nil {
		t.Fatalf("NewConnection succeeded after Close")
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
