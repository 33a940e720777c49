package webrtcpeer

import (
	"errors"
	"testing"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-signaling/internal/negotiation"
)

func TestTransport_CloseDoesNotWaitForBlockedOperation(t *testing.T) {
	rt, err := NewRuntime(config.Config{}, nil)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	defer rt.Close()

	h, err := rt.NewConnection()
	if err != nil {
		t.Fatalf("NewConnection: %v", err)
	}
	tr, err := NewTransport(h, nil)
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	// The transport now holds the only reference.
	if err := h.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	started := make(chan struct{})
	unblock := make(chan struct{})
	result := make(chan error, 1)
	c := negotiation.NewDescriptionCompletion(rt.Executor(),
		func(negotiation.SessionDescription) { result <- nil },
		func(err error) { result <- err },
	)
	tr.run(c, func() (negotiation.SessionDescription, error) {
		close(started)
		<-unblock
		return negotiation.SessionDescription{}, errors.New("set remote description interrupted")
	})
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("operation never started")
	}

	closed := make(chan error, 1)
	go func() { closed <- tr.Close() }()
	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("Close: %v", err)
		}
	case <-time.After(time.Second):
		close(unblock)
		t.Fatalf("Close blocked behind a pending operation")
	}

	select {
	case <-h.Closed():
		t.Fatalf("connection released before the pending operation finished")
	default:
	}

	close(unblock)
	select {
	case <-tr.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("operation worker did not drain")
	}
	select {
	case <-h.Closed():
	default:
		t.Fatalf("connection still open after operations drained")
	}
	select {
	case err := <-result:
		if err == nil {
			t.Fatalf("blocked operation reported success")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("completion never delivered")
	}
}
