package negotiation

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-signaling/internal/metrics"
)

func TestRemoteCandidates_BufferedUntilRemoteDescriptionThenFlushedInOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	early := []ICECandidate{
		{SDPMid: "0", SDPMLineIndex: 0, Candidate: hostCandidateA},
		{SDPMid: "0", SDPMLineIndex: 0, Candidate: hostCandidateB},
	}
	for _, c := range early {
		if err := h.machine.AddRemoteCandidate(c); err != nil {
			t.Fatalf("AddRemoteCandidate: %v", err)
		}
	}
	if got := h.buffered(t); got != 2 {
		t.Fatalf("buffered=%d, want 2", got)
	}
	if got := h.transport.addedCandidates(); len(got) != 0 {
		t.Fatalf("added before remote description: %v", got)
	}

	desc := SessionDescription{Type: SDPTypeOffer, SDP: offerSDP}
	if err := h.machine.ApplyRemoteDescription(ctx, desc); err != nil {
		t.Fatalf("ApplyRemoteDescription: %v", err)
	}
	// Still buffered until the transport confirms.
	if got := h.buffered(t); got != 2 {
		t.Fatalf("buffered=%d, want 2 before completion", got)
	}

	h.transport.remoteSet(t, 0).c.Resolve(desc)
	h.sync(t)
	if got := h.buffered(t); got != 0 {
		t.Fatalf("buffered=%d, want 0 after flush", got)
	}
	if got := h.transport.addedCandidates(); !reflect.DeepEqual(got, early) {
		t.Fatalf("added=%v, want %v", got, early)
	}

	late := ICECandidate{SDPMid: "0", SDPMLineIndex: 0, Candidate: hostCandidateC}
	if err := h.machine.AddRemoteCandidate(late); err != nil {
		t.Fatalf("AddRemoteCandidate: %v", err)
	}
	h.sync(t)
	want := append(append([]ICECandidate(nil), early...), late)
	if got := h.transport.addedCandidates(); !reflect.DeepEqual(got, want) {
		t.Fatalf("added=%v, want %v", got, want)
	}

	// A second remote description must not replay anything.
	if err := h.machine.CreateAnswer(ctx); err != nil {
		t.Fatalf("CreateAnswer: %v", err)
	}
	h.transport.answer(t, 0).Resolve(SessionDescription{Type: SDPTypeAnswer, SDP: answerSDP})
	h.sync(t)
	reoffer := SessionDescription{Type: SDPTypeOffer, SDP: offerSDP}
	if err := h.machine.ApplyRemoteDescription(ctx, reoffer); err != nil {
		t.Fatalf("ApplyRemoteDescription(re-offer): %v", err)
	}
	h.transport.remoteSet(t, 1).c.Resolve(reoffer)
	h.sync(t)
	if got := h.transport.addedCandidates(); !reflect.DeepEqual(got, want) {
		t.Fatalf("added after re-offer=%v, want %v", got, want)
	}
	if got := h.metrics.Get(metrics.CandidatesFlushed); got != 2 {
		t.Fatalf("candidates_flushed=%d, want 2", got)
	}
}

func TestRemoteCandidate_MalformedIsDroppedAndNegotiationContinues(t *testing.T) {
	h := newHarness(t)
	h.toHaveRemoteOffer(t)

	bad := ICECandidate{SDPMid: "", SDPMLineIndex: -1, Candidate: "garbage"}
	if err := h.machine.AddRemoteCandidate(bad); err != nil {
		t.Fatalf("AddRemoteCandidate(bad): %v", err)
	}
	good := ICECandidate{SDPMid: "0", SDPMLineIndex: 0, Candidate: hostCandidateA}
	if err := h.machine.AddRemoteCandidate(good); err != nil {
		t.Fatalf("AddRemoteCandidate(good): %v", err)
	}
	h.sync(t)

	h.wantState(t, StateHaveRemoteOffer)
	if got := h.transport.addedCandidates(); !reflect.DeepEqual(got, []ICECandidate{good}) {
		t.Fatalf("added=%v, want [%v]", got, good)
	}
	errs := h.reported()
	if len(errs) != 1 {
		t.Fatalf("errors=%v, want exactly one", errs)
	}
	var iceErr *IceCandidateError
	if !errors.As(errs[0], &iceErr) {
		t.Fatalf("err=%T, want *IceCandidateError", errs[0])
	}
	if iceErr.Candidate != bad {
		t.Fatalf("reported candidate=%+v, want %+v", iceErr.Candidate, bad)
	}
	if !errors.Is(errs[0], ErrMalformedCandidate) {
		t.Fatalf("err=%v, want ErrMalformedCandidate", errs[0])
	}

	if err := h.machine.CreateAnswer(context.Background()); err != nil {
		t.Fatalf("CreateAnswer after bad candidate: %v", err)
	}
}

func TestRemoteCandidate_TransportRejectionIsNonFatal(t *testing.T) {
	h := newHarness(t)
	h.toHaveRemoteOffer(t)

	h.transport.mu.Lock()
	h.transport.addErr = errors.New("unknown ufrag")
	h.transport.mu.Unlock()

	if err := h.machine.AddRemoteCandidate(ICECandidate{SDPMid: "0", Candidate: hostCandidateA}); err != nil {
		t.Fatalf("AddRemoteCandidate: %v", err)
	}
	h.sync(t)

	h.wantState(t, StateHaveRemoteOffer)
	if got := h.metrics.Get(metrics.CandidatesDropped); got != 1 {
		t.Fatalf("candidates_dropped=%d, want 1", got)
	}
	if got := h.transport.closeCount(); got != 0 {
		t.Fatalf("transport closed=%d, want 0", got)
	}
}

func TestRemoteCandidate_EndOfCandidatesIgnored(t *testing.T) {
	h := newHarness(t)
	if err := h.machine.AddRemoteCandidate(ICECandidate{SDPMid: "0", SDPMLineIndex: 0}); err != nil {
		t.Fatalf("AddRemoteCandidate: %v", err)
	}
	if got := h.buffered(t); got != 0 {
		t.Fatalf("buffered=%d, want 0", got)
	}
	if errs := h.reported(); len(errs) != 0 {
		t.Fatalf("errors=%v, want none", errs)
	}
}

func TestLocalCandidates_HeldUntilDescriptionSent(t *testing.T) {
	h := newHarness(t)
	if err := h.machine.CreateOffer(context.Background()); err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	offer := SessionDescription{Type: SDPTypeOffer, SDP: offerSDP}
	h.transport.offer(t, 0).Resolve(offer)
	h.sync(t)

	// Gathering starts as soon as the transport applies the offer, which can
	// race ahead of the completion.
	h.transport.emitLocal(ICECandidate{SDPMid: "0", Candidate: hostCandidateA})
	h.transport.emitLocal(ICECandidate{SDPMid: "0", Candidate: hostCandidateB})
	h.sync(t)
	if got := h.channel.sentEvents(); len(got) != 0 {
		t.Fatalf("sent before description: %v", got)
	}

	h.transport.localSet(t, 0).c.Resolve(offer)
	h.transport.emitLocal(ICECandidate{SDPMid: "0", Candidate: hostCandidateC})
	h.sync(t)

	want := []string{
		"description:offer",
		"candidate:" + hostCandidateA,
		"candidate:" + hostCandidateB,
		"candidate:" + hostCandidateC,
	}
	if got := h.channel.sentEvents(); !reflect.DeepEqual(got, want) {
		t.Fatalf("sent=%v, want %v", got, want)
	}
}

func TestLocalCandidates_DroppedWhenDescriptionSendFails(t *testing.T) {
	h := newHarness(t)
	h.channel.mu.Lock()
	h.channel.descErr = errors.New("relay gone")
	h.channel.mu.Unlock()

	if err := h.machine.CreateOffer(context.Background()); err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	offer := SessionDescription{Type: SDPTypeOffer, SDP: offerSDP}
	h.transport.offer(t, 0).Resolve(offer)
	h.sync(t)
	h.transport.emitLocal(ICECandidate{SDPMid: "0", Candidate: hostCandidateA})
	h.transport.emitLocal(ICECandidate{SDPMid: "0", Candidate: hostCandidateB})
	h.transport.localSet(t, 0).c.Resolve(offer)
	h.sync(t)

	if got := h.held(t); got != 0 {
		t.Fatalf("held=%d, want 0 after failed send", got)
	}
	if got := h.metrics.Get(metrics.LocalCandidatesDropped); got != 2 {
		t.Fatalf("local_candidates_dropped=%d, want 2", got)
	}
	var negErr *NegotiationError
	if errs := h.reported(); len(errs) != 1 || !errors.As(errs[0], &negErr) {
		t.Fatalf("reported=%v, want one NegotiationError", errs)
	}

	// Candidates that keep trickling in are bounded.
	for i := 0; i < maxHeldLocalCandidates+10; i++ {
		h.transport.emitLocal(ICECandidate{SDPMid: "0", Candidate: hostCandidateC})
	}
	if got := h.held(t); got != maxHeldLocalCandidates {
		t.Fatalf("held=%d, want %d", got, maxHeldLocalCandidates)
	}
	if got := h.metrics.Get(metrics.LocalCandidatesDropped); got != 12 {
		t.Fatalf("local_candidates_dropped=%d, want 12", got)
	}
	if got := h.channel.sentEvents(); len(got) != 0 {
		t.Fatalf("sent=%v, want nothing", got)
	}
}

func TestValidateCandidate(t *testing.T) {
	tests := []struct {
		name    string
		c       ICECandidate
		wantErr bool
	}{
		{name: "host with mid", c: ICECandidate{SDPMid: "0", SDPMLineIndex: -1, Candidate: hostCandidateA}},
		{name: "host with index only", c: ICECandidate{SDPMLineIndex: 0, Candidate: hostCandidateA}},
		{name: "without prefix", c: ICECandidate{SDPMid: "0", Candidate: "1 1 udp 2130706431 10.0.0.1 50000 typ host"}},
		{name: "end of candidates", c: ICECandidate{SDPMid: "0"}},
		{name: "garbage", c: ICECandidate{SDPMid: "0", Candidate: "garbage"}, wantErr: true},
		{name: "no media section", c: ICECandidate{SDPMLineIndex: -1, Candidate: hostCandidateA}, wantErr: true},
		{name: "bad port", c: ICECandidate{SDPMid: "0", Candidate: "candidate:1 1 udp 2130706431 10.0.0.1 notaport typ host"}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateCandidate(tc.c)
			if tc.wantErr {
				if !errors.Is(err, ErrMalformedCandidate) {
					t.Fatalf("err=%v, want ErrMalformedCandidate", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateCandidate: %v", err)
			}
		})
	}
}
