package negotiation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-signaling/internal/executor"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-signaling/internal/metrics"
)

// errSuperseded aborts a pending create request when a remote offer wins.
var errSuperseded = errors.New("superseded by remote offer")

// Config wires a Machine to its collaborators. Executor, Transport and
// Channel are required.
type Config struct {
	Executor  *executor.Executor
	Transport Transport
	Channel   SignalingChannel
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Machine drives one peer connection through offer/answer negotiation.
//
// Every exported method may be called from any goroutine, except from inside
// a listener: listeners run on the executor goroutine and must not call the
// blocking methods. All negotiation state is read and written on the executor.
type Machine struct {
	exec      *executor.Executor
	transport Transport
	channel   SignalingChannel
	log       *slog.Logger
	metrics   *metrics.Metrics

	state  atomic.Int32
	closed atomic.Bool
	done   chan struct{}

	listenersMu    sync.RWMutex
	stateListeners []func(State)
	descListeners  []func(SessionDescription)
	errListeners   []func(error)

	// Executor-owned.
	pending    *pendingRequest
	candidates candidateManager
	// remoteOffers counts applied remote offers; a local offer created before
	// the latest one is stale and is not sent.
	remoteOffers uint64
}

// NewMachine returns a Machine in StateNew and subscribes it to the
// transport's local candidates.
func NewMachine(cfg Config) (*Machine, error) {
	if cfg.Executor == nil {
		return nil, errors.New("negotiation: executor is required")
	}
	if cfg.Transport == nil {
		return nil, errors.New("negotiation: transport is required")
	}
	if cfg.Channel == nil {
		return nil, errors.New("negotiation: signaling channel is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Machine{
		exec:      cfg.Executor,
		transport: cfg.Transport,
		channel:   cfg.Channel,
		log:       logger,
		metrics:   cfg.Metrics,
		done:      make(chan struct{}),
	}
	m.state.Store(int32(StateNew))
	m.candidates = candidateManager{
		transport: cfg.Transport,
		channel:   cfg.Channel,
		log:       logger,
		metrics:   cfg.Metrics,
		report:    m.report,
	}

	cfg.Transport.OnLocalCandidate(func(c ICECandidate) {
		m.exec.Schedule(func() {
			if m.closed.Load() {
				return
			}
			m.candidates.onLocalCandidate(c)
		})
	})
	return m, nil
}

// OnStateChange is notified on the executor after every state change.
func (m *Machine) OnStateChange(f func(State)) {
	m.listenersMu.Lock()
	m.stateListeners = append(m.stateListeners, f)
	m.listenersMu.Unlock()
}

// OnLocalDescription is notified after a local description has been applied,
// before it is sent to the remote peer.
func (m *Machine) OnLocalDescription(f func(SessionDescription)) {
	m.listenersMu.Lock()
	m.descListeners = append(m.descListeners, f)
	m.listenersMu.Unlock()
}

// OnError receives every asynchronous failure exactly once.
func (m *Machine) OnError(f func(error)) {
	m.listenersMu.Lock()
	m.errListeners = append(m.errListeners, f)
	m.listenersMu.Unlock()
}

func (m *Machine) State() State {
	return State(m.state.Load())
}

// Done is closed once the machine has reached StateClosed.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// CreateOffer starts offer creation. The offer is applied locally and sent
// once the transport produces it.
func (m *Machine) CreateOffer(ctx context.Context) error {
	return m.invoke(ctx, func() error {
		const op = "create offer"
		if m.pending != nil {
			return m.invalid(op, ErrNegotiationInProgress)
		}
		if st := m.State(); st != StateNew && st != StateStable {
			return m.invalid(op, nil)
		}
		req := &pendingRequest{kind: requestCreateOffer}
		m.pending = req
		m.transport.CreateOffer(m.completion(op,
			func(desc SessionDescription) { m.created(req, desc) },
			func(err error) { m.creationFailed(req, err) },
		))
		return nil
	})
}

// CreateAnswer starts answer creation. It is only legal after a remote offer.
func (m *Machine) CreateAnswer(ctx context.Context) error {
	return m.invoke(ctx, func() error {
		const op = "create answer"
		if m.pending != nil {
			return m.invalid(op, ErrNegotiationInProgress)
		}
		if m.State() != StateHaveRemoteOffer {
			return m.invalid(op, nil)
		}
		req := &pendingRequest{kind: requestCreateAnswer}
		m.pending = req
		m.transport.CreateAnswer(m.completion(op,
			func(desc SessionDescription) { m.created(req, desc) },
			func(err error) { m.creationFailed(req, err) },
		))
		return nil
	})
}

// ApplyRemoteDescription validates desc against the current state and hands
// it to the transport. Buffered remote candidates are flushed once it applies.
func (m *Machine) ApplyRemoteDescription(ctx context.Context, desc SessionDescription) error {
	return m.invoke(ctx, func() error {
		op := "apply remote " + desc.Type.String()
		var next State
		switch desc.Type {
		case SDPTypeOffer:
			next = StateHaveRemoteOffer
			m.remoteOffers++
			if m.pending != nil {
				// Remote offers win over our own in-flight request.
				m.abortPending(errSuperseded)
			}
		case SDPTypeAnswer:
			if m.State() != StateHaveLocalOffer {
				return m.invalid(op, nil)
			}
			next = StateStable
		case SDPTypePrAnswer:
			if m.State() != StateHaveLocalOffer {
				return m.invalid(op, nil)
			}
			next = StateHaveLocalOffer
		default:
			return m.invalid(op, fmt.Errorf("%w: unknown description type", ErrInvalidTransition))
		}

		m.setState(next)
		const setOp = "set remote description"
		m.transport.SetRemoteDescription(desc, m.completion(setOp,
			func(SessionDescription) {
				m.metrics.Inc(metrics.RemoteDescriptionsSet)
				m.candidates.flush()
			},
			func(err error) { m.fatal(setOp, err) },
		))
		return nil
	})
}

// AddRemoteCandidate queues a candidate received from the remote peer. Invalid
// candidates are reported through OnError and dropped.
func (m *Machine) AddRemoteCandidate(c ICECandidate) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if !m.exec.Schedule(func() {
		if m.closed.Load() {
			return
		}
		m.candidates.onRemoteCandidate(c)
	}) {
		return ErrClosed
	}
	return nil
}

// Close moves the machine to StateClosed and releases the transport. It
// returns once teardown has finished, even when another caller or a fatal
// transport error started it. Later calls, and completions that arrive
// afterwards, have no effect.
func (m *Machine) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		<-m.done
		return nil
	}
	err := m.exec.InvokeBlocking(context.Background(), m.teardown)
	if errors.Is(err, executor.ErrClosed) {
		// Once the executor has drained nothing else touches the state.
		<-m.exec.Done()
		return m.teardown()
	}
	return err
}

func (m *Machine) invoke(ctx context.Context, task func() error) error {
	if m.closed.Load() {
		return ErrClosed
	}
	err := m.exec.InvokeBlocking(ctx, func() error {
		if m.closed.Load() {
			return ErrClosed
		}
		return task()
	})
	if errors.Is(err, executor.ErrClosed) {
		return ErrClosed
	}
	return err
}

// completion wraps handlers so that nothing happens once the machine closed.
func (m *Machine) completion(op string, onSuccess func(SessionDescription), onFailure func(error)) *DescriptionCompletion {
	return NewDescriptionCompletion(m.exec,
		func(desc SessionDescription) {
			if m.closed.Load() {
				m.discard(op)
				return
			}
			onSuccess(desc)
		},
		func(err error) {
			if m.closed.Load() {
				m.discard(op)
				return
			}
			onFailure(err)
		},
	)
}

func (m *Machine) discard(op string) {
	m.metrics.Inc(metrics.CompletionsDiscarded)
	m.log.Debug("discarding completion after close", "op", op)
}

func (m *Machine) created(req *pendingRequest, desc SessionDescription) {
	if m.pending != req {
		m.discard(req.kind.String())
		return
	}
	m.pending = nil
	switch req.kind {
	case requestCreateOffer:
		m.metrics.Inc(metrics.OffersCreated)
		m.setState(StateHaveLocalOffer)
	case requestCreateAnswer:
		m.metrics.Inc(metrics.AnswersCreated)
		m.setState(StateStable)
	}

	// Issued before this task returns so nothing can interleave between
	// creation and local application.
	const op = "set local description"
	remoteOffers := m.remoteOffers
	m.transport.SetLocalDescription(desc, m.completion(op,
		func(desc SessionDescription) {
			if desc.Type == SDPTypeOffer && remoteOffers != m.remoteOffers {
				m.log.Debug("local offer rolled back by remote offer; not sending")
				return
			}
			m.localApplied(desc)
		},
		func(err error) { m.fatal(op, err) },
	))
}

func (m *Machine) creationFailed(req *pendingRequest, err error) {
	if m.pending != req {
		m.discard(req.kind.String())
		return
	}
	m.pending = nil
	m.metrics.Inc(metrics.NegotiationErrors)
	m.report(&NegotiationError{Op: req.kind.String(), Err: err})
}

func (m *Machine) abortPending(reason error) {
	req := m.pending
	m.pending = nil
	m.metrics.Inc(metrics.NegotiationErrors)
	m.report(&NegotiationError{Op: req.kind.String(), Err: reason})
}

func (m *Machine) localApplied(desc SessionDescription) {
	m.metrics.Inc(metrics.LocalDescriptionsSet)

	m.listenersMu.RLock()
	listeners := m.descListeners
	m.listenersMu.RUnlock()
	for _, f := range listeners {
		f(desc)
	}

	if err := m.channel.SendDescription(desc); err != nil {
		m.metrics.Inc(metrics.SignalingSendErrors)
		m.candidates.localDescriptionFailed()
		m.report(&NegotiationError{Op: "send " + desc.Type.String(), Err: err})
		return
	}
	m.candidates.localDescriptionSent()
}

func (m *Machine) fatal(op string, err error) {
	m.metrics.Inc(metrics.TransportFatalErrors)
	m.report(&TransportFatalError{Op: op, Err: err})
	if m.closed.CompareAndSwap(false, true) {
		if err := m.teardown(); err != nil {
			m.log.Warn("failed to release transport", "err", err)
		}
	}
}

// teardown runs exactly once, on the executor or after it has drained.
func (m *Machine) teardown() error {
	m.pending = nil
	m.candidates.reset()
	m.setState(StateClosed)
	err := m.transport.Close()
	close(m.done)
	return err
}

func (m *Machine) setState(s State) {
	prev := State(m.state.Swap(int32(s)))
	if prev == s {
		return
	}
	m.log.Debug("negotiation state changed", "from", prev, "to", s)

	m.listenersMu.RLock()
	listeners := m.stateListeners
	m.listenersMu.RUnlock()
	for _, f := range listeners {
		f(s)
	}
}

func (m *Machine) invalid(op string, reason error) error {
	if reason == nil {
		reason = ErrInvalidTransition
	}
	m.metrics.Inc(metrics.InvalidTransitions)
	return &InvalidTransitionError{Op: op, State: m.State(), Reason: reason}
}

func (m *Machine) report(err error) {
	var iceErr *IceCandidateError
	if !errors.As(err, &iceErr) {
		m.log.Error("negotiation failure", "state", m.State(), "err", err)
	}

	m.listenersMu.RLock()
	listeners := m.errListeners
	m.listenersMu.RUnlock()
	for _, f := range listeners {
		f(err)
	}
}
