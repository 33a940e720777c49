package webrtcpeer

import (
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/multierr"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-signaling/internal/executor"
)

var ErrRuntimeClosed = errors.New("runtime closed")

// Runtime is the process-wide context for negotiation: the signaling executor
// and the pion API every connection is built from. It is created once at
// startup and passed explicitly.
type Runtime struct {
	cfg  config.Config
	log  *slog.Logger
	exec *executor.Executor

	mu      sync.Mutex
	api     *webrtc.API
	handles map[*Handle]struct{}
	closers []io.Closer
	closed  bool
}

// NewRuntime builds the pion API from cfg. settingOpts are applied to the
// SettingEngine after the configured network settings.
func NewRuntime(cfg config.Config, logger *slog.Logger, settingOpts ...func(*webrtc.SettingEngine)) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	api, err := NewAPI(cfg, logger, settingOpts...)
	if err != nil {
		return nil, err
	}
	return &Runtime{
		cfg:     cfg,
		log:     logger,
		exec:    executor.New(logger.With("component", "signaling_executor")),
		api:     api,
		handles: make(map[*Handle]struct{}),
	}, nil
}

func (r *Runtime) Executor() *executor.Executor { return r.exec }

// NewConnection creates a PeerConnection using the configured ICE servers
// (TURN REST credentials are minted per connection). The returned handle
// holds one reference owned by the caller.
func (r *Runtime) NewConnection() (*Handle, error) {
	iceServers, err := r.cfg.PeerConnectionICEServers()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRuntimeClosed
	}
	pc, err := r.api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, err
	}
	h := newHandle(pc, r.forget)
	r.handles[h] = struct{}{}
	r.log.Debug("peer connection created", "ice_servers", len(iceServers))
	return h, nil
}

// Register adds c to the set closed first by Close, typically the signaling
// client that owns a connection's Machine.
func (r *Runtime) Register(c io.Closer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		_ = c.Close()
		return
	}
	r.closers = append(r.closers, c)
}

// Close tears down in order: registered closers, then any connection still
// open, then the executor (draining queued work), then the transports'
// operation workers, then the API.
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	closers := r.closers
	r.closers = nil
	r.mu.Unlock()

	var err error
	for i := len(closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, closers[i].Close())
	}

	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.handles))
	for h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.Unlock()
	for _, h := range handles {
		err = multierr.Append(err, h.ForceClose())
	}

	r.exec.Close()

	// Closed connections fail pending pion calls, so transport workers drain
	// quickly now.
	for _, h := range handles {
		h.Wait()
	}

	r.mu.Lock()
	r.api = nil
	r.mu.Unlock()
	return err
}

func (r *Runtime) forget(h *Handle) {
	r.mu.Lock()
	delete(r.handles, h)
	r.mu.Unlock()
}
