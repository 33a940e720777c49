package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/multierr"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-signaling/internal/negotiation"
)

const clientErrorBuffer = 16

// RemoteError is an {"type":"error"} message received from the relay.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("signaling: remote error %s: %s", e.Code, e.Message)
}

type ClientConfig struct {
	Machine *negotiation.Machine
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// AutoAnswer answers every remote offer.
	AutoAnswer bool
	// Offerer starts negotiation when the relay announces the other peer.
	Offerer bool
}

// Client connects a negotiation.Machine to the signaling wire: it decodes
// inbound messages into Machine calls and surfaces the Machine's asynchronous
// errors.
type Client struct {
	m       *negotiation.Machine
	log     *slog.Logger
	metrics *metrics.Metrics
	cfg     ClientConfig

	errs chan error

	mu   sync.Mutex
	conn *WSChannel
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Machine == nil {
		return nil, errors.New("signaling: nil machine")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		m:       cfg.Machine,
		log:     logger,
		metrics: cfg.Metrics,
		cfg:     cfg,
		errs:    make(chan error, clientErrorBuffer),
	}
	cfg.Machine.OnError(c.pushError)
	cfg.Machine.OnStateChange(func(s negotiation.State) {
		c.log.Debug("negotiation state", "state", s.String())
	})
	return c, nil
}

// Offer starts a negotiation from this side.
func (c *Client) Offer(ctx context.Context) error {
	return c.m.CreateOffer(ctx)
}

// HandleMessage decodes one wire message and applies it to the Machine.
func (c *Client) HandleMessage(ctx context.Context, data []byte) error {
	msg, err := ParseMessage(data)
	if err != nil {
		return err
	}
	switch msg.Type {
	case MessageTypeDescription:
		desc, err := msg.Description.ToNegotiation()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBadMessage, err)
		}
		if err := c.m.ApplyRemoteDescription(ctx, desc); err != nil {
			return err
		}
		if c.cfg.AutoAnswer && desc.Type == negotiation.SDPTypeOffer {
			return c.m.CreateAnswer(ctx)
		}
		return nil
	case MessageTypeCandidate:
		return c.m.AddRemoteCandidate(msg.Candidate.ToNegotiation())
	case MessageTypePeerJoined:
		c.log.Info("remote peer joined")
		if c.cfg.Offerer {
			return c.Offer(ctx)
		}
		return nil
	case MessageTypeClose:
		c.log.Info("remote peer closed the session")
		return c.m.Close()
	case MessageTypeError:
		return &RemoteError{Code: msg.Code, Message: msg.Message}
	default:
		return fmt.Errorf("%w: unsupported message type %q", ErrBadMessage, msg.Type)
	}
}

// Run feeds messages from conn into HandleMessage until the Machine closes,
// the connection ends or ctx is done. Relay errors end the run; negotiation
// errors caused by a message are logged and reported through Errors.
func (c *Client) Run(ctx context.Context, conn *WSChannel) error {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-c.m.Done():
		case <-stop:
			return
		}
		_ = conn.Close()
	}()

	for {
		data, err := conn.ReadRaw()
		if err != nil {
			select {
			case <-c.m.Done():
				return nil
			default:
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if IsNormalClose(err) {
				return nil
			}
			return fmt.Errorf("signaling read: %w", err)
		}

		err = c.HandleMessage(ctx, data)
		var remote *RemoteError
		switch {
		case err == nil:
		case errors.As(err, &remote):
			return err
		case errors.Is(err, negotiation.ErrClosed):
			return nil
		default:
			c.log.Warn("signaling message rejected", "err", err)
			c.pushError(err)
		}
	}
}

// Errors delivers asynchronous failures. When the buffer is full the oldest
// error is dropped.
func (c *Client) Errors() <-chan error { return c.errs }

// Done is closed once the Machine is closed.
func (c *Client) Done() <-chan struct{} { return c.m.Done() }

func (c *Client) Close() error {
	err := c.m.Close()
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		err = multierr.Append(err, conn.Close())
	}
	return err
}

// pushError runs on the executor and must not block.
func (c *Client) pushError(err error) {
	for {
		select {
		case c.errs <- err:
			return
		default:
		}
		select {
		case <-c.errs:
		default:
		}
	}
}
