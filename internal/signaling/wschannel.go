package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-signaling/internal/negotiation"
)

const wsWriteWait = 1 * time.Second

var (
	ErrChannelClosed = errors.New("signaling channel closed")
	ErrQueueFull     = errors.New("signaling send queue full")
)

type WSConfig struct {
	// PingInterval and IdleTimeout keep the connection alive; a peer that
	// neither sends nor answers pings within IdleTimeout is dropped. Zero
	// disables both.
	PingInterval time.Duration
	IdleTimeout  time.Duration

	MaxMessageBytes   int64
	SendQueueMessages int

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func (c WSConfig) withDefaults() WSConfig {
	if c.SendQueueMessages <= 0 {
		c.SendQueueMessages = 256
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// WSChannel is one end of a signaling websocket. Sends are queued and written
// by a dedicated goroutine, so it satisfies negotiation.SignalingChannel.
// Reads are not safe for concurrent use.
type WSChannel struct {
	conn *websocket.Conn
	cfg  WSConfig
	log  *slog.Logger

	queue      *outboundQueue
	writerDone chan struct{}
	pingStop   chan struct{}

	closeMu     sync.Mutex
	closeCode   int
	closeReason string
	closeOnce   sync.Once
}

var _ negotiation.SignalingChannel = (*WSChannel)(nil)

// DialWSChannel connects to a relay's /signal endpoint.
func DialWSChannel(ctx context.Context, url string, cfg WSConfig) (*WSChannel, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", redactURL(url), err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", redactURL(url), err)
	}
	return NewWSChannel(conn, cfg), nil
}

func NewWSChannel(conn *websocket.Conn, cfg WSConfig) *WSChannel {
	cfg = cfg.withDefaults()
	c := &WSChannel{
		conn:       conn,
		cfg:        cfg,
		log:        cfg.Logger,
		queue:      newOutboundQueue(cfg.SendQueueMessages),
		writerDone: make(chan struct{}),
		pingStop:   make(chan struct{}),
		closeCode:  websocket.CloseNormalClosure,
	}
	if cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(cfg.MaxMessageBytes)
	}
	if cfg.IdleTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
		})
		// The other end may be the one pinging; its pings count as activity.
		conn.SetPingHandler(func(appData string) error {
			_ = conn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
			err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(wsWriteWait))
			if errors.Is(err, websocket.ErrCloseSent) || isTimeout(err) {
				return nil
			}
			return err
		})
	}
	go c.writeLoop()
	if cfg.PingInterval > 0 {
		go c.pingLoop()
	} else {
		close(c.pingStop)
	}
	return c
}

func (c *WSChannel) SendDescription(desc negotiation.SessionDescription) error {
	return c.Send(DescriptionMessage(desc))
}

func (c *WSChannel) SendCandidate(cand negotiation.ICECandidate) error {
	return c.Send(CandidateMessage(cand))
}

// Send queues msg. It never blocks.
func (c *WSChannel) Send(msg Message) error {
	data, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	return c.SendRaw(data)
}

// SendRaw queues an already encoded message.
func (c *WSChannel) SendRaw(data []byte) error {
	if !c.queue.Enqueue(data) {
		c.cfg.Metrics.Inc(metrics.SignalingSendErrors)
		if c.queue.Closed() {
			return ErrChannelClosed
		}
		return ErrQueueFull
	}
	return nil
}

// ReadRaw returns the next text message. Every message read pushes the idle
// deadline forward.
func (c *WSChannel) ReadRaw() ([]byte, error) {
	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if c.cfg.IdleTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout))
		}
		switch typ {
		case websocket.TextMessage:
			return data, nil
		case websocket.BinaryMessage:
			return nil, fmt.Errorf("%w: expected text message", ErrBadMessage)
		}
	}
}

// Read returns the next decoded message.
func (c *WSChannel) Read() (Message, error) {
	data, err := c.ReadRaw()
	if err != nil {
		return Message{}, err
	}
	return ParseMessage(data)
}

// Fail sends an error message and closes with the given close code.
func (c *WSChannel) Fail(code, message string, closeCode int) {
	_ = c.Send(ErrorMessage(code, message))
	c.CloseWith(closeCode, code)
}

// CloseWith flushes queued messages, sends a close frame and closes the
// connection.
func (c *WSChannel) CloseWith(code int, reason string) {
	c.closeMu.Lock()
	c.closeCode, c.closeReason = code, reason
	c.closeMu.Unlock()
	_ = c.Close()
}

// Close flushes queued messages (bounded by the write deadline), then closes
// the connection. It is idempotent.
func (c *WSChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.queue.Close()
		<-c.writerDone
		<-c.pingStop
		err = c.conn.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	})
	return err
}

// Done is closed once the writer has stopped.
func (c *WSChannel) Done() <-chan struct{} { return c.writerDone }

func (c *WSChannel) writeLoop() {
	defer close(c.writerDone)
	for {
		frame, ok := c.queue.Dequeue()
		if !ok {
			break
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			c.log.Debug("signaling write failed", "err", err)
			c.queue.Discard()
			return
		}
	}
	c.closeMu.Lock()
	code, reason := c.closeCode, c.closeReason
	c.closeMu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func (c *WSChannel) pingLoop() {
	defer close(c.pingStop)
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.writerDone:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// IsNormalClose reports whether err is how a websocket read ends after an
// orderly close by either side.
func IsNormalClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// redactURL drops the query, which may carry the signaling token.
func redactURL(raw string) string {
	base, _, _ := strings.Cut(raw, "?")
	return base
}
