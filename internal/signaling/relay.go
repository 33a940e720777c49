package signaling

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-signaling/internal/ratelimit"
)

const maxRoomNameLen = 128

type RelayConfig struct {
	// Token, when set, must be presented as ?token= or a Bearer header.
	Token string
	// AllowedOrigins restricts browser peers; see originAllowed.
	AllowedOrigins []string

	MaxMessageBytes      int64
	MaxMessagesPerSecond int

	PingInterval      time.Duration
	IdleTimeout       time.Duration
	SendQueueMessages int

	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Clock   ratelimit.Clock
}

// RelayServer pairs two peers per room and forwards their signaling messages
// to each other. It never interprets SDP.
type RelayServer struct {
	cfg      RelayConfig
	log      *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	mu     sync.Mutex
	rooms  map[string]*relayRoom
	closed bool
	wg     sync.WaitGroup
}

type relayRoom struct {
	name  string
	peers []*relayPeer
}

type relayPeer struct {
	id   string
	room *relayRoom
	ch   *WSChannel
	log  *slog.Logger
}

func NewRelayServer(cfg RelayConfig) *RelayServer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = ratelimit.RealClock{}
	}
	origins := make([]string, 0, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		if normalized, _, ok := normalizeOrigin(strings.TrimSpace(o)); ok {
			o = normalized
		}
		origins = append(origins, o)
	}
	cfg.AllowedOrigins = origins
	return &RelayServer{
		cfg:     cfg,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		upgrader: websocket.Upgrader{
			// Checked in ServeHTTP before upgrading.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		rooms: make(map[string]*relayRoom),
	}
}

func (s *RelayServer) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /signal", s)
}

func (s *RelayServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !originAllowed(r, s.cfg.AllowedOrigins) {
		s.metrics.Inc(metrics.RelayOriginRejected)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if !s.authorized(r) {
		s.metrics.Inc(metrics.RelayAuthFailures)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	name := r.URL.Query().Get("room")
	if name == "" || len(name) > maxRoomNameLen {
		http.Error(w, "invalid room", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		return
	}

	// The websocket layer only enforces a hard cap at twice the limit, so
	// moderately oversized messages reach the limiter and get an error
	// message rather than a bare close.
	readLimit := int64(0)
	if s.cfg.MaxMessageBytes > 0 {
		readLimit = 2 * s.cfg.MaxMessageBytes
	}
	ch := NewWSChannel(conn, WSConfig{
		PingInterval:      s.cfg.PingInterval,
		IdleTimeout:       s.cfg.IdleTimeout,
		MaxMessageBytes:   readLimit,
		SendQueueMessages: s.cfg.SendQueueMessages,
		Logger:            s.log,
		Metrics:           s.metrics,
	})

	peer := &relayPeer{id: uuid.NewString(), ch: ch}
	peer.log = s.log.With("room", name, "peer_id", peer.id, "remote_addr", r.RemoteAddr)

	other, err := s.join(name, peer)
	if err != nil {
		if errors.Is(err, errRoomFull) {
			s.metrics.Inc(metrics.RelayRoomsFull)
			peer.log.Info("room full; rejecting peer")
			ch.Fail(CodeRoomFull, "room already has two peers", websocket.ClosePolicyViolation)
		} else {
			ch.CloseWith(websocket.CloseGoingAway, "server shutting down")
		}
		return
	}
	s.metrics.Inc(metrics.RelayPeersJoined)
	peer.log.Info("peer joined room")

	if other != nil {
		// Both sides learn the room is complete; whichever is configured as
		// the offerer starts negotiating.
		_ = other.ch.Send(Message{Type: MessageTypePeerJoined})
		_ = ch.Send(Message{Type: MessageTypePeerJoined})
	}

	s.serve(peer)
	s.leave(peer)
}

func (s *RelayServer) serve(peer *relayPeer) {
	limiter := ratelimit.NewMessageLimiter(s.cfg.Clock, s.cfg.MaxMessageBytes, s.cfg.MaxMessagesPerSecond)
	for {
		data, err := peer.ch.ReadRaw()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				s.metrics.Inc(metrics.DropReasonTooLarge)
				peer.log.Warn("signaling message exceeds read limit", "err", err)
			case errors.Is(err, ErrBadMessage):
				s.metrics.Inc(metrics.RelayInvalidMessages)
				peer.ch.Fail(CodeBadMessage, "expected text message", websocket.CloseUnsupportedData)
			case IsNormalClose(err):
				peer.log.Debug("peer closed signaling connection")
			case isTimeout(err):
				peer.log.Info("signaling connection idle; closing")
			default:
				peer.log.Debug("signaling read failed", "err", err)
			}
			return
		}

		if err := limiter.Check(int64(len(data))); err != nil {
			switch {
			case errors.Is(err, ratelimit.ErrMessageTooLarge):
				s.metrics.Inc(metrics.DropReasonTooLarge)
				peer.ch.Fail(CodeTooLarge, "message too large", websocket.CloseMessageTooBig)
			default:
				s.metrics.Inc(metrics.DropReasonRateLimited)
				peer.ch.Fail(CodeRateLimited, "too many messages", websocket.ClosePolicyViolation)
			}
			peer.log.Warn("signaling message rejected", "err", err)
			return
		}

		msg, err := ParseMessage(data)
		if err == nil && msg.Type == MessageTypePeerJoined {
			err = errors.New("peer-joined is sent by the relay only")
		}
		if err != nil {
			s.metrics.Inc(metrics.RelayInvalidMessages)
			peer.log.Warn("invalid signaling message", "err", err)
			peer.ch.Fail(CodeBadMessage, "invalid signaling message", websocket.ClosePolicyViolation)
			return
		}

		other := s.peerOf(peer)
		if other == nil {
			s.metrics.Inc(metrics.DropReasonPeerAbsent)
			_ = peer.ch.Send(ErrorMessage(CodePeerAbsent, "no peer in room"))
			continue
		}
		if err := other.ch.SendRaw(data); err != nil {
			peer.log.Warn("failed to forward signaling message", "type", msg.Type, "err", err)
			continue
		}
		s.metrics.Inc(metrics.RelayMessagesRelayed)
	}
}

var (
	errRoomFull    = errors.New("room full")
	errRelayClosed = errors.New("relay closed")
)

func (s *RelayServer) join(name string, peer *relayPeer) (*relayPeer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errRelayClosed
	}
	room := s.rooms[name]
	if room == nil {
		room = &relayRoom{name: name}
		s.rooms[name] = room
	}
	if len(room.peers) >= 2 {
		return nil, errRoomFull
	}
	var other *relayPeer
	if len(room.peers) == 1 {
		other = room.peers[0]
	}
	room.peers = append(room.peers, peer)
	peer.room = room
	s.wg.Add(1)
	return other, nil
}

func (s *RelayServer) leave(peer *relayPeer) {
	s.mu.Lock()
	room := peer.room
	var other *relayPeer
	for i, p := range room.peers {
		if p == peer {
			room.peers = append(room.peers[:i], room.peers[i+1:]...)
			break
		}
	}
	if len(room.peers) == 0 {
		delete(s.rooms, room.name)
	} else {
		other = room.peers[0]
	}
	s.mu.Unlock()

	if other != nil {
		_ = other.ch.Send(Message{Type: MessageTypeClose})
	}
	_ = peer.ch.Close()
	peer.log.Info("peer left room")
	s.wg.Done()
}

func (s *RelayServer) peerOf(peer *relayPeer) *relayPeer {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range peer.room.peers {
		if p != peer {
			return p
		}
	}
	return nil
}

// Ready reports whether the relay still accepts peers.
func (s *RelayServer) Ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errRelayClosed
	}
	return nil
}

// Rooms returns the number of peers in each open room.
func (s *RelayServer) Rooms() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.rooms))
	for name, room := range s.rooms {
		out[name] = len(room.peers)
	}
	return out
}

// Close disconnects every peer and waits for their handlers to finish. New
// connections are refused afterwards.
func (s *RelayServer) Close() error {
	s.mu.Lock()
	s.closed = true
	var peers []*relayPeer
	for _, room := range s.rooms {
		peers = append(peers, room.peers...)
	}
	s.mu.Unlock()

	for _, p := range peers {
		p.ch.CloseWith(websocket.CloseGoingAway, "server shutting down")
	}
	s.wg.Wait()
	return nil
}

func (s *RelayServer) authorized(r *http.Request) bool {
	if s.cfg.Token == "" {
		return true
	}
	got := r.URL.Query().Get("token")
	if got == "" {
		if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			got = strings.TrimSpace(h[7:])
		}
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Token)) == 1
}
