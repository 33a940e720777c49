package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	envVarRole                = "AERO_PEER_ROLE"
	envVarMode                = "AERO_PEER_MODE"
	envVarLogFormat           = "AERO_PEER_LOG_FORMAT"
	envVarLogLevel            = "AERO_PEER_LOG_LEVEL"
	envVarShutdownTimeout     = "AERO_PEER_SHUTDOWN_TIMEOUT"
	envVarNegotiationTimeout  = "AERO_PEER_NEGOTIATION_TIMEOUT"
	envVarListenAddr          = "AERO_SIGNALING_LISTEN_ADDR"
	envVarSignalURL           = "AERO_SIGNALING_URL"
	envVarRoom                = "AERO_SIGNALING_ROOM"
	envVarSignalingToken      = "AERO_SIGNALING_TOKEN"
	envVarAllowedOrigins      = "ALLOWED_ORIGINS"
	envVarVideoTrackName      = "AERO_PEER_VIDEO_TRACK"
	envVarVideoStreamID       = "AERO_PEER_VIDEO_STREAM"
	envVarSignalingWSIdle     = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPing     = "SIGNALING_WS_PING_INTERVAL"
	envVarMaxSignalingBytes   = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingPerSec  = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarSignalingSendQueue  = "SIGNALING_SEND_QUEUE_MESSAGES"
	envVarWebRTCUDPPortMin    = "WEBRTC_UDP_PORT_MIN"
	envVarWebRTCUDPPortMax    = "WEBRTC_UDP_PORT_MAX"
	envVarWebRTCNAT1To1IPs    = "WEBRTC_NAT_1TO1_IPS"
	envVarWebRTCNAT1To1Type   = "WEBRTC_NAT_1TO1_IP_CANDIDATE_TYPE"
	envVarWebRTCUDPListenIP   = "WEBRTC_UDP_LISTEN_IP"
	envVarTURNRESTSecret      = "TURN_REST_SHARED_SECRET"
	envVarTURNRESTTTLSeconds  = "TURN_REST_TTL_SECONDS"
	envVarTURNRESTUserPrefix  = "TURN_REST_USERNAME_PREFIX"
	envVarTURNRESTRealm       = "TURN_REST_REALM"
	defaultWebRTCUDPListenIP  = "0.0.0.0"
	defaultVideoTrackName     = "video"
	defaultVideoStreamID      = "stream1"
	defaultSignalingRoom      = "default"
	defaultSignalingURL       = "ws://127.0.0.1:8080/signal"
	defaultTURNRESTUserPrefix = "aero"
)

const (
	DefaultListenAddr                    = "127.0.0.1:8080"
	DefaultShutdown                      = 15 * time.Second
	DefaultNegotiationTimeout            = 30 * time.Second
	DefaultMode                     Mode = ModeDev
	DefaultRole                     Role = RoleOffer
	DefaultSignalingWSIdleTimeout        = 60 * time.Second
	DefaultSignalingWSPingInterval       = 20 * time.Second
	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50
	DefaultSignalingSendQueueMessages    = 256

	DefaultTURNRESTTTLSeconds int64 = 3600
)

// recommendedWebRTCUDPPortRangeSize is a conservative minimum; each peer
// connection may hold several UDP ports.
const recommendedWebRTCUDPPortRangeSize = 100

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// Role selects what the binary runs: the rendezvous relay or one of the peers.
type Role string

const (
	RoleRelay  Role = "relay"
	RoleOffer  Role = "offer"
	RoleAnswer Role = "answer"
)

type NAT1To1IPCandidateType string

const (
	NAT1To1CandidateTypeHost  NAT1To1IPCandidateType = "host"
	NAT1To1CandidateTypeSrflx NAT1To1IPCandidateType = "srflx"
)

type UDPPortRange struct {
	Min uint16
	Max uint16
}

type TurnRESTConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string
	Realm          string
}

func (c TurnRESTConfig) Enabled() bool {
	return strings.TrimSpace(c.SharedSecret) != ""
}

type Config struct {
	Role               Role
	Mode               Mode
	LogFormat          LogFormat
	LogLevel           slog.Level
	ShutdownTimeout    time.Duration
	NegotiationTimeout time.Duration

	// Relay side.
	ListenAddr string
	// Peer side.
	SignalURL      string
	Room           string
	VideoTrackName string
	VideoStreamID  string

	// SignalingToken is required by the relay when set, and presented by peers.
	SignalingToken string
	// AllowedOrigins lists browser origins the relay accepts. Empty means
	// same-host only; requests without an Origin header are always accepted.
	AllowedOrigins []string

	SignalingWSIdleTimeout        time.Duration
	SignalingWSPingInterval       time.Duration
	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	SignalingSendQueueMessages    int

	// ICEServers may be empty, in which case only host candidates are gathered.
	ICEServers []webrtc.ICEServer
	TURNREST   TurnRESTConfig

	// WebRTCUDPPortRange restricts the UDP ports used for ICE. When nil, pion
	// uses its defaults.
	WebRTCUDPPortRange           *UDPPortRange
	WebRTCNAT1To1IPs             []string
	WebRTCNAT1To1IPCandidateType NAT1To1IPCandidateType
	// WebRTCUDPListenIP restricts which local address ICE binds to. 0.0.0.0
	// means all interfaces.
	WebRTCUDPListenIP net.IP
}

// SignalURLForRoom returns SignalURL with the room and token query parameters
// applied.
func (c Config) SignalURLForRoom() (string, error) {
	u, err := url.Parse(c.SignalURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("room", c.Room)
	if c.SignalingToken != "" {
		q.Set("token", c.SignalingToken)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	modeDefault := envOrDefault(lookup, envVarMode, string(DefaultMode))

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	roleStr := envOrDefault(lookup, envVarRole, string(DefaultRole))
	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	signalURL := envOrDefault(lookup, envVarSignalURL, defaultSignalingURL)
	room := envOrDefault(lookup, envVarRoom, defaultSignalingRoom)
	token := envOrDefault(lookup, envVarSignalingToken, "")
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")
	videoTrackName := envOrDefault(lookup, envVarVideoTrackName, defaultVideoTrackName)
	videoStreamID := envOrDefault(lookup, envVarVideoStreamID, defaultVideoStreamID)

	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")

	turnRESTSharedSecret := envOrDefault(lookup, envVarTURNRESTSecret, "")
	turnRESTTTLSeconds := DefaultTURNRESTTTLSeconds
	if raw, ok := lookup(envVarTURNRESTTTLSeconds); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarTURNRESTTTLSeconds, raw, err)
		}
		turnRESTTTLSeconds = n
	}
	turnRESTUsernamePrefix := envOrDefault(lookup, envVarTURNRESTUserPrefix, defaultTURNRESTUserPrefix)
	turnRESTRealm := envOrDefault(lookup, envVarTURNRESTRealm, "")

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	negotiationTimeout, err := envDurationOrDefault(lookup, envVarNegotiationTimeout, DefaultNegotiationTimeout)
	if err != nil {
		return Config{}, err
	}
	signalingWSIdleTimeout, err := envDurationOrDefault(lookup, envVarSignalingWSIdle, DefaultSignalingWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	signalingWSPingInterval, err := envDurationOrDefault(lookup, envVarSignalingWSPing, DefaultSignalingWSPingInterval)
	if err != nil {
		return Config{}, err
	}

	maxSignalingMessageBytes := DefaultMaxSignalingMessageBytes
	if raw, ok := lookup(envVarMaxSignalingBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxSignalingBytes, raw, err)
		}
		maxSignalingMessageBytes = n
	}
	maxSignalingMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingPerSec, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	signalingSendQueueMessages, err := envIntOrDefault(lookup, envVarSignalingSendQueue, DefaultSignalingSendQueueMessages)
	if err != nil {
		return Config{}, err
	}

	webrtcUDPPortMinInt, err := envIntOrDefault(lookup, envVarWebRTCUDPPortMin, 0)
	if err != nil {
		return Config{}, err
	}
	webrtcUDPPortMaxInt, err := envIntOrDefault(lookup, envVarWebRTCUDPPortMax, 0)
	if err != nil {
		return Config{}, err
	}
	if webrtcUDPPortMinInt < 0 || webrtcUDPPortMaxInt < 0 {
		return Config{}, fmt.Errorf("%s/%s must not be negative", envVarWebRTCUDPPortMin, envVarWebRTCUDPPortMax)
	}
	webrtcUDPPortMin := uint(webrtcUDPPortMinInt)
	webrtcUDPPortMax := uint(webrtcUDPPortMaxInt)
	webrtcUDPListenIPStr := envOrDefault(lookup, envVarWebRTCUDPListenIP, defaultWebRTCUDPListenIP)
	webrtcNAT1To1IPsStr := envOrDefault(lookup, envVarWebRTCNAT1To1IPs, "")
	webrtcNAT1To1CandidateTypeStr := envOrDefault(lookup, envVarWebRTCNAT1To1Type, string(NAT1To1CandidateTypeHost))

	fs := flag.NewFlagSet("aero-webrtc-peer", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&roleStr, "role", roleStr, "What to run: relay, offer or answer (env "+envVarRole+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")
	fs.DurationVar(&negotiationTimeout, "negotiation-timeout", negotiationTimeout, "Max time to wait for a negotiation request to be accepted (env "+envVarNegotiationTimeout+")")
	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "Relay HTTP listen address (host:port)")
	fs.StringVar(&signalURL, "signal-url", signalURL, "Relay websocket URL used by peers (env "+envVarSignalURL+")")
	fs.StringVar(&room, "room", room, "Rendezvous room name (env "+envVarRoom+")")
	fs.StringVar(&token, "token", token, "Shared signaling token (env "+envVarSignalingToken+")")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated browser origins allowed to use the relay; empty means same host (env "+envVarAllowedOrigins+")")
	fs.StringVar(&videoTrackName, "video-track", videoTrackName, "Name of the local video track (env "+envVarVideoTrackName+")")
	fs.StringVar(&videoStreamID, "video-stream", videoStreamID, "Stream id of the local video track (env "+envVarVideoStreamID+")")
	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config ("+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "comma-separated STUN URLs ("+envStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "comma-separated TURN URLs ("+envTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username ("+envTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential ("+envTurnCredential+")")
	fs.StringVar(&turnRESTSharedSecret, "turn-rest-shared-secret", turnRESTSharedSecret, "TURN REST shared secret ("+envVarTURNRESTSecret+")")
	fs.Int64Var(&turnRESTTTLSeconds, "turn-rest-ttl-seconds", turnRESTTTLSeconds, "TURN REST credential TTL seconds ("+envVarTURNRESTTTLSeconds+")")
	fs.StringVar(&turnRESTUsernamePrefix, "turn-rest-username-prefix", turnRESTUsernamePrefix, "TURN REST username prefix ("+envVarTURNRESTUserPrefix+")")
	fs.StringVar(&turnRESTRealm, "turn-rest-realm", turnRESTRealm, "TURN realm (coturn config; "+envVarTURNRESTRealm+")")
	fs.UintVar(&webrtcUDPPortMin, "webrtc-udp-port-min", webrtcUDPPortMin, "Min UDP port for WebRTC ICE (0 = unset; env "+envVarWebRTCUDPPortMin+")")
	fs.UintVar(&webrtcUDPPortMax, "webrtc-udp-port-max", webrtcUDPPortMax, "Max UDP port for WebRTC ICE (0 = unset; env "+envVarWebRTCUDPPortMax+")")
	fs.StringVar(&webrtcUDPListenIPStr, "webrtc-udp-listen-ip", webrtcUDPListenIPStr, "Local listen IP for WebRTC ICE UDP sockets (env "+envVarWebRTCUDPListenIP+")")
	fs.StringVar(&webrtcNAT1To1IPsStr, "webrtc-nat-1to1-ips", webrtcNAT1To1IPsStr, "Comma-separated public IPs to advertise for WebRTC ICE (env "+envVarWebRTCNAT1To1IPs+")")
	fs.StringVar(&webrtcNAT1To1CandidateTypeStr, "webrtc-nat-1to1-ip-candidate-type", webrtcNAT1To1CandidateTypeStr, "Candidate type for NAT 1:1 IPs: host or srflx (env "+envVarWebRTCNAT1To1Type+")")
	fs.DurationVar(&signalingWSIdleTimeout, "signaling-ws-idle-timeout", signalingWSIdleTimeout, "Close idle signaling websocket connections after this duration (env "+envVarSignalingWSIdle+")")
	fs.DurationVar(&signalingWSPingInterval, "signaling-ws-ping-interval", signalingWSPingInterval, "Ping interval on signaling websocket connections (must be < --signaling-ws-idle-timeout; env "+envVarSignalingWSPing+")")
	fs.Int64Var(&maxSignalingMessageBytes, "max-signaling-message-bytes", maxSignalingMessageBytes, "Max inbound signaling message size in bytes (env "+envVarMaxSignalingBytes+")")
	fs.IntVar(&maxSignalingMessagesPerSecond, "max-signaling-messages-per-second", maxSignalingMessagesPerSecond, "Max inbound signaling messages per second per connection (env "+envVarMaxSignalingPerSec+")")
	fs.IntVar(&signalingSendQueueMessages, "signaling-send-queue-messages", signalingSendQueueMessages, "Max queued outbound signaling messages per connection (env "+envVarSignalingSendQueue+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}
	if !envLogFormatSet && !setFlags["log-format"] {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !envLogLevelSet && !setFlags["log-level"] {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}
	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}
	role, err := parseRole(roleStr)
	if err != nil {
		return Config{}, err
	}

	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be > 0")
	}
	if negotiationTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--negotiation-timeout must be > 0", envVarNegotiationTimeout)
	}
	if signalingWSIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-ws-idle-timeout must be > 0", envVarSignalingWSIdle)
	}
	if signalingWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-ws-ping-interval must be > 0", envVarSignalingWSPing)
	}
	if signalingWSPingInterval >= signalingWSIdleTimeout {
		return Config{}, fmt.Errorf("%s/--signaling-ws-ping-interval must be < %s/--signaling-ws-idle-timeout", envVarSignalingWSPing, envVarSignalingWSIdle)
	}
	if maxSignalingMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-message-bytes must be > 0", envVarMaxSignalingBytes)
	}
	if maxSignalingMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-messages-per-second must be > 0", envVarMaxSignalingPerSec)
	}
	if signalingSendQueueMessages <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-send-queue-messages must be > 0", envVarSignalingSendQueue)
	}

	switch role {
	case RoleRelay:
		if listenAddr == "" {
			return Config{}, fmt.Errorf("listen address must not be empty")
		}
	default:
		if err := validateSignalURL(signalURL); err != nil {
			return Config{}, fmt.Errorf("invalid %s/--signal-url %q: %w", envVarSignalURL, signalURL, err)
		}
		if strings.TrimSpace(room) == "" {
			return Config{}, fmt.Errorf("%s/--room must not be empty", envVarRoom)
		}
		if strings.TrimSpace(videoTrackName) == "" || strings.TrimSpace(videoStreamID) == "" {
			return Config{}, fmt.Errorf("video track and stream names must not be empty")
		}
	}

	if strings.TrimSpace(turnRESTSharedSecret) != "" {
		if turnRESTTTLSeconds <= 0 {
			return Config{}, fmt.Errorf("%s must be > 0 when %s is set", envVarTURNRESTTTLSeconds, envVarTURNRESTSecret)
		}
		if strings.TrimSpace(turnRESTUsernamePrefix) == "" {
			return Config{}, fmt.Errorf("%s must be non-empty when %s is set", envVarTURNRESTUserPrefix, envVarTURNRESTSecret)
		}
		if strings.Contains(turnRESTUsernamePrefix, ":") {
			return Config{}, fmt.Errorf("%s must not contain ':'", envVarTURNRESTUserPrefix)
		}
	}

	allowedOrigins := splitCommaSeparated(allowedOriginsStr)
	for _, o := range allowedOrigins {
		if o == "*" {
			continue
		}
		if !strings.HasPrefix(o, "http://") && !strings.HasPrefix(o, "https://") {
			return Config{}, fmt.Errorf("invalid %s entry %q: want * or an http(s) origin", envVarAllowedOrigins, o)
		}
	}

	var webrtcUDPPortRange *UDPPortRange
	if webrtcUDPPortMin != 0 || webrtcUDPPortMax != 0 {
		if webrtcUDPPortMin == 0 || webrtcUDPPortMax == 0 {
			return Config{}, fmt.Errorf("%s and %s must be set together (or both unset)", envVarWebRTCUDPPortMin, envVarWebRTCUDPPortMax)
		}
		min, err := parsePortUint(webrtcUDPPortMin)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", envVarWebRTCUDPPortMin, err)
		}
		max, err := parsePortUint(webrtcUDPPortMax)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", envVarWebRTCUDPPortMax, err)
		}
		if min > max {
			return Config{}, fmt.Errorf("WebRTC UDP port range min (%d) must be <= max (%d)", min, max)
		}
		size := int(max) - int(min) + 1
		if size < recommendedWebRTCUDPPortRangeSize {
			return Config{}, fmt.Errorf("WebRTC UDP port range is too small: %d ports (min %d recommended)", size, recommendedWebRTCUDPPortRangeSize)
		}
		webrtcUDPPortRange = &UDPPortRange{Min: min, Max: max}
	}

	webrtcUDPListenIP := net.ParseIP(strings.TrimSpace(webrtcUDPListenIPStr))
	if webrtcUDPListenIP == nil {
		return Config{}, fmt.Errorf("invalid %s %q", envVarWebRTCUDPListenIP, webrtcUDPListenIPStr)
	}

	var webrtcNAT1To1IPs []string
	if strings.TrimSpace(webrtcNAT1To1IPsStr) != "" {
		ips, err := parseIPList(webrtcNAT1To1IPsStr)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarWebRTCNAT1To1IPs, webrtcNAT1To1IPsStr, err)
		}
		webrtcNAT1To1IPs = ips
	}
	webrtcNAT1To1CandidateType, err := parseCandidateType(webrtcNAT1To1CandidateTypeStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s %q: %w", envVarWebRTCNAT1To1Type, webrtcNAT1To1CandidateTypeStr, err)
	}

	cfg := Config{
		Role:               role,
		Mode:               mode,
		LogFormat:          logFormat,
		LogLevel:           level,
		ShutdownTimeout:    shutdownTimeout,
		NegotiationTimeout: negotiationTimeout,

		ListenAddr:     listenAddr,
		SignalURL:      strings.TrimSpace(signalURL),
		Room:           strings.TrimSpace(room),
		VideoTrackName: strings.TrimSpace(videoTrackName),
		VideoStreamID:  strings.TrimSpace(videoStreamID),
		SignalingToken: token,
		AllowedOrigins: allowedOrigins,

		SignalingWSIdleTimeout:        signalingWSIdleTimeout,
		SignalingWSPingInterval:       signalingWSPingInterval,
		MaxSignalingMessageBytes:      maxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: maxSignalingMessagesPerSecond,
		SignalingSendQueueMessages:    signalingSendQueueMessages,

		WebRTCUDPPortRange:           webrtcUDPPortRange,
		WebRTCUDPListenIP:            webrtcUDPListenIP,
		WebRTCNAT1To1IPs:             webrtcNAT1To1IPs,
		WebRTCNAT1To1IPCandidateType: webrtcNAT1To1CandidateType,

		TURNREST: TurnRESTConfig{
			SharedSecret:   turnRESTSharedSecret,
			TTLSeconds:     turnRESTTTLSeconds,
			UsernamePrefix: turnRESTUsernamePrefix,
			Realm:          turnRESTRealm,
		},
	}

	iceServers, err := parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential, cfg.TURNREST.Enabled())
	if err != nil {
		return Config{}, err
	}
	cfg.ICEServers = iceServers

	return cfg, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func IsUnspecifiedIP(ip net.IP) bool {
	return ip == nil || ip.IsUnspecified()
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseRole(raw string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(RoleRelay):
		return RoleRelay, nil
	case string(RoleOffer), "offerer":
		return RoleOffer, nil
	case string(RoleAnswer), "answerer":
		return RoleAnswer, nil
	default:
		return "", fmt.Errorf("invalid role %q (expected relay, offer or answer)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func validateSignalURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	default:
		return fmt.Errorf("expected ws:// or wss://")
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	if u.User != nil {
		return fmt.Errorf("must not include credentials")
	}
	return nil
}

func parsePortUint(v uint) (uint16, error) {
	if v == 0 || v > 65535 {
		return 0, fmt.Errorf("port %d out of range (1-65535)", v)
	}
	return uint16(v), nil
}

func parseCandidateType(s string) (NAT1To1IPCandidateType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(NAT1To1CandidateTypeHost):
		return NAT1To1CandidateTypeHost, nil
	case string(NAT1To1CandidateTypeSrflx):
		return NAT1To1CandidateTypeSrflx, nil
	default:
		return "", fmt.Errorf("unknown candidate type %q", s)
	}
}

func parseIPList(s string) ([]string, error) {
	var out []string
	for _, raw := range strings.Split(s, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		ip := net.ParseIP(raw)
		if ip == nil {
			return nil, fmt.Errorf("invalid IP %q", raw)
		}
		out = append(out, ip.String())
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("must include at least one IP")
	}
	return out, nil
}
