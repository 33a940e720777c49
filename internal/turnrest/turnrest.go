// Package turnrest mints short-lived TURN credentials for peer connections,
// following coturn's "use-auth-secret" scheme:
//
//	username   = <expiry_unix>:<prefix>:<room>.<role>.<connection>
//	credential = base64(hmac_sha1(secret, username))
//
// The identity part lets TURN server logs be matched to a signaling room.
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// maxRoomInUsername keeps usernames well inside TURN's attribute limits.
const maxRoomInUsername = 48

// Identity names the peer connection a credential is for.
type Identity struct {
	Room string
	Role string
	// Connection separates successive connections of the same peer. A random
	// id is used when empty.
	Connection string
}

// label renders id as a username component. Separators and whitespace are
// replaced so the result never contains ':'.
func (id Identity) label() string {
	room := id.Room
	if len(room) > maxRoomInUsername {
		room = room[:maxRoomInUsername]
	}
	conn := id.Connection
	if conn == "" {
		conn = uuid.NewString()
	}
	return sanitize(room) + "." + sanitize(id.Role) + "." + sanitize(conn)
}

func sanitize(s string) string {
	if s == "" {
		return "-"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r == ':' || r == '.' || r <= ' ' || r == 0x7f:
			return '_'
		default:
			return r
		}
	}, s)
}

type Config struct {
	SharedSecret   string
	TTL            time.Duration
	UsernamePrefix string
	Now            func() time.Time
}

// Minter signs TURN credentials with a shared secret.
type Minter struct {
	secret []byte
	ttl    time.Duration
	prefix string
	now    func() time.Time
}

func New(cfg Config) (*Minter, error) {
	if cfg.SharedSecret == "" {
		return nil, errors.New("shared secret is required")
	}
	if cfg.TTL < time.Second {
		return nil, errors.New("TTL must be at least one second")
	}
	if cfg.UsernamePrefix == "" {
		return nil, errors.New("username prefix is required")
	}
	if strings.ContainsRune(cfg.UsernamePrefix, ':') {
		return nil, errors.New("username prefix must not contain ':'")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Minter{
		secret: []byte(cfg.SharedSecret),
		ttl:    cfg.TTL,
		prefix: cfg.UsernamePrefix,
		now:    cfg.Now,
	}, nil
}

type Credentials struct {
	Username   string
	Credential string
	Expires    time.Time
}

// Expired reports whether c is no longer accepted by the TURN server at now.
func (c Credentials) Expired(now time.Time) bool {
	return !now.Before(c.Expires)
}

func (m *Minter) Mint(id Identity) Credentials {
	expires := m.now().UTC().Add(m.ttl).Truncate(time.Second)
	username := fmt.Sprintf("%d:%s:%s", expires.Unix(), m.prefix, id.label())
	mac := hmac.New(sha1.New, m.secret)
	_, _ = mac.Write([]byte(username))
	return Credentials{
		Username:   username,
		Credential: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		Expires:    expires,
	}
}

// Apply returns a copy of servers where every TURN entry without a static
// username carries credentials minted for id. All such entries of one
// connection share a single credential.
func (m *Minter) Apply(servers []webrtc.ICEServer, id Identity) []webrtc.ICEServer {
	if len(servers) == 0 {
		return nil
	}
	if id.Connection == "" {
		id.Connection = uuid.NewString()
	}
	out := make([]webrtc.ICEServer, 0, len(servers))
	var creds *Credentials
	for _, server := range servers {
		if NeedsCredentials(server) {
			if creds == nil {
				c := m.Mint(id)
				creds = &c
			}
			server.URLs = append([]string(nil), server.URLs...)
			server.Username = creds.Username
			server.Credential = creds.Credential
		}
		out = append(out, server)
	}
	return out
}

// NeedsCredentials reports whether server is a TURN server configured without
// a username.
func NeedsCredentials(server webrtc.ICEServer) bool {
	return IsTURN(server) && server.Username == ""
}

// IsTURN reports whether any of server's URLs uses the turn: or turns: scheme.
func IsTURN(server webrtc.ICEServer) bool {
	for _, u := range server.URLs {
		u = strings.ToLower(strings.TrimSpace(u))
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			return true
		}
	}
	return false
}
