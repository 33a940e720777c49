package config

import (
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestParseICEServersJSON(t *testing.T) {
	t.Parallel()

	raw := `[
	  {
	    "urls": ["stun:stun.example.com:3478"]
	  },
	  {
	    "urls": ["turn:turn.example.com:3478?transport=udp"],
	    "username": "user",
	    "credential": "pass"
	  }
	]`

	servers, err := ParseICEServersJSON(raw, false)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(servers))
	}

	if got := servers[0].URLs; len(got) != 1 || got[0] != "stun:stun.example.com:3478" {
		t.Fatalf("unexpected stun urls: %#v", got)
	}
	if got := servers[1].Username; got != "user" {
		t.Fatalf("unexpected username: %q", got)
	}
	cred, ok := servers[1].Credential.(string)
	if !ok || cred != "pass" {
		t.Fatalf("unexpected credential: %#v", servers[1].Credential)
	}
}

func TestParseICEServersJSON_SupportsSingleStringURLs(t *testing.T) {
	t.Parallel()

	raw := `[
	  {
	    "urls": "stun:stun.example.com:3478"
	  }
	]`

	servers, err := ParseICEServersJSON(raw, false)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 1 {
		t.Fatalf("expected 1 server, got %d", len(servers))
	}
	if got := servers[0].URLs; len(got) != 1 || got[0] != "stun:stun.example.com:3478" {
		t.Fatalf("unexpected urls: %#v", got)
	}
}

func TestParseICEServersJSON_RejectsTURNWithoutCreds(t *testing.T) {
	t.Parallel()

	raw := `[
	  {
	    "urls": ["turn:turn.example.com:3478?transport=udp"]
	  }
	]`

	_, err := ParseICEServersJSON(raw, false)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestParseICEServersJSON_AllowsTURNWithoutCredsWhenEnabled(t *testing.T) {
	t.Parallel()

	raw := `[
	  {
	    "urls": ["turn:turn.example.com:3478?transport=udp"]
	  }
	]`

	servers, err := ParseICEServersJSON(raw, true)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 1 {
		t.Fatalf("expected 1 server, got %d", len(servers))
	}
	if servers[0].Username != "" || servers[0].Credential != nil {
		t.Fatalf("expected TURN server creds to be empty: %#v", servers[0])
	}
}

func TestParseICEServersFromConvenienceEnv(t *testing.T) {
	t.Parallel()

	servers, err := ParseICEServersFromConvenienceEnv(
		"stun:stun.example.com:3478",
		"turn:turn.example.com:3478?transport=udp",
		"user",
		"pass",
		false,
	)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(servers))
	}
	if servers[0].Username != "" || servers[0].Credential != nil {
		t.Fatalf("stun server should not have creds: %#v", servers[0])
	}
	if servers[1].Username != "user" {
		t.Fatalf("unexpected turn username: %q", servers[1].Username)
	}
	if servers[1].Credential.(string) != "pass" {
		t.Fatalf("unexpected turn credential: %#v", servers[1].Credential)
	}
}

func TestParseICEServersFromConvenienceEnv_AllowsTURNWithoutCredsWhenEnabled(t *testing.T) {
	t.Parallel()

	servers, err := ParseICEServersFromConvenienceEnv(
		"",
		"turn:turn.example.com:3478?transport=udp",
		"",
		"",
		true,
	)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 1 {
		t.Fatalf("expected 1 server, got %d", len(servers))
	}
	if servers[0].Username != "" || servers[0].Credential != nil {
		t.Fatalf("expected TURN server creds to be empty: %#v", servers[0])
	}
}

func TestPeerConnectionICEServers_MintsTURNRESTCredentials(t *testing.T) {
	t.Parallel()

	cfg := Config{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.example.com:3478"}},
			{URLs: []string{"turn:turn.example.com:3478"}},
			{URLs: []string{"turn:static.example.com:3478"}, Username: "u", Credential: "p"},
		},
		TURNREST: TurnRESTConfig{SharedSecret: "secret", TTLSeconds: 60, UsernamePrefix: "aero"},
		Room:     "lobby",
		Role:     RoleOffer,
	}
	servers, err := cfg.PeerConnectionICEServers()
	if err != nil {
		t.Fatalf("PeerConnectionICEServers: %v", err)
	}
	if len(servers) != 3 {
		t.Fatalf("servers=%d, want 3", len(servers))
	}
	if servers[0].Username != "" {
		t.Fatalf("stun server got creds: %#v", servers[0])
	}
	if !strings.Contains(servers[1].Username, ":aero:lobby.offer.") {
		t.Fatalf("minted username=%q, want prefix aero and identity lobby.offer", servers[1].Username)
	}
	if cred, _ := servers[1].Credential.(string); cred == "" {
		t.Fatalf("minted credential empty")
	}
	if servers[2].Username != "u" {
		t.Fatalf("static creds overwritten: %#v", servers[2])
	}
	// The configured list must stay untouched.
	if cfg.ICEServers[1].Username != "" {
		t.Fatalf("config mutated: %#v", cfg.ICEServers[1])
	}
}

func TestPeerConnectionICEServers_DropsUncredentialedTURNWithoutREST(t *testing.T) {
	t.Parallel()

	cfg := Config{ICEServers: []webrtc.ICEServer{
		{URLs: []string{"turn:turn.example.com:3478"}},
		{URLs: []string{"stun:stun.example.com:3478"}},
	}}
	servers, err := cfg.PeerConnectionICEServers()
	if err != nil {
		t.Fatalf("PeerConnectionICEServers: %v", err)
	}
	if len(servers) != 1 || servers[0].URLs[0] != "stun:stun.example.com:3478" {
		t.Fatalf("servers=%#v, want only stun", servers)
	}
}
