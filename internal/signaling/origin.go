package signaling

import (
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// originAllowed applies the browser Origin policy to a /signal request.
// Native peers send no Origin header and are always allowed. With an allow
// list, the normalized origin must appear in it (or the list holds "*");
// without one, the origin must name the same host:port as the request.
func originAllowed(r *http.Request, allowed []string) bool {
	raw := strings.TrimSpace(r.Header.Get("Origin"))
	if raw == "" {
		return true
	}
	origin, host, ok := normalizeOrigin(raw)
	if !ok {
		return false
	}
	if len(allowed) > 0 {
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
	if origin == "null" {
		return false
	}
	// Schemes are not compared: a TLS-terminating proxy makes https origins
	// arrive as plain http requests.
	scheme, _, _ := strings.Cut(origin, "://")
	reqHost, ok := normalizeHost(r.Host, scheme)
	return ok && reqHost == host
}

// normalizeOrigin returns scheme://host[:port] with default ports dropped,
// plus the host[:port] part. "null" is passed through.
func normalizeOrigin(raw string) (origin, host string, ok bool) {
	if raw == "null" {
		return "null", "", true
	}
	u, err := url.Parse(raw)
	if err != nil || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}
	host, ok = normalizeHost(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

func normalizeHost(raw, scheme string) (string, bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return "", false
	}
	hostname, port := raw, ""
	if h, p, err := net.SplitHostPort(raw); err == nil {
		hostname, port = h, p
	} else if strings.HasPrefix(raw, "[") && strings.HasSuffix(raw, "]") {
		hostname = raw[1 : len(raw)-1]
	} else if strings.Contains(raw, ":") {
		return "", false
	}
	if hostname == "" {
		return "", false
	}
	if port != "" {
		n, err := strconv.ParseUint(port, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		if (scheme == "http" && n == 80) || (scheme == "https" && n == 443) {
			port = ""
		} else {
			port = strconv.FormatUint(n, 10)
		}
	}
	if strings.Contains(hostname, ":") {
		hostname = "[" + hostname + "]"
	}
	if port != "" {
		return hostname + ":" + port, true
	}
	return hostname, true
}
