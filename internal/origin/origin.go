// Package origin implements the browser Origin check applied to the signaling
// WebSocket upgrade and the ICE config endpoint.
package origin

import (
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Wildcard in an allow-list admits every origin.
const Wildcard = "*"

// Normalize canonicalizes an origin string to scheme://host[:port] with the
// scheme and host lowercased and default ports removed. Only http and https
// origins without path, query, fragment or userinfo are accepted.
func Normalize(raw string) (string, bool) {
	o, ok := parse(raw)
	if !ok {
		return "", false
	}
	return o.String(), true
}

type parsed struct {
	scheme string
	host   string // hostname, brackets stripped
	port   int    // 0 when default for the scheme
}

func (o parsed) authority() string {
	h := o.host
	if strings.Contains(h, ":") {
		h = "[" + h + "]"
	}
	if o.port != 0 {
		h += ":" + strconv.Itoa(o.port)
	}
	return h
}

func (o parsed) String() string {
	return o.scheme + "://" + o.authority()
}

func parse(raw string) (parsed, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return parsed{}, false
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || u.Opaque != "" {
		return parsed{}, false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" || (u.Path != "" && u.Path != "/") {
		return parsed{}, false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return parsed{}, false
	}

	host, port, ok := splitAuthority(u.Host, scheme)
	if !ok {
		return parsed{}, false
	}
	return parsed{scheme: scheme, host: host, port: port}, true
}

// splitAuthority splits host[:port], dropping the port when it is the scheme
// default. Unbracketed IPv6 literals are rejected.
func splitAuthority(authority, scheme string) (string, int, bool) {
	authority = strings.ToLower(authority)

	host, portStr := authority, ""
	if strings.HasPrefix(authority, "[") || strings.Count(authority, ":") == 1 {
		if h, p, err := net.SplitHostPort(authority); err == nil {
			host, portStr = h, p
		} else if strings.HasPrefix(authority, "[") && strings.HasSuffix(authority, "]") {
			host = authority[1 : len(authority)-1]
		} else {
			return "", 0, false
		}
	} else if strings.Contains(authority, ":") {
		return "", 0, false
	}
	if host == "" {
		return "", 0, false
	}

	port := 0
	if portStr != "" {
		n, err := strconv.Atoi(portStr)
		if err != nil || n <= 0 || n > 65535 {
			return "", 0, false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}
	return host, port, true
}

// Policy decides which browser origins may talk to the relay.
//
// With an empty allow-list only same-host origins pass: the Origin's
// host[:port] must match the request Host. The scheme is not compared since
// TLS is usually terminated in front of the relay.
type Policy struct {
	any     bool
	allowed map[string]struct{}
}

// NewPolicy builds a policy from already-normalized origins (see Normalize)
// or the Wildcard.
func NewPolicy(allowed []string) Policy {
	p := Policy{}
	for _, entry := range allowed {
		if entry == Wildcard {
			p.any = true
			continue
		}
		if p.allowed == nil {
			p.allowed = make(map[string]struct{}, len(allowed))
		}
		p.allowed[entry] = struct{}{}
	}
	return p
}

// Allows reports whether a request for requestHost carrying originHeader is
// permitted.
func (p Policy) Allows(originHeader, requestHost string) bool {
	if p.any {
		return true
	}
	o, ok := parse(originHeader)
	if !ok {
		return false
	}
	if p.allowed != nil {
		_, ok := p.allowed[o.String()]
		return ok
	}

	host, port, ok := splitAuthority(strings.TrimSpace(requestHost), o.scheme)
	if !ok {
		return false
	}
	return o.authority() == (parsed{scheme: o.scheme, host: host, port: port}).authority()
}

// AllowsRequest applies the policy to r. Requests without an Origin header
// come from non-browser clients and are allowed.
func (p Policy) AllowsRequest(r *http.Request) bool {
	originHeader := r.Header.Get("Origin")
	if originHeader == "" {
		return true
	}
	return p.Allows(originHeader, r.Host)
}
