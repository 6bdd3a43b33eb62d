package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

const (
	envICEServersJSON = "VIBESYNC_ICE_SERVERS_JSON"

	envStunURLs       = "VIBESYNC_STUN_URLS"
	envTurnURLs       = "VIBESYNC_TURN_URLS"
	envTurnUsername   = "VIBESYNC_TURN_USERNAME"
	envTurnCredential = "VIBESYNC_TURN_CREDENTIAL"
)

var (
	errNoURLs          = errors.New("missing urls")
	errTURNNeedsCreds  = errors.New("turn urls require username and credential")
	errUnsupportedURL  = errors.New("unsupported ice url scheme")
	errEmptyURLInField = errors.New("urls must not contain empty entries")
)

// parseICEServersFromValues resolves the ICE server list handed to browsers.
// An explicit JSON document wins over the convenience variables. When TURN
// REST is enabled, TURN entries may omit static credentials because fresh
// ones are minted for every /webrtc/ice request.
func parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential string, turnRESTEnabled bool) ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(iceServersJSON); raw != "" {
		servers, err := parseICEServersJSON(raw, turnRESTEnabled)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return servers, nil
	}
	return parseICEServersFromURLs(stunURLs, turnURLs, turnUsername, turnCredential, turnRESTEnabled)
}

// iceServerEntry accepts both `"urls": "stun:..."` and `"urls": [...]`, the
// two shapes RTCIceServer allows in browsers.
type iceServerEntry struct {
	URLs       urlList `json:"urls"`
	Username   string  `json:"username,omitempty"`
	Credential string  `json:"credential,omitempty"`
}

type urlList []string

func (u *urlList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*u = urlList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("urls must be a string or array of strings: %w", err)
	}
	*u = many
	return nil
}

// ParseICEServersJSON parses a browser-style RTCIceServer list.
func ParseICEServersJSON(raw string) ([]webrtc.ICEServer, error) {
	return parseICEServersJSON(raw, false)
}

func parseICEServersJSON(raw string, turnRESTEnabled bool) ([]webrtc.ICEServer, error) {
	var entries []iceServerEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, err
	}

	servers := make([]webrtc.ICEServer, 0, len(entries))
	for i, entry := range entries {
		server := webrtc.ICEServer{
			URLs:     splitCommaSeparated(strings.Join(entry.URLs, ",")),
			Username: strings.TrimSpace(entry.Username),
		}
		if cred := strings.TrimSpace(entry.Credential); cred != "" {
			server.Credential = cred
		}
		if len(entry.URLs) > 0 && len(server.URLs) == 0 {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, errEmptyURLInField)
		}
		if err := checkICEServer(server, turnRESTEnabled); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		servers = append(servers, server)
	}
	return servers, nil
}

func parseICEServersFromURLs(stunURLs, turnURLs, turnUsername, turnCredential string, turnRESTEnabled bool) ([]webrtc.ICEServer, error) {
	var servers []webrtc.ICEServer

	if urls := splitCommaSeparated(stunURLs); len(urls) > 0 {
		stun := webrtc.ICEServer{URLs: urls}
		if err := checkICEServer(stun, false); err != nil {
			return nil, fmt.Errorf("%s: %w", envStunURLs, err)
		}
		servers = append(servers, stun)
	}

	if urls := splitCommaSeparated(turnURLs); len(urls) > 0 {
		turn := webrtc.ICEServer{
			URLs:     urls,
			Username: strings.TrimSpace(turnUsername),
		}
		if cred := strings.TrimSpace(turnCredential); cred != "" {
			turn.Credential = cred
		}
		if err := checkICEServer(turn, turnRESTEnabled); err != nil {
			return nil, fmt.Errorf("%s (with %s/%s): %w", envTurnURLs, envTurnUsername, envTurnCredential, err)
		}
		servers = append(servers, turn)
	}

	return servers, nil
}

func splitCommaSeparated(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func checkICEServer(server webrtc.ICEServer, credentialsMinted bool) error {
	if len(server.URLs) == 0 {
		return errNoURLs
	}

	hasTURN := false
	for _, url := range server.URLs {
		switch {
		case strings.HasPrefix(url, "stun:"), strings.HasPrefix(url, "stuns:"):
		case strings.HasPrefix(url, "turn:"), strings.HasPrefix(url, "turns:"):
			hasTURN = true
		default:
			return fmt.Errorf("%w: %q", errUnsupportedURL, url)
		}
	}
	if !hasTURN || credentialsMinted {
		return nil
	}

	cred, _ := server.Credential.(string)
	if server.Username == "" || cred == "" {
		return errTURNNeedsCreds
	}
	return nil
}

// IsTURNURL reports whether url points at a TURN server.
func IsTURNURL(url string) bool {
	return strings.HasPrefix(url, "turn:") || strings.HasPrefix(url, "turns:")
}
