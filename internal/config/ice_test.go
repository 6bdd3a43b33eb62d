package config

import (
	"errors"
	"testing"
)

func TestParseICEServersJSON(t *testing.T) {
	t.Parallel()

	servers, err := ParseICEServersJSON(`[
	  {"urls": "stun:stun.example.com:3478"},
	  {"urls": ["turn:turn.example.com:3478?transport=udp", " "], "username": "user", "credential": "pass"}
	]`)
	if err != nil {
		t.Fatalf("ParseICEServersJSON: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(servers))
	}
	if got := servers[0].URLs; len(got) != 1 || got[0] != "stun:stun.example.com:3478" {
		t.Fatalf("unexpected stun urls: %#v", got)
	}
	if got := servers[1].URLs; len(got) != 1 {
		t.Fatalf("expected blank url entries to be dropped, got %#v", got)
	}
	if cred, _ := servers[1].Credential.(string); servers[1].Username != "user" || cred != "pass" {
		t.Fatalf("unexpected turn creds: %q %#v", servers[1].Username, servers[1].Credential)
	}
}

func TestParseICEServersJSON_Rejects(t *testing.T) {
	t.Parallel()

	cases := map[string]error{
		`[{"urls": ["turn:turn.example.com"]}]`: errTURNNeedsCreds,
		`[{"urls": ["http://example.com"]}]`:    errUnsupportedURL,
		`[{"urls": []}]`:                        errNoURLs,
		`[{"urls": [" "]}]`:                     errEmptyURLInField,
	}
	for raw, want := range cases {
		_, err := ParseICEServersJSON(raw)
		if !errors.Is(err, want) {
			t.Errorf("ParseICEServersJSON(%s) err=%v, want %v", raw, err, want)
		}
	}
}

func TestParseICEServersFromURLs(t *testing.T) {
	t.Parallel()

	servers, err := parseICEServersFromURLs("stun:a.example.com, stun:b.example.com", "turns:t.example.com:5349", "u", "p", false)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(servers) != 2 || len(servers[0].URLs) != 2 {
		t.Fatalf("unexpected servers: %#v", servers)
	}

	if _, err := parseICEServersFromURLs("", "turn:t.example.com", "", "", false); !errors.Is(err, errTURNNeedsCreds) {
		t.Fatalf("expected missing creds error, got %v", err)
	}
	if _, err := parseICEServersFromURLs("", "turn:t.example.com", "", "", true); err != nil {
		t.Fatalf("expected minted creds to satisfy TURN, got %v", err)
	}
}

func TestJSONWinsOverURLs(t *testing.T) {
	t.Parallel()

	servers, err := parseICEServersFromValues(`[{"urls":"stun:json.example.com"}]`, "stun:env.example.com", "", "", "", false)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(servers) != 1 || servers[0].URLs[0] != "stun:json.example.com" {
		t.Fatalf("unexpected servers: %#v", servers)
	}
}
