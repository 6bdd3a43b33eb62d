package origin

import (
	"net/http/httptest"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"HTTPS://Example.COM:443", "https://example.com", true},
		{"http://localhost:5173/", "http://localhost:5173", true},
		{"http://example.com:80", "http://example.com", true},
		{"https://[::1]:8443", "https://[::1]:8443", true},
		{"https://[::1]", "https://[::1]", true},
		{"null", "", false},
		{"", "", false},
		{"ftp://example.com", "", false},
		{"https://example.com/path", "", false},
		{"https://example.com/?q=1", "", false},
		{"https://user@example.com", "", false},
		{"https://example.com/#frag", "", false},
		{"https://example.com:0", "", false},
		{"https://example.com:70000", "", false},
		{"https://::1", "", false},
	}
	for _, tc := range cases {
		got, ok := Normalize(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("Normalize(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestPolicy_DefaultSameHost(t *testing.T) {
	p := NewPolicy(nil)

	if !p.Allows("https://relay.example.com", "relay.example.com") {
		t.Fatalf("expected same-host origin to be allowed")
	}
	if !p.Allows("https://relay.example.com", "relay.example.com:443") {
		t.Fatalf("expected default port to be equivalent")
	}
	if !p.Allows("https://relay.example.com", "RELAY.example.com") {
		t.Fatalf("expected host comparison to be case-insensitive")
	}
	if p.Allows("https://evil.example.com", "relay.example.com") {
		t.Fatalf("expected cross-host origin to be rejected")
	}
	if p.Allows("http://localhost:5173", "localhost:8080") {
		t.Fatalf("expected port mismatch to be rejected")
	}
	if p.Allows("null", "relay.example.com") {
		t.Fatalf("expected null origin to be rejected")
	}
}

func TestPolicy_AllowList(t *testing.T) {
	p := NewPolicy([]string{"https://app.example.com"})

	if !p.Allows("https://APP.example.com:443", "relay.example.com") {
		t.Fatalf("expected listed origin to be allowed")
	}
	if p.Allows("https://relay.example.com", "relay.example.com") {
		t.Fatalf("allow-list replaces the same-host default")
	}
}

func TestPolicy_Wildcard(t *testing.T) {
	p := NewPolicy([]string{Wildcard})
	if !p.Allows("https://anything.test", "relay.example.com") {
		t.Fatalf("expected wildcard to allow any origin")
	}
}

func TestPolicy_AllowsRequestWithoutOrigin(t *testing.T) {
	p := NewPolicy([]string{"https://app.example.com"})

	req := httptest.NewRequest("GET", "http://relay.example.com/signal", nil)
	if !p.AllowsRequest(req) {
		t.Fatalf("expected request without Origin to be allowed")
	}

	req.Header.Set("Origin", "https://other.example.com")
	if p.AllowsRequest(req) {
		t.Fatalf("expected unlisted Origin to be rejected")
	}
}
