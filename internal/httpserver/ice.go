package httpserver

import (
	"net/http"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/vibesync/vibesync/signaling-relay/internal/config"
	"github.com/vibesync/vibesync/signaling-relay/internal/metrics"
)

type iceResponse struct {
	ICEServers []webrtc.ICEServer `json:"iceServers"`
	// ExpiresAt is set when TURN credentials were minted for this response.
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func (s *Server) handleICE(w http.ResponseWriter, r *http.Request) {
	if err := s.iceError(); err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
		return
	}

	w.Header().Set("Cache-Control", "no-store")

	resp := iceResponse{ICEServers: s.cfg.ICEServers}
	if resp.ICEServers == nil {
		resp.ICEServers = []webrtc.ICEServer{}
	}

	if s.turn != nil && hasTURN(resp.ICEServers) {
		creds, err := s.turn.IssueAnonymous()
		if err != nil {
			s.log.Error("turn rest credential issue failed", "err", err)
			WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "turn credentials unavailable"})
			return
		}
		s.metrics.Inc(metrics.TURNCredentialsIssued)
		resp.ICEServers = withTURNCredentials(resp.ICEServers, creds.Username, creds.Credential)
		resp.ExpiresAt = &creds.Expires
	}

	WriteJSON(w, http.StatusOK, resp)
}

func hasTURN(servers []webrtc.ICEServer) bool {
	for _, server := range servers {
		if serverHasTURN(server) {
			return true
		}
	}
	return false
}

func serverHasTURN(server webrtc.ICEServer) bool {
	for _, url := range server.URLs {
		if config.IsTURNURL(url) {
			return true
		}
	}
	return false
}

// withTURNCredentials copies servers, overwriting the credentials of every
// entry that carries a TURN url.
func withTURNCredentials(servers []webrtc.ICEServer, username, credential string) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, len(servers))
	for i, server := range servers {
		out[i] = server
		if serverHasTURN(server) {
			out[i].Username = username
			out[i].Credential = credential
		}
	}
	return out
}
