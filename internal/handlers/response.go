package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sdko-org/dashboard-proxy/internal/grafana"
	"github.com/sdko-org/dashboard-proxy/internal/promapi"
)

type errorBody struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func writeError(w http.ResponseWriter, status int, msg string, details any) {
	writeJSON(w, status, errorBody{Error: msg, Details: details})
}

// writeUpstreamError forwards an upstream status and body unchanged. Transport
// failures become 502.
func writeUpstreamError(w http.ResponseWriter, err error) {
	var gErr *grafana.UpstreamError
	if errors.As(err, &gErr) {
		writeError(w, gErr.Status, err.Error(), upstreamDetails(gErr.Body))
		return
	}
	var pErr *promapi.UpstreamError
	if errors.As(err, &pErr) {
		writeError(w, pErr.Status, err.Error(), upstreamDetails(pErr.Body))
		return
	}
	if errors.Is(err, grafana.ErrNoToken) {
		writeError(w, http.StatusForbidden, "server missing GRAFANA_TOKEN; snapshot creation disabled", nil)
		return
	}
	writeError(w, http.StatusBadGateway, err.Error(), nil)
}

func upstreamDetails(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	return string(body)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
