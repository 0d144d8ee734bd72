package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sdko-org/dashboard-proxy/internal/models"
	"github.com/sdko-org/dashboard-proxy/internal/resolver"
)

type resolution struct {
	Source     resolver.Source `json:"source"`
	MappedUID  string          `json:"mappedUid"`
	Location   string          `json:"location,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	HTMLSample string          `json:"htmlSample,omitempty"`
}

// ResolvePublic maps a public-dashboard token to its dashboard uid.
func (h *Handler) ResolvePublic(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, resolver.PublicToken, mux.Vars(r)["publicUid"], "public dashboard not found")
}

// ResolveGoto maps a /goto short-link key to its dashboard uid.
func (h *Handler) ResolveGoto(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, resolver.GotoKey, mux.Vars(r)["key"], "goto key not resolvable")
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request, kind resolver.Kind, value, notFound string) {
	// Identifiers outside the token alphabet can never name a dashboard and
	// are not forwarded upstream.
	if !pathValidator.MatchString(value) {
		writeError(w, http.StatusNotFound, notFound, map[string]any{"attempts": []resolver.Attempt{}})
		return
	}

	req := resolver.Request{Kind: kind, Value: value}
	v := h.resolver.Resolve(r.Context(), req)
	h.recordResolution(req, v)

	if !v.Resolved {
		writeError(w, http.StatusNotFound, notFound, map[string]any{"attempts": v.Attempts})
		return
	}

	out := resolution{
		Source:    v.Source,
		MappedUID: v.UID,
		Location:  v.Location,
		Data:      v.Data,
	}
	if v.Source == resolver.SourceHTML {
		out.HTMLSample = v.Evidence
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) recordResolution(req resolver.Request, v resolver.Verdict) {
	if h.db == nil {
		return
	}
	entry := models.ResolutionLog{
		Timestamp: time.Now(),
		Kind:      req.Kind.String(),
		Value:     req.Value,
		Resolved:  v.Resolved,
		Source:    string(v.Source),
		UID:       v.UID,
		Evidence:  v.Evidence,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := h.db.WithContext(ctx).Create(&entry).Error; err != nil {
			h.log.WithError(err).Warn("Failed to save resolution log")
		}
	}()
}
