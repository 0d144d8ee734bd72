package handlers

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/sdko-org/dashboard-proxy/internal/cache"
	"github.com/sirupsen/logrus"
)

// RenderPanel serves a panel PNG from the render cache, falling back to the
// Grafana renderer. On a miss the image is written to the client first and
// cached afterwards.
func (h *Handler) RenderPanel(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := cache.RenderParams{
		UID:     q.Get("uid"),
		PanelID: q.Get("panelId"),
		From:    q.Get("from"),
		To:      q.Get("to"),
		Width:   q.Get("width"),
		Height:  q.Get("height"),
	}
	if params.UID == "" || params.PanelID == "" {
		writeError(w, http.StatusBadRequest, "missing uid or panelId", nil)
		return
	}

	ctx := r.Context()
	key := params.Key()
	log := h.log.WithFields(logrus.Fields{"uid": params.UID, "panel_id": params.PanelID})

	if img, ok := h.cache.Get(ctx, key); ok {
		log.WithField("source", "cache").Debug("Serving panel from cache")
		writePNG(w, img, "HIT")
		return
	}

	dash, err := h.grafana.GetDashboard(ctx, params.UID)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	if dash.Meta.Slug == "" {
		writeError(w, http.StatusInternalServerError, "cannot determine dashboard slug", nil)
		return
	}

	upstream := url.Values{}
	for k, v := range map[string]string{
		"panelId": params.PanelID,
		"from":    params.From,
		"to":      params.To,
		"width":   params.Width,
		"height":  params.Height,
		"orgId":   q.Get("orgId"),
	} {
		if v != "" {
			upstream.Set(k, v)
		}
	}

	log.WithField("source", "grafana").Info("Rendering panel upstream")
	img, err := h.grafana.RenderPanel(ctx, params.UID, dash.Meta.Slug, upstream)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}

	writePNG(w, img, "MISS")
	http.NewResponseController(w).Flush()

	h.cache.SetAsync(key, img)
}

func writePNG(w http.ResponseWriter, img []byte, cacheStatus string) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(img)))
	w.Header().Set("X-Cache", cacheStatus)
	w.WriteHeader(http.StatusOK)
	w.Write(img)
}
