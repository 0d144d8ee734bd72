package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	dash, err := h.grafana.GetDashboard(r.Context(), mux.Vars(r)["uid"])
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, dash.Raw)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	out, err := h.grafana.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, out)
}

func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "missing query param q", nil)
		return
	}
	out, err := h.prom.Query(r.Context(), q)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, out)
}

func (h *Handler) QueryRange(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := params.Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "missing query param q", nil)
		return
	}
	out, err := h.prom.QueryRange(r.Context(), q, params.Get("start"), params.Get("end"), params.Get("step"))
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, out)
}
