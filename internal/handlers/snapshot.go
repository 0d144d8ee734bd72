package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type snapshotRequest struct {
	DashboardUID string `json:"dashboardUid"`
	Name         string `json:"name"`
}

type snapshotPayload struct {
	Dashboard json.RawMessage `json:"dashboard"`
	Name      string          `json:"name"`
}

// CreateSnapshot freezes a dashboard through the Grafana snapshot API.
func (h *Handler) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	var req snapshotRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		req = snapshotRequest{}
	}
	if req.DashboardUID == "" {
		writeError(w, http.StatusBadRequest, "missing dashboardUid in body", nil)
		return
	}
	if !h.grafana.HasToken() {
		writeError(w, http.StatusForbidden, "server missing GRAFANA_TOKEN; snapshot creation disabled", nil)
		return
	}

	ctx := r.Context()
	dash, err := h.grafana.GetDashboard(ctx, req.DashboardUID)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	trimmed := bytes.TrimSpace(dash.Dashboard)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		writeError(w, http.StatusNotFound, "dashboard not found", nil)
		return
	}

	name := req.Name
	if name == "" {
		name = fmt.Sprintf("snapshot-%s-%d", req.DashboardUID, time.Now().UnixMilli())
	}

	out, err := h.grafana.CreateSnapshot(ctx, snapshotPayload{Dashboard: dash.Dashboard, Name: name})
	if err != nil {
		writeUpstreamError(w, err)
		return
	}

	h.log.WithFields(logrus.Fields{"uid": req.DashboardUID, "name": name}).Info("Snapshot created")
	writeRaw(w, http.StatusOK, out)
}

func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	out, err := h.grafana.GetSnapshot(r.Context(), mux.Vars(r)["key"])
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, out)
}
