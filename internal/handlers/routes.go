package handlers

import (
	"net/http"

	gorillahandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sdko-org/dashboard-proxy/internal/ratelimit"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// NewRouter builds the route table. webRoot, when set, is served as static files.
func NewRouter(logger *logrus.Logger, h *Handler, db *gorm.DB, webRoot string) http.Handler {
	r := mux.NewRouter()
	r.Use(LoggingMiddleware(logger, db, h.proxies))

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/dashboard/{uid}", h.GetDashboard).Methods(http.MethodGet)
	api.HandleFunc("/search", h.Search).Methods(http.MethodGet)
	api.HandleFunc("/public/{publicUid}", h.ResolvePublic).Methods(http.MethodGet)
	api.HandleFunc("/resolve-goto/{key}", h.ResolveGoto).Methods(http.MethodGet)
	api.HandleFunc("/query", h.Query).Methods(http.MethodGet)
	api.HandleFunc("/query_range", h.QueryRange).Methods(http.MethodGet)
	api.HandleFunc("/snapshots/{key}", h.GetSnapshot).Methods(http.MethodGet)
	api.Handle("/snapshot", h.RateLimit(ratelimit.Snapshot)(http.HandlerFunc(h.CreateSnapshot))).Methods(http.MethodPost)
	api.Handle("/render-panel", h.RateLimit(ratelimit.Render)(http.HandlerFunc(h.RenderPanel))).Methods(http.MethodGet)

	if webRoot != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(webRoot))).Methods(http.MethodGet, http.MethodHead)
	}

	return gorillahandlers.CORS(
		gorillahandlers.AllowedOrigins([]string{"*"}),
		gorillahandlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		gorillahandlers.AllowedHeaders([]string{"Content-Type", requestIDHeader}),
	)(r)
}
