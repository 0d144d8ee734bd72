package handlers

import (
	"context"
	"encoding/json"
	"net/url"
	"regexp"

	"github.com/sdko-org/dashboard-proxy/internal/cache"
	"github.com/sdko-org/dashboard-proxy/internal/grafana"
	"github.com/sdko-org/dashboard-proxy/internal/ratelimit"
	"github.com/sdko-org/dashboard-proxy/internal/resolver"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var pathValidator = regexp.MustCompile(`^[a-zA-Z0-9\-_:.]+$`)

type Grafana interface {
	HasToken() bool
	GetDashboard(ctx context.Context, uid string) (*grafana.Dashboard, error)
	Search(ctx context.Context, query string) (json.RawMessage, error)
	CreateSnapshot(ctx context.Context, payload any) (json.RawMessage, error)
	GetSnapshot(ctx context.Context, key string) (json.RawMessage, error)
	RenderPanel(ctx context.Context, uid, slug string, params url.Values) ([]byte, error)
}

type Prometheus interface {
	Query(ctx context.Context, query string) (json.RawMessage, error)
	QueryRange(ctx context.Context, query, start, end, step string) (json.RawMessage, error)
}

type Resolver interface {
	Resolve(ctx context.Context, req resolver.Request) resolver.Verdict
}

type Handler struct {
	grafana  Grafana
	prom     Prometheus
	resolver Resolver
	cache    *cache.RenderCache
	limiter  *ratelimit.Limiter
	db       *gorm.DB
	proxies  TrustedProxies
	log      *logrus.Entry
}

// NewHandler wires the route handlers. db may be nil, which disables the
// resolution audit log. proxies decides whose forwarding headers identify the
// client for rate limiting; nil trusts nobody.
func NewHandler(logger *logrus.Logger, gc Grafana, pc Prometheus, res Resolver, rc *cache.RenderCache, limiter *ratelimit.Limiter, db *gorm.DB, proxies TrustedProxies) *Handler {
	return &Handler{
		grafana:  gc,
		prom:     pc,
		resolver: res,
		cache:    rc,
		limiter:  limiter,
		db:       db,
		proxies:  proxies,
		log:      logger.WithField("component", "proxy_handler"),
	}
}
