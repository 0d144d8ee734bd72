package grafana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sdko-org/dashboard-proxy/internal/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const maxPageBytes = 2 << 20

// ErrNoToken is returned by operations that need the service credential when
// none is configured.
var ErrNoToken = errors.New("grafana token not configured")

// UpstreamError carries a non-2xx response from Grafana.
type UpstreamError struct {
	Status int
	Body   []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("grafana responded with status %d", e.Status)
}

type Client struct {
	baseURL     string
	token       string
	api         *http.Client
	probe       *http.Client
	page        *http.Client
	renderLimit *rate.Limiter
	log         *logrus.Entry
}

type loggingTransport struct {
	log  *logrus.Entry
	next http.RoundTripper
}

func NewClient(logger *logrus.Logger, cfg *config.Config) *Client {
	transport := &loggingTransport{
		log:  logger.WithField("component", "grafana_transport"),
		next: http.DefaultTransport,
	}

	limit := rate.Inf
	burst := 1
	if cfg.RenderUpstreamRPS > 0 {
		limit = rate.Limit(cfg.RenderUpstreamRPS)
		burst = int(cfg.RenderUpstreamRPS) + 1
	}

	return &Client{
		baseURL: cfg.GrafanaURL,
		token:   cfg.GrafanaToken,
		api: &http.Client{
			Timeout:   cfg.UpstreamTimeout,
			Transport: transport,
		},
		probe: &http.Client{
			Timeout:   cfg.UpstreamTimeout,
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		page: &http.Client{
			Timeout:   cfg.UpstreamTimeout,
			Transport: transport,
		},
		renderLimit: rate.NewLimiter(limit, burst),
		log:         logger.WithField("component", "grafana_client"),
	}
}

func (c *Client) HasToken() bool {
	return c.token != ""
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	log := t.log.WithFields(logrus.Fields{
		"method": req.Method,
		"path":   req.URL.Path,
	})

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		log.WithError(err).Warn("HTTP request failed")
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"status_code": resp.StatusCode,
		"duration":    time.Since(start),
	}).Debug("HTTP request completed")
	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader, auth bool) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "DashboardProxy/1.0")
	if auth && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do executes an authenticated request and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := c.newRequest(ctx, method, path, query, body, true)
	if err != nil {
		return nil, err
	}

	resp, err := c.api.Do(req)
	if err != nil {
		return nil, fmt.Errorf("grafana %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read grafana response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{Status: resp.StatusCode, Body: data}
	}
	return data, nil
}

// Dashboard is the subset of /api/dashboards/uid/<uid> the proxy inspects.
// Raw holds the complete upstream body.
type Dashboard struct {
	Dashboard json.RawMessage `json:"dashboard"`
	Meta      struct {
		Slug string `json:"slug"`
	} `json:"meta"`
	Raw json.RawMessage `json:"-"`
}

func (c *Client) GetDashboard(ctx context.Context, uid string) (*Dashboard, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/dashboards/uid/"+url.PathEscape(uid), nil, nil)
	if err != nil {
		return nil, err
	}
	var d Dashboard
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode dashboard %s: %w", uid, err)
	}
	d.Raw = data
	return &d, nil
}

func (c *Client) Search(ctx context.Context, query string) (json.RawMessage, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/search", url.Values{"query": {query}, "type": {"dash-db"}}, nil)
	return data, err
}

func (c *Client) GetPublicDashboard(ctx context.Context, token string) (json.RawMessage, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/public-dashboards/"+url.PathEscape(token), nil, nil)
	return data, err
}

func (c *Client) CreateSnapshot(ctx context.Context, payload any) (json.RawMessage, error) {
	if !c.HasToken() {
		return nil, ErrNoToken
	}
	data, err := c.do(ctx, http.MethodPost, "/api/snapshots", nil, payload)
	if err != nil {
		return nil, err
	}
	c.log.WithField("operation", "create_snapshot").Info("Snapshot created")
	return data, nil
}

func (c *Client) GetSnapshot(ctx context.Context, key string) (json.RawMessage, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/snapshots/"+url.PathEscape(key), nil, nil)
	return data, err
}

// RenderPanel calls the image renderer for a single panel and returns the PNG bytes.
func (c *Client) RenderPanel(ctx context.Context, uid, slug string, params url.Values) ([]byte, error) {
	if err := c.renderLimit.Wait(ctx); err != nil {
		return nil, fmt.Errorf("render throttle: %w", err)
	}
	path := fmt.Sprintf("/render/d-solo/%s/%s", url.PathEscape(uid), url.PathEscape(slug))
	data, err := c.do(ctx, http.MethodGet, path, params, nil)
	return data, err
}

// ProbeRedirect requests path without credentials and without following
// redirects, returning the status and the Location header.
func (c *Client) ProbeRedirect(ctx context.Context, path string) (int, string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil, nil, false)
	if err != nil {
		return 0, "", err
	}
	resp, err := c.probe.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("probe %s: %w", path, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxPageBytes))

	if resp.StatusCode >= 400 {
		return resp.StatusCode, "", &UpstreamError{Status: resp.StatusCode}
	}
	return resp.StatusCode, resp.Header.Get("Location"), nil
}

// FetchPage requests path without credentials, following redirects, and
// returns at most 2 MiB of the body.
func (c *Client) FetchPage(ctx context.Context, path string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil, nil, false)
	if err != nil {
		return "", err
	}
	resp, err := c.page.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &UpstreamError{Status: resp.StatusCode, Body: data}
	}
	return string(data), nil
}
