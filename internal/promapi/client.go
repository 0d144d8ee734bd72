package promapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/api"
	"github.com/sdko-org/dashboard-proxy/internal/config"
	"github.com/sirupsen/logrus"
)

// UpstreamError carries a non-2xx response from Prometheus.
type UpstreamError struct {
	Status int
	Body   []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("prometheus responded with status %d", e.Status)
}

// Client forwards PromQL queries and hands back the untouched response body.
type Client struct {
	api api.Client
	log *logrus.Entry
}

func NewClient(logger *logrus.Logger, cfg *config.Config) (*Client, error) {
	c, err := api.NewClient(api.Config{
		Address: cfg.PrometheusURL,
		Client:  &http.Client{Timeout: cfg.UpstreamTimeout},
	})
	if err != nil {
		return nil, fmt.Errorf("prometheus client: %w", err)
	}
	return &Client{
		api: c,
		log: logger.WithField("component", "prometheus_client"),
	}, nil
}

func (c *Client) Query(ctx context.Context, query string) (json.RawMessage, error) {
	return c.get(ctx, "/api/v1/query", url.Values{"query": {query}})
}

// QueryRange passes start, end and step through unchanged; empty values are omitted.
func (c *Client) QueryRange(ctx context.Context, query, start, end, step string) (json.RawMessage, error) {
	params := url.Values{"query": {query}}
	for k, v := range map[string]string{"start": start, "end": end, "step": step} {
		if v != "" {
			params.Set(k, v)
		}
	}
	return c.get(ctx, "/api/v1/query_range", params)
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	u := c.api.URL(endpoint, nil)
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	start := time.Now()
	resp, body, err := c.api.Do(ctx, req)
	if err != nil {
		c.log.WithError(err).WithField("endpoint", endpoint).Warn("Query failed")
		return nil, fmt.Errorf("prometheus %s: %w", endpoint, err)
	}
	c.log.WithFields(logrus.Fields{
		"endpoint":    endpoint,
		"status_code": resp.StatusCode,
		"duration":    time.Since(start),
	}).Debug("Query completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{Status: resp.StatusCode, Body: body}
	}
	return body, nil
}
