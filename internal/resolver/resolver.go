package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"
	"unicode/utf8"

	"github.com/sdko-org/dashboard-proxy/internal/grafana"
	"github.com/sdko-org/dashboard-proxy/internal/metrics"
	"github.com/sirupsen/logrus"
)

// MaxEvidence bounds every evidence or error string carried by a verdict.
const MaxEvidence = 2000

type Kind int

const (
	GotoKey Kind = iota
	PublicToken
)

func (k Kind) String() string {
	if k == PublicToken {
		return "public"
	}
	return "goto"
}

type Source string

const (
	SourceAPI      Source = "api"
	SourceRedirect Source = "location-header"
	SourceHTML     Source = "html"
	SourceNone     Source = "none"
)

type Request struct {
	Kind  Kind
	Value string
}

// path is the Grafana page a request's opaque value lives under.
func (r Request) path() string {
	if r.Kind == PublicToken {
		return "/public-dashboards/" + url.PathEscape(r.Value)
	}
	return "/goto/" + url.PathEscape(r.Value)
}

// Attempt is the outcome of one strategy. A non-empty UID means success.
type Attempt struct {
	Source   Source          `json:"source"`
	UID      string          `json:"mappedUid,omitempty"`
	Location string          `json:"location,omitempty"`
	Evidence string          `json:"evidence,omitempty"`
	Error    string          `json:"error,omitempty"`
	Data     json.RawMessage `json:"-"`
}

type Verdict struct {
	Resolved bool
	UID      string
	Source   Source
	Evidence string
	Location string
	Data     json.RawMessage
	Attempts []Attempt
}

// Upstream is the slice of the Grafana client the strategies need.
type Upstream interface {
	GetPublicDashboard(ctx context.Context, token string) (json.RawMessage, error)
	ProbeRedirect(ctx context.Context, path string) (int, string, error)
	FetchPage(ctx context.Context, path string) (string, error)
}

type Strategy interface {
	Source() Source
	Applies(Kind) bool
	Attempt(ctx context.Context, req Request) Attempt
}

type Resolver struct {
	strategies []Strategy
	timeout    time.Duration
	log        *logrus.Entry
}

// New builds the default pipeline: API lookup, redirect capture, HTML scrape.
func New(logger *logrus.Logger, up Upstream, timeout time.Duration) *Resolver {
	return NewWithStrategies(logger, timeout,
		apiStrategy{up: up},
		redirectStrategy{up: up},
		htmlStrategy{up: up},
	)
}

func NewWithStrategies(logger *logrus.Logger, timeout time.Duration, strategies ...Strategy) *Resolver {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Resolver{
		strategies: strategies,
		timeout:    timeout,
		log:        logger.WithField("component", "resolver"),
	}
}

// Resolve runs the strategies in order and stops at the first one that yields
// a uid. It never returns an error; failures are recorded in Verdict.Attempts.
func (r *Resolver) Resolve(ctx context.Context, req Request) Verdict {
	log := r.log.WithFields(logrus.Fields{
		"kind":  req.Kind.String(),
		"value": req.Value,
	})

	var attempts []Attempt
	for _, s := range r.strategies {
		if !s.Applies(req.Kind) {
			continue
		}
		a := r.attempt(ctx, s, req)
		attempts = append(attempts, a)

		if a.UID != "" {
			log.WithFields(logrus.Fields{"source": a.Source, "uid": a.UID}).Info("Resolved dashboard reference")
			metrics.Resolutions.WithLabelValues(req.Kind.String(), string(a.Source)).Inc()
			return Verdict{
				Resolved: true,
				UID:      a.UID,
				Source:   a.Source,
				Evidence: a.Evidence,
				Location: a.Location,
				Data:     a.Data,
				Attempts: attempts,
			}
		}
		log.WithFields(logrus.Fields{"source": a.Source, "error": a.Error}).Debug("Strategy yielded no uid")
	}

	log.Warn("Dashboard reference not resolvable")
	metrics.Resolutions.WithLabelValues(req.Kind.String(), string(SourceNone)).Inc()
	return Verdict{Source: SourceNone, Attempts: attempts}
}

func (r *Resolver) attempt(ctx context.Context, s Strategy, req Request) (a Attempt) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			a = Attempt{Source: s.Source(), Error: fmt.Sprintf("strategy panicked: %v", p)}
		}
	}()
	a = s.Attempt(ctx, req)
	a.Source = s.Source()
	a.Evidence = truncate(a.Evidence, MaxEvidence)
	a.Error = truncate(a.Error, MaxEvidence)
	return a
}

type apiStrategy struct{ up Upstream }

func (apiStrategy) Source() Source      { return SourceAPI }
func (apiStrategy) Applies(k Kind) bool { return k == PublicToken }

func (s apiStrategy) Attempt(ctx context.Context, req Request) Attempt {
	data, err := s.up.GetPublicDashboard(ctx, req.Value)
	if err != nil {
		return Attempt{Error: describe(err)}
	}
	var body struct {
		DashboardUID string `json:"dashboardUid"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.DashboardUID == "" {
		return Attempt{Error: "api response has no dashboardUid", Evidence: string(data)}
	}
	return Attempt{UID: body.DashboardUID, Data: data}
}

type redirectStrategy struct{ up Upstream }

func (redirectStrategy) Source() Source    { return SourceRedirect }
func (redirectStrategy) Applies(Kind) bool { return true }

func (s redirectStrategy) Attempt(ctx context.Context, req Request) Attempt {
	status, location, err := s.up.ProbeRedirect(ctx, req.path())
	if err != nil {
		return Attempt{Error: describe(err)}
	}
	if location == "" {
		return Attempt{Error: fmt.Sprintf("no Location header (status %d)", status)}
	}
	uid, ok := uidFromLocation(location)
	if !ok {
		return Attempt{Location: location, Error: "location has no dashboard path"}
	}
	return Attempt{UID: uid, Location: location, Evidence: location}
}

type htmlStrategy struct{ up Upstream }

func (htmlStrategy) Source() Source    { return SourceHTML }
func (htmlStrategy) Applies(Kind) bool { return true }

func (s htmlStrategy) Attempt(ctx context.Context, req Request) Attempt {
	html, err := s.up.FetchPage(ctx, req.path())
	if err != nil {
		return Attempt{Error: describe(err)}
	}
	uid, ok := ExtractUID(html)
	if !ok {
		return Attempt{Error: "no dashboard uid in page", Evidence: html}
	}
	return Attempt{UID: uid, Evidence: html}
}

func describe(err error) string {
	var upErr *grafana.UpstreamError
	if errors.As(err, &upErr) {
		if len(upErr.Body) > 0 {
			return fmt.Sprintf("status %d: %s", upErr.Status, truncate(string(upErr.Body), 200))
		}
		return fmt.Sprintf("status %d", upErr.Status)
	}
	return err.Error()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
