package handlers

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sdko-org/dashboard-proxy/internal/metrics"
	"github.com/sdko-org/dashboard-proxy/internal/models"
	"github.com/sdko-org/dashboard-proxy/internal/ratelimit"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const requestIDHeader = "X-Request-ID"

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
	bytesSent  int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	n, err := lrw.ResponseWriter.Write(b)
	lrw.bytesSent += n
	return n, err
}

func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lrw.ResponseWriter
}

// LoggingMiddleware logs every request, records its latency and, when db is
// set, persists an access log row in the background.
func LoggingMiddleware(logger *logrus.Logger, db *gorm.DB, proxies TrustedProxies) mux.MiddlewareFunc {
	logEntry := logger.WithField("component", "http_middleware")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := r.Header.Get(requestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, requestID)
			lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			defer func() {
				duration := time.Since(start)
				clientIP := proxies.ClientIP(r)
				fields := logrus.Fields{
					"request_id": requestID,
					"method":     r.Method,
					"path":       r.URL.Path,
					"status":     lrw.statusCode,
					"duration":   duration,
					"client_ip":  clientIP,
					"bytes":      lrw.bytesSent,
					"user_agent": r.UserAgent(),
				}

				logEntry.WithFields(fields).Info("Request processed")
				metrics.RequestDuration.
					WithLabelValues(routeName(r), strconv.Itoa(lrw.statusCode)).
					Observe(duration.Seconds())

				if db == nil {
					return
				}
				entry := models.AccessLog{
					Timestamp: start,
					RequestID: requestID,
					Method:    r.Method,
					Path:      r.URL.Path,
					Status:    lrw.statusCode,
					Duration:  duration,
					ClientIP:  clientIP,
					UserAgent: r.UserAgent(),
					BytesSent: lrw.bytesSent,
				}
				go func() {
					ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()

					if err := db.WithContext(ctx).Create(&entry).Error; err != nil {
						logEntry.WithError(err).Warn("Failed to save access log")
					}
				}()
			}()

			next.ServeHTTP(lrw, r)
		})
	}
}

// RateLimit rejects requests over the class quota before the wrapped handler runs.
func (h *Handler) RateLimit(class ratelimit.Class) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := h.proxies.ClientIP(r)
			d := h.limiter.Check(clientIP, class)

			if d.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
			}

			if !d.Allowed {
				retry := int(math.Ceil(time.Until(d.ResetAt).Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(max(1, retry)))
				h.log.WithFields(logrus.Fields{
					"client_ip": clientIP,
					"class":     class,
					"limit":     d.Limit,
				}).Warn("Rate limit exceeded")
				writeError(w, http.StatusTooManyRequests, "too many requests", nil)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "other"
}
