package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ademajagon/dynamic-app/internal/auth"
	"github.com/ademajagon/dynamic-app/internal/domain"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dynamic_app",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests partitioned by method, route and status code.",
	}, []string{"method", "route", "status_code"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dynamic_app",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "route"})
)

// TokenParser validates a bearer or cookie token.
type TokenParser interface {
	Parse(token string) (*auth.Claims, error)
}

type subjectKey struct{}

// Subject returns the authenticated email put in the context by the auth
// middleware.
func Subject(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				log.InfoContext(r.Context(), "http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration", time.Since(start).Milliseconds(),
					"request_id", middleware.GetReqID(r.Context()),
					"bytes", ww.BytesWritten())
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// records RED metrics per route
func prometheusMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				route := ""
				if rc := chi.RouteContext(r.Context()); rc != nil {
					route = rc.RoutePattern()
				}
				if route == "" {
					route = "unknown"
				}

				statusCode := fmt.Sprintf("%d", ww.Status())
				httpRequestsTotal.WithLabelValues(r.Method, route, statusCode).Inc()
				httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// authenticate rejects requests without a valid access token. The
// Authorization header wins over the cookie.
func authenticate(tokens TokenParser, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				raw = cookieToken(r)
			}
			if raw == "" {
				writeError(w, http.StatusUnauthorized, domain.ErrUnauthenticated.Error(), "UNAUTHORIZED")
				return
			}

			claims, err := tokens.Parse(raw)
			if err == nil && claims.Kind != auth.AccessToken {
				// refresh tokens are only good for /api/auth/validate
				err = fmt.Errorf("%w: %s token used as access token", domain.ErrInvalidToken, claims.Kind)
			}
			if err != nil || claims.Subject == "" {
				log.DebugContext(r.Context(), "rejected token", "err", err, "path", r.URL.Path)
				writeError(w, http.StatusUnauthorized, domain.ErrInvalidToken.Error(), "UNAUTHORIZED")
				return
			}

			ctx := context.WithValue(r.Context(), subjectKey{}, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func cookieToken(r *http.Request) string {
	c, err := r.Cookie(authCookie)
	if err != nil {
		return ""
	}
	return c.Value
}
