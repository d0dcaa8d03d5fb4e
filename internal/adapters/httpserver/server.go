package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server wraps *http.Server with graceful shutdown
type Server struct {
	inner   *http.Server
	log     *slog.Logger
	timeout time.Duration
}

// ServerConfig groups all HTTP server tuning parameters
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// ReadinessCheck is a function that confirms a dependency is reachable
type ReadinessCheck func(ctx context.Context) error

// Routes are the API handlers mounted under /api.
type Routes struct {
	Auth     *AuthHandler
	Dynamic  *DynamicHandler
	Payments *PaymentHandler
	Tokens   TokenParser
}

func NewRouter(cfg ServerConfig, routes Routes, checks []ReadinessCheck, log *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))
	r.Use(prometheusMiddleware())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	// k8s observability
	r.Get("/healthz/live", livenessHandler())
	r.Get("/healthz/ready", readinessHandler(checks))
	r.Handle("/metrics", promhttp.Handler())

	requireAuth := authenticate(routes.Tokens, log)

	r.Route("/api/auth", func(r chi.Router) {
		h := routes.Auth
		r.Post("/send-otp", h.sendOTP)
		r.Post("/signup", h.signup)
		r.Post("/login", h.login)
		r.Post("/validate", h.validate)
		r.Get("/health", h.health)
	})

	r.Route("/api/dynamic", func(r chi.Router) {
		h := routes.Dynamic
		r.Use(requireAuth)
		r.Post("/update/{userId}/{key}", h.update)
		r.Get("/fetch/{userId}/{key}", h.fetch)
		r.Post("/test", h.test)
	})

	r.Route("/api/payment", func(r chi.Router) {
		h := routes.Payments
		r.Get("/key", h.key)
		r.Get("/health", h.health)
		r.Get("/verify-qr", h.verifyQR)
		r.Post("/test-email", h.testEmail)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Post("/create-order", h.createOrder)
			r.Post("/verify", h.verify)
			r.Get("/order/{orderId}", h.byOrderID)
			r.Get("/payment/{paymentId}", h.byPaymentID)
			r.Get("/user/{userId}", h.listForUser)
			r.Post("/refund", h.refund)
		})
	})

	return r
}

func NewServer(cfg ServerConfig, handler http.Handler, log *slog.Logger) *Server {
	return &Server{
		inner: &http.Server{
			Addr:         cfg.Addr,
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log:     log,
		timeout: cfg.ShutdownTimeout,
	}
}

func (s *Server) Start() error {
	s.log.Info("HTTP server listening", "addr", s.inner.Addr)
	if err := s.inner.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	shutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	s.log.Info("HTTP server shutting down gracefully")
	return s.inner.Shutdown(shutCtx)
}

func livenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func readinessHandler(checks []ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		for _, check := range checks {
			if err := check(ctx); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				body, _ := json.Marshal(map[string]string{
					"status": "degraded",
					"error":  err.Error(),
				})
				_, _ = w.Write(body)
				return
			}
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
