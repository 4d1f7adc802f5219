package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"relaybox/internal/constants"
	apperrors "relaybox/internal/errors"
	"relaybox/internal/httputil"
	"relaybox/internal/middleware"
	"relaybox/internal/models"
	"relaybox/internal/relay"
	"relaybox/internal/service"
	"relaybox/internal/tracing"
	"relaybox/pkg/circuitbreaker"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// HealthChecker is the part of the store the health endpoint checks
type HealthChecker interface {
	Ping(ctx context.Context) error
	BreakerStats() circuitbreaker.Stats
}

type Server struct {
	router     *mux.Router
	logger     *logrus.Logger
	cfg        *models.Config
	gateway    *service.Gateway
	relay      *service.Relay
	authorizer service.Authorizer
	health     HealthChecker
	live       http.Handler
	server     *http.Server
	verbose    bool
}

func NewServer(cfg *models.Config, gateway *service.Gateway, rel *service.Relay, authorizer service.Authorizer, health HealthChecker, logger *logrus.Logger, verbose bool) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		logger:     logger,
		cfg:        cfg,
		gateway:    gateway,
		relay:      rel,
		authorizer: authorizer,
		health:     health,
		live:       relay.NewHandler(rel, authorizer, cfg.Relay, cfg.Server.AllowedOrigins, logger),
		verbose:    verbose,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger))
	if s.verbose {
		s.router.Use(middleware.DetailedLoggingMiddleware(s.logger, middleware.DefaultDetailedLoggingConfig()))
	}

	s.router.HandleFunc(constants.HealthPath, s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc(constants.MetricsPath, s.handleMetrics()).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/messages", s.handlePost()).Methods(http.MethodPost)
	v1.HandleFunc("/mailbox/{recipient}", s.handlePoll()).Methods(http.MethodGet)
	v1.HandleFunc("/mailbox/{recipient}/count", s.handleCount()).Methods(http.MethodGet)
	v1.Handle("/live", s.live).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, r, s.logger, apperrors.NewNotFoundError("route", r.URL.Path))
	})
	methodNotAllowed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, r, s.logger, apperrors.NewMethodNotAllowedError(r.Method, r.URL.Path))
	})
	// the subrouter needs its own handler or mux reports the parent's 404
	s.router.MethodNotAllowedHandler = methodNotAllowed
	v1.MethodNotAllowedHandler = methodNotAllowed
}

func (s *Server) Start() error {
	s.server = s.httpServer()
	s.logger.WithField("addr", s.server.Addr).Info("Starting server")
	return s.server.ListenAndServe()
}

func (s *Server) httpServer() *http.Server {
	sc := s.cfg.Server
	return &http.Server{
		Addr:         sc.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(sc.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(sc.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(sc.IdleTimeoutSec) * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return service.WithVerbose(context.Background(), s.verbose)
		},
	}
}

// Shutdown closes every live session before stopping the listener so that
// hijacked connections do not hold the shutdown open.
func (s *Server) Shutdown(ctx context.Context) error {
	if n := s.relay.Registry().Drain(relay.ReasonShutdown); n > 0 {
		s.logger.WithField("sessions", n).Info("Closed live sessions")
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) maxRequestBytes() int64 {
	if s.cfg.Server.MaxRequestBytes > 0 {
		return s.cfg.Server.MaxRequestBytes
	}
	return constants.DefaultMaxRequestBytes
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := s.health.BreakerStats()
		body := map[string]interface{}{
			"status":        "healthy",
			"live_sessions": s.relay.Registry().Count(),
			"store": map[string]interface{}{
				"breaker":  stats.State.String(),
				"failures": stats.Failures,
				"rejected": stats.Rejected,
			},
		}

		ctx, cancel := context.WithTimeout(r.Context(), constants.HealthCheckTimeoutSec*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			s.logger.WithFields(logrus.Fields{
				service.LogFieldRequestID: tracing.GetRequestID(r.Context()),
			}).WithError(err).Warn("Health check failed")
			body["status"] = "unhealthy"
			httputil.WriteJSON(w, http.StatusServiceUnavailable, body)
			return
		}

		httputil.WriteJSON(w, http.StatusOK, body)
	}
}

func (s *Server) handlePost() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var env models.Envelope
		if err := httputil.DecodeJSON(r, s.maxRequestBytes(), &env); err != nil {
			httputil.WriteError(w, r, s.logger, err)
			return
		}
		r = r.WithContext(apperrors.WithIdentity(r.Context(), env.Sender))
		if err := s.authorizer.Authorize(r.Context(), httputil.BearerToken(r), env.Sender); err != nil {
			httputil.WriteError(w, r, s.logger, err)
			return
		}

		msg, err := s.gateway.Post(r.Context(), env)
		if err != nil {
			httputil.WriteError(w, r, s.logger, err)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, msg)
	}
}

func (s *Server) handlePoll() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recipient := mux.Vars(r)["recipient"]
		r = r.WithContext(apperrors.WithIdentity(r.Context(), recipient))
		if err := s.authorizer.Authorize(r.Context(), httputil.BearerToken(r), recipient); err != nil {
			httputil.WriteError(w, r, s.logger, err)
			return
		}

		messages, err := s.gateway.Poll(r.Context(), recipient)
		if err != nil {
			httputil.WriteError(w, r, s.logger, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, models.ToMailboxItems(messages))
	}
}

func (s *Server) handleCount() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recipient := mux.Vars(r)["recipient"]
		r = r.WithContext(apperrors.WithIdentity(r.Context(), recipient))
		if err := s.authorizer.Authorize(r.Context(), httputil.BearerToken(r), recipient); err != nil {
			httputil.WriteError(w, r, s.logger, err)
			return
		}

		n, err := s.gateway.PendingCount(r.Context(), recipient)
		if err != nil {
			httputil.WriteError(w, r, s.logger, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]int{"pending": n})
	}
}
