// Package server wires the authentication controller into an HTTP server
// with request-ID logging, a notice endpoint, and graceful shutdown.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"sitegate/internal/config"
	"sitegate/internal/controller"
	"sitegate/pkg/logging"
)

// Timeouts applied to every connection.
const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Server is the HTTP front of the authentication service.
type Server struct {
	httpServer *http.Server
}

// New builds the server from the configuration and controller.
func New(cfg config.Config, ctrl *controller.Controller) *Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Server.ActionPath, ctrl)
	mux.HandleFunc(cfg.Server.DashboardPath, dashboardHandler(ctrl))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:           withRequestID(mux),
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	logging.Info("Server", "Listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	logging.Info("Server", "Shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the root handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// statusRecorder captures the response status for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withRequestID tags every request with an ID and logs its outcome.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		logging.Debug("Server", "%s %s -> %d (%s, request_id=%s)",
			r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Millisecond), requestID)
	})
}

// noticeResponse is the notice surface the landing page renders from.
type noticeResponse struct {
	Authenticated         bool              `json:"authenticated"`
	NeedsReauthentication bool              `json:"needs_reauthentication"`
	SiteConnected         bool              `json:"site_connected"`
	Error                 string            `json:"error,omitempty"`
	Notification          string            `json:"notification,omitempty"`
	PermissionsURL        string            `json:"permissions_url,omitempty"`
	Nonces                map[string]string `json:"nonces,omitempty"`
}

// dashboardHandler reports the user's authentication state. The error and
// notification parameters pass through verbatim; absent an error parameter
// the stored error record is consumed (surfaced once).
func dashboardHandler(ctrl *controller.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(controller.UserHeader)
		if userID == "" {
			http.Error(w, "unknown user", http.StatusForbidden)
			return
		}

		q := r.URL.Query()
		resp := noticeResponse{
			Authenticated: ctrl.IsAuthenticated(userID),
			SiteConnected: ctrl.SiteConnected(),
			Error:         q.Get(controller.ParamError),
			Notification:  q.Get(controller.ParamNotification),
		}

		needs, err := ctrl.NeedsReauthentication(userID)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		resp.NeedsReauthentication = needs

		// On a proxy installation, missing scopes are granted through the
		// proxy's permissions surface.
		if needs {
			permissionsURL, err := ctrl.PermissionsURL()
			if err != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			resp.PermissionsURL = permissionsURL
		}

		if resp.Error == "" {
			stored, err := ctrl.ConsumeError(userID)
			if err != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			resp.Error = stored
		}

		nonces, err := ctrl.ActionNonces(userID)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if len(nonces) > 0 {
			resp.Nonces = nonces
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}
