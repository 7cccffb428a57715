// Package ingress is the thin HTTP/WebSocket front door: it exposes the
// semantic operations and the four broadcast channels internal/runtime
// implements, and nothing else. The per-entity CRUD surface and auth
// token issuance live in the host platform — this package only validates
// an already-issued, tenant-scoped JWT and routes.
package ingress

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"school-attendance-bridge/internal/broadcast"
	"school-attendance-bridge/internal/runtime"
)

// Server is the HTTP/WebSocket front door onto one Runtime.
type Server struct {
	runtime    *runtime.Runtime
	log        *logrus.Entry
	router     *mux.Router
	httpServer *http.Server
	jwtSecret  []byte
}

// Config holds the ingress server's own settings, split from the rest of
// the bridge configuration.
type Config struct {
	Addr         string
	JWTSecret    string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig returns the ingress defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// NewServer builds an ingress Server bound to rt. cfg.JWTSecret must be
// non-empty — every route past /healthz requires a valid tenant-scoped JWT.
func NewServer(rt *runtime.Runtime, cfg Config, log *logrus.Entry) *Server {
	s := &Server{
		runtime:   rt,
		log:       log,
		router:    mux.NewRouter(),
		jwtSecret: []byte(cfg.JWTSecret),
	}

	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Router exposes the underlying mux.Router, mainly for tests.
func (s *Server) Router() *mux.Router { return s.router }

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.log.WithField("addr", s.httpServer.Addr).Info("starting ingress server")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.log.Info("ingress server shutting down")
		return s.Shutdown()
	case err := <-errCh:
		return fmt.Errorf("ingress server error: %w", err)
	}
}

// Shutdown gracefully stops the HTTP server, bounded at 30s.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/devices/{device_id}/enrollments", s.handleStartEnrollment).Methods(http.MethodPost)
	api.HandleFunc("/enrollments/{session_uuid}/cancel", s.handleCancelEnrollment).Methods(http.MethodPost)
	api.HandleFunc("/devices/{device_id}/students/{student_id}/fingers", s.handleListEnrolledFingers).Methods(http.MethodGet)
	api.HandleFunc("/devices/{device_id}/students/{student_id}/fingers/{finger_index}", s.handleDeleteFingerprint).Methods(http.MethodDelete)
	api.HandleFunc("/devices/{device_id}/students/{student_id}/sync", s.handleSyncStudentToDevice).Methods(http.MethodPost)
	api.HandleFunc("/devices/{device_id}/students/{student_id}/check", s.handleCheckStudentOnDevice).Methods(http.MethodGet)
	api.HandleFunc("/devices/{device_id}/info", s.handleGetDeviceInfo).Methods(http.MethodGet)
	api.HandleFunc("/devices/{device_id}/test", s.handleTestDevice).Methods(http.MethodPost)
	api.HandleFunc("/devices/{device_id}/ingest", s.handleIngestAttendance).Methods(http.MethodPost)

	ws := s.router.PathPrefix("/ws").Subrouter()
	ws.Use(s.authMiddleware)
	ws.HandleFunc("/device-status", s.handleSubscribe(broadcast.ChannelDeviceStatus, s.runtime.SubscribeDeviceStatus)).Methods(http.MethodGet)
	ws.HandleFunc("/device-info", s.handleSubscribe(broadcast.ChannelDeviceInfo, s.runtime.SubscribeDeviceInfo)).Methods(http.MethodGet)
	ws.HandleFunc("/enrollment-progress", s.handleSubscribe(broadcast.ChannelEnrollmentProgress, s.runtime.SubscribeEnrollmentProgress)).Methods(http.MethodGet)
	ws.HandleFunc("/attendance-scans", s.handleSubscribe(broadcast.ChannelAttendanceScans, s.runtime.SubscribeAttendanceScans)).Methods(http.MethodGet)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
