package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/AnatoliyZakhryapin/DeviceService/internal/service"
)

// Lifecycle перечисляет операции контроллера, доступные с панели управления.
type Lifecycle interface {
	Start(ctx context.Context) (bool, error)
	Stop() bool
	Restart(ctx context.Context) error
	Status() service.Status
}

// Server — панель управления: /start, /stop, /restart за bearer-токеном.
type Server struct {
	lifecycle Lifecycle
	tokens    *TokenValidator
	metrics   http.Handler
	logger    *slog.Logger
	router    *mux.Router
	handler   http.Handler
}

type ServerConfig struct {
	Lifecycle Lifecycle
	Tokens    *TokenValidator
	Metrics   http.Handler // nil отключает /metrics
	Logger    *slog.Logger
}

// NewServer создаёт HTTP сервер с зарегистрированными хендлерами.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		lifecycle: cfg.Lifecycle,
		tokens:    cfg.Tokens,
		metrics:   cfg.Metrics,
		logger:    logger,
		router:    mux.NewRouter(),
	}
	s.routes()
	s.handler = handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{logger}))(
		handlers.CORS(
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
		)(accessLog(logger, s.router)),
	)
	return s
}

func (s *Server) Handler() http.Handler { return s.handler }

// Listen запускает сервер и блокируется до остановки. При заданных certFile/keyFile сервер слушает TLS.
func (s *Server) Listen(ctx context.Context, addr, certFile, keyFile string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if certFile != "" && keyFile != "" {
			errCh <- server.ListenAndServeTLS(certFile, keyFile)
			return
		}
		errCh <- server.ListenAndServe()
	}()
	s.logger.Info("control server listening", "addr", addr, "tls", certFile != "")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) routes() {
	s.router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}

	guarded := s.router.NewRoute().Subrouter()
	guarded.Use(s.requireBearer)
	guarded.HandleFunc("/start", s.handleStart).Methods(http.MethodGet, http.MethodPost)
	guarded.HandleFunc("/stop", s.handleStop).Methods(http.MethodGet, http.MethodPost)
	guarded.HandleFunc("/restart", s.handleRestart).Methods(http.MethodGet, http.MethodPost)
	guarded.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
}

// requireBearer отклоняет запрос до обращения к контроллеру, если токен отсутствует или не прошёл проверку.
func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := bearerToken(r)
		if err == nil {
			_, err = s.tokens.Validate(raw)
		}
		if err != nil {
			s.logger.Warn("control request rejected", "path", r.URL.Path, "remote", r.RemoteAddr, "err", err)
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			writeText(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("control command", "cmd", "start")
	changed, err := s.lifecycle.Start(r.Context())
	switch {
	case err != nil:
		writeText(w, http.StatusServiceUnavailable, "Service failed to start: "+err.Error())
	case !changed:
		writeText(w, http.StatusOK, "Service already running.")
	default:
		writeText(w, http.StatusOK, "Service started.")
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("control command", "cmd", "stop")
	if !s.lifecycle.Stop() {
		writeText(w, http.StatusOK, "Service is not running.")
		return
	}
	writeText(w, http.StatusOK, "Service stopped.")
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("control command", "cmd", "restart")
	if err := s.lifecycle.Restart(r.Context()); err != nil {
		writeText(w, http.StatusServiceUnavailable, "Service failed to restart: "+err.Error())
		return
	}
	writeText(w, http.StatusOK, "Service restarted.")
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.lifecycle.Status())
}

func writeText(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(msg))
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
