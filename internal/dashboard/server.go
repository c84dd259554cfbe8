// Package dashboard serves the persisted scan decisions over a small JSON
// API for operational inspection.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/pbaumgartner/ivcrush/internal/storage"
)

// Server exposes decisions, earnings dates, and scan statistics.
type Server struct {
	store     storage.Interface
	logger    *logrus.Logger
	port      int
	authToken string
	httpSrv   *http.Server
}

// NewServer creates a dashboard server. An empty authToken disables
// authentication.
func NewServer(store storage.Interface, logger *logrus.Logger, port int, authToken string) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{
		store:     store,
		logger:    logger,
		port:      port,
		authToken: authToken,
	}
}

// Start blocks serving HTTP until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.WithField("addr", s.httpSrv.Addr).Info("dashboard listening")
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/dates", s.handleDates)
		r.Get("/decisions/{date}", s.handleDecisions)
		r.Get("/decisions/{date}/{ticker}", s.handleDecision)
		r.Get("/earnings/{date}/{ticker}", s.handleEarningsDate)
		r.Get("/stats/{date}", s.handleStats)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		}).Debug("request")
	})
}

// requireAuth enforces the bearer token on API routes when configured.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken != "" && r.Header.Get("Authorization") != "Bearer "+s.authToken {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDates(w http.ResponseWriter, r *http.Request) {
	dates, err := s.store.ScanDates()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"dates": dates})
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	decisions, err := s.store.DecisionsByDate(date)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"scan_date": date,
		"decisions": decisions,
	})
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	ticker := chi.URLParam(r, "ticker")

	decision, err := s.store.GetDecision(date, ticker)
	if errors.Is(err, storage.ErrDecisionNotFound) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleEarningsDate(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	ticker := chi.URLParam(r, "ticker")

	earningsDate, err := s.store.GetEarningsDate(date, ticker)
	if errors.Is(err, storage.ErrEarningsDateNotFound) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"scan_date":     date,
		"ticker":        ticker,
		"earnings_date": earningsDate.Format("2006-01-02"),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	stats, err := s.store.StatsForDate(date)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("encoding response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
