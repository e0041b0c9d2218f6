// Package api exposes the read-only HTTP surface over the candle store.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"kmonitor/internal/kline"
)

// Server serves candle and activity reads over HTTP.
type Server struct {
	klines *kline.Manager
	log    *logrus.Entry
	srv    *http.Server
}

func NewServer(addr string, klines *kline.Manager, log *logrus.Entry) *Server {
	s := &Server{klines: klines, log: log}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/healthz", s.healthz)
	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.stats)
		r.Get("/mints", s.mints)
		r.Get("/mints/{mint}/klines", s.mintKlines)
	})
	return r
}

// ListenAndServe blocks until the context is cancelled, then shuts the
// server down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.srv.Addr).Info("http server listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		s.log.WithError(err).Warn("response encode failed")
	}
}

func (s *Server) ok(w http.ResponseWriter, data interface{}) {
	s.writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func (s *Server) fail(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, envelope{Success: false, Message: msg})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	s.ok(w, map[string]string{"status": "ok"})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	mints, klines, err := s.klines.Stats(r.Context())
	if err != nil {
		s.log.WithError(err).Error("stats read failed")
		s.fail(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	s.ok(w, map[string]int{
		"active_mints": mints,
		"total_klines": klines,
	})
}

type mintInfo struct {
	Mint         string `json:"mint"`
	KlineCount   int    `json:"kline_count"`
	LastActivity int64  `json:"last_activity"`
}

func (s *Server) mints(w http.ResponseWriter, r *http.Request) {
	mints, err := s.klines.ActiveMints(r.Context())
	if err != nil {
		s.log.WithError(err).Error("active mints read failed")
		s.fail(w, http.StatusInternalServerError, "mints unavailable")
		return
	}

	infos := make([]mintInfo, 0, len(mints))
	for _, m := range mints {
		klines, err := s.klines.KlinesForMint(r.Context(), m.Mint, 0)
		if err != nil {
			s.log.WithError(err).WithField("mint", m.Mint).Warn("kline count read failed")
		}
		infos = append(infos, mintInfo{
			Mint:         m.Mint,
			KlineCount:   len(klines),
			LastActivity: m.LastActivity,
		})
	}
	s.ok(w, infos)
}

func (s *Server) mintKlines(w http.ResponseWriter, r *http.Request) {
	mint := chi.URLParam(r, "mint")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.fail(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	klines, err := s.klines.KlinesForMint(r.Context(), mint, limit)
	if err != nil {
		s.log.WithError(err).WithField("mint", mint).Error("kline read failed")
		s.fail(w, http.StatusInternalServerError, "klines unavailable")
		return
	}
	s.ok(w, map[string]interface{}{
		"mint":   mint,
		"klines": klines,
	})
}
