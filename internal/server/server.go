// Package server is the local development HTTP server. It exposes the same
// routes as the function URL so the site can be pointed at either.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"capt-agent/internal/api"
	"capt-agent/internal/domain"
	"capt-agent/internal/sse"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	router *chi.Mux
	uc     api.UseCase
	log    *slog.Logger
	port   int
}

func NewServer(port int, uc api.UseCase, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(correlationID)

	s := &Server{
		router: router,
		uc:     uc,
		log:    logger,
		port:   port,
	}

	router.Get("/health", s.health)
	router.Post(api.PathChat, s.chat)
	router.Post(api.PathInsights, s.insights)
	router.Post(api.PathStep, s.step)

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("dev server starting", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var in api.ChatRequest
	if err := api.Decode(r.Body, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, api.InvalidBody())
		return
	}
	err := api.StreamChat(r.Context(), s.uc, in, w, func() {
		for k, v := range sse.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(http.StatusOK)
	})
	if err != nil {
		s.logger(r).Warn("chat rejected", "err", err)
		writeJSON(w, api.StatusFor(err), api.NewErrorResponse(api.PathChat, err))
	}
}

func (s *Server) insights(w http.ResponseWriter, r *http.Request) {
	var in api.InsightsRequest
	if err := api.Decode(r.Body, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, api.InvalidBody())
		return
	}
	res, err := s.uc.RequestInsights(r.Context(), domain.InsightKind(strings.ToLower(string(in.Kind))), in.Query)
	if err != nil {
		s.logger(r).Warn("insight request failed", "err", err)
		writeJSON(w, api.StatusFor(err), api.NewErrorResponse(api.PathInsights, err))
		return
	}
	writeJSON(w, http.StatusOK, api.NewInsightsResponse(res))
}

func (s *Server) step(w http.ResponseWriter, r *http.Request) {
	var in api.StepRequest
	if err := api.Decode(r.Body, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, api.InvalidBody())
		return
	}
	reply, err := s.uc.Step(r.Context(), in.History)
	if err != nil {
		s.logger(r).Warn("onboarding step failed", "err", err)
		writeJSON(w, api.StatusFor(err), api.NewErrorResponse(api.PathStep, err))
		return
	}
	writeJSON(w, http.StatusOK, api.StepResponse{Reply: reply})
}

func (s *Server) logger(r *http.Request) *slog.Logger {
	return s.log.With("correlation_id", r.Header.Get(api.HeaderCorrelationID), "path", r.URL.Path)
}

// correlationID makes sure every request and response carries an id.
func correlationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := api.CorrelationID(map[string]string{api.HeaderCorrelationID: r.Header.Get(api.HeaderCorrelationID)})
		r.Header.Set(api.HeaderCorrelationID, id)
		w.Header().Set(api.HeaderCorrelationID, id)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
