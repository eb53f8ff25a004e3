// Copyright 2024-2026 Aiku AI

// Package web implements an optional HTTP surface: a login helper endpoint
// an operator can point a browser at instead of driving the login flow
// through a Matrix client.
// It is a thin read-only status page, not a general admin API.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"maunium.net/go/mautrix/bridgev2"
)

// Server serves a minimal status page for the bridge's logged-in users.
type Server struct {
	Bridge *bridgev2.Bridge
	Addr   string
	Log    zerolog.Logger

	srv *http.Server
}

// Start runs the HTTP server until ctx is canceled or Stop is called. It is
// meant to be invoked with `go`, matching the connector's Start method.
func (s *Server) Start(ctx context.Context) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/healthz", s.handleHealthz)

	s.srv = &http.Server{Addr: s.Addr, Handler: mux}
	s.Log.Info().Str("addr", s.Addr).Msg("Starting login website")

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.Log.Err(err).Msg("Login website stopped unexpectedly")
	}
}

// Stop shuts the server down. Safe to call more than once.
func (s *Server) Stop() {
	if s.srv != nil {
		_ = s.srv.Close()
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("content-type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><h1>Messenger bridge</h1><p>Log in from your Matrix client to use this bridge.</p></body></html>")
}
