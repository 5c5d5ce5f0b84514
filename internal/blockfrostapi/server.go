// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package blockfrostapi serves a Blockfrost compatible subset of the REST
// API from an in-memory ledger, for development and adapter tests.
package blockfrostapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

const DefaultListenAddress = ":3000"

// Config holds the server settings. Requests must carry ProjectID in the
// project_id header when it is set.
type Config struct {
	ListenAddress string
	ProjectID     string
}

// Server is the Blockfrost compatible REST API server
type Server struct {
	config     Config
	logger     *slog.Logger
	ledger     Ledger
	httpServer *http.Server
	mu         sync.Mutex
}

// New creates a new server instance
func New(cfg Config, ledger Ledger, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(
			slog.NewJSONHandler(io.Discard, nil),
		)
	}
	logger = logger.With("component", "blockfrostapi")
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
	return &Server{
		config: cfg,
		logger: logger,
		ledger: ledger,
	}
}

// Handler returns the HTTP handler serving the API
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/v0/blocks/latest", s.handleLatestBlock)
	mux.HandleFunc("GET /api/v0/blocks/{hashOrNumber}", s.handleBlock)
	mux.HandleFunc("GET /api/v0/blocks/{hashOrNumber}/txs", s.handleBlockTxs)
	mux.HandleFunc("GET /api/v0/epochs/{number}/blocks", s.handleEpochBlocks)
	mux.HandleFunc("GET /api/v0/txs/{hash}", s.handleTx)
	mux.HandleFunc("GET /api/v0/txs/{hash}/metadata", s.handleTxMetadata)
	mux.HandleFunc("GET /api/v0/txs/{hash}/utxos", s.handleTxUtxos)
	mux.HandleFunc("GET /api/v0/metadata/txs/labels/{label}", s.handleLabelTxs)
	return s.authenticate(mux)
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	if s.config.ProjectID == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" && r.URL.Path != "/health" &&
			r.Header.Get("project_id") != s.config.ProjectID {
			writeError(
				w,
				http.StatusForbidden,
				"Forbidden",
				"Invalid project token.",
			)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start starts the HTTP server in a background goroutine. The server is
// shut down when ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.httpServer != nil {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	server := &http.Server{
		Addr:              s.config.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 60 * time.Second,
	}
	s.httpServer = server
	s.mu.Unlock()

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		s.mu.Lock()
		s.httpServer = nil
		s.mu.Unlock()
		return fmt.Errorf("failed to listen for Blockfrost API server: %w", err)
	}
	go func() {
		if err := server.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(
				"Blockfrost API server error",
				"error", err,
			)
		}
	}()
	s.logger.Info(
		"Blockfrost API listener started",
		"address", ln.Addr().String(),
	)

	go func() {
		<-ctx.Done()
		//nolint:contextcheck
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			30*time.Second,
		)
		defer cancel()
		//nolint:contextcheck
		if err := s.Stop(shutdownCtx); err != nil {
			s.logger.Error(
				"failed to shutdown Blockfrost API server on context cancellation",
				"error", err,
			)
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()

	if srv != nil {
		s.logger.Debug("shutting down Blockfrost API server")
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown Blockfrost API server: %w", err)
		}
	}
	return nil
}
