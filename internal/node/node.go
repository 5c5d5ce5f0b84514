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

package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/blinklabs-io/prism"
	"github.com/blinklabs-io/prism/database"
	"github.com/blinklabs-io/prism/internal/blockfrostapi"
	"github.com/blinklabs-io/prism/internal/config"
	"github.com/blinklabs-io/prism/ledgersync"
	"github.com/blinklabs-io/prism/provider"
	"github.com/blinklabs-io/prism/provider/blockfrost"
	"github.com/blinklabs-io/prism/provider/dbsync"
	"github.com/blinklabs-io/prism/provider/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OpenDatabase opens the ledger state store described by cfg
func OpenDatabase(
	cfg *config.Config,
	logger *slog.Logger,
	registry prometheus.Registerer,
) (*database.Database, error) {
	db, err := database.New(&database.Config{
		PromRegistry:   registry,
		Logger:         logger,
		DataDir:        cfg.DatabasePath,
		BlobPlugin:     cfg.BlobPlugin,
		BlobLocation:   cfg.BlobLocation,
		MetadataPlugin: cfg.MetadataPlugin,
		MetadataDSN:    cfg.MetadataDsn,
	})
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

type ledgerProvider struct {
	provider provider.Provider
	close    func() error
	config   config.LedgerConfig
}

// openProvider builds the provider of a ledger. Memory ledgers grow by one
// empty block per blockInterval and can be served over a Blockfrost
// compatible API.
func openProvider(
	ctx context.Context,
	ledger config.LedgerConfig,
	blockInterval time.Duration,
	logger *slog.Logger,
) (*ledgerProvider, error) {
	logger = logger.With("network", ledger.Network)
	ret := &ledgerProvider{
		config: ledger,
		close:  func() error { return nil },
	}
	switch ledger.Provider {
	case config.ProviderDbsync:
		p, err := dbsync.New(
			dbsync.WithDSN(ledger.DSN),
			dbsync.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		ret.provider = p
		ret.close = p.Close
	case config.ProviderBlockfrost:
		opts := []blockfrost.ProviderOptionFunc{
			blockfrost.WithLogger(logger),
			blockfrost.WithProjectID(ledger.ProjectID),
		}
		if ledger.URL != "" {
			opts = append(opts, blockfrost.WithBaseURL(ledger.URL))
		}
		p, err := blockfrost.New(opts...)
		if err != nil {
			return nil, err
		}
		ret.provider = p
	case config.ProviderMemory:
		chain := memory.New()
		ret.provider = chain
		if ledger.ListenAddress != "" {
			server := blockfrostapi.New(
				blockfrostapi.Config{ListenAddress: ledger.ListenAddress},
				chain,
				logger,
			)
			if err := server.Start(ctx); err != nil {
				return nil, err
			}
		}
		go produceBlocks(ctx, chain, blockInterval)
	default:
		return nil, fmt.Errorf("unknown provider %q", ledger.Provider)
	}
	return ret, nil
}

func produceBlocks(ctx context.Context, chain *memory.Chain, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			chain.AddEmptyBlocks(1)
		}
	}
}

// Run runs the indexer until SIGINT or SIGTERM
func Run(cfg *config.Config, logger *slog.Logger) error {
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return RunContext(signalCtx, cfg, logger, registry)
}

// RunContext runs the indexer with its metrics listener until ctx is done
func RunContext(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	registry *prometheus.Registry,
) error {
	logger.Debug(fmt.Sprintf("config: %+v", cfg), "component", "node")
	if len(cfg.Ledgers) == 0 {
		return errors.New("no ledgers configured")
	}
	forkPolicy, err := ledgersync.ParseForkPolicy(cfg.ForkPolicy)
	if err != nil {
		return err
	}
	db, err := OpenDatabase(cfg, logger, registry)
	if err != nil {
		return err
	}
	defer db.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	opts := []prism.ConfigOptionFunc{
		prism.WithLogger(logger),
		prism.WithDatabase(db),
		prism.WithPollInterval(cfg.PollIntervalDuration()),
		prism.WithConfirmations(cfg.Confirmations),
		prism.WithForkPolicy(forkPolicy),
		prism.WithPrometheusRegistry(registry),
		prism.WithTracing(cfg.Tracing),
		prism.WithTracingStdout(cfg.TracingStdout),
		prism.WithShutdownTimeout(cfg.ShutdownTimeoutDuration()),
	}
	for _, ledgerCfg := range cfg.Ledgers {
		lp, err := openProvider(
			runCtx,
			ledgerCfg,
			cfg.PollIntervalDuration(),
			logger,
		)
		if err != nil {
			return fmt.Errorf("ledger %s: %w", ledgerCfg.Network, err)
		}
		defer func() {
			if err := lp.close(); err != nil {
				logger.Error(
					"failed to close provider",
					"network", lp.config.Network,
					"error", err,
				)
			}
		}()
		opts = append(opts, prism.WithLedger(ledgerCfg.Network, lp.provider))
		if ledgerCfg.StartEpoch > 0 {
			opts = append(
				opts,
				prism.WithStartEpoch(ledgerCfg.Network, ledgerCfg.StartEpoch),
			)
		}
	}
	indexer, err := prism.New(prism.NewConfig(opts...))
	if err != nil {
		return err
	}

	// Metrics listener
	var metricsServer *http.Server
	if cfg.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{
			Addr: net.JoinHostPort(
				cfg.BindAddr,
				strconv.FormatUint(uint64(cfg.MetricsPort), 10),
			),
			Handler:           mux,
			ReadHeaderTimeout: 60 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
		ln, err := net.Listen("tcp", metricsServer.Addr)
		if err != nil {
			return fmt.Errorf("failed to start metrics listener: %w", err)
		}
		logger.Info(
			"serving prometheus metrics on "+ln.Addr().String(),
			"component", "node",
		)
		go func() {
			if err := metricsServer.Serve(ln); err != nil &&
				!errors.Is(err, http.ErrServerClosed) {
				logger.Error(
					fmt.Sprintf("metrics listener failed: %s", err),
					"component", "node",
				)
				cancel()
			}
		}()
	}

	runErr := indexer.Run(runCtx)
	if metricsServer != nil {
		//nolint:contextcheck
		shutdownCtx, shutdownCancel := context.WithTimeout(
			context.Background(),
			cfg.ShutdownTimeoutDuration(),
		)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}
	}
	if runErr != nil {
		logger.Error("indexer error", "error", runErr)
		return runErr
	}
	logger.Info("shutdown complete")
	return nil
}
