package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/StrathCole/price-oracle/pkg/admission"
	"github.com/StrathCole/price-oracle/pkg/config"
	"github.com/StrathCole/price-oracle/pkg/exchanges"
	"github.com/StrathCole/price-oracle/pkg/feeder/collector"
	"github.com/StrathCole/price-oracle/pkg/feeder/eventstream"
	"github.com/StrathCole/price-oracle/pkg/ledger"
	"github.com/StrathCole/price-oracle/pkg/logging"
	"github.com/StrathCole/price-oracle/pkg/metrics"
	"github.com/StrathCole/price-oracle/pkg/pricing"
	"github.com/StrathCole/price-oracle/pkg/server/api"
	"github.com/StrathCole/price-oracle/pkg/store"
	"github.com/StrathCole/price-oracle/pkg/store/badgerstore"
	"github.com/StrathCole/price-oracle/pkg/store/redisstore"
	"github.com/StrathCole/price-oracle/pkg/validator"
	"github.com/StrathCole/price-oracle/pkg/version"

	// Register exchange protocols
	_ "github.com/StrathCole/price-oracle/pkg/exchanges/evm"
)

var (
	configFile    = flag.String("config", "config/config.yaml", "Path to configuration file")
	envFile       = flag.String("env", ".env", "Optional dotenv file loaded before the config")
	showVer       = flag.Bool("version", false, "Show version and exit")
	serverOnly    = flag.Bool("server", false, "Run the read API only")
	collectorOnly = flag.Bool("collector", false, "Run collection and admission only")
	dryRun        = flag.Bool("dry-run", false, "Dry run mode: build candidates but don't submit them")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("price-oracle version %s\n", version.Version)
		os.Exit(0)
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load env file: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Override mode based on flags
	if *serverOnly {
		cfg.Mode = config.ModeServer
	} else if *collectorOnly {
		cfg.Mode = config.ModeCollector
	}
	if *dryRun {
		cfg.Oracle.DryRun = true
	}

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)

	logger.Info("Starting price-oracle", "version", version.Version, "mode", cfg.Mode)
	if cfg.Oracle.DryRun {
		logger.Warn("DRY RUN MODE ENABLED - Candidates will be built but NOT submitted")
	}

	if cfg.Metrics.Enabled {
		metrics.Init()
		go func() {
			logger.Info("Starting metrics server", "addr", cfg.Metrics.Addr)
			if err := metrics.ServeHTTP(cfg.Metrics.Addr, cfg.Metrics.Path); err != nil {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cancel, cfg, logger); err != nil {
		logger.Error("Oracle failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}

func run(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, logger *logging.Logger) error {
	st, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("Failed to close store", "error", err)
		}
	}()

	var (
		wg      sync.WaitGroup
		errChan = make(chan error, 2)
	)

	var wsServer *api.WebSocketServer
	if cfg.IsServerMode() && cfg.Server.WebSocket.Enabled {
		wsServer = api.NewWebSocketServer(logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			wsServer.Run(ctx)
		}()
	}

	var directory api.Directory = specDirectory(cfg.ExchangeSpecs())

	if cfg.IsCollectorMode() {
		registry, err := exchanges.Build(cfg.ExchangeSpecs(), logger)
		if err != nil {
			return fmt.Errorf("failed to build exchange registry: %w", err)
		}
		defer func() {
			if err := registry.Close(); err != nil {
				logger.Warn("Failed to close exchange adapters", "error", err)
			}
		}()
		directory = registry

		pipeline, err := newPipeline(cfg, registry, st, logger)
		if err != nil {
			return err
		}
		if wsServer != nil {
			pipeline.protocol.Subscribe(wsServer.Publish)
		}

		if err := pipeline.ledger.Start(ctx); err != nil {
			return fmt.Errorf("failed to start ledger: %w", err)
		}
		// Runs after the collector is waited on below, so no episode submits to a closed ledger.
		defer pipeline.ledger.Close()

		logger.Info("Starting in collector mode", "exchanges", registry.Len())
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pipeline.collector.Start(ctx, pipeline.ledger); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("collector: %w", err)
			}
		}()
	}

	var server *api.Server
	if cfg.IsServerMode() {
		server, err = api.NewServer(cfg.APIConfig(), st, directory, logger)
		if err != nil {
			return fmt.Errorf("failed to create API server: %w", err)
		}
		if wsServer != nil {
			server.SetWebSocketServer(wsServer)
		}

		logger.Info("Starting in server mode", "addr", cfg.Server.Addr)
		go func() {
			if err := server.Start(); err != nil {
				errChan <- err
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig.String())
	case runErr = <-errChan:
		logger.Error("Component failed", "error", runErr)
	}
	cancel()

	logger.Info("Shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if server != nil {
		if err := server.Stop(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown failed", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("Timed out waiting for components to stop")
	}

	return runErr
}

// pipeline is the collection and admission path: collector -> ledger -> admission -> store.
type pipeline struct {
	protocol  *admission.Protocol
	ledger    *ledger.Ledger
	collector *collector.Collector
}

func newPipeline(cfg *config.Config, registry *exchanges.Registry, st store.Store, logger *logging.Logger) (*pipeline, error) {
	zl := logger.ZerologLogger()

	vcfg, err := cfg.ValidatorConfig()
	if err != nil {
		return nil, err
	}
	v := validator.New(vcfg)

	protocol, err := admission.New(cfg.AdmissionConfig(), registry, v, st, zl)
	if err != nil {
		return nil, fmt.Errorf("failed to create admission protocol: %w", err)
	}

	stream, err := eventstream.New(cfg.EventStreamConfig(), zl)
	if err != nil {
		return nil, fmt.Errorf("failed to create event stream: %w", err)
	}
	l := ledger.New(cfg.LedgerConfig(), protocol, stream, zl)

	ccfg, err := cfg.CollectorConfig()
	if err != nil {
		return nil, err
	}
	c, err := collector.New(ccfg, registry, v, st, l, zl)
	if err != nil {
		return nil, fmt.Errorf("failed to create collector: %w", err)
	}

	return &pipeline{protocol: protocol, ledger: l, collector: c}, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger *logging.Logger) (store.Store, error) {
	switch cfg.Backend {
	case store.BackendRedis:
		st, err := redisstore.Dial(ctx, cfg.RedisURL, cfg.RedisPrefix, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open redis store: %w", err)
		}
		logger.Info("Using redis price store", "prefix", cfg.RedisPrefix)
		return st, nil
	case store.BackendBadger:
		st, err := badgerstore.New(cfg.Dir, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger store: %w", err)
		}
		logger.Info("Using badger price store", "dir", cfg.Dir)
		return st, nil
	default:
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownBackend, cfg.Backend)
	}
}

// specDirectory describes configured exchanges without connecting to them.
type specDirectory []exchanges.Spec

func (d specDirectory) Describe() []exchanges.Info {
	infos := make([]exchanges.Info, 0, len(d))
	for _, s := range d {
		if !s.Enabled {
			continue
		}
		infos = append(infos, exchanges.Info{
			ID:       s.ID,
			Name:     s.Name,
			Protocol: s.Protocol,
			Chain:    s.Chain,
			Priority: s.Priority,
			Pairs:    []pricing.TokenPair{},
		})
	}
	return infos
}
