package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"filamint/config"
	"filamint/core"
	"filamint/core/events"
	"filamint/crypto"
	"filamint/observability"
	"filamint/observability/logging"
	telemetry "filamint/observability/otel"
	"filamint/rpc"
	"filamint/services/indexer"
	"filamint/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	exportPath := flag.String("export-events", "", "Write indexed events to this Parquet file and exit")
	exportAfter := flag.Uint64("export-after", 0, "Only export events after this sequence")
	flag.Parse()

	if *exportPath != "" {
		if err := exportEvents(*configFile, *exportPath, *exportAfter); err != nil {
			fmt.Fprintf(os.Stderr, "filamintd: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if err := run(*configFile); err != nil {
		fmt.Fprintf(os.Stderr, "filamintd: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.Setup("filamintd", cfg.Environment, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "filamintd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	record, err := cfg.RegistryRecord()
	if err != nil {
		return err
	}
	genesis, err := cfg.GenesisAllocations()
	if err != nil {
		return err
	}
	txCost, err := cfg.DefaultTxCost()
	if err != nil {
		return err
	}
	maxTxCost, err := cfg.MaxTxCost()
	if err != nil {
		return err
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	hub := rpc.NewHub(logger)
	emitter := events.Fanout{observability.Escrow(), hub}

	// A nil *Indexer must not reach the server as a non-nil interface.
	var jobs rpc.JobIndex
	if cfg.Indexer.Enabled {
		gdb, err := indexer.Open(cfg.Indexer.Driver, cfg.Indexer.DSN)
		if err != nil {
			db.Close()
			return fmt.Errorf("open indexer: %w", err)
		}
		idx, err := indexer.New(gdb, logger)
		if err != nil {
			_ = indexer.Close(gdb)
			db.Close()
			return fmt.Errorf("start indexer: %w", err)
		}
		// Runs after node.Close.
		defer func() {
			if err := idx.Close(); err != nil {
				logger.Warn("close indexer failed", slog.Any("error", err))
			}
		}()
		emitter = append(emitter, idx)
		jobs = idx
		logger.Info("event indexer enabled", slog.String("driver", cfg.Indexer.Driver))
	}

	node := core.NewNode(db, core.Options{
		Logger:        logger,
		Emitter:       emitter,
		DefaultTxCost: txCost,
		MaxTxCost:     maxTxCost,
	})
	defer node.Close()

	reg, err := node.Bootstrap(ctx, record, genesis)
	if err != nil {
		return fmt.Errorf("bootstrap registry: %w", err)
	}
	logger.Info("registry ready",
		slog.String("registry", crypto.Format(reg.Address)),
		slog.String("owner", crypto.Format(reg.Owner)),
		slog.Uint64("total_orders", reg.Total))

	server := rpc.NewServer(node, jobs, hub, rpc.Config{
		Auth: rpc.AuthConfig{
			HMACSecret: cfg.JWTSecret(),
			Issuer:     cfg.RPC.JWTIssuer,
			ClockSkew:  30 * time.Second,
		},
		RateLimitPerSec: cfg.RPC.RateLimitPerSec,
		RateLimitBurst:  cfg.RPC.RateLimitBurst,
		ReadTimeout:     time.Duration(cfg.RPC.ReadTimeoutSecs) * time.Second,
		WriteTimeout:    time.Duration(cfg.RPC.WriteTimeoutSecs) * time.Second,
		AllowedOrigins:  cfg.RPC.AllowedOrigins,
	}, logger)
	if cfg.JWTSecret() == "" {
		logger.Warn("rpc authentication disabled; callers are taken from the " + rpc.DevCallerHeader + " header")
	}
	return server.Serve(ctx, cfg.RPCAddress)
}

func exportEvents(configFile, path string, after uint64) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.Indexer.Enabled {
		return fmt.Errorf("indexer disabled in %s", configFile)
	}
	logger := logging.Setup("filamintd", cfg.Environment, logging.Options{Level: cfg.Logging.Level})
	gdb, err := indexer.Open(cfg.Indexer.Driver, cfg.Indexer.DSN)
	if err != nil {
		return fmt.Errorf("open indexer: %w", err)
	}
	defer indexer.Close(gdb)
	idx, err := indexer.New(gdb, logger)
	if err != nil {
		return fmt.Errorf("start indexer: %w", err)
	}
	rows, last, err := idx.ExportParquet(context.Background(), path, after)
	if err != nil {
		return err
	}
	fmt.Printf("exported %d events to %s (last sequence %d)\n", rows, path, last)
	return nil
}
