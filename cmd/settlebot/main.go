package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/alejandrodnm/settlebot/config"
	"github.com/alejandrodnm/settlebot/internal/adapters/notify"
	"github.com/alejandrodnm/settlebot/internal/adapters/onchain"
	"github.com/alejandrodnm/settlebot/internal/adapters/polymarket"
	"github.com/alejandrodnm/settlebot/internal/adapters/storage"
	"github.com/alejandrodnm/settlebot/internal/application/orchestrator"
	"github.com/alejandrodnm/settlebot/internal/domain"
	"github.com/alejandrodnm/settlebot/internal/ports"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one cycle and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print a full table per cycle (default: compact 1-line)")
	reconcile := flag.Bool("reconcile", false, "list FAILED and PENDING executions and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	closeLog := setupLogger(cfg.Log)
	defer closeLog()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	if *reconcile {
		if err := runReconcile(ctx, store); err != nil {
			slog.Error("reconcile failed", "err", err)
			os.Exit(1)
		}
		return
	}

	slog.Info("settlebot starting",
		"config", *configPath,
		"poll_interval", cfg.PollInterval(),
		"dry_run", cfg.DryRun(),
		"once", *once,
		"oracle", cfg.Chain.OracleAddress,
	)

	chain, err := onchain.Dial(ctx, cfg.Chain.RPCURL)
	if err != nil {
		slog.Error("failed to connect to Polygon RPC", "err", err)
		os.Exit(1)
	}
	defer chain.Close()

	source, err := onchain.NewOracleClient(chain, cfg.Chain.OracleAddress)
	if err != nil {
		slog.Error("failed to create oracle client", "err", err)
		os.Exit(1)
	}

	client := polymarket.NewClient(cfg.API.CLOBBase, cfg.API.GammaBase)

	var executor ports.OrderExecutor
	if !cfg.DryRun() {
		trading, err := setupLive(ctx, cfg, client, chain)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				slog.Info("live trading aborted by user")
				return
			}
			slog.Error("live start-up failed", "err", err)
			os.Exit(1)
		}
		executor = trading
	}

	o, err := orchestrator.New(cfg.ToOrchestrator(), orchestrator.Deps{
		Source:      source,
		Catalog:     client,
		Books:       client,
		Executor:    executor,
		CursorStore: store,
		Journal:     store,
		Notifier:    notify.NewConsole(*table),
	})
	if err != nil {
		slog.Error("failed to build pipeline", "err", err)
		os.Exit(1)
	}

	if *once {
		report, err := o.RunCycle(ctx)
		if err != nil {
			slog.Error("cycle failed", "err", err)
			os.Exit(1)
		}
		slog.Info("cycle complete",
			"blocks_from", report.From,
			"blocks_to", report.To,
			"events", report.Events,
			"executed", report.Executed,
			"rejected", report.Rejected,
			"skipped", report.Skipped,
			"failed", report.Failed,
			"deferred", report.Deferred,
			"watermark", report.Watermark,
		)
		return
	}

	if err := o.Run(ctx); err != nil {
		slog.Error("orchestrator exited with error", "err", err)
		os.Exit(1)
	}

	slog.Info("settlebot stopped cleanly", "watermark", o.Watermark())
}

// runReconcile imprime las ejecuciones que requieren revisión manual.
func runReconcile(ctx context.Context, store *storage.SQLiteStorage) error {
	results, err := store.ListExecutions(ctx, domain.StatusFailed, domain.StatusPending)
	if err != nil {
		return err
	}
	return notify.NewConsole(true).NotifyExecutions(ctx, results)
}

// setupLogger configura slog y, si log.file está definido, una copia rotada
// con lumberjack. Devuelve la función que cierra el archivo.
func setupLogger(cfg config.LogConfig) func() {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	closeFn := func() {}
	if cfg.File != "" {
		_ = os.MkdirAll(filepath.Dir(cfg.File), 0o755)
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotator)
		closeFn = func() { _ = rotator.Close() }
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	slog.SetDefault(slog.New(handler))
	return closeFn
}
