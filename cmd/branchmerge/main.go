package main

import (
	"context"
	"flag"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/branchworks/branchmerge/internal/config"
	"github.com/branchworks/branchmerge/internal/core"
	"github.com/branchworks/branchmerge/internal/logging"
	"github.com/branchworks/branchmerge/internal/schema"
	"github.com/branchworks/branchmerge/internal/source"
	"github.com/branchworks/branchmerge/internal/store"
	"github.com/branchworks/branchmerge/internal/web"
)

func main() {
	once := flag.Bool("once", false, "run one merge and exit (the default mode)")
	daemon := flag.Bool("daemon", false, "run the interval scheduler and the ops API")
	dryRun := flag.Bool("dry-run", false, "execute the full merge and audit without persisting")
	listen := flag.String("listen", "", "listen address override for daemon mode")
	sourceDir := flag.String("source-dir", "", "read exports from this directory (forces the dir backend)")
	flag.Parse()

	if *once && *daemon {
		slog.Error("-once and -daemon are mutually exclusive")
		os.Exit(2)
	}

	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *sourceDir != "" {
		cfg.Source.Backend = "dir"
		cfg.Source.Root = *sourceDir
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"backend", cfg.Source.Backend,
		"fetch_concurrency", cfg.Merge.FetchConcurrency,
		"page_size", cfg.Merge.PageSize,
		"db_max_conns", cfg.Database.MaxConns,
	)

	// Signals cancel this context; the one-shot run aborts with it and
	// the daemon uses it to start the shutdown sequence.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Parse and configure connection pool
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		slog.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}

	// Apply pool configuration from config
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	// Connect to database
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		slog.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	// Log which database we connected to
	if u, err := url.Parse(cfg.Database.URL); err == nil {
		dbName := strings.TrimPrefix(u.Path, "/")
		slog.Info("connected to database", "name", dbName)
	} else {
		slog.Info("connected to database")
	}

	// Canonical layout: embedded default unless a file overrides it
	sch := schema.Default()
	if cfg.Merge.SchemaFile != "" {
		sch, err = schema.Load(cfg.Merge.SchemaFile)
		if err != nil {
			slog.Error("failed to load schema file", "path", cfg.Merge.SchemaFile, "error", err)
			os.Exit(1)
		}
	}
	slog.Info("schema loaded", "table", sch.Table, "fields", len(sch.Fields))

	st := store.New(pool, sch)
	if err := st.EnsureSchema(ctx); err != nil {
		slog.Error("failed to ensure database schema", "error", err)
		os.Exit(1)
	}

	backend, err := source.Open(ctx, cfg.Source.Backend, source.Options{
		Root:     cfg.Source.Root,
		Bucket:   cfg.Source.Bucket,
		Prefix:   cfg.Source.Prefix,
		Region:   cfg.Source.Region,
		Encoding: cfg.Source.Encoding,
	})
	if err != nil {
		slog.Error("failed to open source backend", "backend", cfg.Source.Backend, "error", err)
		os.Exit(1)
	}

	var exporter core.BatchExporter
	if cfg.Merge.ExportEnabled {
		if w, ok := backend.(source.ObjectWriter); ok {
			exporter = source.NewExporter(w, cfg.Merge.ExportPrefix)
			slog.Info("merged-workbook export enabled", "prefix", cfg.Merge.ExportPrefix)
		} else {
			slog.Warn("export enabled but backend cannot store objects", "backend", cfg.Source.Backend)
		}
	}

	service := core.NewService(st, sch, backend, backend, core.ServiceOptions{
		FetchConcurrency:    cfg.Merge.FetchConcurrency,
		MaxConcurrentRuns:   cfg.Run.MaxConcurrent,
		RunWait:             cfg.Run.Wait,
		RunTimeout:          cfg.Run.Timeout,
		PageSize:            cfg.Merge.PageSize,
		PageRetries:         cfg.Merge.PageRetries,
		RetryBackoff:        cfg.Merge.RetryBackoff,
		Exporter:            exporter,
		RequireBranchColumn: cfg.Merge.RequireBranchColumn,
	})

	if !*daemon {
		runOnce(ctx, service, *dryRun)
		return
	}

	// Daemon mode: interval scheduler, maintenance loop, ops API.
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	go service.StartSchedule(jobCtx, core.ScheduleConfig{
		Interval: cfg.Run.Interval,
		DryRun:   *dryRun,
	})
	if cfg.Run.MaintenanceEnabled {
		go service.StartMaintenance(jobCtx, core.MaintenanceConfig{
			Interval: cfg.Run.MaintenanceInterval,
		})
	}

	server := web.NewServer(service, st, cfg)

	addr := cfg.Server.Addr()
	if *listen != "" {
		addr = *listen
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		slog.Info("shutting down...")

		// Stop background jobs
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Cancel active runs and wait for the limiter to drain
		if err := service.Shutdown(shutdownCtx); err != nil {
			slog.Warn("active runs did not drain in time", "error", err)
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("server starting", "addr", addr)
	if err := server.Start(addr); err != nil {
		slog.Info("server stopped", "error", err)
	}
}

// runOnce executes a single merge and reports it on the exit code:
// zero for success or partial success, non-zero for a fatal run.
func runOnce(ctx context.Context, service *core.Service, dryRun bool) {
	res, err := service.RunOnce(ctx, core.RunOptions{
		Trigger: core.TriggerManual,
		DryRun:  dryRun,
	})
	if res != nil {
		slog.Info("merge run finished",
			"run_id", res.RunID,
			"status", string(res.Status),
			"sources", res.Sources,
			"read", res.Read,
			"unified", res.Unified,
			"duplicates", res.Duplicates,
			"filtered", res.Filtered,
			"inserted", res.Inserted,
			"export_key", res.ExportKey,
		)
		for label, reason := range res.Failures {
			slog.Warn("source excluded from merge", "source", label, "reason", reason)
		}
	}
	if err != nil {
		slog.Error("merge run failed", "error", err)
		os.Exit(1)
	}
}
