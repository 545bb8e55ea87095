package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"royalty-cloud/internal/audit"
	"royalty-cloud/internal/auth"
	"royalty-cloud/internal/eventing"
	eventingpg "royalty-cloud/internal/eventing/infrastructure/postgres"
	eventingsqlite "royalty-cloud/internal/eventing/infrastructure/sqlite"
	"royalty-cloud/internal/observability/logging"
	"royalty-cloud/internal/observability/metrics"
	statementapp "royalty-cloud/internal/royalty/application"
	royalty "royalty-cloud/internal/royalty/domain"
	"royalty-cloud/internal/royalty/infrastructure/memory"
	"royalty-cloud/internal/royalty/infrastructure/seedfile"
	"royalty-cloud/internal/royalty/infrastructure/sqlstore"
	royaltyinterfaces "royalty-cloud/internal/royalty/interfaces"
)

type config struct {
	DatabaseURL   string
	SQLitePath    string
	HTTPAddr      string
	TenantID      string
	JWTSecret     string
	Currency      string
	ConfigPath    string
	SeedPath      string
	OutboxRetries int
	ShutdownAfter time.Duration
}

// storage bundles the repositories and the side stores selected at startup.
type storage struct {
	db      *sql.DB
	sources royalty.SourceRepository
	repo    royalty.StatementRepository
	seed    seedfile.Target
	outbox  interface {
		eventing.OutboxStore
		eventing.OutboxWriter
	}
	processed eventing.ProcessedStore
	dlq       eventing.DLQStore
	audit     audit.Logger
}

func main() {
	cfg := loadConfig()
	logger := logging.Setup()

	appCfg, err := statementapp.LoadConfig(cfg.ConfigPath)
	if err != nil {
		logger.Error("config load error", "path", cfg.ConfigPath, "err", err)
		os.Exit(1)
	}
	if cfg.Currency != "" {
		appCfg.Currency = cfg.Currency
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Error("storage open error", "err", err)
		os.Exit(1)
	}
	if store.db != nil {
		defer store.db.Close()
	}
	metrics.Init(store.db, logger)

	if cfg.SeedPath != "" {
		f, err := seedfile.Load(cfg.SeedPath)
		if err != nil {
			logger.Error("seed load error", "path", cfg.SeedPath, "err", err)
			os.Exit(1)
		}
		sum, err := seedfile.Apply(ctx, store.seed, f, cfg.TenantID)
		if err != nil {
			logger.Error("seed apply error", "path", cfg.SeedPath, "err", err)
			os.Exit(1)
		}
		logger.Info("seed applied", "path", cfg.SeedPath, "contracts", sum.Contracts, "sales", sum.Sales, "returns", sum.Returns, "titles", sum.Titles)
	}

	bus := eventing.NewInMemoryBus()
	registry := eventing.NewRegistry()
	eventing.Register[statementapp.StatementFinalized](registry)
	dispatcher := eventing.NewDispatcher(bus, store.outbox, registry, store.dlq, logger)
	publisher := eventing.NewPublisher(store.outbox, dispatcher, cfg.TenantID, logger)
	statementapp.SubscribeFinalizedLedger(bus, store.processed, logger)
	go dispatcher.Run(ctx, appCfg.Outbox.DispatchInterval, appCfg.Outbox.BatchSize)

	service, err := statementapp.NewStatementService(store.sources, store.repo, publisher, cfg.TenantID, appCfg, logger)
	if err != nil {
		logger.Error("statement service error", "err", err)
		os.Exit(1)
	}
	handler, err := royaltyinterfaces.NewStatementHandler(service, auth.NewContractChecker(store.sources), store.audit, appCfg.Export.CompanyName, logger)
	if err != nil {
		logger.Error("statement handler error", "err", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	handler.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if store.db != nil {
			if err := store.db.PingContext(r.Context()); err != nil {
				http.Error(w, "db unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	var root http.Handler = mux
	if cfg.JWTSecret != "" {
		policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
		authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
		authMiddleware.Logger = logger
		root = authMiddleware.Wrap(mux)
	} else {
		logger.Warn("AUTH_JWT_SECRET not set; API is unauthenticated and served as the default tenant", "tenant_id", cfg.TenantID)
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(root, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownAfter)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "err", err)
		}
	}()

	logger.Info("royalty service listening", "addr", cfg.HTTPAddr, "tenant_id", cfg.TenantID, "currency", appCfg.Currency)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server error", "err", err)
		os.Exit(1)
	}
}

func openStorage(ctx context.Context, cfg config, logger *slog.Logger) (*storage, error) {
	switch {
	case cfg.DatabaseURL != "":
		db, err := sqlstore.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := sqlstore.Migrate(ctx, db, sqlstore.Postgres); err != nil {
			db.Close()
			return nil, err
		}
		store := sqlstore.New(db, sqlstore.Postgres)
		logger.Info("storage ready", "dialect", sqlstore.Postgres.String())
		return &storage{
			db:        db,
			sources:   store,
			repo:      store,
			seed:      store,
			outbox:    eventingpg.NewOutboxStore(db, eventingpg.WithRetry(cfg.OutboxRetries)),
			processed: eventingpg.NewProcessedStore(db),
			dlq:       eventingpg.NewDLQStore(db),
			audit:     audit.NewRepository(db),
		}, nil
	case cfg.SQLitePath != "":
		db, err := sqlstore.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := sqlstore.Migrate(ctx, db, sqlstore.SQLite); err != nil {
			db.Close()
			return nil, err
		}
		outbox, err := eventingsqlite.NewOutboxStore(ctx, db)
		if err != nil {
			db.Close()
			return nil, err
		}
		processed, err := eventingsqlite.NewProcessedStore(ctx, db)
		if err != nil {
			db.Close()
			return nil, err
		}
		dlq, err := eventingsqlite.NewDLQStore(ctx, db)
		if err != nil {
			db.Close()
			return nil, err
		}
		store := sqlstore.New(db, sqlstore.SQLite)
		logger.Info("storage ready", "dialect", sqlstore.SQLite.String(), "path", cfg.SQLitePath)
		return &storage{
			db:        db,
			sources:   store,
			repo:      store,
			seed:      store,
			outbox:    outbox,
			processed: processed,
			dlq:       dlq,
			audit:     audit.NewRepositoryWith(db, audit.Question),
		}, nil
	}
	store := memory.NewStore()
	logger.Warn("no DATABASE_URL or SQLITE_PATH; statements are kept in memory")
	return &storage{
		sources:   store,
		repo:      store,
		seed:      seedfile.MemoryTarget(store),
		outbox:    eventing.NewMemoryOutbox(),
		processed: eventing.NewMemoryProcessedStore(),
		dlq:       eventing.SlogDLQ{Logger: logger},
		audit:     audit.SlogLogger{Logger: logger},
	}, nil
}

func loadConfig() config {
	return config{
		DatabaseURL:   getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		SQLitePath:    getenvDefault("SQLITE_PATH", ""),
		HTTPAddr:      getenvDefault("HTTP_ADDR", ":8080"),
		TenantID:      getenvDefault("TENANT_ID", "tenant-demo"),
		JWTSecret:     getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		Currency:      getenvDefault("CURRENCY", ""),
		ConfigPath:    getenvDefault("ROYALTY_CONFIG", ""),
		SeedPath:      getenvDefault("ROYALTY_SEED", ""),
		OutboxRetries: getenvIntDefault("OUTBOX_MAX_ATTEMPTS", 5),
		ShutdownAfter: getenvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
	}
}

func getenvDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.InfoContext(r.Context(), "http", "method", r.Method, "path", r.URL.Path, "status", resp.status, "duration", time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
