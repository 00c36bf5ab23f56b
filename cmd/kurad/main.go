// kurad is the kura write-with-proof daemon.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jonzim-cmd/kura-training-sub000/pkg/advisory"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/attest"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/autonomy"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/config"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/confirm"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/event"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/kernel"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/observability"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/replaycache"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/store"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/telemetry"

	_ "github.com/lib/pq" // Postgres driver
	_ "modernc.org/sqlite"
)

func main() {
	if err := run(); err != nil {
		slog.Error("kurad exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	initLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obsCfg := observability.DefaultConfig()
	obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	obsCfg.Enabled = cfg.OTelEnabled
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	events, projections, prefs, cleanup, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	var replay replaycache.Cache
	if cfg.RedisAddr != "" {
		replay = replaycache.NewRedis(cfg.RedisAddr, "", 0)
		slog.Info("replay cache: redis", "addr", cfg.RedisAddr)
	} else {
		replay = replaycache.NewMemory()
		slog.Info("replay cache: in-memory")
	}

	verifier := attest.NewVerifier([]byte(cfg.AttestationSecret), cfg.AttestationFreshness, replay)
	resolver := attest.NewResolver(verifier, nil, cfg.RuntimeModel)

	overrides, err := autonomy.NewOverrideSet()
	if err != nil {
		return fmt.Errorf("init overrides: %w", err)
	}
	for _, rule := range defaultOverrides() {
		if err := overrides.Add(rule); err != nil {
			return fmt.Errorf("install override %q: %w", rule.Name, err)
		}
	}

	k := kernel.New(kernel.Deps{
		Registry:     event.DefaultRegistry(),
		Events:       events,
		Projections:  projections,
		Preferences:  prefs,
		Resolver:     resolver,
		Tiers:        autonomy.NewTierTracker(autonomy.DefaultTierConfig()),
		Overrides:    overrides,
		Confirmation: confirm.NewProtocol([]byte(cfg.ConfirmationSecret), cfg.ConfirmationWindow, replay),
		Tuning:       advisory.DefaultTuning(),
		Telemetry:    telemetry.NewEmitter(telemetry.NewLogSink(slog.Default()), []byte(cfg.TelemetrySalt), cfg.TelemetryPerSecond),
		Obs:          obs,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newHandler(k),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("kurad listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func initLogger(level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}

// openStores selects Postgres when DATABASE_URL is set, SQLite otherwise.
func openStores(cfg *config.Config) (store.EventStore, store.ProjectionStore, store.PreferenceStore, func(), error) {
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, nil, nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		s := store.NewPostgresStore(db)
		slog.Info("store: postgres")
		return s, s, s, func() { db.Close() }, nil
	}

	db, err := sql.Open("sqlite", cfg.SQLitePath)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open sqlite: %w", err)
	}
	s, err := store.NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, nil, nil, nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	slog.Info("store: sqlite", "path", cfg.SQLitePath)
	return s, s, s, func() { db.Close() }, nil
}

// defaultOverrides ships the operator rules enabled out of the box.
func defaultOverrides() []autonomy.OverrideRule {
	return []autonomy.OverrideRule{
		{
			Name:     "unattested-bulk-import",
			Expr:     `!attested && event_types.exists(t, t == "history.imported")`,
			Decision: autonomy.DecisionConfirmFirst,
		},
		{
			Name:     "degraded-retroactive",
			Expr:     `integrity_slo == "degraded" && scope == "retroactive"`,
			Decision: autonomy.DecisionBlock,
		},
	}
}
