// Command adsentryd is the thin process wiring every pkg/... component
// together, grounded on apps/helm-node/main.go's Run(args, stdout,
// stderr) int dispatcher and its sequential, one-line-per-subsystem
// bring-up log. It is deliberately not a full HTTP service: routing
// beyond a health check, a programmatic JSON upload endpoint, and a
// handful of read/settings endpoints needed to exercise the rest of
// pkg/store is out of scope (spec.md §1/§6) — the engine lives in
// pkg/..., this binary only proves it runs as a real process.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // Postgres driver

	"github.com/Mindburn-Labs/adsentry/pkg/artifacts"
	"github.com/Mindburn-Labs/adsentry/pkg/audit"
	"github.com/Mindburn-Labs/adsentry/pkg/cache"
	"github.com/Mindburn-Labs/adsentry/pkg/config"
	"github.com/Mindburn-Labs/adsentry/pkg/health"
	"github.com/Mindburn-Labs/adsentry/pkg/migrate"
	"github.com/Mindburn-Labs/adsentry/pkg/observability"
	"github.com/Mindburn-Labs/adsentry/pkg/parser"
	"github.com/Mindburn-Labs/adsentry/pkg/parser/configaudit"
	"github.com/Mindburn-Labs/adsentry/pkg/parser/domaingroup"
	"github.com/Mindburn-Labs/adsentry/pkg/parser/pkiaudit"
	"github.com/Mindburn-Labs/adsentry/pkg/riskservice"
	"github.com/Mindburn-Labs/adsentry/pkg/store"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches on args[1] the way apps/helm-node/main.go's Run does:
// no subcommand (or an unrecognized one) starts the server.
func Run(args []string, stdout, stderr io.Writer) int {
	cfg := config.Load()

	sub := "serve"
	if len(args) > 1 {
		sub = args[1]
	}

	switch sub {
	case "migrate":
		return runMigrate(cfg, stdout, stderr)
	case "health":
		return runHealth(cfg, stdout, stderr)
	case "help", "--help", "-h":
		fmt.Fprintln(stdout, "usage: adsentryd [serve|migrate|health]")
		return 0
	default:
		return runServer(cfg, stdout, stderr)
	}
}

func runMigrate(cfg *config.Config, stdout, stderr io.Writer) int {
	ctx := context.Background()
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintln(stderr, "open database:", err)
		return 1
	}
	defer db.Close()

	m := migrate.New(db)
	if cfg.MigrationsDir != "" {
		m = m.WithDir(cfg.MigrationsDir)
	}

	res, err := m.Apply(ctx)
	for _, msg := range res.Messages {
		fmt.Fprintln(stdout, msg)
	}
	if err != nil {
		fmt.Fprintln(stderr, "migration failed:", err)
		return 1
	}
	fmt.Fprintf(stdout, "applied %d migration(s)\n", res.Applied)
	return 0
}

func runHealth(cfg *config.Config, stdout, stderr io.Writer) int {
	ctx := context.Background()
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintln(stderr, "open database:", err)
		return 1
	}
	defer db.Close()

	report := health.New(db).RunFull(ctx)
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		fmt.Fprintln(stderr, "encode health report:", err)
		return 1
	}
	if report.OverallStatus == health.StatusUnhealthy {
		return 1
	}
	return 0
}

func runServer(cfg *config.Config, stdout, stderr io.Writer) int {
	logger := slog.New(slog.NewJSONHandler(stdout, nil))
	ctx := context.Background()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.New(stderr, "", log.LstdFlags).Println("open database:", err)
		return 1
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.New(stderr, "", log.LstdFlags).Println("ping database:", err)
		return 1
	}
	fmt.Fprintln(stdout, "database connected")

	m := migrate.New(db)
	if cfg.MigrationsDir != "" {
		m = m.WithDir(cfg.MigrationsDir)
	}
	if res, err := m.Apply(ctx); err != nil {
		log.New(stderr, "", log.LstdFlags).Println("WARNING: apply migrations failed, starting in degraded mode:", err)
	} else if res.Applied > 0 {
		fmt.Fprintf(stdout, "applied %d pending migration(s)\n", res.Applied)
	}

	st := store.New(db)

	registry := parser.NewRegistry()
	registry.Register(configaudit.New())
	registry.Register(pkiaudit.New())
	registry.Register(domaingroup.New())
	fmt.Fprintln(stdout, "parser registry ready")

	c := cache.New(
		cache.WithTTL(time.Duration(cfg.CacheTTLSeconds)*time.Second),
		cache.WithMaxEntries(cfg.CacheMaxEntries),
	)
	fmt.Fprintln(stdout, "cache ready")

	overrides, err := config.LoadGroupProfileOverrides(os.Getenv("GROUP_PROFILE_FILE"))
	if err != nil {
		log.New(stderr, "", log.LstdFlags).Println("load group profile overrides:", err)
		return 1
	}

	recorder := audit.New(st)
	svc := riskservice.New(st, c, recorder, riskservice.WithGroupProfileOverrides(overrides))
	fmt.Fprintln(stdout, "risk service ready")

	artifactStore, err := artifacts.NewFromConfig(ctx, cfg)
	if err != nil {
		log.New(stderr, "", log.LstdFlags).Println("build artifact store:", err)
		return 1
	}
	fmt.Fprintf(stdout, "artifact store ready (%s)\n", cfg.ArtifactBackend)

	provider, err := observability.New("adsentryd")
	if err != nil {
		log.New(stderr, "", log.LstdFlags).Println("build observability provider:", err)
		return 1
	}
	fmt.Fprintln(stdout, "observability ready")

	checker := health.New(db)

	srv := &server{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		registry:  registry,
		riskSvc:   svc,
		checker:   checker,
		artifacts: artifactStore,
		obs:       provider,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", srv.handleHealth)
	mux.HandleFunc("/upload", srv.handleUpload)
	mux.HandleFunc("/dashboard", srv.handleDashboard)
	mux.HandleFunc("/risk-catalog", srv.handleRiskCatalog)
	mux.HandleFunc("/settings", srv.handleSettings)

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(stdout, "listening on :%s\n", cfg.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.New(stderr, "", log.LstdFlags).Println("http server error:", err)
		return 1
	case sig := <-sigCh:
		fmt.Fprintf(stdout, "received %s, shutting down\n", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.New(stderr, "", log.LstdFlags).Println("graceful shutdown:", err)
		return 1
	}
	return 0
}
