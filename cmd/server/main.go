package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/flowforge/flowexec/internal/adminauth"
	"github.com/flowforge/flowexec/internal/dbio"
	"github.com/flowforge/flowexec/internal/dispatch"
	"github.com/flowforge/flowexec/internal/exprlang"
	"github.com/flowforge/flowexec/internal/fconfig"
	"github.com/flowforge/flowexec/internal/fileio"
	"github.com/flowforge/flowexec/internal/flogger"
	"github.com/flowforge/flowexec/internal/flow"
	"github.com/flowforge/flowexec/internal/fmetrics"
	"github.com/flowforge/flowexec/internal/httpclient"
	"github.com/flowforge/flowexec/internal/manager"
	"github.com/flowforge/flowexec/internal/nodes"
	"github.com/flowforge/flowexec/internal/sandboxjs"
	"github.com/flowforge/flowexec/internal/store"
)

func main() {
	cfg, err := fconfig.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	baseLogger := flogger.Init(cfg.App.Environment, cfg.App.Debug)
	baseLogger.Info().Str("env", cfg.App.Environment).Msg("starting flowexec dispatch server")

	apiStore, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open published api store")
	}

	deps := buildDependencies(cfg)
	registry := nodes.NewRegistry()

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	metrics := fmetrics.New(reg)

	builder := func(ctx context.Context, apiID string) (*flow.FlowExecutor, error) {
		api, err := apiStore.GetByID(ctx, apiID)
		if err != nil {
			return nil, err
		}
		def, err := flow.ParseDefinition([]byte(api.FlowDefinition))
		if err != nil {
			return nil, fmt.Errorf("cmd/server: parsing flow definition for %s: %w", apiID, err)
		}
		return flow.New(def, registry, deps, flow.WithMetrics(metrics))
	}

	mgrCfg := manager.Config{
		MaxActiveWorkers: cfg.Worker.MaxActiveWorkers,
		InactiveTTL:      time.Duration(cfg.Worker.InactiveTTLHours * float64(time.Hour)),
		CleanupInterval:  time.Duration(cfg.Worker.CleanupMinutes * float64(time.Minute)),
		StatsInterval:    time.Duration(cfg.Worker.StatsMinutes * float64(time.Minute)),
	}
	mgr, err := manager.New(mgrCfg, builder, baseLogger, reg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start worker manager")
	}

	adminChecker := adminauth.New(cfg.Admin.JWTSecret)
	gateway := dispatch.New(apiStore, mgr, registry, adminChecker, baseLogger, metrics, cfg.Dispatch.DefaultTimeout)

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(chimiddleware.Timeout(60 * time.Second))

	allowedOrigins := strings.Split(cfg.Server.FrontendURL, ",")
	for i := range allowedOrigins {
		allowedOrigins[i] = strings.TrimSpace(allowedOrigins[i])
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Execution-ID", "X-Execution-Time", "X-API-Version"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	router.Use(corsHandler.Handler)

	router.Mount("/execute", gateway.Routes())
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		baseLogger.Info().Str("addr", httpServer.Addr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	baseLogger.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mgr.Shutdown(ctx)
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
	baseLogger.Info().Msg("stopped")
}

func openStore(cfg *fconfig.Config) (store.PublishedAPIStore, error) {
	if cfg.Database.DSN == "" {
		return store.NewInMemoryStore(), nil
	}
	return store.NewGormStore(cfg.Database.DSN)
}

func buildDependencies(cfg *fconfig.Config) *nodes.Dependencies {
	var db nodes.DatabaseHandle
	if cfg.Database.DSN != "" {
		if h, err := dbio.NewSQLHandle(cfg.Database.Driver, cfg.Database.DSN, cfg.Database.AllowedTables); err == nil {
			db = h
		} else {
			log.Warn().Err(err).Msg("database handle unavailable, table_reader/table_writer/custom_sql will fail until configured")
		}
	}

	files := fileio.New(nil, "", "", "")
	client := httpclient.New(30 * time.Second)
	evaluator := exprlang.New()
	sandbox := sandboxjs.New(sandboxjs.DefaultConfig())

	return &nodes.Dependencies{
		DB:      db,
		Files:   files,
		HTTP:    client,
		SMTP:    nil,
		Expr:    evaluator,
		Sandbox: sandbox,
	}
}
