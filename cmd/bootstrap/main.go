package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"revision-engine/internal/application/bootstrap"
	"revision-engine/internal/config"
	"revision-engine/internal/infrastructure/persistence/postgres"
	"revision-engine/internal/wire"
	"revision-engine/pkg/logger"
	"revision-engine/pkg/metrics"
	"revision-engine/pkg/tracer"
)

func main() {
	_ = godotenv.Load()

	fmt.Println("Starting revision bootstrap...")

	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName: cfg.App.Name,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if mc := cfg.Observability.Metrics; mc.Enabled {
		srv := metrics.NewServer(mc.Port, mc.Path)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error(ctx, "metrics server stopped", err)
			}
		}()
		defer func() { _ = srv.Shutdown(context.Background()) }()
		logger.Info(ctx, "metrics exposed", "addr", srv.Addr, "path", mc.Path)
	}

	// 2. 初始化数据层（仅 PostgreSQL）
	dataLayer, cleanup, err := wire.InitializePostgresOnly(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize data layer: %v", err)
	}
	defer cleanup()

	if err := dataLayer.PgClient.HealthCheck(ctx); err != nil {
		log.Fatalf("database not ready: %v", err)
	}

	// 3. 确保修订相关表存在
	if err := postgres.Migrate(ctx, dataLayer.PgClient); err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}

	// 4. 为存量行建立初始修订
	bc := cfg.Revisioning.Bootstrap
	targets := make([]bootstrap.Target, 0, len(bc.Tables))
	for _, t := range bc.Tables {
		targets = append(targets, bootstrap.Target{
			EntityType: t.EntityType,
			Table:      t.Table,
			PrimaryKey: t.PrimaryKey,
		})
	}
	if len(targets) == 0 {
		fmt.Println("No tables configured, nothing to do.")
		return
	}

	initializer := bootstrap.NewInitializer(dataLayer.Revisions, dataLayer.Records, bc.BatchSize, bc.Concurrency)
	reports, err := initializer.Run(ctx, targets)
	for _, r := range reports {
		if r.Table == "" {
			continue
		}
		fmt.Printf("%s: %d revisions started, %d rows already revisioned\n", r.Table, r.Started, r.Skipped)
	}
	if err != nil {
		logger.Error(ctx, "bootstrap failed", err)
		log.Fatalf("bootstrap failed: %v", err)
	}

	fmt.Println("Bootstrap completed successfully.")
}
