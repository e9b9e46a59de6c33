package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/auth"
	"github.com/ariefcatur/go-storefront-orders/internal/config"
	"github.com/ariefcatur/go-storefront-orders/internal/events"
	"github.com/ariefcatur/go-storefront-orders/internal/httpx"
	"github.com/ariefcatur/go-storefront-orders/internal/inventory"
	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/logger"
	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.AppEnv)
	defer logger.Sync()
	name := cfg.ServiceName + "-inventory"
	log := logger.L().With(zap.String("service", name))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if cfg.AutoMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			log.Fatal("migrate", zap.Error(err))
		}
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Producers: reserved & released (two topics)
	pReserved := kafkax.NewProducer(cfg.KafkaBrokers, events.TopicStockReserved, 1024)
	pReserved.Start(context.Background())
	pReleased := kafkax.NewProducer(cfg.KafkaBrokers, events.TopicStockReleased, 1024)
	pReleased.Start(context.Background())

	svc := &inventory.Service{
		Repo:        &inventory.Repo{DB: db},
		Redis:       rdb,
		Reserved:    pReserved,
		Released:    pReleased,
		ServiceName: name,
	}

	router := httpx.NewRouter(cfg.RequestTimeout)
	(&httpx.InventoryHandler{Service: svc}).Register(router, auth.NewVerifier(cfg.JWTSecret))
	srv := &http.Server{Addr: cfg.InventoryHTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	topics := []string{events.TopicOrderCreated, events.TopicOrderCancelled}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.InventoryGroup, topics, cfg.InventoryWorkers)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP listening", zap.String("addr", cfg.InventoryHTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info("order consumer started", zap.String("group", cfg.InventoryGroup),
			zap.Strings("topics", topics), zap.Int("workers", cfg.InventoryWorkers))
		return cons.Start(gctx, svc.HandleOrderEvent)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Error("exit", zap.Error(err))
	}

	pReserved.Close()
	pReleased.Close()
	pReserved.WaitClosed()
	pReleased.WaitClosed()
}
