package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/auth"
	"github.com/ariefcatur/go-storefront-orders/internal/cart"
	"github.com/ariefcatur/go-storefront-orders/internal/config"
	"github.com/ariefcatur/go-storefront-orders/internal/events"
	"github.com/ariefcatur/go-storefront-orders/internal/httpx"
	"github.com/ariefcatur/go-storefront-orders/internal/inventory"
	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/logger"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.AppEnv)
	defer logger.Sync()
	log := logger.L().With(zap.String("service", cfg.ServiceName))

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

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

	// Kafka producers; closed explicitly after the HTTP server drains
	prodCreated := kafkax.NewProducer(cfg.KafkaBrokers, events.TopicOrderCreated, 1024)
	prodCreated.Start(context.Background())
	prodCancelled := kafkax.NewProducer(cfg.KafkaBrokers, events.TopicOrderCancelled, 256)
	prodCancelled.Start(context.Background())

	attempt := cfg.RequestTimeout / time.Duration(cfg.InventoryRetries+1)
	invClient := inventory.NewClient(cfg.InventoryURL, attempt, cfg.InventoryRetries)
	repo := &orders.Repo{DB: db}
	carts := cart.NewStore(rdb)

	svc := &orders.Service{
		Store:  repo,
		Carts:  carts,
		Ledger: invClient,
		Pricing: orders.Pricing{
			TaxRate:          cfg.TaxRate,
			FlatShipping:     cfg.ShippingFlat,
			FreeShippingOver: cfg.FreeShippingOver,
		},
		Journal:     &orders.RedisJournal{Redis: rdb},
		Created:     prodCreated,
		Cancelled:   prodCancelled,
		ServiceName: cfg.ServiceName,
		Timeout:     cfg.RequestTimeout,
		FailOpen:    cfg.InventoryFailOpen,
	}
	if cfg.InventoryFailOpen {
		log.Warn("INVENTORY_FAIL_OPEN is set: orders may be placed without a stock reservation")
	}

	reconciler := &orders.Reconciler{
		Inventory: invClient,
		Orders:    repo,
		After:     cfg.ReconcileAfter,
		Interval:  cfg.ReconcileInterval,
	}

	verifier := auth.NewVerifier(cfg.JWTSecret)
	limiter := httpx.NewUserLimiter(cfg.OrderRateLimit, cfg.OrderRateBurst)
	router := httpx.NewRouter(2 * cfg.RequestTimeout)
	(&httpx.OrdersHandler{
		Service: svc,
		Redis:   rdb,
		Limiter: limiter,
	}).Register(router, verifier)
	(&httpx.CartHandler{Carts: carts}).Register(router, verifier)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return reconciler.Run(gctx)
	})
	g.Go(func() error {
		return limiter.Run(gctx, time.Minute, 3*time.Minute)
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

	prodCreated.Close()
	prodCancelled.Close()
	prodCreated.WaitClosed()
	prodCancelled.WaitClosed()
}
