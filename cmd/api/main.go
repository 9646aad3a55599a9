package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/ticketrush/orderflow/internal/adapters/crdb"
	mongoadapter "github.com/ticketrush/orderflow/internal/adapters/mongo"
	redisadapter "github.com/ticketrush/orderflow/internal/adapters/redis"
	"github.com/ticketrush/orderflow/internal/clock"
	"github.com/ticketrush/orderflow/internal/config"
	httphandler "github.com/ticketrush/orderflow/internal/http"
	"github.com/ticketrush/orderflow/internal/idempotency"
	"github.com/ticketrush/orderflow/internal/observability"
	"github.com/ticketrush/orderflow/internal/order"
	"github.com/ticketrush/orderflow/internal/payment"
	"github.com/ticketrush/orderflow/internal/ratelimit"
	"github.com/ticketrush/orderflow/internal/reservation"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	if err := crdb.EnsureSchema(context.Background(), pool); err != nil {
		log.Fatalf("failed to ensure schema: %v", err)
	}
	repo := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database("orderflow")
	catalog := mongoadapter.NewCatalogRepository(mongoDB, logger)
	audit := mongoadapter.NewAuditLogger(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	cache := redisadapter.NewCache(redisClient)
	idemp := idempotency.NewIdempotency(redisClient, cfg.IdempotencyTTL)
	rl := ratelimit.NewRateLimiter(cache)

	clk := clock.NewSystem()
	holds := reservation.NewManager(repo, repo, clk)
	gateway := payment.NewMockGateway(cfg.PaymentDeclineRate, cfg.PaymentErrorRate, time.Now().UnixNano())
	orders := order.NewService(repo, repo, holds, gateway, repo, clk, cfg.HoldTTL, logger)

	handlers := httphandler.NewHandlers(cfg, orders, repo, repo, catalog, cache, idemp, audit, logger)
	r := httphandler.SetupRouter(handlers, logger, rl)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown Server ...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Fatalf("server: %v", err)
	}
	logger.Info("Server exiting")
}
