package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ticketrush/orderflow/internal/adapters/crdb"
	"github.com/ticketrush/orderflow/internal/clock"
	"github.com/ticketrush/orderflow/internal/config"
	"github.com/ticketrush/orderflow/internal/observability"
	"github.com/ticketrush/orderflow/internal/order"
	"github.com/ticketrush/orderflow/internal/payment"
	"github.com/ticketrush/orderflow/internal/reservation"
	"github.com/ticketrush/orderflow/internal/sweeper"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

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

	clk := clock.NewSystem()
	holds := reservation.NewManager(repo, repo, clk)

	// The sweeper never charges anyone; the gateway wired here exists
	// only because the order service requires one, and its order-expiry
	// path never reaches it.
	gateway := payment.NewMockGateway(0, 0, time.Now().UnixNano())
	orders := order.NewService(repo, repo, holds, gateway, repo, clk, cfg.HoldTTL, logger)

	sw := sweeper.New(repo, holds, orders, clk, cfg.SweepInterval, cfg.SweepBatchSize, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sw.Run(ctx)
	logger.Info("Expiry sweeper started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown expiry sweeper")
}
