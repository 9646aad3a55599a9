package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/ticketrush/orderflow/internal/adapters/rabbit"
	"github.com/ticketrush/orderflow/internal/config"
	"github.com/ticketrush/orderflow/internal/notify"
	"github.com/ticketrush/orderflow/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := observability.NewLogger()

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()

	consumer, err := rabbit.NewConsumer(conn, "notifications.q", "order.paid", "order.cancelled", "order.expired")
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		log.Fatalf("failed to consume: %v", err)
	}

	mailer := notify.NewLogMailer(logger)
	go run(ctx, deliveries, mailer, logger)
	logger.Info("Notifier started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown notifier")
}

func run(ctx context.Context, deliveries <-chan amqp.Delivery, mailer notify.Mailer, logger observability.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			var payload struct {
				OrderID string  `json:"order_id"`
				BuyerID string  `json:"buyer_id"`
				Reason  string  `json:"reason"`
				Amount  float64 `json:"amount"`
			}
			if err := json.Unmarshal(d.Body, &payload); err != nil {
				logger.Error("bad event payload: ", err)
				d.Nack(false, false)
				continue
			}
			msg := notify.Compose(d.RoutingKey, payload.OrderID, payload.BuyerID, payload.Amount, payload.Reason)
			if err := mailer.Send(ctx, msg); err != nil {
				logger.Error("send failed: ", err)
				d.Nack(false, true)
				continue
			}
			d.Ack(false)
		}
	}
}
