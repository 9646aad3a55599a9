// Package outbox drains committed order events to the message broker.
// Publishing is at-least-once; consumers dedupe on the message id.
package outbox

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/ticketrush/orderflow/internal/adapters/crdb"
	"github.com/ticketrush/orderflow/internal/adapters/rabbit"
	"github.com/ticketrush/orderflow/internal/observability"
)

type Publisher struct {
	repo      *crdb.Repository
	rabbitPub *rabbit.Publisher
	logger    observability.Logger
	interval  time.Duration
	batch     int
}

func NewPublisher(repo *crdb.Repository, rabbitPub *rabbit.Publisher, logger observability.Logger) *Publisher {
	return &Publisher{
		repo:      repo,
		rabbitPub: rabbitPub,
		logger:    logger,
		interval:  5 * time.Second,
		batch:     50,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.drain(ctx); err != nil {
				p.logger.Error("outbox drain failed: ", err)
			}
		}
	}
}

func (p *Publisher) drain(ctx context.Context) error {
	records, err := p.repo.GetUnpublishedOutbox(ctx, p.batch)
	if err != nil {
		return err
	}

	for _, rec := range records {
		msg := amqp.Publishing{
			MessageId:   rec.DedupeKey,
			ContentType: "application/json",
			Body:        rec.Payload,
		}
		if err := p.rabbitPub.Publish(ctx, rec.EventType, msg); err != nil {
			p.logger.WithField("outbox_id", rec.ID.String()).Error("publish failed: ", err)
			continue
		}
		if err := p.repo.MarkPublished(ctx, rec.ID, time.Now()); err != nil {
			p.logger.WithField("outbox_id", rec.ID.String()).Error("mark published failed: ", err)
		}
	}

	if lag, err := p.repo.OldestUnpublishedAge(ctx, time.Now()); err == nil {
		observability.OutboxLag.Set(lag.Seconds())
	}
	return nil
}
