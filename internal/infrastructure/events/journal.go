package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/gaveldrop/auction-backend/internal/infrastructure/config"
)

// Journal mirrors auction events onto a Kafka topic for downstream consumers
// (search indexing, analytics, audit). Publishing is asynchronous and lossy
// on shutdown pressure; the journal is never part of a transaction.
type Journal struct {
	writer *kafka.Writer
	inbox  chan kafka.Message
	logger *zap.Logger
	closed chan struct{}
}

func NewJournal(cfg *config.KafkaConfig, logger *zap.Logger) *Journal {
	return &Journal{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
		},
		inbox:  make(chan kafka.Message, 256),
		logger: logger,
		closed: make(chan struct{}),
	}
}

// Start launches the writer loop. Cancelling ctx drains the inbox before the
// writer closes.
func (j *Journal) Start(ctx context.Context) {
	go func() {
		defer close(j.closed)
		for {
			select {
			case <-ctx.Done():
				for {
					select {
					case m := <-j.inbox:
						j.write(m)
					default:
						if err := j.writer.Close(); err != nil {
							j.logger.Warn("kafka writer close failed", zap.Error(err))
						}
						return
					}
				}
			case m := <-j.inbox:
				j.write(m)
			}
		}
	}()
}

func (j *Journal) write(m kafka.Message) {
	if err := j.writer.WriteMessages(context.Background(), m); err != nil {
		j.logger.Warn("kafka publish failed",
			zap.String("key", string(m.Key)), zap.Error(err))
	}
}

// Publish enqueues an event keyed by the auction id. A full inbox drops the
// event rather than blocking the caller.
func (j *Journal) Publish(key string, event any) {
	value, err := json.Marshal(event)
	if err != nil {
		j.logger.Warn("event marshal failed", zap.String("key", key), zap.Error(err))
		return
	}

	select {
	case j.inbox <- kafka.Message{Key: []byte(key), Value: value, Time: time.Now()}:
	default:
		j.logger.Warn("event journal inbox full, dropping event", zap.String("key", key))
	}
}

// Emit adapts Publish to the notification fan-out contract, wrapping the
// payload in a journal envelope keyed by auction id
func (j *Journal) Emit(eventType string, auctionID uuid.UUID, data map[string]any) {
	j.Publish(auctionID.String(), journalEnvelope{
		ID:         uuid.New().String(),
		Type:       eventType,
		AuctionID:  auctionID.String(),
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
}

type journalEnvelope struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	AuctionID  string         `json:"auction_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

// WaitClosed blocks until the writer loop has exited
func (j *Journal) WaitClosed() {
	<-j.closed
}
