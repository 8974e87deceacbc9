package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/couchcryptid/outbreak-tracker/internal/config"
	"github.com/couchcryptid/outbreak-tracker/internal/domain"
	"github.com/couchcryptid/outbreak-tracker/internal/observability"
	kafkago "github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafkago.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// SnapshotEntry is the message body for one ranked region.
type SnapshotEntry struct {
	Rank      int              `json:"rank"`
	Code      string           `json:"code"`
	Name      string           `json:"name"`
	Latitude  float64          `json:"latitude"`
	Longitude float64          `json:"longitude"`
	Metrics   domain.MetricSet `json:"metrics"`
	FetchedAt time.Time        `json:"fetched_at"`
}

// Publisher writes the ranked table of every applied dataset to a Kafka
// topic. It implements tracker.SnapshotSink.
type Publisher struct {
	writer  messageWriter
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewPublisher creates a Kafka producer for the configured snapshot topic.
func NewPublisher(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaSnapshotTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Publisher{writer: w, metrics: metrics, logger: logger}
}

// PublishDataset sends one message per ranked region in a single
// WriteMessages call, keyed by region code so a region's history stays on
// one partition.
func (p *Publisher) PublishDataset(ctx context.Context, ds domain.Dataset) error {
	if len(ds.Ranked) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(ds.Ranked))
	for i, r := range ds.Ranked {
		msg, err := serializeToMessage(i+1, r, ds.FetchedAt)
		if err != nil {
			p.metrics.SnapshotErrors.Inc()
			return err
		}
		msgs[i] = msg
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.metrics.SnapshotErrors.Inc()
		return fmt.Errorf("publish snapshot: %w", err)
	}
	p.metrics.SnapshotMessages.Add(float64(len(msgs)))
	p.logger.Debug("snapshot published", "messages", len(msgs))
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals one ranked region into a Kafka message.
// Regions without an ISO code are keyed by name.
func serializeToMessage(rank int, r domain.RegionSummary, fetchedAt time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(SnapshotEntry{
		Rank:      rank,
		Code:      r.Code,
		Name:      r.Name,
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
		Metrics:   r.Metrics,
		FetchedAt: fetchedAt,
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize snapshot entry: %w", err)
	}
	key := r.Code
	if key == "" {
		key = r.Name
	}
	return kafkago.Message{
		Key:   []byte(key),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "rank", Value: []byte(strconv.Itoa(rank))},
			{Key: "fetched_at", Value: []byte(fetchedAt.Format(time.RFC3339))},
		},
	}, nil
}
