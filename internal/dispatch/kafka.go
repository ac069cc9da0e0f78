package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"gatewarden/internal/domain"
	"gatewarden/internal/platform/config"
)

// KafkaSink mirrors the dashboard stream onto a Kafka topic for the command
// center's downstream consumers. It is just another subscriber: a broker
// outage can drop events from the mirror but never slows the gate path.
type KafkaSink struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// NewKafkaSink connects to the brokers and ensures the topic exists.
func NewKafkaSink(ctx context.Context, cfg config.KafkaConfig, logger *slog.Logger) (*KafkaSink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}

	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopic(ctx, 1, 1, nil, cfg.Topic)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ensure topic %q: %w", cfg.Topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		client.Close()
		return nil, fmt.Errorf("ensure topic %q: %w", cfg.Topic, resp.Err)
	}

	return &KafkaSink{client: client, topic: cfg.Topic, logger: logger}, nil
}

// Run consumes the subscriber until ctx is done. Produce failures are
// logged and dropped; the mirror is best effort.
func (k *KafkaSink) Run(ctx context.Context, sub *Subscriber) {
	for {
		event, ok := sub.Next(ctx)
		if !ok {
			return
		}
		if event.Kind == domain.EventMissed {
			// Subscriber-local gap marker, meaningless to topic consumers.
			continue
		}
		payload, err := json.Marshal(event)
		if err != nil {
			k.logger.ErrorContext(ctx, "encode stream event", "seq", event.Seq, "error", err)
			continue
		}
		record := &kgo.Record{
			Key:   []byte(strconv.FormatUint(event.Seq, 10)),
			Value: payload,
		}
		k.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
			if err != nil {
				k.logger.Error("kafka produce failed", "seq", event.Seq, "error", err)
			}
		})
	}
}

// Close flushes and releases the producer.
func (k *KafkaSink) Close(ctx context.Context) {
	if err := k.client.Flush(ctx); err != nil {
		k.logger.Error("kafka flush on shutdown", "error", err)
	}
	k.client.Close()
}
