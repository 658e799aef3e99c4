package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sms-auth-service/internal/bucketing"
	"sms-auth-service/internal/client"
	"sms-auth-service/internal/config"
	"sms-auth-service/internal/models"
	"sms-auth-service/internal/util"
)

// Recorder persists security events. Recording is best effort and must
// never block or fail an auth flow.
type Recorder interface {
	Record(ctx context.Context, event models.SecurityEvent)
}

// Noop discards every event. Used in tests and when all sinks are off.
type Noop struct{}

func (Noop) Record(ctx context.Context, event models.SecurityEvent) {}

// MultiRecorder fans each event out to the configured sinks: the Kafka
// audit topic, the ClickHouse analytics table and the Elasticsearch
// search index. Any sink may be nil.
type MultiRecorder struct {
	kafka      *client.KafkaProducer
	clickhouse *client.ClickHouseClient
	es         *client.ESClient
	buckets    *bucketing.Manager
	topic      string
	index      string
	timeout    time.Duration
}

func NewMultiRecorder(cfg *config.Config, kafka *client.KafkaProducer, ch *client.ClickHouseClient, es *client.ESClient, buckets *bucketing.Manager) *MultiRecorder {
	return &MultiRecorder{
		kafka:      kafka,
		clickhouse: ch,
		es:         es,
		buckets:    buckets,
		topic:      cfg.Kafka.Topic,
		index:      cfg.Elasticsearch.Index,
		timeout:    10 * time.Second,
	}
}

// Record completes the event and writes it to every sink in the
// background. The caller's context is not reused so request
// cancellation cannot drop audit records.
func (r *MultiRecorder) Record(ctx context.Context, event models.SecurityEvent) {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.EventTime.IsZero() {
		event.EventTime = time.Now().UTC()
	}
	event.EventBucket = r.buckets.EventBucket(event.EventID)

	go r.fanOut(event)
}

func (r *MultiRecorder) fanOut(event models.SecurityEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	if r.kafka != nil {
		g.Go(func() error {
			payload, err := json.Marshal(event)
			if err != nil {
				return fmt.Errorf("marshal event: %w", err)
			}
			return r.kafka.ProduceMessage(ctx, r.topic, []byte(event.UserID), payload, map[string]string{
				"event_type": event.EventType,
			})
		})
	}

	if r.clickhouse != nil {
		g.Go(func() error {
			return r.clickhouse.Exec(ctx, `
                INSERT INTO security_events (
                    event_bucket, event_id, event_type, event_time,
                    user_id, phone_hash, ip_address, details
                ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				event.EventBucket, event.EventID, event.EventType, event.EventTime,
				event.UserID, event.PhoneHash, event.IPAddress, event.Details)
		})
	}

	if r.es != nil {
		g.Go(func() error {
			// Daily indices keep retention a matter of dropping old ones.
			index := r.index + "-" + r.buckets.DateBucket()
			res, err := r.es.IndexDocument(ctx, index, event.EventID, event)
			if err != nil {
				return err
			}
			defer res.Body.Close()
			if res.IsError() {
				return fmt.Errorf("elasticsearch index failed: %s", res.Status())
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		util.Error("failed to record security event",
			zap.String("event_id", event.EventID),
			zap.String("event_type", event.EventType),
			zap.Error(err))
	}
}
