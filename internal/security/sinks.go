package security

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"visitgate/internal/client"
	"visitgate/internal/models"
	"visitgate/internal/util"
)

// LogSink writes events to the service log. It is always wired so
// security events are observable even with no external sinks
// configured.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(_ context.Context, event models.SecurityEvent) error {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
		zap.String("severity", event.Severity),
		zap.String("identity", event.Identity),
		zap.Time("event_time", event.Timestamp),
	}
	if event.Path != "" {
		fields = append(fields, zap.String("path", event.Path))
	}
	if len(event.Details) > 0 {
		fields = append(fields, zap.Any("details", event.Details))
	}

	switch event.Severity {
	case models.SeverityCritical:
		s.logger.Error(event.Message, fields...)
	case models.SeverityWarning:
		s.logger.Warn(event.Message, fields...)
	default:
		s.logger.Info(event.Message, fields...)
	}
	return nil
}

func (s *LogSink) Close() error { return nil }

// KafkaSink publishes events as JSON to the security-events topic,
// keyed by identity so per-identity ordering survives partitioning.
type KafkaSink struct {
	producer *client.KafkaProducer
	topic    string
}

func NewKafkaSink(producer *client.KafkaProducer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Write(ctx context.Context, event models.SecurityEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode security event: %w", err)
	}
	return s.producer.ProduceMessage(ctx, s.topic, []byte(event.Identity), payload, map[string]string{
		"event_type": event.Type,
	})
}

func (s *KafkaSink) Close() error { return nil }

// ClickHouseSink archives events in batches. Rows buffer in memory and
// flush by size or age; a crash loses at most one buffer of events,
// which best-effort delivery permits.
type ClickHouseSink struct {
	ch        *client.ClickHouseClient
	table     string
	flushSize int

	mu     sync.Mutex
	rows   [][]interface{}
	ticker *time.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

const (
	chFlushSize     = 100
	chFlushInterval = 10 * time.Second
)

func NewClickHouseSink(ch *client.ClickHouseClient, table string) *ClickHouseSink {
	s := &ClickHouseSink{
		ch:        ch,
		table:     table,
		flushSize: chFlushSize,
		ticker:    time.NewTicker(chFlushInterval),
		done:      make(chan struct{}),
	}
	s.wg.Add(1)
	go s.flushLoop()
	return s
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

// EnsureSchema creates the events table if it does not exist. Run once
// at startup so a fresh ClickHouse instance works out of the box.
func (s *ClickHouseSink) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id String,
		event_type LowCardinality(String),
		severity LowCardinality(String),
		message String,
		identity String,
		path String,
		event_time DateTime64(3),
		details String
	) ENGINE = MergeTree()
	PARTITION BY toYYYYMM(event_time)
	ORDER BY (event_type, event_time)
	TTL toDateTime(event_time) + INTERVAL 90 DAY`, s.table)

	if err := s.ch.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create events table: %w", err)
	}
	return nil
}

func (s *ClickHouseSink) Write(_ context.Context, event models.SecurityEvent) error {
	details := ""
	if len(event.Details) > 0 {
		if encoded, err := json.Marshal(event.Details); err == nil {
			details = string(encoded)
		}
	}

	s.mu.Lock()
	s.rows = append(s.rows, []interface{}{
		event.ID,
		event.Type,
		event.Severity,
		event.Message,
		event.Identity,
		event.Path,
		event.Timestamp,
		details,
	})
	shouldFlush := len(s.rows) >= s.flushSize
	s.mu.Unlock()

	if shouldFlush {
		s.flush()
	}
	return nil
}

func (s *ClickHouseSink) Close() error {
	s.once.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
	s.ticker.Stop()
	s.flush()
	return nil
}

func (s *ClickHouseSink) flushLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ticker.C:
			s.flush()
		case <-s.done:
			return
		}
	}
}

func (s *ClickHouseSink) flush() {
	s.mu.Lock()
	if len(s.rows) == 0 {
		s.mu.Unlock()
		return
	}
	rows := s.rows
	s.rows = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	query := fmt.Sprintf(
		"INSERT INTO %s (id, event_type, severity, message, identity, path, event_time, details)",
		s.table)
	if err := s.ch.BatchInsert(ctx, query, rows); err != nil {
		util.Warn("Failed to archive security events",
			util.Int("event_count", len(rows)),
			util.ErrorField(err))
	}
}
