package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// LogSink writes events to a zap logger.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log.Named("audit")}
}

func (s *LogSink) Write(_ context.Context, e Event) error {
	fields := []zap.Field{
		zap.String("type", e.Type),
		zap.Time("ts", e.At),
	}
	if e.ParticipantID != "" {
		fields = append(fields, zap.String("participant_id", e.ParticipantID))
	}
	if e.RoundID != 0 {
		fields = append(fields, zap.Uint64("round_id", e.RoundID))
	}
	if e.Amount != nil {
		fields = append(fields, zap.Stringer("amount", e.Amount))
	}
	if e.Multiplier != nil {
		fields = append(fields, zap.Stringer("multiplier", e.Multiplier))
	}
	if e.Balance != nil {
		fields = append(fields, zap.Stringer("balance", e.Balance))
	}
	for k, v := range e.Details {
		fields = append(fields, zap.String(k, v))
	}
	s.log.Info("audit", fields...)
	return nil
}

func (s *LogSink) Close() error {
	return s.log.Sync()
}

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events as JSON, keyed by participant so that one
// participant's events stay ordered within a partition.
type KafkaSink struct {
	w messageWriter
}

// NewKafkaWriter builds a writer for a comma separated broker list.
func NewKafkaWriter(brokers, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(strings.Split(brokers, ",")...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

func NewKafkaSink(w messageWriter) *KafkaSink {
	return &KafkaSink{w: w}
}

func (s *KafkaSink) Write(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	key := e.ParticipantID
	if key == "" {
		key = "round-" + strconv.FormatUint(e.RoundID, 10)
	}
	return s.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  e.At,
	})
}

func (s *KafkaSink) Close() error {
	return s.w.Close()
}
