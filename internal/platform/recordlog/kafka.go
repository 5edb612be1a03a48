package recordlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes each record as one JSON message. The topic is the log.
// Each message is keyed by a fresh random id, so the key carries no patient
// data and records spread across partitions.
type KafkaSink struct {
	mu sync.Mutex
	w  messageWriter
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}}
}

func (s *KafkaSink) Append(ctx context.Context, r Record) error {
	value, err := json.Marshal(r)
	if err != nil {
		return &WriteError{Backend: "kafka", Err: fmt.Errorf("encode record: %w", err)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(uuid.NewString()),
		Value: value,
		Time:  r.Timestamp,
	}); err != nil {
		return &WriteError{Backend: "kafka", Err: err}
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.w.Close()
}
