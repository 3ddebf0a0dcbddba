package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes notifications to a topic for downstream relays. Messages are keyed by target
// so every target keeps its order within a partition.
type Kafka struct {
	topic  string
	writer messageWriter
	now    func() time.Time
}

type kafkaNotification struct {
	Target string    `json:"target"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

func NewKafka(brokers []string, topic string, writeTimeout time.Duration) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka sink: at least one broker is required")
	}
	if topic == "" {
		return nil, errors.New("kafka sink: topic is required")
	}
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: writeTimeout,
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  1,
		Async:        false,
	}
	return &Kafka{topic: topic, writer: w, now: time.Now}, nil
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Send(ctx context.Context, target, text string) error {
	b, err := json.Marshal(kafkaNotification{Target: target, Text: text, SentAt: k.now().UTC()})
	if err != nil {
		return &SinkError{Sink: k.Name(), Err: err}
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(target), Value: b}); err != nil {
		return &SinkError{Sink: k.Name(), Err: err}
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
