package kafka

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/skeetgame-ingest/internal/bus"
	"github.com/skeetgame-ingest/internal/config"
)

// Publisher republishes bus events to a Kafka topic so external
// consumers can follow game activity without touching the ingest
// process. Publishing is fire-and-forget; delivery failures are logged.
type Publisher struct {
	producer sarama.AsyncProducer
	topic    string
	logger   *slog.Logger
	done     chan struct{}
}

// NewPublisher connects an async producer to the configured brokers
func NewPublisher(cfg config.KafkaConfig, logger *slog.Logger) (*Publisher, error) {
	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.WaitForLocal
	sc.Producer.Compression = sarama.CompressionSnappy
	sc.Producer.Flush.Frequency = 500 * time.Millisecond
	sc.Producer.Return.Successes = false
	sc.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}

	p := &Publisher{
		producer: producer,
		topic:    cfg.Topic,
		logger:   logger,
		done:     make(chan struct{}),
	}
	go p.drainErrors()
	return p, nil
}

func (p *Publisher) drainErrors() {
	defer close(p.done)
	for err := range p.producer.Errors() {
		p.logger.Error("kafka publish failed", "topic", err.Msg.Topic, "error", err.Err)
	}
}

// Publish enqueues one bus event, keyed by player identifier so a
// player's events land in order on one partition
func (p *Publisher) Publish(ev bus.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("encoding bus event", "kind", ev.Kind, "error", err)
		return
	}
	p.producer.Input() <- &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.DID),
		Value: sarama.ByteEncoder(payload),
	}
}

// Close flushes pending messages and shuts the producer down
func (p *Publisher) Close() error {
	err := p.producer.Close()
	<-p.done
	return err
}
