package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/IBM/sarama"

	"github.com/skeetgame-ingest/internal/bus"
	"github.com/skeetgame-ingest/internal/config"
)

// event-tail follows the republished game-event topic and prints each
// event, one JSON line per message. Useful for watching a running
// ingest process without attaching to it.

type tailHandler struct {
	logger *slog.Logger
	ready  chan bool
}

func (h *tailHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

func (h *tailHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *tailHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var ev bus.Event
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			h.logger.Warn("undecodable message", "partition", msg.Partition, "offset", msg.Offset, "error", err)
			session.MarkMessage(msg, "")
			continue
		}
		os.Stdout.Write(msg.Value)
		os.Stdout.Write([]byte{'\n'})
		session.MarkMessage(msg, "")
	}
	return nil
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	group := flag.String("group", "", "Consumer group ID (defaults to the configured group)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	groupID := cfg.Kafka.GroupID
	if *group != "" {
		groupID = *group
	}

	sc := sarama.NewConfig()
	sc.Version = sarama.V3_0_0_0
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	sc.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Kafka.Brokers, groupID, sc)
	if err != nil {
		logger.Error("failed to create consumer group", "error", err)
		os.Exit(1)
	}
	defer consumerGroup.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		for err := range consumerGroup.Errors() {
			logger.Error("consumer error", "error", err)
		}
	}()

	done := make(chan struct{})
	ready := make(chan bool)
	go func() {
		defer close(done)
		for {
			handler := &tailHandler{logger: logger, ready: ready}
			if err := consumerGroup.Consume(ctx, []string{cfg.Kafka.Topic}, handler); err != nil {
				if err == sarama.ErrClosedConsumerGroup {
					return
				}
				logger.Error("error from consumer", "error", err)
			}
			if ctx.Err() != nil {
				return
			}
			ready = make(chan bool)
		}
	}()

	<-ready
	logger.Info("tailing game events", "topic", cfg.Kafka.Topic, "group", groupID)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	<-done
}
