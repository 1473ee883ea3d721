package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/Tyrowin/gochat-hub/pkg/logger"
)

// ProducerConfig holds the sync producer settings.
type ProducerConfig struct {
	Brokers      []string
	RetryMax     int
	RequiredAcks int
}

func newProducerConfig(cfg ProducerConfig) *sarama.Config {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.RequiredAcks = sarama.RequiredAcks(cfg.RequiredAcks)
	saramaCfg.Producer.Retry.Max = cfg.RetryMax
	saramaCfg.Producer.Return.Successes = true
	return saramaCfg
}

// NewProducer connects a sync producer to the brokers.
func NewProducer(cfg ProducerConfig, l logger.Logger) (sarama.SyncProducer, error) {
	prod, err := sarama.NewSyncProducer(cfg.Brokers, newProducerConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	l.Infof(context.Background(), "pkg.kafka.NewProducer: connected to brokers %v", cfg.Brokers)

	return prod, nil
}
