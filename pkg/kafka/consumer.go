package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/Tyrowin/gochat-hub/pkg/logger"
)

// ConsumerConfig holds the consumer group settings.
type ConsumerConfig struct {
	Brokers []string
	GroupID string
}

func newConsumerConfig() *sarama.Config {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Version = sarama.V2_8_0_0
	saramaCfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaCfg.Consumer.Return.Errors = true
	return saramaCfg
}

// NewConsumer joins the consumer group. Realtime events are only useful to
// connected clients, so a new group starts at the newest offset.
func NewConsumer(cfg ConsumerConfig, l logger.Logger) (sarama.ConsumerGroup, error) {
	consGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, newConsumerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer group: %w", err)
	}

	l.Infof(context.Background(), "pkg.kafka.NewConsumer: connected to brokers %v, group %s", cfg.Brokers, cfg.GroupID)

	return consGroup, nil
}
