// Package kafka provides sarama client construction and the consumer
// group run loop.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"
)

// NewConsumerGroup creates a consumer group client. Offsets start at the
// newest message; partitions are balanced round-robin.
func NewConsumerGroup(brokers []string, groupID string) (sarama.ConsumerGroup, error) {
	config := sarama.NewConfig()
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{
		sarama.NewBalanceStrategyRoundRobin(),
	}

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return group, nil
}

// NewSyncProducer creates a synchronous producer that waits for full ISR
// acknowledgement.
func NewSyncProducer(brokers []string, maxRetries int) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = maxRetries
	config.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("create sync producer: %w", err)
	}
	return producer, nil
}

// Runner drives a consumer group session loop until its context is
// cancelled. Consume returns on every rebalance, so it is called in a
// loop with the same handler.
type Runner struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler sarama.ConsumerGroupHandler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a Runner for the given topics and handler.
func NewRunner(group sarama.ConsumerGroup, topics []string, handler sarama.ConsumerGroupHandler) *Runner {
	return &Runner{
		group:   group,
		topics:  topics,
		handler: handler,
	}
}

// Start begins consuming in background goroutines.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for err := range r.group.Errors() {
			slog.Error("consumer group error", "error", err)
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			if err := r.group.Consume(ctx, r.topics, r.handler); err != nil {
				slog.Error("consume session ended", "error", err)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	slog.Info("kafka consumer started", "topics", r.topics)
}

// Stop cancels the session loop and closes the group, waiting for the
// background goroutines to drain.
func (r *Runner) Stop() error {
	if r.cancel != nil {
		r.cancel()
	}
	err := r.group.Close()
	r.wg.Wait()
	return err
}
