package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"qms/window-queue/internal/live"
	"qms/window-queue/pkg/logger"

	"github.com/IBM/sarama"
)

// Relay feeds window views published by other replicas into the local hub.
type Relay struct {
	hub       *live.Hub
	l         logger.Logger
	origin    string
	viewTopic string
}

func NewRelay(hub *live.Hub, l logger.Logger, origin, viewTopic string) *Relay {
	if viewTopic == "" {
		viewTopic = DefaultViewTopic
	}
	return &Relay{hub: hub, l: l, origin: origin, viewTopic: viewTopic}
}

// Handle publishes one view message to the hub. Views this replica sent
// itself are skipped; they reached the hub when they were committed.
func (r *Relay) Handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	if message.Topic != r.viewTopic {
		r.l.Warn("unknown topic", "topic", message.Topic)
		return nil
	}
	var event ViewEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return fmt.Errorf("unmarshal view event: %w", err)
	}
	if event.Origin == r.origin {
		return nil
	}
	return r.hub.Publish(ctx, live.Change{Event: event.Cause, View: event.View})
}

func (r *Relay) Setup(sarama.ConsumerGroupSession) error {
	r.l.Debug("view relay session started")
	return nil
}

func (r *Relay) Cleanup(sarama.ConsumerGroupSession) error {
	r.l.Debug("view relay session ended")
	return nil
}

func (r *Relay) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}
			if err := r.Handle(session.Context(), message); err != nil {
				r.l.Error("relay view failed", "topic", message.Topic, "offset", message.Offset, "error", err)
			}
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

type ConsumerConfig struct {
	Brokers []string
	// GroupID must be unique per replica so every replica sees every view.
	GroupID string
	Topic   string
}

// ViewConsumer runs a Relay on its own consumer group.
type ViewConsumer struct {
	group sarama.ConsumerGroup
	topic string
	relay *Relay
	l     logger.Logger
	wg    sync.WaitGroup
}

func NewViewConsumer(cfg ConsumerConfig, relay *Relay, l logger.Logger) (*ViewConsumer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Version = sarama.V2_8_0_0
	saramaCfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaCfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultViewTopic
	}
	l.Info("view relay initialized", "brokers", cfg.Brokers, "group_id", cfg.GroupID, "topic", topic)
	return &ViewConsumer{group: group, topic: topic, relay: relay, l: l}, nil
}

// Start consumes until ctx is cancelled. Consume returns on every rebalance,
// so it runs in a loop.
func (c *ViewConsumer) Start(ctx context.Context) {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		for {
			if err := c.group.Consume(ctx, []string{c.topic}, c.relay); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.l.Error("view relay consume failed", "error", err)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.l.Error("view relay group error", "error", err)
		}
	}()
}

func (c *ViewConsumer) Close() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("close kafka consumer group: %w", err)
	}
	c.wg.Wait()
	return nil
}
