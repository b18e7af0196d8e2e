// Package events mirrors queue changes to Kafka for signage and other
// consumers outside this service.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"qms/window-queue/internal/live"
	"qms/window-queue/internal/models"
	"qms/window-queue/pkg/logger"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

const (
	DefaultViewTopic   = "queue.window.views"
	DefaultTicketTopic = "queue.ticket.events"
)

type ProducerConfig struct {
	Brokers      []string
	RetryMax     int
	RequiredAcks int
}

// NewSyncProducer dials the brokers with a producer that waits for acks.
func NewSyncProducer(cfg ProducerConfig) (sarama.SyncProducer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.RequiredAcks = sarama.RequiredAcks(cfg.RequiredAcks)
	saramaCfg.Producer.Retry.Max = cfg.RetryMax
	saramaCfg.Producer.Return.Successes = true

	prod, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return prod, nil
}

type TicketEvent struct {
	EventID   string        `json:"event_id"`
	Origin    string        `json:"origin"`
	Type      string        `json:"type"`
	Ticket    models.Ticket `json:"ticket"`
	Timestamp time.Time     `json:"timestamp"`
}

type ViewEvent struct {
	EventID   string                 `json:"event_id"`
	Origin    string                 `json:"origin"`
	Cause     string                 `json:"cause"`
	View      models.WindowQueueView `json:"view"`
	Timestamp time.Time              `json:"timestamp"`
}

type Publisher struct {
	producer    sarama.SyncProducer
	l           logger.Logger
	origin      string
	viewTopic   string
	ticketTopic string
}

// NewPublisher stamps every event with origin, the id of this replica, so
// its own Relay can skip views it already delivered locally.
func NewPublisher(producer sarama.SyncProducer, l logger.Logger, origin, viewTopic, ticketTopic string) *Publisher {
	if viewTopic == "" {
		viewTopic = DefaultViewTopic
	}
	if ticketTopic == "" {
		ticketTopic = DefaultTicketTopic
	}
	return &Publisher{producer: producer, l: l, origin: origin, viewTopic: viewTopic, ticketTopic: ticketTopic}
}

// Publish sends the ticket event keyed by ticket id and the window view
// keyed by window id, so each partition keeps per-key order.
func (p *Publisher) Publish(ctx context.Context, change live.Change) error {
	now := time.Now().UTC()
	ticketEvent := TicketEvent{
		EventID:   uuid.NewString(),
		Origin:    p.origin,
		Type:      change.Event,
		Ticket:    change.Ticket,
		Timestamp: now,
	}
	if err := p.publishEvent(p.ticketTopic, strconv.FormatInt(change.Ticket.TicketID, 10), ticketEvent); err != nil {
		return err
	}
	viewEvent := ViewEvent{
		EventID:   uuid.NewString(),
		Origin:    p.origin,
		Cause:     change.Event,
		View:      change.View,
		Timestamp: now,
	}
	return p.publishEvent(p.viewTopic, change.View.WindowID, viewEvent)
}

func (p *Publisher) publishEvent(topic, key string, event any) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("timestamp"), Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		},
	}
	partition, offset, err := p.producer.SendMessage(message)
	if err != nil {
		p.l.Error("send kafka message failed", "topic", topic, "key", key, "error", err)
		return fmt.Errorf("send kafka message: %w", err)
	}
	p.l.Debug("kafka message sent", "topic", topic, "partition", partition, "offset", offset, "key", key)
	return nil
}

func (p *Publisher) Close() error {
	return p.producer.Close()
}
