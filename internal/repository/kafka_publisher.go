package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"MarketCascade/internal/domain/models"
	domrepo "MarketCascade/internal/domain/repository"
	applogger "MarketCascade/pkg/logger"

	"github.com/sony/gobreaker"
)

// EventSignalActivated is the event type carried by every published signal.
const EventSignalActivated = "signal.activated"

// SignalEvent is the message value written to the signals topic.
type SignalEvent struct {
	Type       string               `json:"type"`
	Signal     models.TradingSignal `json:"signal"`
	OccurredAt time.Time            `json:"occurred_at"`
}

// messageWriter is satisfied by *pkg/kafka.Producer.
type messageWriter interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// BreakerSettings tunes the circuit breaker in front of the producer.
type BreakerSettings struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
	MinRequests  uint32
}

// KafkaPublisher implements SignalPublisher for Kafka. Writes go through a
// circuit breaker so an unavailable broker fails fast instead of stalling passes.
type KafkaPublisher struct {
	producer messageWriter
	topic    string
	cb       *gobreaker.CircuitBreaker
	l        *applogger.Logger
}

// NewKafkaPublisher creates Kafka publisher.
func NewKafkaPublisher(producer messageWriter, topic string, bs BreakerSettings, l *applogger.Logger) *KafkaPublisher {
	p := &KafkaPublisher{producer: producer, topic: topic, l: l}
	st := gobreaker.Settings{
		Name:        "kafka-signals",
		MaxRequests: bs.MaxRequests,
		Interval:    bs.Interval,
		Timeout:     bs.Timeout,
	}
	st.ReadyToTrip = func(c gobreaker.Counts) bool {
		if c.Requests < bs.MinRequests {
			return false
		}
		return float64(c.TotalFailures)/float64(c.Requests) >= bs.FailureRatio
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		if p.l != nil {
			p.l.Warn("circuit breaker state change",
				applogger.String("breaker", name),
				applogger.String("from", from.String()),
				applogger.String("to", to.String()),
			)
		}
	}
	p.cb = gobreaker.NewCircuitBreaker(st)
	return p
}

var _ domrepo.SignalPublisher = (*KafkaPublisher)(nil)

// PublishSignal keys the message by asset so one asset's signals stay ordered.
func (p *KafkaPublisher) PublishSignal(ctx context.Context, s models.TradingSignal) error {
	ev := SignalEvent{Type: EventSignalActivated, Signal: s, OccurredAt: time.Now().UTC()}
	_, err := p.cb.Execute(func() (interface{}, error) {
		return nil, p.producer.Publish(ctx, p.topic, []byte(s.AssetID), ev)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("publish signal %s: breaker %s: %w", s.ID, p.cb.State(), err)
	}
	if err != nil {
		return fmt.Errorf("publish signal %s: %w", s.ID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
