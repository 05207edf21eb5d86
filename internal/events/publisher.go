// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/letterbox/internal/config"
	"github.com/tomtom215/letterbox/internal/metrics"
	"github.com/tomtom215/letterbox/internal/models"
)

// ErrPublisherClosed is returned after Close.
var ErrPublisherClosed = errors.New("publisher is closed")

// Publisher is the events module. It implements hooks.DataStorer.
type Publisher struct {
	pub    message.Publisher
	prefix string
	cb     *gobreaker.CircuitBreaker[struct{}]
	logger zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewPublisher returns the module publishing through pub on subjects under
// prefix.
func NewPublisher(logger *zerolog.Logger, pub message.Publisher, prefix string) *Publisher {
	l := logger.With().Str("component", "events").Logger()
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "events-publish",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Publish circuit breaker state change")
		},
	})
	return &Publisher{pub: pub, prefix: prefix, cb: cb, logger: l}
}

// Name implements hooks.Module.
func (p *Publisher) Name() string { return "events" }

// StoreData publishes the status of u. Failures are logged only.
func (p *Publisher) StoreData(ctx context.Context, u *models.Update) error {
	if u.Snapshot == nil {
		return nil
	}
	if err := p.Publish(ctx, NewStatusEvent(u)); err != nil {
		p.logger.Warn().Err(err).Str("device_id", u.DeviceID).Msg("Failed to publish status event")
	}
	return nil
}

// Publish sends ev on its device subject.
func (p *Publisher) Publish(_ context.Context, ev StatusEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}

	data, err := ev.Encode()
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.Metadata.Set("dev_id", ev.DeviceID)
	msg.Metadata.Set("state", string(ev.State))

	_, err = p.cb.Execute(func() (struct{}, error) {
		return struct{}{}, p.pub.Publish(Topic(p.prefix, ev.DeviceID), msg)
	})
	metrics.RecordEventPublish(err)
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.DeviceID, err)
	}
	return nil
}

// Close closes the underlying publisher.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.pub.Close()
}

func natsOptions(logger watermill.LoggerAdapter) []natsgo.Option {
	return []natsgo.Option{
		natsgo.Name("letterbox"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.Timeout(2 * time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}
}

// NewNATSPublisher connects a core NATS publisher to cfg.URL. Status events
// are transient, so JetStream is not used.
func NewNATSPublisher(cfg config.EventsConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOptions(logger),
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create NATS publisher: %w", err)
	}
	return pub, nil
}

// NewNATSSubscriber connects a core NATS subscriber to cfg.URL.
func NewNATSSubscriber(cfg config.EventsConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              cfg.URL,
		SubscribersCount: 1,
		CloseTimeout:     5 * time.Second,
		AckWaitTimeout:   5 * time.Second,
		NatsOptions:      natsOptions(logger),
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream:        wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create NATS subscriber: %w", err)
	}
	return sub, nil
}
