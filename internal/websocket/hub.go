// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

// Package websocket pushes live status updates to dashboard browsers.
//
// The Hub keeps the connected clients and fans every status event out to
// the clients whose user may see the device. Events reach the hub either
// directly as a hooks.DataStorer or through Relay from the message broker,
// which also carries updates ingested by other processes.
package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/tomtom215/letterbox/internal/events"
	"github.com/tomtom215/letterbox/internal/metrics"
	"github.com/tomtom215/letterbox/internal/models"
)

// Message types.
const (
	MessageTypeStatus = "status"
	MessageTypePing   = "ping"
	MessageTypePong   = "pong"
)

// Message is one frame sent to a client.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
	// deviceID restricts delivery to clients permitted for it.
	deviceID string
}

// Hub maintains the set of active clients.
type Hub struct {
	clients      map[*Client]bool
	broadcast    chan Message
	register     chan *Client
	unregister   chan *Client
	done         chan struct{}
	stopOnce     sync.Once
	mu           sync.RWMutex
	logger       zerolog.Logger
	authRequired bool
}

// NewHub returns a hub. With authRequired set, clients only receive events
// of devices their user may see.
func NewHub(logger *zerolog.Logger, authRequired bool) *Hub {
	return &Hub{
		clients:      make(map[*Client]bool),
		broadcast:    make(chan Message, 256),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		done:         make(chan struct{}),
		logger:       logger.With().Str("component", "websocket-hub").Logger(),
		authRequired: authRequired,
	}
}

// Name implements hooks.Module.
func (h *Hub) Name() string { return "websocket" }

// StoreData implements hooks.DataStorer.
func (h *Hub) StoreData(_ context.Context, u *models.Update) error {
	if u.Snapshot != nil {
		h.BroadcastStatus(events.NewStatusEvent(u))
	}
	return nil
}

// BroadcastStatus queues ev for the permitted clients. It never blocks; a
// full queue drops the event.
func (h *Hub) BroadcastStatus(ev events.StatusEvent) {
	select {
	case h.broadcast <- Message{Type: MessageTypeStatus, Data: ev, deviceID: ev.DeviceID}:
	default:
		h.logger.Warn().Str("device_id", ev.DeviceID).Msg("Broadcast channel full, dropping status message")
	}
}

// Serve runs the hub until ctx is done, then closes all clients. Client
// lifecycle events are handled before broadcasts.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			n := h.ClientCount()
			h.stopOnce.Do(func() { close(h.done) })
			h.closeAllClients()
			h.logger.Info().Int("clients_closed", n).Msg("Websocket hub stopped")
			return ctx.Err()
		default:
		}

		select {
		case c := <-h.register:
			h.add(c)
			continue
		case c := <-h.unregister:
			h.remove(c)
			continue
		default:
		}

		select {
		case <-ctx.Done():
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c)
		case msg := <-h.broadcast:
			h.broadcastToClients(msg)
		}
	}
}

// String implements fmt.Stringer for supervisor logs.
func (h *Hub) String() string { return "websocket-hub" }

// Register adds c to the hub. It reports false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketClients.Set(float64(n))
	h.logger.Debug().Int("total_clients", n).Str("user", c.userName()).Msg("Websocket client connected")
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketClients.Set(float64(n))
	h.logger.Debug().Int("total_clients", n).Msg("Websocket client disconnected")
}

// broadcastToClients delivers msg in client id order. Clients with a full
// send buffer are dropped.
func (h *Hub) broadcastToClients(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	for _, c := range clients {
		if msg.deviceID != "" && !c.permitted(h.authRequired, msg.deviceID) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			close(c.send)
			delete(h.clients, c)
		}
	}
	metrics.WebSocketClients.Set(float64(len(h.clients)))
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	metrics.WebSocketClients.Set(0)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Relay broadcasts the status events received from sub on topic until ctx
// is done or the subscription closes.
func (h *Hub) Relay(ctx context.Context, sub message.Subscriber, topic string) error {
	msgs, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			ev, err := events.Decode(msg.Payload)
			if err != nil {
				h.logger.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("Dropping undecodable status event")
			} else {
				h.BroadcastStatus(ev)
			}
			msg.Ack()
		}
	}
}

// RelayService runs Hub.Relay as a supervised service.
type RelayService struct {
	Hub        *Hub
	Subscriber message.Subscriber
	Topic      string
}

// Serve implements suture.Service.
func (s *RelayService) Serve(ctx context.Context) error {
	return s.Hub.Relay(ctx, s.Subscriber, s.Topic)
}

// String implements fmt.Stringer for supervisor logs.
func (s *RelayService) String() string { return "websocket-relay" }
