// Package hub fans queue events out to connected realtime clients. A client
// sees every location until it subscribes to one.
package hub

import (
	"context"
	"encoding/json"
	"expvar"
	"sync"
	"time"

	"livequeue/queue-service/internal/events"

	"github.com/sirupsen/logrus"
)

var droppedMessages = expvar.NewInt("realtime_dropped_messages_total")

type Subscription struct {
	LocationID string
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     logrus.FieldLogger

	// publishMu orders deliveries so that counters sent for a location
	// never decrease, even when events are published out of commit order.
	publishMu sync.Mutex
	counters  map[string]counters
}

type counters struct {
	current int64
	last    int64
}

type SubscribeMessage struct {
	Action     string `json:"action"`
	LocationID string `json:"location_id"`
}

type envelope struct {
	Type      string       `json:"type"`
	Payload   events.Event `json:"payload"`
	CreatedAt time.Time    `json:"created_at"`
}

func New(logger logrus.FieldLogger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		clients:  make(map[string]*Client),
		log:      logger,
		counters: make(map[string]counters),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
}

// Clients returns the number of registered clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish delivers event to every client subscribed to its location. Slow
// clients lose the message rather than block the caller. The event's counters
// are raised to the highest values already delivered for the location, so a
// display never moves backwards when a late event arrives.
func (h *Hub) Publish(_ context.Context, event events.Event) error {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	seen := h.counters[event.LocationID]
	seen.current = max(seen.current, event.CurrentToken)
	seen.last = max(seen.last, event.LastIssuedToken, seen.current)
	h.counters[event.LocationID] = seen
	event.CurrentToken = seen.current
	event.LastIssuedToken = seen.last

	payload, err := json.Marshal(envelope{Type: event.Type, Payload: event, CreatedAt: event.OccurredAt})
	if err != nil {
		return err
	}
	h.Broadcast(payload, Subscription{LocationID: event.LocationID})
	return nil
}

func (h *Hub) Broadcast(payload []byte, meta Subscription) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !match(client.Subscription, meta) {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			droppedMessages.Add(1)
			h.log.WithField("client_id", client.ID).Warn("drop message for slow client")
		}
	}
}

func match(sub Subscription, meta Subscription) bool {
	return sub.LocationID == "" || meta.LocationID == sub.LocationID
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
