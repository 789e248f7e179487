package httpapi

import (
	"expvar"
	"net/http"

	"livequeue/queue-service/internal/hub"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/sirupsen/logrus"
)

var realtimeSessions = expvar.NewInt("realtime_sessions_active")

// NewRealtimeHandler serves the SockJS display feed under /realtime. Clients
// receive every event until they send a subscribe message naming a location.
func NewRealtimeHandler(h *hub.Hub, logger logrus.FieldLogger) http.Handler {
	return sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
		h.Register(client)
		realtimeSessions.Add(1)
		defer func() {
			h.Unregister(client)
			realtimeSessions.Add(-1)
		}()
		log := logger.WithField("client_id", client.ID)
		log.Debug("realtime session opened")

		go func() {
			for msg := range client.Send {
				if err := session.Send(string(msg)); err != nil {
					return
				}
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				log.Debug("realtime session closed")
				return
			}
			parsed, ok := hub.ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				h.UpdateSubscription(client, hub.Subscription{})
				continue
			}
			h.UpdateSubscription(client, hub.Subscription{LocationID: parsed.LocationID})
		}
	})
}
