package ingress

import (
	"net/http"

	"github.com/gorilla/websocket"

	"school-attendance-bridge/internal/broadcast"
)

// This ingress's messages are small JSON event envelopes, so the
// library's default buffer sizes are adequate.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// subscribeFunc is the shape shared by every runtime.Runtime.Subscribe*
// method: register sub on one fixed channel for tenant.
type subscribeFunc func(tenant string, sub broadcast.Subscriber)

// handleSubscribe builds one WebSocket upgrade handler bound to a single
// broadcast channel. The connection's WSSink already owns a writer
// goroutine (internal/broadcast); this handler only needs a read loop to
// detect disconnects, since the protocol here is server-push only — there
// is no client->server message dispatch to decode.
func (s *Server) handleSubscribe(channel string, subscribe subscribeFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := tenantFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "no tenant in request context")
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.WithError(err).Warn("websocket upgrade failed")
			return
		}

		sink := broadcast.NewWSSink(r.RemoteAddr, conn)
		subscribe(tenant, sink)

		// Block on reads purely to notice the client going away; a read
		// error (including the close handshake) ends the loop, while
		// inbound data frames are read and discarded.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.runtime.Hub.Unsubscribe(channel, tenant, sink)
				sink.Close()
				return
			}
		}
	}
}
