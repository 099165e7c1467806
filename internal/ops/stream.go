package ops

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// The stream is read-only monitoring data, so any origin may connect.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleEventStream upgrades the connection and forwards every published
// event as a JSON frame until the client goes away. Slow clients miss
// events rather than stalling the engine; the tap buffer absorbs short
// stalls only.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub, cancel := s.tap.Subscribe()
	defer cancel()

	log.WithFields(log.Fields{
		"remote":      r.RemoteAddr,
		"subscribers": s.tap.SubscriberCount(),
	}).Info("event stream client connected")

	// Reader goroutine: we never expect client frames, but reading is how
	// the close handshake is noticed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			log.WithField("remote", r.RemoteAddr).Info("event stream client disconnected")
			return
		case event, ok := <-sub:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				log.WithError(err).Debug("event stream write failed")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
