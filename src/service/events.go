package service

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mosaicnetworks/walkie/src/call"
	"github.com/mosaicnetworks/walkie/src/common"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	streamBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// envelope is the JSON form of a presentation event on the stream.
type envelope struct {
	Type  string     `codec:"type"`
	Event call.Event `codec:"event"`
}

// Pump forwards events to the connected streams until the channel is closed or
// the Service is shut down.
func (s *Service) Pump(events <-chan call.Event) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.Publish(ev)
		case <-s.shutdownCh:
			return
		}
	}
}

// Publish sends an event to every connected stream. Slow streams drop events.
func (s *Service) Publish(ev call.Event) {
	data, err := common.EncodeJSON(envelope{Type: ev.EventType(), Event: ev})
	if err != nil {
		s.logger.WithError(err).Error("Encoding event")
		return
	}

	s.subMu.Lock()
	defer s.subMu.Unlock()

	for id, ch := range s.subs {
		select {
		case ch <- data:
		default:
			s.logger.WithField("stream", id).Debug("Stream full, dropping event")
		}
	}
}

func (s *Service) subscribe() (uint64, chan []byte) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.nextID++
	ch := make(chan []byte, streamBuffer)
	s.subs[s.nextID] = ch

	return s.nextID, ch
}

func (s *Service) unsubscribe(id uint64) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	delete(s.subs, id)
}

// GetEvents upgrades the connection to a WebSocket which streams presentation
// events.
func (s *Service) GetEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Debug("Upgrading event stream")
		return
	}

	id, ch := s.subscribe()

	s.logger.WithField("stream", id).Debug("Event stream opened")

	done := make(chan struct{})

	go s.readPump(conn, done)
	s.writePump(conn, ch, done)

	s.unsubscribe(id)

	s.logger.WithField("stream", id).Debug("Event stream closed")
}

// readPump discards client messages and reports when the connection is gone.
func (s *Service) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Service) writePump(conn *websocket.Conn, ch chan []byte, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case data := <-ch:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-s.shutdownCh:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
