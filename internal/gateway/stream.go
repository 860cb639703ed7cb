package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/KafClaw/wagate/internal/broadcast"
)

// EventStatus is the hello frame sent to every new subscriber.
const EventStatus = "status"

var errStreamClosed = errors.New("stream closed")

func (s *Server) hello(tenantID string) broadcast.Event {
	return broadcast.Event{Name: EventStatus, Data: s.status(tenantID), Time: time.Now().UTC()}
}

// sseSink writes events as server-sent events. The broadcaster's writer
// and the heartbeat share the response, so writes are serialised.
type sseSink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
}

func (k *sseSink) Send(ev broadcast.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errStreamClosed
	}
	if _, err := fmt.Fprintf(k.w, "event: %s\ndata: %s\n\n", ev.Name, data); err != nil {
		return err
	}
	k.flusher.Flush()
	return nil
}

func (k *sseSink) heartbeat() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errStreamClosed
	}
	if _, err := fmt.Fprint(k.w, ": ping\n\n"); err != nil {
		return err
	}
	k.flusher.Flush()
	return nil
}

func (k *sseSink) close() {
	k.mu.Lock()
	k.closed = true
	k.mu.Unlock()
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request, tenantID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "streaming unsupported"})
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sink := &sseSink{w: w, flusher: flusher}
	defer sink.close()
	if err := sink.Send(s.hello(tenantID)); err != nil {
		return
	}
	sub := s.events.Subscribe(tenantID, sink)
	defer s.events.Unsubscribe(sub)
	s.log.Debug().Str("tenant", tenantID).Str("subscriber", sub.ID).Msg("sse subscriber attached")

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done():
			return
		case <-ticker.C:
			if err := sink.heartbeat(); err != nil {
				return
			}
		}
	}
}

const wsWriteWait = 10 * time.Second

type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (k *wsSink) Send(ev broadcast.Event) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	_ = k.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return k.conn.WriteJSON(ev)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request, tenantID string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("tenant", tenantID).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sink := &wsSink{conn: conn}
	if err := sink.Send(s.hello(tenantID)); err != nil {
		return
	}
	sub := s.events.Subscribe(tenantID, sink)
	defer s.events.Unsubscribe(sub)

	// Clients only send control frames; reading keeps pongs flowing and
	// notices when the peer goes away.
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-readErr:
			return
		case <-sub.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "subscription closed"),
				time.Now().Add(wsWriteWait))
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
