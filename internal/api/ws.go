package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"digipin/internal/events"
)

// Job events over WebSocket. A client sends
// {"type":"subscribe","id":"s1","payload":{"jobId":"..."}} and receives
// "next" messages carrying events until a "complete" for that id.

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	JobID string `json:"jobId"`
}

type wsSub struct {
	jobID string
	ch    chan events.Event
}

// JobWSHandler handles GET /v1/optimize/ws
func (s *Server) JobWSHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	var wmu sync.Mutex
	write := func(v wsMessage) error {
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}
	writeErr := func(id, msg string) {
		b, _ := json.Marshal(map[string]string{"message": msg})
		_ = write(wsMessage{Type: "error", ID: id, Payload: b})
		_ = write(wsMessage{Type: "complete", ID: id})
	}

	var smu sync.Mutex
	subs := map[string]wsSub{}
	drop := func(id string) {
		smu.Lock()
		s0, ok := subs[id]
		delete(subs, id)
		smu.Unlock()
		if ok {
			s.Broker.Unsubscribe(s0.jobID, s0.ch)
		}
	}
	defer func() {
		smu.Lock()
		ids := make([]string, 0, len(subs))
		for id := range subs {
			ids = append(ids, id)
		}
		smu.Unlock()
		for _, id := range ids {
			drop(id)
		}
	}()

	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(60 * time.Second)) })

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := write(wsMessage{Type: "ping"}); err != nil {
					return
				}
			}
		}
	}()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		switch msg.Type {
		case "ping":
			_ = write(wsMessage{Type: "pong"})
		case "pong":
		case "subscribe":
			var pl subscribePayload
			if err := json.Unmarshal(msg.Payload, &pl); err != nil || pl.JobID == "" || msg.ID == "" {
				writeErr(msg.ID, "id and payload.jobId required")
				continue
			}
			job, err := s.Store.GetJob(r.Context(), pl.JobID)
			if err != nil {
				writeErr(msg.ID, "job not found")
				continue
			}
			if evt, done := terminalEvent(job); done {
				b, _ := json.Marshal(evt)
				_ = write(wsMessage{Type: "next", ID: msg.ID, Payload: b})
				_ = write(wsMessage{Type: "complete", ID: msg.ID})
				continue
			}
			ch := s.Broker.Subscribe(pl.JobID)
			smu.Lock()
			if old, ok := subs[msg.ID]; ok {
				s.Broker.Unsubscribe(old.jobID, old.ch)
			}
			subs[msg.ID] = wsSub{jobID: pl.JobID, ch: ch}
			smu.Unlock()
			go func(id string, c chan events.Event) {
				for evt := range c {
					b, _ := json.Marshal(evt)
					_ = write(wsMessage{Type: "next", ID: id, Payload: b})
					if evt.Terminal() {
						drop(id)
						break
					}
				}
				_ = write(wsMessage{Type: "complete", ID: id})
			}(msg.ID, ch)
		case "complete":
			drop(msg.ID)
		default:
			writeErr(msg.ID, "unknown message type "+msg.Type)
		}
	}
}
