// Package main submits an optimize job and follows it over the job WebSocket.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Hyderabad depot with three nearby stops.
const demoJob = `{
  "depot": "422-594-J546",
  "vehicles": 2,
  "locations": [
    {"digipin": "422-594-JC85", "priority": 1, "time_window": [0, 240]},
    {"digipin": "422-59M-2FL7", "priority": 2},
    {"digipin": "422-5C4-6K3P", "priority": 3, "time_window": [60, 480]}
  ]
}`

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	body := []byte(demoJob)
	if len(os.Args) > 1 {
		b, err := os.ReadFile(os.Args[1])
		if err != nil {
			log.Fatal(err)
		}
		body = b
	}
	resp, err := http.Post(base+"/v1/optimize/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusAccepted {
		var prob map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&prob)
		log.Fatalf("submit: %s %v", resp.Status, prob)
	}
	var job struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		log.Fatal(err)
	}
	log.Printf("Job ID: %s", job.ID)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/optimize/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	pl, _ := json.Marshal(map[string]string{"jobId": job.ID})
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			switch m.Type {
			case "ping":
				_ = c.WriteJSON(wsMessage{Type: "pong"})
			case "complete":
				log.Printf("WS <- complete")
				return
			default:
				log.Printf("WS <- %s: %s", m.Type, string(m.Payload))
			}
		}
	}()

	select {
	case <-time.After(2 * time.Minute):
		log.Printf("timed out waiting for job %s", job.ID)
	case <-done:
	}
}
