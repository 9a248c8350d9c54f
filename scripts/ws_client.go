// Package main runs a demo dashboard: it subscribes to a restaurant over the
// WebSocket, posts a status change, and prints what the hub pushes back.
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

type clientMessage struct {
	Type         string `json:"type"`
	RestaurantID string `json:"restaurantId,omitempty"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	restaurant := os.Getenv("RESTAURANT_ID")
	if restaurant == "" {
		restaurant = "rest_demo"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(clientMessage{Type: "subscribe", RestaurantID: restaurant}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m json.RawMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s", string(m))
		}
	}()

	// Walk one order through the kitchen.
	for _, status := range []string{"confirmed", "preparing", "ready"} {
		time.Sleep(300 * time.Millisecond)
		body, _ := json.Marshal(map[string]any{"status": status, "platform": "manual"})
		path := fmt.Sprintf("%s/v1/restaurants/%s/orders/demo-1/status", base, restaurant)
		resp, err := http.Post(path, "application/json", bytes.NewReader(body))
		if err != nil {
			log.Fatal(err)
		}
		_ = resp.Body.Close()
		log.Printf("POST %s -> %d", status, resp.StatusCode)
	}

	if err := c.WriteJSON(clientMessage{Type: "ping"}); err != nil {
		log.Fatal(err)
	}

	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
