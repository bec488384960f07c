package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestStreamDeliversEvents(t *testing.T) {
	env := setupTestServer(t, "")
	server := httptest.NewServer(env.engine)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, "GET", server.URL+"/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to connect to stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Expected event-stream content type, got %q", ct)
	}

	// Wait for the subscription to be registered before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for env.bus.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if env.bus.SubscriberCount() != 1 {
		t.Fatal("Expected stream handler to subscribe")
	}

	env.bus.Publish("ticket_update", map[string]any{"event_name": "周杰伦演唱会"})

	scanner := bufio.NewScanner(resp.Body)
	var dataLine string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data:") {
			dataLine = line
			break
		}
	}
	if dataLine == "" {
		t.Fatal("Expected a data frame on the stream")
	}
	if !strings.Contains(dataLine, "ticket_update") {
		t.Errorf("Expected event type in frame, got %q", dataLine)
	}
	if !strings.Contains(dataLine, "周杰伦演唱会") {
		t.Errorf("Expected payload in frame, got %q", dataLine)
	}
}

func TestStreamHeartbeat(t *testing.T) {
	env := setupTestServer(t, "")
	env.handler.heartbeat = 50 * time.Millisecond
	server := httptest.NewServer(env.engine)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, "GET", server.URL+"/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to connect to stream: %v", err)
	}
	defer resp.Body.Close()

	// With nothing published, the stream still emits heartbeat comments.
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), ": heartbeat") {
			return
		}
	}
	t.Fatal("Expected a heartbeat frame")
}

func TestStreamUnsubscribesOnDisconnect(t *testing.T) {
	env := setupTestServer(t, "")
	env.handler.heartbeat = 20 * time.Millisecond
	server := httptest.NewServer(env.engine)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, "GET", server.URL+"/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to connect to stream: %v", err)
	}
	defer resp.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.bus.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if env.bus.SubscriberCount() != 1 {
		t.Fatal("Expected one subscriber")
	}

	cancel()

	deadline = time.Now().Add(2 * time.Second)
	for env.bus.SubscriberCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if env.bus.SubscriberCount() != 0 {
		t.Error("Expected subscriber to be removed after disconnect")
	}
}
