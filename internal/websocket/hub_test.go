// Newsrelay - Chat Session Relay with Delivery Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/newsrelay

package websocket

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/tomtom215/newsrelay/internal/logging"
	"github.com/tomtom215/newsrelay/internal/models"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "info", Output: io.Discard})
}

// startHub runs a hub with a cancelable context for the test's duration.
func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(10 * time.Millisecond)
	return hub
}

// testClient creates a client without a network connection.
func testClient(hub *Hub) *Client {
	return &Client{
		id:   clientIDCounter.Add(1),
		hub:  hub,
		send: make(chan Message, 64),
	}
}

func registerClient(hub *Hub, c *Client) {
	hub.register <- c
	time.Sleep(20 * time.Millisecond)
}

func TestHubRegisterUnregister(t *testing.T) {
	hub := startHub(t)
	c := testClient(hub)

	registerClient(hub, c)
	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("expected 1 client, got %d", got)
	}

	hub.unregister <- c
	time.Sleep(20 * time.Millisecond)
	if got := hub.ClientCount(); got != 0 {
		t.Errorf("expected 0 clients, got %d", got)
	}
}

func TestBroadcastStatusReachesAllClients(t *testing.T) {
	hub := startHub(t)
	c1 := testClient(hub)
	c2 := testClient(hub)
	registerClient(hub, c1)
	registerClient(hub, c2)

	hub.BroadcastStatus(models.StatusUpdate{Connected: true, Identity: "923001112233"})

	for i, c := range []*Client{c1, c2} {
		select {
		case msg := <-c.send:
			if msg.Type != MessageTypeStatusUpdate {
				t.Errorf("client %d: wrong message type %q", i, msg.Type)
			}
			update, ok := msg.Data.(models.StatusUpdate)
			if !ok {
				t.Fatalf("client %d: unexpected payload %T", i, msg.Data)
			}
			if !update.Connected || update.Identity != "923001112233" {
				t.Errorf("client %d: payload mismatch %+v", i, update)
			}
		case <-time.After(time.Second):
			t.Fatalf("client %d: no message received", i)
		}
	}
}

func TestSlowClientDropped(t *testing.T) {
	hub := startHub(t)
	c := testClient(hub)
	c.send = make(chan Message) // unbuffered: first broadcast cannot be queued
	registerClient(hub, c)

	hub.BroadcastStatus(models.StatusUpdate{Connected: false})
	time.Sleep(50 * time.Millisecond)

	if got := hub.ClientCount(); got != 0 {
		t.Errorf("slow client should have been dropped, %d remaining", got)
	}
}

func TestServeClosesClientsOnShutdown(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.Serve(ctx)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)

	c := testClient(hub)
	registerClient(hub, c)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop on context cancel")
	}

	if _, open := <-c.send; open {
		t.Error("client send channel should be closed after shutdown")
	}
	if got := hub.ClientCount(); got != 0 {
		t.Errorf("expected 0 clients after shutdown, got %d", got)
	}
}

func TestBroadcastJobUpdate(t *testing.T) {
	hub := startHub(t)
	c := testClient(hub)
	registerClient(hub, c)

	hub.BroadcastJobUpdate(models.DeliveryJob{ID: 7, Status: models.JobCompleted})

	select {
	case msg := <-c.send:
		if msg.Type != MessageTypeJobUpdate {
			t.Errorf("wrong message type %q", msg.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no job update received")
	}
}
