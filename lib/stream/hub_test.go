package stream

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func TestHubShutdownUnblocksClients(t *testing.T) {
	hub := NewHub()

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	c := &client{send: make(chan []byte, 1), lg: slog.Default()}
	if !hub.add(c) {
		t.Fatal("hub refused a registration while running")
	}

	cancel()
	<-hub.done

	unblocked := make(chan struct{})
	go func() {
		hub.drop(c)
		close(unblocked)
	}()

	select {
	case <-unblocked:
	case <-time.After(time.Second):
		t.Fatal("unregister blocked after the hub shut down")
	}

	if hub.add(&client{send: make(chan []byte, 1)}) {
		t.Error("hub accepted a registration after shutting down")
	}
}

func TestBroadcastNeverBlocks(t *testing.T) {
	// Never started: the worst case of a stalled hub.
	hub := NewHub()

	finished := make(chan struct{})
	go func() {
		for range sendBuffer * 2 {
			hub.Broadcast([]byte(`{}`))
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a stalled hub")
	}
}
