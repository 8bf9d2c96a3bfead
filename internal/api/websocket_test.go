package api

import (
	"testing"
	"time"
)

func TestHubStopExitsRunLoop(t *testing.T) {
	hub := NewWSHub()

	done := make(chan struct{})
	go func() {
		hub.Run()
		close(done)
	}()

	hub.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub loop did not exit after Stop")
	}

	hub.Stop() // safe to repeat
}
