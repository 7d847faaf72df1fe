package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client1 := &Client{hub: hub, send: make(chan []byte, 256)}
	hub.register <- client1

	client2 := &Client{hub: hub, send: make(chan []byte, 256)}
	hub.register <- client2

	time.Sleep(10 * time.Millisecond)

	msg := ProgressEvent(testProgress())
	hub.Broadcast(msg)

	select {
	case received := <-client1.send:
		assert.Equal(t, msg, received)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("client 1 did not receive message")
	}

	select {
	case received := <-client2.send:
		assert.Equal(t, msg, received)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("client 2 did not receive message")
	}

	hub.unregister <- client1
	time.Sleep(10 * time.Millisecond)

	msg2 := []byte("second message")
	hub.Broadcast(msg2)

	select {
	case m, ok := <-client1.send:
		if ok {
			t.Fatalf("client 1 received message after unregister: %s", m)
		}
	case <-time.After(50 * time.Millisecond):
	}

	select {
	case received := <-client2.send:
		assert.Equal(t, msg2, received)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("client 2 did not receive second message")
	}
}
