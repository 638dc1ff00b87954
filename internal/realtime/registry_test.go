package realtime

import (
	"sync"
	"testing"
)

func TestRegisterSupersedesPriorSession(t *testing.T) {
	registry := NewRegistry()

	first := registry.Register(7)
	second := registry.Register(7)

	registry.Push(7, Event{Type: EventNewNotification, Payload: "a"})

	select {
	case <-first.Events():
		t.Fatalf("superseded session must not receive events")
	default:
	}

	select {
	case event := <-second.Events():
		if event.Type != EventNewNotification {
			t.Fatalf("unexpected event type %q", event.Type)
		}
	default:
		t.Fatalf("expected current session to receive the event")
	}
}

func TestUnregisterStaleSessionIsNoOp(t *testing.T) {
	registry := NewRegistry()

	first := registry.Register(7)
	second := registry.Register(7)

	registry.Unregister(7, first)

	if !registry.Connected(7) {
		t.Fatalf("stale unregister must not remove the newer session")
	}

	registry.Push(7, Event{Type: EventNewNotification})
	select {
	case <-second.Events():
	default:
		t.Fatalf("expected push to reach the surviving session")
	}

	registry.Unregister(7, second)
	if registry.Connected(7) {
		t.Fatalf("expected current session to be removed")
	}
}

func TestPushWithoutSessionIsSilentlyDropped(t *testing.T) {
	registry := NewRegistry()
	registry.Push(42, Event{Type: EventNewNotification})
}

func TestPushNeverBlocksOnFullBuffer(t *testing.T) {
	registry := NewRegistry()
	session := registry.Register(7)

	// Nobody drains the session; pushes beyond the buffer are dropped.
	for i := 0; i < sessionBufferSize*2; i++ {
		registry.Push(7, Event{Type: EventNewNotification, Payload: i})
	}

	if got := len(session.Events()); got != sessionBufferSize {
		t.Fatalf("expected buffer to cap at %d events, got %d", sessionBufferSize, got)
	}
}

func TestConcurrentLifecyclesDoNotInterfere(t *testing.T) {
	registry := NewRegistry()
	var wg sync.WaitGroup

	for userID := int64(1); userID <= 8; userID++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				session := registry.Register(userID)
				registry.Push(userID, Event{Type: EventNewNotification})
				registry.Unregister(userID, session)
			}
		}(userID)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			registry.Push(int64(i%8)+1, Event{Type: EventNewNotification})
		}
	}()

	wg.Wait()

	for userID := int64(1); userID <= 8; userID++ {
		if registry.Connected(userID) {
			t.Fatalf("expected user %d to end disconnected", userID)
		}
	}
}
