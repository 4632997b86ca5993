package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan SessionOpenedEvent, 1)

	unsub := bus.Subscribe(func(e SessionOpenedEvent) {
		received <- e
	})
	defer unsub()

	ev := SessionOpenedEvent{
		DeviceID:  "video0",
		SessionID: "abc-123",
		Codec:     "h264",
		Timestamp: "2025-01-27T10:30:00Z",
	}
	bus.Publish(ev)

	got := <-received
	if got.DeviceID != ev.DeviceID {
		t.Errorf("Expected device_id %s, got %s", ev.DeviceID, got.DeviceID)
	}
}

func TestBus_MultipleSubscribers(_ *testing.T) {
	bus := New()
	received1 := make(chan ClientAttachedEvent, 1)
	received2 := make(chan ClientAttachedEvent, 1)

	unsub1 := bus.Subscribe(func(e ClientAttachedEvent) {
		received1 <- e
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(e ClientAttachedEvent) {
		received2 <- e
	})
	defer unsub2()

	ev := ClientAttachedEvent{DeviceID: "video0", Transport: "mjpeg", ClientCount: 1}
	bus.Publish(ev)

	<-received1
	<-received2
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	received := make(chan SessionClosedEvent, 1)

	unsub := bus.Subscribe(func(e SessionClosedEvent) {
		received <- e
	})

	bus.Publish(SessionClosedEvent{DeviceID: "video0", Reason: "idle_timeout"})
	<-received

	unsub()

	bus.Publish(SessionClosedEvent{DeviceID: "video1", Reason: "idle_timeout"})
	select {
	case <-received:
		t.Fatal("Should not have received event after unsubscribe")
	case <-time.After(10 * time.Millisecond):
		// Expected - no event
	}
}

func TestBus_TypeSafety(t *testing.T) {
	bus := New()

	openedReceived := make(chan bool, 1)
	attachedReceived := make(chan bool, 1)

	unsub1 := bus.Subscribe(func(_ SessionOpenedEvent) {
		openedReceived <- true
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(_ ClientAttachedEvent) {
		attachedReceived <- true
	})
	defer unsub2()

	bus.Publish(SessionOpenedEvent{DeviceID: "video0"})
	<-openedReceived

	select {
	case <-attachedReceived:
		t.Fatal("ClientAttached subscriber should NOT have received SessionOpenedEvent")
	case <-time.After(10 * time.Millisecond):
		// Expected
	}

	bus.Publish(ClientAttachedEvent{DeviceID: "video0"})
	<-attachedReceived

	select {
	case <-openedReceived:
		t.Fatal("SessionOpened subscriber should NOT have received ClientAttachedEvent")
	case <-time.After(10 * time.Millisecond):
		// Expected
	}
}

func TestBus_ThreadSafety(_ *testing.T) {
	bus := New()
	var wg sync.WaitGroup
	numGoroutines := 10
	eventsPerGoroutine := 100
	expected := numGoroutines * eventsPerGoroutine

	receivedCh := make(chan bool, expected)

	unsub := bus.Subscribe(func(_ DeviceDiscoveryEvent) {
		receivedCh <- true
	})
	defer unsub()

	for range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range eventsPerGoroutine {
				bus.Publish(DeviceDiscoveryEvent{
					Action:    "added",
					Timestamp: time.Now().Format(time.RFC3339),
				})
			}
		}()
	}

	wg.Wait()

	for range expected {
		<-receivedCh
	}
}

func TestBus_AllEventTypes(t *testing.T) {
	bus := New()

	tests := []struct {
		name  string
		event Event
	}{
		{"DeviceDiscovery", DeviceDiscoveryEvent{Action: "added"}},
		{"LogEntry", LogEntryEvent{Seq: 1, Message: "hello"}},
		{"SessionOpened", SessionOpenedEvent{DeviceID: "video0"}},
		{"SessionClosed", SessionClosedEvent{DeviceID: "video0", Reason: "idle_timeout"}},
		{"ClientAttached", ClientAttachedEvent{DeviceID: "video0"}},
		{"ClientDetached", ClientDetachedEvent{DeviceID: "video0"}},
		{"IDRForced", IDRForcedEvent{DeviceID: "video0", Reason: "client_attach"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(_ *testing.T) {
			received := make(chan Event, 1)

			var unsub func()
			switch tt.event.(type) {
			case DeviceDiscoveryEvent:
				unsub = bus.Subscribe(func(e DeviceDiscoveryEvent) { received <- e })
			case LogEntryEvent:
				unsub = bus.Subscribe(func(e LogEntryEvent) { received <- e })
			case SessionOpenedEvent:
				unsub = bus.Subscribe(func(e SessionOpenedEvent) { received <- e })
			case SessionClosedEvent:
				unsub = bus.Subscribe(func(e SessionClosedEvent) { received <- e })
			case ClientAttachedEvent:
				unsub = bus.Subscribe(func(e ClientAttachedEvent) { received <- e })
			case ClientDetachedEvent:
				unsub = bus.Subscribe(func(e ClientDetachedEvent) { received <- e })
			case IDRForcedEvent:
				unsub = bus.Subscribe(func(e IDRForcedEvent) { received <- e })
			}
			defer unsub()

			bus.Publish(tt.event)
			<-received
		})
	}
}

func TestEventJSONSerialization(t *testing.T) {
	tests := []struct {
		name  string
		event any
	}{
		{
			"SessionOpenedEvent",
			SessionOpenedEvent{DeviceID: "video0", SessionID: "abc", Codec: "h264", Timestamp: "2025-01-27T10:30:00Z"},
		},
		{
			"ClientAttachedEvent",
			ClientAttachedEvent{DeviceID: "video0", Transport: "mjpeg", ClientCount: 1, Timestamp: "2025-01-27T10:30:00Z"},
		},
		{
			"SessionClosedEvent",
			SessionClosedEvent{DeviceID: "video0", Reason: "idle_timeout", Timestamp: "2025-01-27T10:30:00Z"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatalf("Failed to marshal: %v", err)
			}

			var result map[string]any
			if unmarshalErr := json.Unmarshal(data, &result); unmarshalErr != nil {
				t.Fatalf("Failed to unmarshal: %v", unmarshalErr)
			}

			if len(result) == 0 {
				t.Fatal("Unmarshaled to empty object")
			}
		})
	}
}

func TestSubscribeToChannel(t *testing.T) {
	bus := New()
	ch := make(chan any, 10)

	unsub := SubscribeToChannel[SessionOpenedEvent](bus, ch)
	defer unsub()

	ev := SessionOpenedEvent{DeviceID: "video0", SessionID: "abc"}
	bus.Publish(ev)

	received := <-ch
	got, ok := received.(SessionOpenedEvent)
	if !ok {
		t.Fatalf("Expected SessionOpenedEvent, got %T", received)
	}
	if got.DeviceID != ev.DeviceID {
		t.Errorf("Expected device_id %s, got %s", ev.DeviceID, got.DeviceID)
	}
}

func TestSubscribeToChannel_NonBlocking(_ *testing.T) {
	bus := New()
	ch := make(chan any) // No buffer

	unsub := SubscribeToChannel[ClientAttachedEvent](bus, ch)
	defer unsub()

	done := make(chan bool, 1)
	go func() {
		bus.Publish(ClientAttachedEvent{DeviceID: "video0"})
		done <- true
	}()

	<-done // Should complete without blocking
}
