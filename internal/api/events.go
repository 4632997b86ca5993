package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/videonode/internal/events"
)

// registerSSERoutes registers the native Huma SSE endpoint streaming
// session lifecycle events: device discovery, session open/close, client
// attach/detach, and forced IDRs.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time stream of device discovery and session lifecycle events",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"device-discovery": events.DeviceDiscoveryEvent{},
		"session-opened":   events.SessionOpenedEvent{},
		"session-closed":   events.SessionClosedEvent{},
		"client-attached":  events.ClientAttachedEvent{},
		"client-detached":  events.ClientDetachedEvent{},
		"idr-forced":       events.IDRForcedEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 16)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.DeviceDiscoveryEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.SessionOpenedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.SessionClosedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.ClientAttachedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.ClientDetachedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.IDRForcedEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-eventCh:
				if err := send.Data(ev); err != nil {
					return
				}
			}
		}
	})
}
