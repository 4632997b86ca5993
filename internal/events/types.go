package events

// Event type constants for kelindar/event.
const (
	TypeDeviceDiscovery uint32 = iota + 1
	TypeLogEntry
	TypeSessionOpened
	TypeSessionClosed
	TypeClientAttached
	TypeClientDetached
	TypeIDRForced
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// DeviceDiscoveryEvent represents device hotplug events.
type DeviceDiscoveryEvent struct {
	DevicePath string `json:"device_path" example:"/dev/video0" doc:"Path to the video device"`
	DeviceID   string `json:"device_id" example:"video0" doc:"Device identifier"`
	Action     string `json:"action" example:"added" doc:"Action type: added, removed, changed"`
	Timestamp  string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for DeviceDiscoveryEvent.
func (e DeviceDiscoveryEvent) Type() uint32 { return TypeDeviceDiscovery }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"api" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }

// SessionOpenedEvent is published when a device's shared capture session
// transitions from idle to running, either because the first client
// attached or a reused session starts a fresh generation.
type SessionOpenedEvent struct {
	DeviceID  string `json:"device_id" example:"video0" doc:"Device identifier"`
	SessionID string `json:"session_id" doc:"Generation id distinguishing this run from any prior one"`
	Codec     string `json:"codec" example:"h264" doc:"Negotiated codec"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SessionOpenedEvent.
func (e SessionOpenedEvent) Type() uint32 { return TypeSessionOpened }

// SessionClosedEvent is published when the idle reaper, or an explicit
// stop, tears a session's capture pipeline down.
type SessionClosedEvent struct {
	DeviceID  string `json:"device_id" example:"video0" doc:"Device identifier"`
	SessionID string `json:"session_id" doc:"Generation id of the session that closed"`
	Reason    string `json:"reason" example:"idle_timeout" doc:"idle_timeout or released_idle"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SessionClosedEvent.
func (e SessionClosedEvent) Type() uint32 { return TypeSessionClosed }

// ClientAttachedEvent is published each time a stream responder registers
// a new consumer on a session.
type ClientAttachedEvent struct {
	DeviceID    string `json:"device_id" example:"video0" doc:"Device identifier"`
	SessionID   string `json:"session_id" doc:"Generation id of the owning session"`
	Transport   string `json:"transport" example:"mjpeg" doc:"mjpeg, h264raw, fmp4, or udp"`
	ClientCount int    `json:"client_count" example:"2" doc:"Clients attached after this event"`
	Timestamp   string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ClientAttachedEvent.
func (e ClientAttachedEvent) Type() uint32 { return TypeClientAttached }

// ClientDetachedEvent is published when a stream responder's consumer
// disconnects, either normally or due to a write error.
type ClientDetachedEvent struct {
	DeviceID    string `json:"device_id" example:"video0" doc:"Device identifier"`
	SessionID   string `json:"session_id" doc:"Generation id of the owning session"`
	Transport   string `json:"transport" example:"mjpeg" doc:"mjpeg, h264raw, fmp4, or udp"`
	ClientCount int    `json:"client_count" example:"1" doc:"Clients remaining after this event"`
	Timestamp   string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ClientDetachedEvent.
func (e ClientDetachedEvent) Type() uint32 { return TypeClientDetached }

// IDRForcedEvent is published whenever a session's IDR-request counter is
// bumped (Manager.ForceIDR), asking every H.264 responder on it to emit an
// immediate keyframe from its own encoder.
type IDRForcedEvent struct {
	DeviceID  string `json:"device_id" example:"video0" doc:"Device identifier"`
	SessionID string `json:"session_id" doc:"Generation id of the owning session"`
	Reason    string `json:"reason" example:"feedback_request" doc:"Caller-supplied reason; the feedback endpoint sends feedback_request"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for IDRForcedEvent.
func (e IDRForcedEvent) Type() uint32 { return TypeIDRForced }
