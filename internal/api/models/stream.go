package models

// StatsData is the JSON snapshot returned by /stream/{device}/stats.
type StatsData struct {
	DeviceID    string  `json:"device_id"`
	SessionID   string  `json:"session_id"`
	ClientCount int32   `json:"client_count"`
	FramesSent  uint64  `json:"frames_sent"`
	BytesSent   uint64  `json:"bytes_sent"`
	UptimeSec   float64 `json:"uptime_sec"`
	Requested   CaptureParamsData `json:"requested"`
	Actual      CaptureParamsData `json:"actual"`
}

// CaptureParamsData is the JSON projection of params.CaptureParams.
type CaptureParamsData struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	FPS         int    `json:"fps"`
	BitrateKbps int    `json:"bitrate_kbps"`
	Quality     int    `json:"quality"`
	GOP         int    `json:"gop"`
	Codec       string `json:"codec"`
	Latency     string `json:"latency"`
	Container   string `json:"container"`
}

// FeedbackData is the response to POST /stream/{device}/feedback.
type FeedbackData struct {
	Status string `json:"status" example:"ok"`
}

// UDPStartData is the response to GET /stream/udp/{device}.
type UDPStartData struct {
	Status string `json:"status" example:"udp_stream_started"`
}
