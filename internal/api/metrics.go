package api

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/smazurov/videonode/internal/session"
)

// sessionCollector implements prometheus.Collector directly against the
// session manager's live state rather than routing through a buffered
// metrics pipeline: there is exactly one source of truth (session.Manager)
// and scrapes are infrequent enough that a direct snapshot is cheaper than
// keeping a parallel set of gauges in sync.
type sessionCollector struct {
	mgr *session.Manager

	clientCount *prometheus.Desc
	framesSent  *prometheus.Desc
	bytesSent   *prometheus.Desc
	uptimeSec   *prometheus.Desc
	reapSweeps  *prometheus.Desc
}

func newSessionCollector(mgr *session.Manager) *sessionCollector {
	return &sessionCollector{
		mgr: mgr,
		clientCount: prometheus.NewDesc(
			"silkcast_session_client_count", "Clients currently attached to a device's session.",
			[]string{"device"}, nil),
		framesSent: prometheus.NewDesc(
			"silkcast_session_frames_sent_total", "Frames written to responders for a device's session.",
			[]string{"device"}, nil),
		bytesSent: prometheus.NewDesc(
			"silkcast_session_bytes_sent_total", "Bytes written to responders for a device's session.",
			[]string{"device"}, nil),
		uptimeSec: prometheus.NewDesc(
			"silkcast_session_uptime_seconds", "Seconds since a device's session was opened.",
			[]string{"device"}, nil),
		reapSweeps: prometheus.NewDesc(
			"silkcast_reaper_sweeps_total", "Idle-reaper passes run by the session manager.",
			nil, nil),
	}
}

func (c *sessionCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.clientCount
	ch <- c.framesSent
	ch <- c.bytesSent
	ch <- c.uptimeSec
	ch <- c.reapSweeps
}

func (c *sessionCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.mgr.Snapshot() {
		stats := s.Stats()
		ch <- prometheus.MustNewConstMetric(c.clientCount, prometheus.GaugeValue, float64(stats.ClientCount), stats.DeviceID)
		ch <- prometheus.MustNewConstMetric(c.framesSent, prometheus.CounterValue, float64(stats.FramesSent), stats.DeviceID)
		ch <- prometheus.MustNewConstMetric(c.bytesSent, prometheus.CounterValue, float64(stats.BytesSent), stats.DeviceID)
		ch <- prometheus.MustNewConstMetric(c.uptimeSec, prometheus.GaugeValue, stats.UptimeSec, stats.DeviceID)
	}
	ch <- prometheus.MustNewConstMetric(c.reapSweeps, prometheus.CounterValue, float64(c.mgr.ReapSweeps()))
}
