package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/smazurov/videonode/internal/api/models"
	"github.com/smazurov/videonode/internal/params"
	"github.com/smazurov/videonode/internal/respond"
	"github.com/smazurov/videonode/internal/session"
	"github.com/smazurov/videonode/internal/udpframe"
)

// handleStreamStats answers GET /stream/{device}/stats.
func (s *Server) handleStreamStats(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device")
	sess, ok := s.sessionMgr.Find(deviceID)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no active session for "+deviceID)
		return
	}

	stats := sess.Stats()
	writeJSON(w, http.StatusOK, models.StatsData{
		DeviceID:    stats.DeviceID,
		SessionID:   stats.SessionID,
		ClientCount: stats.ClientCount,
		FramesSent:  stats.FramesSent,
		BytesSent:   stats.BytesSent,
		UptimeSec:   stats.UptimeSec,
		Requested:   captureParamsToModel(stats.Effective.Requested),
		Actual:      captureParamsToModel(stats.Effective.Actual),
	})
}

func captureParamsToModel(p params.CaptureParams) models.CaptureParamsData {
	return models.CaptureParamsData{
		Width:       p.Width,
		Height:      p.Height,
		FPS:         p.FPS,
		BitrateKbps: p.BitrateKbps,
		Quality:     p.Quality,
		GOP:         p.GOP,
		Codec:       string(p.Codec),
		Latency:     string(p.Latency),
		Container:   string(p.Container),
	}
}

// handleStreamFeedback answers POST /stream/{device}/feedback: type=idr
// bumps the session's IDR-request counter, so every H.264 responder on the
// session forces an immediate keyframe on its own encoder.
func (s *Server) handleStreamFeedback(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device")
	sess, ok := s.sessionMgr.Find(deviceID)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no active session for "+deviceID)
		return
	}

	if typ := r.URL.Query().Get("type"); typ != "idr" {
		writeError(w, http.StatusBadRequest, "bad_request", "feedback type must be idr, got "+typ)
		return
	}

	s.sessionMgr.ForceIDR(sess, "feedback_request")
	writeJSON(w, http.StatusOK, models.FeedbackData{Status: "ok"})
}

// transportFor names the wire transport a negotiated CaptureParams maps
// onto, used for client-attach accounting and event tagging.
func transportFor(p params.CaptureParams) string {
	if p.Codec == params.CodecMJPEG {
		return "mjpeg"
	}
	if p.Container == params.ContainerMP4 {
		return "fmp4"
	}
	return "h264raw"
}

func (s *Server) negotiateSession(w http.ResponseWriter, r *http.Request) (*session.Session, params.CaptureParams, bool) {
	deviceID := r.PathValue("device")

	p, err := parseCaptureParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return nil, p, false
	}

	p.ApplyLatencyPreset(s.paramsStore.Table())

	if err := p.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return nil, p, false
	}

	sess, err := s.sessionMgr.GetOrCreate(deviceID, p)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "device_unavailable", err.Error())
		return nil, p, false
	}

	if sess.Params.Codec != p.Codec {
		w.Header().Set("Effective-Params", sess.Stats().Effective.Header())
		writeError(w, http.StatusConflict, "conflict", "session "+deviceID+" is locked to codec "+string(sess.Params.Codec))
		return nil, p, false
	}

	return sess, p, true
}

// handleStreamLive answers GET /stream/live/{device}: the pull-stream
// endpoint serving MJPEG multipart, raw Annex-B H.264, or fragmented MP4
// depending on the negotiated codec/container.
func (s *Server) handleStreamLive(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "bad_request", "response does not support streaming")
		return
	}

	sess, p, ok := s.negotiateSession(w, r)
	if !ok {
		return
	}

	s.sessionMgr.AttachClient(sess, transportFor(p))
	defer func() {
		s.sessionMgr.DetachClient(sess, transportFor(p))
		s.sessionMgr.ReleaseIfIdle(sess.DeviceID)
	}()

	w.Header().Set("Effective-Params", sess.Stats().Effective.Header())

	var responderErr error
	var unavailableCode string
	switch {
	case p.Codec == params.CodecMJPEG:
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		responderErr = respond.MJPEG(r.Context(), w, flusher, sess)
	case p.Container == params.ContainerMP4:
		w.Header().Set("Content-Type", "video/mp4")
		unavailableCode = "fmp4_unavailable"
		responderErr = respond.FMP4(r.Context(), w, flusher, sess)
	default:
		w.Header().Set("Content-Type", "video/H264")
		unavailableCode = "h264_unavailable"
		responderErr = respond.H264Raw(r.Context(), w, flusher, sess)
	}

	if responderErr != nil && errors.Is(responderErr, respond.ErrUnavailable) {
		s.logger.Warn("stream responder unavailable", "device", sess.DeviceID, "error", responderErr)
		// MJPEG already wrote a 200 and flushed before the responder ran,
		// so unavailableCode is empty there and nothing more can be sent.
		if unavailableCode != "" {
			writeError(w, http.StatusServiceUnavailable, unavailableCode, responderErr.Error())
		}
		return
	}
	if responderErr != nil {
		s.logger.Debug("stream responder ended", "device", sess.DeviceID, "error", responderErr)
	}
}

// handleStreamUDP answers GET /stream/udp/{device}: starts pushing the
// session's H.264 to target:port for duration seconds, returning
// immediately with a status acknowledgement.
func (s *Server) handleStreamUDP(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("target")
	if target == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "target is required")
		return
	}
	if ip := net.ParseIP(target); ip == nil || ip.To4() == nil {
		writeError(w, http.StatusBadRequest, "bad_request", "target must be an IPv4 address, got "+target)
		return
	}

	portStr := r.URL.Query().Get("port")
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		writeError(w, http.StatusBadRequest, "bad_request", "port must be a valid port number, got "+portStr)
		return
	}

	durationStr := r.URL.Query().Get("duration")
	durationSec, err := strconv.Atoi(durationStr)
	if err != nil || durationSec <= 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "duration must be a positive integer of seconds, got "+durationStr)
		return
	}

	p, err := parseCaptureParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if r.URL.Query().Get("codec") == "" {
		p.Codec = params.CodecH264
	}
	if p.Codec != params.CodecH264 {
		writeError(w, http.StatusBadRequest, "bad_request", "udp streaming requires codec=h264")
		return
	}
	p.ApplyLatencyPreset(s.paramsStore.Table())
	if err := p.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	deviceID := r.PathValue("device")
	sess, err := s.sessionMgr.GetOrCreate(deviceID, p)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "device_unavailable", err.Error())
		return
	}
	if sess.Params.Codec != p.Codec {
		writeError(w, http.StatusConflict, "conflict", "session "+deviceID+" is locked to codec "+string(sess.Params.Codec))
		return
	}

	sender, err := udpframe.Dial(target, port)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "udp_unavailable", err.Error())
		return
	}

	s.sessionMgr.AttachClient(sess, "udp")
	go func() {
		defer func() {
			s.sessionMgr.DetachClient(sess, "udp")
			s.sessionMgr.ReleaseIfIdle(deviceID)
		}()
		defer sender.Close()

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(durationSec)*time.Second)
		defer cancel()

		if err := respond.UDP(ctx, sender, sess); err != nil && !errors.Is(err, respond.ErrUnavailable) {
			s.logger.Debug("udp stream ended", "device", deviceID, "target", target, "port", port, "error", err)
		}
	}()

	writeJSON(w, http.StatusOK, models.UDPStartData{Status: "udp_stream_started"})
}
